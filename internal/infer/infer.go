// Package infer maps an observed change set to the legal move that explains it.
package infer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/rules"
)

// Outcome is the kind of inference result.
type Outcome int

const (
	NoLegalMove Outcome = iota
	Unique
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	}
	return "no-legal-move"
}

// Result holds the matching candidates: exactly one for Unique, several for
// Ambiguous, none for NoLegalMove.
type Result struct {
	Outcome Outcome
	Moves   []board.Move
}

// Move returns the inferred move of a Unique result.
func (r Result) Move() (board.Move, bool) {
	if r.Outcome != Unique {
		return board.Move{}, false
	}
	return r.Moves[0], true
}

func (r Result) String() string {
	if len(r.Moves) == 0 {
		return r.Outcome.String()
	}
	names := make([]string, len(r.Moves))
	for i, m := range r.Moves {
		names[i] = m.UCI()
	}
	return fmt.Sprintf("%s(%s)", r.Outcome, strings.Join(names, ","))
}

// Inferencer matches change sets against the oracle's legal moves.
type Inferencer struct {
	oracle rules.Oracle
	// PreferredPromotion settles candidates that differ only in the promotion
	// piece. NoKind leaves such cases ambiguous.
	PreferredPromotion board.Kind
}

// New creates an Inferencer.
func New(oracle rules.Oracle, preferred board.Kind) *Inferencer {
	return &Inferencer{oracle: oracle, PreferredPromotion: preferred}
}

// Infer returns the legal moves of confirmed whose noiseless change set is
// consistent with observed. It never returns a move the oracle did not list,
// and an empty change set always yields NoLegalMove.
func (in *Inferencer) Infer(confirmed board.State, observed board.ChangeSet) (Result, error) {
	if observed.IsEmpty() {
		return Result{Outcome: NoLegalMove}, nil
	}

	legal, err := in.oracle.LegalMoves(confirmed)
	if err != nil {
		return Result{}, fmt.Errorf("failed to enumerate legal moves: %w", err)
	}

	var matches []board.Move
	for _, m := range legal {
		expected, err := Expected(in.oracle, confirmed, m)
		if err != nil {
			return Result{}, err
		}
		if observed.Consistent(expected) {
			matches = append(matches, m)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].UCI() < matches[j].UCI() })

	switch len(matches) {
	case 0:
		return Result{Outcome: NoLegalMove}, nil
	case 1:
		return Result{Outcome: Unique, Moves: matches}, nil
	}

	if m, ok := in.resolvePromotion(matches); ok {
		return Result{Outcome: Unique, Moves: []board.Move{m}}, nil
	}
	return Result{Outcome: Ambiguous, Moves: matches}, nil
}

// resolvePromotion picks the preferred promotion when all candidates share
// one from/to pair.
func (in *Inferencer) resolvePromotion(ms []board.Move) (board.Move, bool) {
	if in.PreferredPromotion == board.NoKind {
		return board.Move{}, false
	}
	from, to := ms[0].From, ms[0].To
	var pick board.Move
	found := false
	for _, m := range ms {
		if m.From != from || m.To != to || !m.Has(board.FlagPromotion) {
			return board.Move{}, false
		}
		if m.Promotion == in.PreferredPromotion {
			pick, found = m, true
		}
	}
	return pick, found
}

// Expected returns the change set a noiseless observation shows after m.
func Expected(oracle rules.Oracle, confirmed board.State, m board.Move) (board.ChangeSet, error) {
	next, err := oracle.Apply(confirmed, m)
	if err != nil {
		return board.ChangeSet{}, fmt.Errorf("failed to apply %s: %w", m, err)
	}
	return board.Diff(confirmed, next), nil
}
