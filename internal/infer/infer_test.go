package infer

import (
	"testing"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/reconcile"
	"github.com/thyrook/chessrig/internal/rules"
)

func changes(t *testing.T, confirmed board.State, snap board.Snapshot) board.ChangeSet {
	t.Helper()
	res := reconcile.New(0).Reconcile(confirmed, snap)
	if res.NeedsResample() {
		t.Fatalf("unexpected uncertain squares %v", res.Uncertain)
	}
	return res.Changes
}

func TestInferPawnPush(t *testing.T) {
	start := rules.Start()
	snap := board.SnapshotOf(start).
		With(board.MustSquare("e2"), board.Observation{Occupancy: board.Empty, Confidence: 1}).
		With(board.MustSquare("e4"), board.Observation{Occupancy: board.OccupiedLight, Confidence: 1})

	res, err := New(rules.NewChessOracle(), board.Queen).Infer(start, changes(t, start, snap))
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	m, ok := res.Move()
	if !ok {
		t.Fatalf("Expected unique move, got %s", res)
	}
	if m.UCI() != "e2e4" {
		t.Errorf("Expected e2e4, got %s", m.UCI())
	}
}

func TestInferRookCapture(t *testing.T) {
	confirmed := board.MustParseFEN("r3k3/8/8/8/8/8/8/R3K3 w - - 0 1")
	snap := board.SnapshotOf(confirmed).
		With(board.MustSquare("a1"), board.Observation{Occupancy: board.Empty, Confidence: 1}).
		With(board.MustSquare("a8"), board.Observation{Occupancy: board.OccupiedLight, Confidence: 1})

	res, err := New(rules.NewChessOracle(), board.Queen).Infer(confirmed, changes(t, confirmed, snap))
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	m, ok := res.Move()
	if !ok || m.UCI() != "a1a8" {
		t.Fatalf("Expected unique a1a8, got %s", res)
	}
	if !m.Has(board.FlagCapture) {
		t.Error("Expected capture flag")
	}
}

func TestInferCaptureWithUnknownColor(t *testing.T) {
	// Rook a1 can capture on a8; the detector saw a8 occupied but not its color.
	confirmed := board.MustParseFEN("r3k3/8/8/8/8/8/8/R3K3 w - - 0 1")
	snap := board.SnapshotOf(confirmed).
		With(board.MustSquare("a1"), board.Observation{Occupancy: board.Empty, Confidence: 1}).
		With(board.MustSquare("a8"), board.Observation{Occupancy: board.OccupiedUnknown, Confidence: 1})

	res, err := New(rules.NewChessOracle(), board.Queen).Infer(confirmed, changes(t, confirmed, snap))
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	// Quiet rook moves would show a newly occupied square; only the capture
	// can hide behind the masked a8.
	m, ok := res.Move()
	if !ok || m.UCI() != "a1a8" {
		t.Errorf("Expected unique a1a8, got %s", res)
	}
}

func TestInferSpecialMoves(t *testing.T) {
	oracle := rules.NewChessOracle()
	in := New(oracle, board.NoKind)

	tests := []struct {
		name string
		fen  string
		uci  string
	}{
		{"kingside castle", "r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1", "e1g1"},
		{"queenside castle", "r3k2r/8/8/8/8/8/8/R3K2R b KQkq - 0 1", "e8c8"},
		{"en passant", "4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 1", "e5d6"},
		{"knight", board.StartFEN, "g1f3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirmed := board.MustParseFEN(tt.fen)
			var move board.Move
			moves, _ := oracle.LegalMoves(confirmed)
			for _, m := range moves {
				if m.UCI() == tt.uci {
					move = m
				}
			}
			next, err := oracle.Apply(confirmed, move)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}

			res, err := in.Infer(confirmed, changes(t, confirmed, board.SnapshotOf(next)))
			if err != nil {
				t.Fatalf("Infer failed: %v", err)
			}
			m, ok := res.Move()
			if !ok || m.UCI() != tt.uci {
				t.Errorf("Expected unique %s, got %s", tt.uci, res)
			}
		})
	}
}

func TestInferPromotion(t *testing.T) {
	confirmed := board.MustParseFEN("4k3/1P6/8/8/8/8/8/4K3 w - - 0 1")
	snap := board.SnapshotOf(confirmed).
		With(board.MustSquare("b7"), board.Observation{Occupancy: board.Empty, Confidence: 1}).
		With(board.MustSquare("b8"), board.Observation{Occupancy: board.OccupiedLight, Confidence: 1})
	cs := changes(t, confirmed, snap)

	oracle := rules.NewChessOracle()

	res, err := New(oracle, board.NoKind).Infer(confirmed, cs)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if res.Outcome != Ambiguous || len(res.Moves) != 4 {
		t.Fatalf("Expected 4 ambiguous promotions, got %s", res)
	}

	res, err = New(oracle, board.Knight).Infer(confirmed, cs)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	m, ok := res.Move()
	if !ok || m.UCI() != "b7b8n" {
		t.Errorf("Expected b7b8n, got %s", res)
	}
}

func TestInferEmptyChangeSet(t *testing.T) {
	start := rules.Start()
	res, err := New(rules.NewChessOracle(), board.Queen).Infer(start, board.NewChangeSet(nil, nil))
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if res.Outcome != NoLegalMove || len(res.Moves) != 0 {
		t.Errorf("Expected no-legal-move, got %s", res)
	}
}

func TestInferIllegalPhysicalMove(t *testing.T) {
	start := rules.Start()
	snap := board.SnapshotOf(start).
		With(board.MustSquare("e2"), board.Observation{Occupancy: board.Empty, Confidence: 1}).
		With(board.MustSquare("e5"), board.Observation{Occupancy: board.OccupiedLight, Confidence: 1})

	res, err := New(rules.NewChessOracle(), board.Queen).Infer(start, changes(t, start, snap))
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if res.Outcome != NoLegalMove {
		t.Errorf("Expected no-legal-move, got %s", res)
	}
}

func TestInferSoundness(t *testing.T) {
	oracle := rules.NewChessOracle()
	in := New(oracle, board.NoKind)
	confirmed := board.MustParseFEN("r3k2r/pppq1ppp/2n2n2/3pp3/3PP3/2N2N2/PPPQ1PPP/R3K2R w KQkq - 0 8")

	legal, err := oracle.LegalMoves(confirmed)
	if err != nil {
		t.Fatalf("LegalMoves failed: %v", err)
	}
	isLegal := make(map[string]bool, len(legal))
	for _, m := range legal {
		isLegal[m.UCI()] = true
	}

	// Every single-square and two-square observation over a handful of
	// squares: whatever comes back must be legal.
	squares := []string{"d4", "e4", "e5", "d5", "f3", "c3", "d2", "e1", "g1", "h1"}
	kinds := []board.Observation{
		{Occupancy: board.Empty, Confidence: 1},
		{Occupancy: board.OccupiedLight, Confidence: 1},
		{Occupancy: board.OccupiedDark, Confidence: 1},
		{Occupancy: board.OccupiedUnknown, Confidence: 1},
	}

	base := board.SnapshotOf(confirmed)
	for _, a := range squares {
		for _, b := range squares {
			for _, ka := range kinds {
				for _, kb := range kinds {
					snap := base.With(board.MustSquare(a), ka).With(board.MustSquare(b), kb)
					res, err := in.Infer(confirmed, reconcile.New(0).Reconcile(confirmed, snap).Changes)
					if err != nil {
						t.Fatalf("Infer failed: %v", err)
					}
					for _, m := range res.Moves {
						if !isLegal[m.UCI()] {
							t.Fatalf("Infer returned illegal move %s", m)
						}
					}
				}
			}
		}
	}
}
