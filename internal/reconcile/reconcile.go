// Package reconcile diffs an occupancy snapshot against the confirmed board.
package reconcile

import (
	"github.com/thyrook/chessrig/internal/board"
)

// DefaultThreshold is the minimum per-square confidence accepted as evidence.
const DefaultThreshold = 0.5

// Result is the outcome of one reconciliation.
type Result struct {
	Changes board.ChangeSet
	// Uncertain lists squares whose confidence was below the threshold. They
	// are left out of Changes, so a non-empty list means the caller must
	// re-sample before inferring anything.
	Uncertain []board.Square
}

// NeedsResample reports whether any square was uncertain.
func (r Result) NeedsResample() bool { return len(r.Uncertain) > 0 }

// Reconciler compares snapshots with the confirmed state.
type Reconciler struct {
	Threshold float64
}

// New creates a Reconciler. threshold <= 0 selects DefaultThreshold.
func New(threshold float64) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Reconciler{Threshold: threshold}
}

// Reconcile derives the change set between confirmed and snap.
func (r *Reconciler) Reconcile(confirmed board.State, snap board.Snapshot) Result {
	var (
		changes   []board.Change
		masked    []board.Square
		uncertain []board.Square
	)

	for i := 0; i < board.NumSquares; i++ {
		sq := board.Square(i)
		obs := snap.At(sq)
		if obs.Confidence < r.Threshold {
			uncertain = append(uncertain, sq)
			continue
		}

		c, changed, mask := board.Compare(confirmed.At(sq), obs.Occupancy, sq)
		if changed {
			changes = append(changes, c)
		}
		if mask {
			masked = append(masked, sq)
		}
	}

	return Result{
		Changes:   board.NewChangeSet(changes, masked),
		Uncertain: uncertain,
	}
}
