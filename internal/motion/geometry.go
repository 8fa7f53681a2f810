package motion

import (
	"github.com/thyrook/chessrig/internal/board"
)

// Vec is a planar offset in millimetres.
type Vec struct {
	X, Y float64
}

// Geometry places the board and the holding area in the arm's frame.
type Geometry struct {
	// A1 is the grip pose on the centre of a1 at piece height.
	A1       Pose
	FileStep Vec
	RankStep Vec
	// Lift is added to Z for travel above the pieces.
	Lift float64

	// Holding is the grip pose of the first holding-area slot.
	Holding      Pose
	HoldingStep  Vec
	HoldingSlots int

	Rest Pose
}

// DefaultGeometry returns the reference rig: 40mm squares, white on the near
// side, captured pieces parked in a row beside the h-file.
func DefaultGeometry() Geometry {
	a1 := Pose{X: 93.395, Y: 547.541, Z: -210.056, O: 164.851, A: 179.143, T: -108.635}
	return Geometry{
		A1:           a1,
		FileStep:     Vec{X: -40},
		RankStep:     Vec{Y: -40},
		Lift:         80,
		Holding:      a1.Shift(-8*40-60, 0, 0),
		HoldingStep:  Vec{Y: -40},
		HoldingSlots: 16,
		Rest:         a1.Shift(-140, 80, 150),
	}
}

// Square returns the grip pose on sq.
func (g Geometry) Square(sq board.Square) Pose {
	f, r := float64(sq.File()), float64(sq.Rank())
	return g.A1.Shift(f*g.FileStep.X+r*g.RankStep.X, f*g.FileStep.Y+r*g.RankStep.Y, 0)
}

// Above returns p raised to travel height.
func (g Geometry) Above(p Pose) Pose {
	return p.Shift(0, 0, g.Lift)
}

// Slot returns the grip pose of holding slot i. Slots beyond HoldingSlots
// wrap around; pieces are expected to be cleared between games.
func (g Geometry) Slot(i int) Pose {
	if g.HoldingSlots > 0 {
		i %= g.HoldingSlots
	}
	n := float64(i)
	return g.Holding.Shift(n*g.HoldingStep.X, n*g.HoldingStep.Y, 0)
}
