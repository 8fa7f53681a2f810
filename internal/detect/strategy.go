package detect

import (
	"math"

	"github.com/thyrook/chessrig/internal/board"
)

// Strategy turns one square's features into an observation. Implementations
// must be pure: the baseline is read-only input.
type Strategy interface {
	Classify(sq board.Square, f Features, b *Baseline) board.Observation
}

// ContrastStrategy compares a square against its learned empty appearance.
// A square is occupied when its mean or spread deviates from the empty
// baseline by OccupancyDelta or more. Confidence falls to zero at exactly one
// OccupancyDelta, so readings near the boundary get rejected by the reconciler.
type ContrastStrategy struct {
	OccupancyDelta float64
	// ColorMargin is the minimum relative separation between the distances to
	// the light and dark prototypes; below it the colour is reported unknown.
	ColorMargin float64
}

// DefaultContrastStrategy returns the tuning used on the reference rig.
func DefaultContrastStrategy() ContrastStrategy {
	return ContrastStrategy{OccupancyDelta: 18, ColorMargin: 0.2}
}

// Classify implements Strategy.
func (s ContrastStrategy) Classify(sq board.Square, f Features, b *Baseline) board.Observation {
	if !f.Valid() || b == nil || s.OccupancyDelta <= 0 {
		return board.Observation{Occupancy: board.OccupiedUnknown}
	}
	e := b.Empty[sq]

	dev := math.Max(math.Abs(f.Mean-e.Mean), math.Abs(f.StdDev-e.StdDev))
	ratio := dev / s.OccupancyDelta
	conf := math.Min(1, math.Abs(ratio-1))

	if ratio < 1 {
		return board.Observation{Occupancy: board.Empty, Confidence: conf}
	}

	if !b.HasPrototypes() {
		if f.Mean >= e.Mean {
			return board.Observation{Occupancy: board.OccupiedLight, Confidence: conf}
		}
		return board.Observation{Occupancy: board.OccupiedDark, Confidence: conf}
	}

	dl := math.Abs(f.Mean - b.Light.Mean)
	dd := math.Abs(f.Mean - b.Dark.Mean)
	if dl+dd == 0 || math.Abs(dl-dd)/(dl+dd) < s.ColorMargin {
		return board.Observation{Occupancy: board.OccupiedUnknown, Confidence: conf}
	}
	if dl < dd {
		return board.Observation{Occupancy: board.OccupiedLight, Confidence: conf}
	}
	return board.Observation{Occupancy: board.OccupiedDark, Confidence: conf}
}

// ThresholdStrategy classifies by absolute luminance bands: dark pieces below
// DarkBelow, light pieces above LightAbove, empty in between. It needs no
// baseline and suits boards with mid-grey squares. Confidence grows with the
// distance to the nearest band edge, reaching one at Margin.
type ThresholdStrategy struct {
	DarkBelow  float64
	LightAbove float64
	Margin     float64
}

// DefaultThresholdStrategy returns bands for 8-bit luminance.
func DefaultThresholdStrategy() ThresholdStrategy {
	return ThresholdStrategy{DarkBelow: 80, LightAbove: 180, Margin: 20}
}

// Classify implements Strategy.
func (s ThresholdStrategy) Classify(_ board.Square, f Features, _ *Baseline) board.Observation {
	if !f.Valid() {
		return board.Observation{Occupancy: board.OccupiedUnknown}
	}
	margin := s.Margin
	if margin <= 0 {
		margin = 1
	}

	switch {
	case f.Mean < s.DarkBelow:
		return board.Observation{Occupancy: board.OccupiedDark, Confidence: math.Min(1, (s.DarkBelow-f.Mean)/margin)}
	case f.Mean > s.LightAbove:
		return board.Observation{Occupancy: board.OccupiedLight, Confidence: math.Min(1, (f.Mean-s.LightAbove)/margin)}
	}
	d := math.Min(f.Mean-s.DarkBelow, s.LightAbove-f.Mean)
	return board.Observation{Occupancy: board.Empty, Confidence: math.Min(1, d/margin)}
}
