package detect

import (
	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/calibration"
	"github.com/thyrook/chessrig/internal/vision"
)

// Detector produces occupancy snapshots from calibrated frames.
type Detector struct {
	strategy Strategy
	baseline *Baseline
}

// NewDetector creates a detector. baseline may be nil for strategies that do
// not use one.
func NewDetector(strategy Strategy, baseline *Baseline) *Detector {
	return &Detector{strategy: strategy, baseline: baseline}
}

// Detect classifies every square of frame. It never fails: a square whose
// region yields no pixels is reported occupied-unknown with zero confidence.
func (d *Detector) Detect(frame vision.Frame, regions calibration.Regions) board.Snapshot {
	var cells [board.NumSquares]board.Observation
	if frame.Image == nil {
		for i := range cells {
			cells[i] = board.Observation{Occupancy: board.OccupiedUnknown}
		}
		return board.NewSnapshot(cells, frame.Seq, frame.Captured)
	}

	features := MeasureAll(frame.Image, regions)
	for i, f := range features {
		obs := d.strategy.Classify(board.Square(i), f, d.baseline)
		if obs.Confidence < 0 {
			obs.Confidence = 0
		}
		cells[i] = obs
	}
	return board.NewSnapshot(cells, frame.Seq, frame.Captured)
}
