// Package observe turns the camera feed into occupancy snapshots, waiting for
// a still board before sampling.
package observe

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/calibration"
	"github.com/thyrook/chessrig/internal/detect"
	"github.com/thyrook/chessrig/internal/vision"
)

// Observer yields a fresh snapshot of the board.
type Observer interface {
	Observe(ctx context.Context) (board.Snapshot, error)
}

// Gate decides whether a frame shows a still board.
type Gate interface {
	Stable(img *image.Gray) (bool, error)
}

// Sampler is the production Observer: frame source, stability gate, detector.
type Sampler struct {
	source   vision.Source
	gate     Gate
	detector *detect.Detector
	regions  calibration.Regions
	settle   int
	logger   *zap.Logger

	last uint64
}

// NewSampler creates a sampler. gate may be nil to sample every frame. settle
// is the number of consecutive stable frames required, at least one.
func NewSampler(source vision.Source, gate Gate, detector *detect.Detector, regions calibration.Regions, settle int, logger *zap.Logger) *Sampler {
	if settle < 1 {
		settle = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		source:   source,
		gate:     gate,
		detector: detector,
		regions:  regions,
		settle:   settle,
		logger:   logger,
	}
}

// Observe waits for a frame newer than the last one consumed, and for the board
// to be still, then detects it.
func (s *Sampler) Observe(ctx context.Context) (board.Snapshot, error) {
	stable := 0
	for {
		f, err := s.source.Wait(ctx, s.last)
		if err != nil {
			return board.Snapshot{}, err
		}
		s.last = f.Seq

		if s.gate != nil {
			ok, err := s.gate.Stable(f.Image)
			if err != nil {
				return board.Snapshot{}, fmt.Errorf("stability check failed: %w", err)
			}
			if !ok {
				if stable > 0 {
					s.logger.Debug("Motion over board", zap.Uint64("frame", f.Seq))
				}
				stable = 0
				continue
			}
		}

		stable++
		if stable < s.settle {
			continue
		}
		return s.detector.Detect(f, s.regions), nil
	}
}

// SetRegions replaces the square regions after a re-calibration.
func (s *Sampler) SetRegions(regions calibration.Regions) {
	s.regions = regions
}
