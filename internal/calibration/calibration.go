// Package calibration maps frame pixels to the 8x8 board grid. A Transform is
// fitted once per session from reference points and then used to project the
// pixel region of every square.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/vision"
)

// ErrCalibration is matched by every calibration failure.
var ErrCalibration = errors.New("calibration failed")

// Error describes why a calibration attempt failed.
type Error struct {
	Reason string
	Points int
	RMS    float64
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("calibration failed: %s (points=%d, rms=%.2fpx)", e.Reason, e.Points, e.RMS)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == ErrCalibration }

func (e *Error) Unwrap() error { return e.Err }

// Transform is the fitted board-to-pixel mapping.
type Transform struct {
	H       Homography
	RMS     float64
	Points  int
	Method  string
	Bounds  image.Rectangle
	Created time.Time
}

// PointDetector finds reference points of the board grid in a frame.
type PointDetector interface {
	Name() string
	Detect(img *image.Gray) ([]Correspondence, error)
}

// Calibrator fits Transforms.
type Calibrator struct {
	detector  PointDetector
	tolerance float64
	timeout   time.Duration
	inset     float64
	logger    *zap.Logger
}

// Options configures a Calibrator.
type Options struct {
	// Tolerance is the maximum accepted reprojection RMS in pixels.
	Tolerance float64
	Timeout   time.Duration
	// Inset is the fraction of a square trimmed on each side of its sample
	// rectangle, keeping neighbouring pieces out of the statistics.
	Inset float64
}

// New creates a Calibrator.
func New(detector PointDetector, opts Options, logger *zap.Logger) *Calibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 3.0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Inset < 0 || opts.Inset >= 0.5 {
		opts.Inset = 0.2
	}
	return &Calibrator{
		detector:  detector,
		tolerance: opts.Tolerance,
		timeout:   opts.Timeout,
		inset:     opts.Inset,
		logger:    logger,
	}
}

// Calibrate fits a Transform from a reference frame. It fails with an *Error
// when fewer than four reference points are found, when the fit is degenerate,
// when the reprojection RMS exceeds the tolerance or when it times out.
func (c *Calibrator) Calibrate(ctx context.Context, frame vision.Frame) (Transform, error) {
	if frame.Image == nil {
		return Transform{}, &Error{Reason: "no frame"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		t   Transform
		err error
	}
	done := make(chan result, 1)
	go func() {
		t, err := c.fit(frame)
		done <- result{t, err}
	}()

	select {
	case <-ctx.Done():
		return Transform{}, &Error{Reason: "timed out", Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			c.logger.Error("Calibration failed", zap.String("method", c.detector.Name()), zap.Error(r.err))
			return Transform{}, r.err
		}
		c.logger.Info("Board calibrated",
			zap.String("method", r.t.Method),
			zap.Int("points", r.t.Points),
			zap.Float64("rms_px", r.t.RMS),
		)
		return r.t, nil
	}
}

func (c *Calibrator) fit(frame vision.Frame) (Transform, error) {
	pts, err := c.detector.Detect(frame.Image)
	if err != nil {
		return Transform{}, &Error{Reason: "reference point detection failed", Err: err}
	}
	if len(pts) < 4 {
		return Transform{}, &Error{Reason: "too few reference points", Points: len(pts)}
	}

	h, err := FitHomography(pts)
	if err != nil {
		return Transform{}, &Error{Reason: "fit failed", Points: len(pts), Err: err}
	}

	rms := ReprojectionRMS(h, pts)
	if rms > c.tolerance {
		return Transform{}, &Error{Reason: "reprojection error above tolerance", Points: len(pts), RMS: rms}
	}

	return Transform{
		H:       h,
		RMS:     rms,
		Points:  len(pts),
		Method:  c.detector.Name(),
		Bounds:  frame.Image.Bounds(),
		Created: time.Now(),
	}, nil
}

// Project computes the square regions of frame under t.
func (c *Calibrator) Project(frame vision.Frame, t Transform) (Regions, error) {
	return Project(frame.Image.Bounds(), t, c.inset)
}

// Region is the pixel footprint of one square.
type Region struct {
	Square board.Square
	// Quad holds the projected square corners in a1-relative order:
	// (file,rank), (file+1,rank), (file+1,rank+1), (file,rank+1).
	Quad [4]image.Point
	// Sample is the inset bounding rectangle used for statistics, clipped to
	// the frame.
	Sample image.Rectangle
}

// Regions holds one Region per square, indexed by board.Square.
type Regions [board.NumSquares]Region

// Project computes the pixel region of every square. A square whose sample
// rectangle falls outside bounds keeps an empty Sample.
func Project(bounds image.Rectangle, t Transform, inset float64) (Regions, error) {
	var out Regions
	for i := 0; i < board.NumSquares; i++ {
		sq := board.Square(i)
		f, r := float64(sq.File()), float64(sq.Rank())

		corners := [4]Point{{f, r}, {f + 1, r}, {f + 1, r + 1}, {f, r + 1}}
		inner := [4]Point{
			{f + inset, r + inset}, {f + 1 - inset, r + inset},
			{f + 1 - inset, r + 1 - inset}, {f + inset, r + 1 - inset},
		}

		reg := Region{Square: sq}
		for k, p := range corners {
			px, ok := t.H.Apply(p)
			if !ok {
				return Regions{}, &Error{Reason: fmt.Sprintf("square %s projects to infinity", sq)}
			}
			reg.Quad[k] = image.Pt(int(math.Round(px.X)), int(math.Round(px.Y)))
		}

		minX, minY := math.MaxInt32, math.MaxInt32
		maxX, maxY := math.MinInt32, math.MinInt32
		for _, p := range inner {
			px, ok := t.H.Apply(p)
			if !ok {
				return Regions{}, &Error{Reason: fmt.Sprintf("square %s projects to infinity", sq)}
			}
			x, y := int(math.Round(px.X)), int(math.Round(px.Y))
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
		rect := image.Rect(minX, minY, maxX, maxY)
		reg.Sample = rect.Intersect(bounds)

		out[i] = reg
	}
	return out, nil
}
