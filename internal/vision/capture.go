package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Grabber reads one frame from a device. Implementations are used from a
// single goroutine.
type Grabber interface {
	Grab() (*image.Gray, error)
	Close() error
}

// CaptureStats holds capture counters.
type CaptureStats struct {
	Frames     uint64
	Errors     uint64
	Dropped    uint64
	LastGrabMs int64
}

// Capturer runs a Grabber at a fixed rate and publishes into a Slot.
type Capturer struct {
	grabber Grabber
	slot    *Slot
	fps     int
	logger  *zap.Logger

	frames     atomic.Uint64
	errors     atomic.Uint64
	lastGrabMs atomic.Int64
}

// NewCapturer creates a capturer. fps <= 0 means 10.
func NewCapturer(grabber Grabber, slot *Slot, fps int, logger *zap.Logger) *Capturer {
	if fps <= 0 {
		fps = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		grabber: grabber,
		slot:    slot,
		fps:     fps,
		logger:  logger,
	}
}

// Slot returns the slot frames are published into.
func (c *Capturer) Slot() *Slot { return c.slot }

// Run captures until ctx is done or the grabber reports io.EOF. The grabber is
// closed on return.
func (c *Capturer) Run(ctx context.Context) error {
	defer c.grabber.Close()

	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		start := time.Now()
		img, err := c.grabber.Grab()
		if errors.Is(err, io.EOF) {
			c.logger.Info("Frame source exhausted", zap.Uint64("frames", c.frames.Load()))
			return nil
		}
		if err != nil {
			n := c.errors.Add(1)
			// Log the first failure and then every 50th so a dead camera does not flood the log.
			if n == 1 || n%50 == 0 {
				c.logger.Warn("Frame grab failed", zap.Error(err), zap.Uint64("errors", n))
			}
			continue
		}

		c.lastGrabMs.Store(time.Since(start).Milliseconds())
		c.frames.Add(1)
		c.slot.Publish(img, start)
	}
}

// Stats returns a copy of the counters.
func (c *Capturer) Stats() CaptureStats {
	return CaptureStats{
		Frames:     c.frames.Load(),
		Errors:     c.errors.Load(),
		Dropped:    c.slot.Dropped(),
		LastGrabMs: c.lastGrabMs.Load(),
	}
}

func (s CaptureStats) String() string {
	return fmt.Sprintf("frames=%d errors=%d dropped=%d last=%dms", s.Frames, s.Errors, s.Dropped, s.LastGrabMs)
}

// toGray converts any image to 8-bit grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
