package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MotionGate reports whether a frame is still compared to the previous one.
// A hand or the arm over the board shows up as a changed blob larger than
// MinArea pixels.
type MotionGate struct {
	BlurSize      int
	DiffThreshold float32
	MinArea       float64

	mu      sync.Mutex
	prev    gocv.Mat
	hasPrev bool
}

// NewMotionGate creates a gate. Zero arguments select 21px blur, threshold 15
// and area 300.
func NewMotionGate(blurSize int, diffThreshold float32, minArea float64) *MotionGate {
	if blurSize <= 0 {
		blurSize = 21
	}
	if blurSize%2 == 0 {
		blurSize++
	}
	if diffThreshold <= 0 {
		diffThreshold = 15
	}
	if minArea <= 0 {
		minArea = 300
	}
	return &MotionGate{BlurSize: blurSize, DiffThreshold: diffThreshold, MinArea: minArea}
}

// Stable compares img against the previously seen frame and remembers img.
// The first frame is never stable.
func (g *MotionGate) Stable(img *image.Gray) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return false, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer src.Close()

	blurred := gocv.NewMat()
	gocv.GaussianBlur(src, &blurred, image.Pt(g.BlurSize, g.BlurSize), 0, 0, gocv.BorderDefault)

	if !g.hasPrev || g.prev.Rows() != blurred.Rows() || g.prev.Cols() != blurred.Cols() {
		g.replace(blurred)
		return false, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(g.prev, blurred, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, g.DiffThreshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	stable := true
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > g.MinArea {
			stable = false
			break
		}
	}

	g.replace(blurred)
	return stable, nil
}

// Reset forgets the previous frame.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasPrev {
		g.prev.Close()
		g.hasPrev = false
	}
}

// Close releases the stored frame.
func (g *MotionGate) Close() { g.Reset() }

func (g *MotionGate) replace(m gocv.Mat) {
	if g.hasPrev {
		g.prev.Close()
	}
	g.prev = m
	g.hasPrev = true
}
