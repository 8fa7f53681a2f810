package vision

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenGrabber captures a fixed screen region, for boards shown by a
// simulator or a remote camera viewer.
type ScreenGrabber struct {
	region image.Rectangle
}

// NewScreenGrabber creates a grabber for the given region.
func NewScreenGrabber(x, y, width, height int) (*ScreenGrabber, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid capture region %dx%d", width, height)
	}
	return &ScreenGrabber{region: image.Rect(x, y, x+width, y+height)}, nil
}

// Grab implements Grabber.
func (g *ScreenGrabber) Grab() (*image.Gray, error) {
	img, err := screenshot.CaptureRect(g.region)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	return toGray(img), nil
}

// Close implements Grabber.
func (g *ScreenGrabber) Close() error { return nil }

// Region returns the captured rectangle.
func (g *ScreenGrabber) Region() image.Rectangle { return g.region }
