// Package detect classifies the occupancy of every square from pixel
// statistics. Classification heuristics are Strategy values so they can be
// swapped without touching reconciliation.
package detect

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/stat"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/calibration"
)

// Features are the luminance statistics of one square's sample rectangle.
type Features struct {
	Mean   float64
	StdDev float64
	Pixels int
}

// Valid reports whether the features were computed from any pixels.
func (f Features) Valid() bool { return f.Pixels > 0 }

func (f Features) String() string {
	return fmt.Sprintf("mean=%.1f sd=%.1f n=%d", f.Mean, f.StdDev, f.Pixels)
}

// Measure computes Features over rect. buf is reused when large enough.
func Measure(img *image.Gray, rect image.Rectangle, buf []float64) (Features, []float64) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return Features{}, buf
	}

	n := rect.Dx() * rect.Dy()
	if cap(buf) < n {
		buf = make([]float64, n)
	}
	buf = buf[:0]
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := img.Pix[img.PixOffset(rect.Min.X, y):img.PixOffset(rect.Max.X, y)]
		for _, v := range row {
			buf = append(buf, float64(v))
		}
	}

	mean, std := stat.MeanStdDev(buf, nil)
	if n == 1 {
		std = 0
	}
	return Features{Mean: mean, StdDev: std, Pixels: n}, buf
}

// MeasureAll computes Features for every region.
func MeasureAll(img *image.Gray, regions calibration.Regions) [board.NumSquares]Features {
	var out [board.NumSquares]Features
	var buf []float64
	for i, reg := range regions {
		out[i], buf = Measure(img, reg.Sample, buf)
	}
	return out
}
