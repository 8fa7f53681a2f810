package calibration

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// CornerPoints is a PointDetector that returns fixed pixel positions of the
// four outer board corners, measured once by hand for a mounted camera.
type CornerPoints struct {
	A1, H1, H8, A8 Point
}

// Name implements PointDetector.
func (c CornerPoints) Name() string { return "corners" }

// Detect implements PointDetector.
func (c CornerPoints) Detect(*image.Gray) ([]Correspondence, error) {
	return []Correspondence{
		{Board: Point{0, 0}, Pixel: c.A1},
		{Board: Point{8, 0}, Pixel: c.H1},
		{Board: Point{8, 8}, Pixel: c.H8},
		{Board: Point{0, 8}, Pixel: c.A8},
	}, nil
}

// ChessboardDetector finds the 7x7 inner corners of an empty board with
// OpenCV. WhiteAtBottom states how the camera sees the board: true when a8 is
// the top-left square of the image.
type ChessboardDetector struct {
	WhiteAtBottom bool
}

// Name implements PointDetector.
func (d ChessboardDetector) Name() string { return "chessboard" }

// Detect implements PointDetector.
func (d ChessboardDetector) Detect(img *image.Gray) ([]Correspondence, error) {
	src, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer src.Close()

	corners := gocv.NewMat()
	defer corners.Close()

	pattern := image.Pt(7, 7)
	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage
	if !gocv.FindChessboardCorners(src, pattern, &corners, flags) {
		return nil, nil
	}

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.001)
	gocv.CornerSubPix(src, &corners, image.Pt(5, 5), image.Pt(-1, -1), criteria)

	pixels := make([]Point, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		pixels = append(pixels, Point{X: float64(v[0]), Y: float64(v[1])})
	}
	if len(pixels) != 49 {
		return nil, fmt.Errorf("expected 49 corners, got %d", len(pixels))
	}

	// OpenCV may start from either end of the grid; normalise so the first
	// corner is the top-left one in the image.
	first, last := pixels[0], pixels[len(pixels)-1]
	if first.X+first.Y > last.X+last.Y {
		for i, j := 0, len(pixels)-1; i < j; i, j = i+1, j-1 {
			pixels[i], pixels[j] = pixels[j], pixels[i]
		}
	}

	return innerCorrespondences(pixels, d.WhiteAtBottom), nil
}

// innerCorrespondences labels the 49 inner corners, given in image row-major
// order starting top-left.
func innerCorrespondences(pixels []Point, whiteAtBottom bool) []Correspondence {
	out := make([]Correspondence, len(pixels))
	for i, px := range pixels {
		col, row := float64(i%7), float64(i/7)
		var b Point
		if whiteAtBottom {
			b = Point{X: 1 + col, Y: 7 - row}
		} else {
			b = Point{X: 7 - col, Y: 1 + row}
		}
		out[i] = Correspondence{Board: b, Pixel: px}
	}
	return out
}
