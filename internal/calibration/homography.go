package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a 2D coordinate, either in pixels or in board units.
type Point struct {
	X, Y float64
}

// Correspondence pairs a board-plane point with where it was seen in the frame.
// Board units are squares: (0,0) is the outer corner of a1, (8,8) that of h8.
type Correspondence struct {
	Board Point
	Pixel Point
}

// Homography maps board-plane points to pixels.
type Homography [9]float64

// Apply maps a board point to a pixel. ok is false for points on the horizon.
func (h Homography) Apply(p Point) (Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

func (h Homography) dense() *mat.Dense {
	return mat.NewDense(3, 3, h[:])
}

// FitHomography estimates the board-to-pixel homography with the normalised
// direct linear transform. It needs at least four correspondences, no three of
// them collinear.
func FitHomography(pts []Correspondence) (Homography, error) {
	if len(pts) < 4 {
		return Homography{}, fmt.Errorf("need at least 4 correspondences, got %d", len(pts))
	}

	board := make([]Point, len(pts))
	pixel := make([]Point, len(pts))
	for i, c := range pts {
		board[i] = c.Board
		pixel[i] = c.Pixel
	}
	tb, nb := normalize(board)
	tp, np := normalize(pixel)

	rows := 2 * len(pts)
	if rows < 9 {
		// Zero rows keep the SVD square without changing the null space.
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range pts {
		X, Y := nb[i].X, nb[i].Y
		x, y := np[i].X, np[i].Y
		a.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, x * X, x * Y, x})
		a.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, y * X, y * Y, y})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Homography{}, fmt.Errorf("SVD did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	values := svd.Values(nil)
	if len(values) >= 2 && values[len(values)-2] < 1e-9 {
		return Homography{}, fmt.Errorf("degenerate point configuration")
	}

	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// H = Tp^-1 * Hn * Tb
	var tpInv mat.Dense
	if err := tpInv.Inverse(tp); err != nil {
		return Homography{}, fmt.Errorf("failed to invert pixel normalisation: %w", err)
	}
	var tmp, full mat.Dense
	tmp.Mul(hn, tb)
	full.Mul(&tpInv, &tmp)

	scale := full.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return Homography{}, fmt.Errorf("degenerate homography")
	}

	var h Homography
	for i := 0; i < 9; i++ {
		h[i] = full.At(i/3, i%3) / scale
	}
	if math.Abs(mat.Det(h.dense())) < 1e-12 {
		return Homography{}, fmt.Errorf("singular homography")
	}
	return h, nil
}

// ReprojectionRMS returns the root mean square pixel distance between the
// observed pixels and the projected board points.
func ReprojectionRMS(h Homography, pts []Correspondence) float64 {
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, c := range pts {
		p, ok := h.Apply(c.Board)
		if !ok {
			return math.Inf(1)
		}
		dx, dy := p.X-c.Pixel.X, p.Y-c.Pixel.Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(len(pts)))
}

// normalize translates points to their centroid and scales them so the mean
// distance from the origin is sqrt(2).
func normalize(pts []Point) (*mat.Dense, []Point) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n

	s := 1.0
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}

	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}

	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return t, out
}
