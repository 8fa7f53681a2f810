package detect

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/calibration"
	"github.com/thyrook/chessrig/internal/vision"
)

const squarePx = 100

// render draws st as seen from above with a8 top-left. Pieces are flat discs
// filling the middle half of their square.
func render(st board.State) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 8*squarePx, 8*squarePx))
	for i := 0; i < board.NumSquares; i++ {
		sq := board.Square(i)
		x0 := sq.File() * squarePx
		y0 := (7 - sq.Rank()) * squarePx

		bg := uint8(110)
		if sq.IsLight() {
			bg = 170
		}
		fill(img, image.Rect(x0, y0, x0+squarePx, y0+squarePx), bg)

		switch st.At(sq).Color {
		case board.White:
			fill(img, image.Rect(x0+25, y0+25, x0+75, y0+75), 235)
		case board.Black:
			fill(img, image.Rect(x0+25, y0+25, x0+75, y0+75), 30)
		}
	}
	return img
}

func fill(img *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func regions(t *testing.T) calibration.Regions {
	t.Helper()
	cal := calibration.New(calibration.CornerPoints{
		A1: calibration.Point{X: 0, Y: 800},
		H1: calibration.Point{X: 800, Y: 800},
		H8: calibration.Point{X: 800, Y: 0},
		A8: calibration.Point{X: 0, Y: 0},
	}, calibration.Options{Inset: 0.2}, nil)

	f := vision.Frame{Seq: 1, Image: image.NewGray(image.Rect(0, 0, 800, 800))}
	tr, err := cal.Calibrate(context.Background(), f)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	regs, err := cal.Project(f, tr)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	return regs
}

func TestDetectRecoversPositions(t *testing.T) {
	regs := regions(t)
	start := board.MustParseFEN(board.StartFEN)

	baseline, err := LearnBaseline(render(start), regs, start)
	if err != nil {
		t.Fatalf("LearnBaseline failed: %v", err)
	}
	det := NewDetector(DefaultContrastStrategy(), baseline)

	tests := []struct {
		name string
		fen  string
	}{
		{"start", board.StartFEN},
		{"after e2e4", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"},
		{"open middlegame", "r1bq1rk1/pp2bppp/2n1pn2/3p4/2PP4/2N2N2/PP2BPPP/R2QKB1R w KQ - 0 9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := board.MustParseFEN(tt.fen)
			snap := det.Detect(vision.Frame{Seq: 7, Captured: time.Now(), Image: render(st)}, regs)

			if snap.FrameSeq() != 7 {
				t.Errorf("Expected frame seq 7, got %d", snap.FrameSeq())
			}
			for i := 0; i < board.NumSquares; i++ {
				sq := board.Square(i)
				want := st.At(sq).Occupancy()
				got := snap.At(sq)
				if got.Occupancy != want {
					t.Errorf("%s: expected %s, got %s", sq, want, got.Occupancy)
				}
				if got.Confidence < 0.9 {
					t.Errorf("%s: expected high confidence, got %.2f", sq, got.Confidence)
				}
			}
		})
	}
}

func TestDetectBadRegion(t *testing.T) {
	regs := regions(t)
	start := board.MustParseFEN(board.StartFEN)

	baseline, err := LearnBaseline(render(start), regs, start)
	if err != nil {
		t.Fatalf("LearnBaseline failed: %v", err)
	}

	d4 := board.MustSquare("d4")
	regs[d4].Sample = image.Rectangle{}

	snap := NewDetector(DefaultContrastStrategy(), baseline).Detect(vision.Frame{Image: render(start)}, regs)
	obs := snap.At(d4)
	if obs.Occupancy != board.OccupiedUnknown || obs.Confidence != 0 {
		t.Errorf("Expected unknown with zero confidence on d4, got %s %.2f", obs.Occupancy, obs.Confidence)
	}
}

func TestDetectWithoutImage(t *testing.T) {
	snap := NewDetector(DefaultThresholdStrategy(), nil).Detect(vision.Frame{}, calibration.Regions{})
	if snap.MinConfidence() != 0 {
		t.Errorf("Expected zero confidence without an image, got %.2f", snap.MinConfidence())
	}
}

func TestLearnBaselineRejectsMissingSquares(t *testing.T) {
	regs := regions(t)
	regs[board.MustSquare("e4")].Sample = image.Rectangle{}

	start := board.MustParseFEN(board.StartFEN)
	if _, err := LearnBaseline(render(start), regs, start); err == nil {
		t.Error("Expected error for a square outside the frame")
	}
}

func TestContrastStrategy(t *testing.T) {
	sq := board.MustSquare("e4")
	b := &Baseline{
		Light: Features{Mean: 230, StdDev: 10, Pixels: 100},
		Dark:  Features{Mean: 40, StdDev: 10, Pixels: 100},
	}
	b.Empty[sq] = Features{Mean: 120, StdDev: 5, Pixels: 100}
	s := DefaultContrastStrategy()

	tests := []struct {
		name    string
		f       Features
		want    board.Occupancy
		minConf float64
		maxConf float64
	}{
		{"empty", Features{Mean: 121, StdDev: 5, Pixels: 100}, board.Empty, 0.9, 1},
		{"light piece", Features{Mean: 220, StdDev: 12, Pixels: 100}, board.OccupiedLight, 1, 1},
		{"dark piece", Features{Mean: 50, StdDev: 9, Pixels: 100}, board.OccupiedDark, 1, 1},
		{"borderline", Features{Mean: 138, StdDev: 5, Pixels: 100}, board.OccupiedUnknown, 0, 0.05},
		{"no pixels", Features{}, board.OccupiedUnknown, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := s.Classify(sq, tt.f, b)
			if obs.Occupancy != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, obs.Occupancy)
			}
			if obs.Confidence < tt.minConf || obs.Confidence > tt.maxConf {
				t.Errorf("Expected confidence in [%.2f, %.2f], got %.2f", tt.minConf, tt.maxConf, obs.Confidence)
			}
		})
	}
}

func TestThresholdStrategy(t *testing.T) {
	s := DefaultThresholdStrategy()

	tests := []struct {
		mean float64
		want board.Occupancy
		conf float64
	}{
		{20, board.OccupiedDark, 1},
		{70, board.OccupiedDark, 0.5},
		{130, board.Empty, 1},
		{175, board.Empty, 0.25},
		{240, board.OccupiedLight, 1},
	}

	for _, tt := range tests {
		obs := s.Classify(board.MustSquare("a1"), Features{Mean: tt.mean, Pixels: 1}, nil)
		if obs.Occupancy != tt.want {
			t.Errorf("mean %.0f: expected %s, got %s", tt.mean, tt.want, obs.Occupancy)
		}
		if obs.Confidence != tt.conf {
			t.Errorf("mean %.0f: expected confidence %.2f, got %.2f", tt.mean, tt.conf, obs.Confidence)
		}
	}
}

func TestPlanes(t *testing.T) {
	snap := board.SnapshotOf(board.MustParseFEN(board.StartFEN)).
		With(board.MustSquare("d4"), board.Observation{Occupancy: board.OccupiedUnknown, Confidence: 0.3})

	planes := Planes(snap)
	if shape := planes.Shape(); len(shape) != 3 || shape[0] != NumPlanes || shape[1] != 8 || shape[2] != 8 {
		t.Fatalf("Unexpected shape %v", shape)
	}

	// a8 (black rook) sits at row 0, column 0.
	v, err := planes.At(PlaneDark, 0, 0)
	if err != nil || v.(float64) != 1 {
		t.Errorf("Expected dark piece on a8, got %v (%v)", v, err)
	}

	back, ok := FromPlanes(planes)
	if !ok {
		t.Fatal("FromPlanes failed")
	}
	if back.At(board.MustSquare("d4")) != snap.At(board.MustSquare("d4")) {
		t.Errorf("Expected d4 %v, got %v", snap.At(board.MustSquare("d4")), back.At(board.MustSquare("d4")))
	}
	if back.At(board.MustSquare("e2")).Occupancy != board.OccupiedLight {
		t.Errorf("Expected light piece on e2, got %s", back.At(board.MustSquare("e2")).Occupancy)
	}
}
