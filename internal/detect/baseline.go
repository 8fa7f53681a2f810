package detect

import (
	"fmt"
	"image"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/calibration"
)

// Baseline is the learned appearance of the empty board and of the two piece
// colours. It is computed once and never mutated by detection.
type Baseline struct {
	Empty [board.NumSquares]Features
	Light Features
	Dark  Features
}

// LearnBaseline learns a Baseline from a frame showing the known position.
// Occupied squares take the average empty appearance of squares with the same
// square colour.
func LearnBaseline(img *image.Gray, regions calibration.Regions, known board.State) (*Baseline, error) {
	measured := MeasureAll(img, regions)

	var (
		b           Baseline
		emptySum    [2]Features
		emptyCount  [2]int
		light, dark []Features
	)

	for i, f := range measured {
		sq := board.Square(i)
		if !f.Valid() {
			return nil, fmt.Errorf("square %s has no pixels in frame", sq)
		}

		p := known.At(sq)
		switch p.Color {
		case board.White:
			light = append(light, f)
			continue
		case board.Black:
			dark = append(dark, f)
			continue
		}

		b.Empty[i] = f
		c := squareColor(sq)
		emptySum[c].Mean += f.Mean
		emptySum[c].StdDev += f.StdDev
		emptySum[c].Pixels += f.Pixels
		emptyCount[c]++
	}

	for c := 0; c < 2; c++ {
		if emptyCount[c] == 0 {
			return nil, fmt.Errorf("known position leaves no empty %s square", [2]string{"dark", "light"}[c])
		}
	}

	for i := range b.Empty {
		if b.Empty[i].Valid() {
			continue
		}
		c := squareColor(board.Square(i))
		n := float64(emptyCount[c])
		b.Empty[i] = Features{
			Mean:   emptySum[c].Mean / n,
			StdDev: emptySum[c].StdDev / n,
			Pixels: emptySum[c].Pixels / emptyCount[c],
		}
	}

	b.Light = average(light)
	b.Dark = average(dark)
	return &b, nil
}

// HasPrototypes reports whether both piece colours were learned.
func (b *Baseline) HasPrototypes() bool {
	return b.Light.Valid() && b.Dark.Valid()
}

func squareColor(sq board.Square) int {
	if sq.IsLight() {
		return 1
	}
	return 0
}

func average(fs []Features) Features {
	if len(fs) == 0 {
		return Features{}
	}
	var out Features
	for _, f := range fs {
		out.Mean += f.Mean
		out.StdDev += f.StdDev
		out.Pixels += f.Pixels
	}
	n := float64(len(fs))
	out.Mean /= n
	out.StdDev /= n
	out.Pixels /= len(fs)
	return out
}
