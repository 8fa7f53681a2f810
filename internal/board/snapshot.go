package board

import (
	"fmt"
	"strings"
	"time"
)

// Occupancy is a per-square estimate produced by the occupancy detector.
type Occupancy uint8

const (
	Empty Occupancy = iota
	OccupiedLight
	OccupiedDark
	OccupiedUnknown
)

// Occupied reports whether any piece is present.
func (o Occupancy) Occupied() bool { return o != Empty }

// Color maps light/dark occupancy to the piece color (NoColor otherwise).
func (o Occupancy) Color() Color {
	switch o {
	case OccupiedLight:
		return White
	case OccupiedDark:
		return Black
	}
	return NoColor
}

func (o Occupancy) String() string {
	switch o {
	case Empty:
		return "empty"
	case OccupiedLight:
		return "occupied-light"
	case OccupiedDark:
		return "occupied-dark"
	case OccupiedUnknown:
		return "occupied-unknown-color"
	}
	return "invalid"
}

// Observation is one square's estimate with its confidence in [0,1].
type Observation struct {
	Occupancy  Occupancy
	Confidence float64
}

// Snapshot is one frame's occupancy estimate for every square. It is immutable
// once built.
type Snapshot struct {
	cells    [NumSquares]Observation
	frameSeq uint64
	taken    time.Time
}

// NewSnapshot builds a snapshot from per-square observations.
func NewSnapshot(cells [NumSquares]Observation, frameSeq uint64, taken time.Time) Snapshot {
	return Snapshot{cells: cells, frameSeq: frameSeq, taken: taken}
}

// SnapshotOf renders the noiseless snapshot a perfect detector would produce
// for st.
func SnapshotOf(st State) Snapshot {
	var cells [NumSquares]Observation
	for i := range cells {
		cells[i] = Observation{Occupancy: st.At(Square(i)).Occupancy(), Confidence: 1}
	}
	return Snapshot{cells: cells}
}

// At returns the observation for sq.
func (s Snapshot) At(sq Square) Observation {
	if !sq.Valid() {
		return Observation{Occupancy: OccupiedUnknown}
	}
	return s.cells[sq]
}

// With returns a copy of s with sq replaced by o.
func (s Snapshot) With(sq Square, o Observation) Snapshot {
	if sq.Valid() {
		s.cells[sq] = o
	}
	return s
}

// FrameSeq returns the sequence number of the source frame.
func (s Snapshot) FrameSeq() uint64 { return s.frameSeq }

// Taken returns the capture time of the source frame.
func (s Snapshot) Taken() time.Time { return s.taken }

// MinConfidence returns the lowest per-square confidence.
func (s Snapshot) MinConfidence() float64 {
	min := 1.0
	for _, c := range s.cells {
		if c.Confidence < min {
			min = c.Confidence
		}
	}
	return min
}

// String renders the snapshot rank 8 first: L light, D dark, ? unknown color,
// . empty; low-confidence squares in lower case.
func (s Snapshot) String() string {
	var b strings.Builder
	for rank := 7; rank >= 0; rank-- {
		fmt.Fprintf(&b, "%d ", rank+1)
		for file := 0; file < 8; file++ {
			o := s.cells[NewSquare(file, rank)]
			ch := "."
			switch o.Occupancy {
			case OccupiedLight:
				ch = "L"
			case OccupiedDark:
				ch = "D"
			case OccupiedUnknown:
				ch = "?"
			}
			if o.Confidence < 0.5 {
				ch = strings.ToLower(ch)
			}
			b.WriteString(ch + " ")
		}
		b.WriteByte('\n')
	}
	b.WriteString("  a b c d e f g h\n")
	return b.String()
}
