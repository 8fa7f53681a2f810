package detect

import (
	"time"

	"gorgonia.org/tensor"

	"github.com/thyrook/chessrig/internal/board"
)

// Plane indices of the snapshot encoding.
const (
	PlaneEmpty = iota
	PlaneLight
	PlaneDark
	PlaneUnknown
	PlaneConfidence
	NumPlanes
)

// Planes encodes a snapshot as a (NumPlanes, 8, 8) tensor: one-hot occupancy
// planes followed by the confidence plane. Row 0 is rank 8.
func Planes(s board.Snapshot) *tensor.Dense {
	data := make([]float64, NumPlanes*board.NumSquares)
	for i := 0; i < board.NumSquares; i++ {
		sq := board.Square(i)
		obs := s.At(sq)
		cell := (7-sq.Rank())*8 + sq.File()

		var plane int
		switch obs.Occupancy {
		case board.Empty:
			plane = PlaneEmpty
		case board.OccupiedLight:
			plane = PlaneLight
		case board.OccupiedDark:
			plane = PlaneDark
		default:
			plane = PlaneUnknown
		}
		data[plane*board.NumSquares+cell] = 1
		data[PlaneConfidence*board.NumSquares+cell] = obs.Confidence
	}

	return tensor.New(
		tensor.WithShape(NumPlanes, 8, 8),
		tensor.WithBacking(data),
	)
}

// FromPlanes decodes a tensor produced by Planes.
func FromPlanes(t *tensor.Dense) (board.Snapshot, bool) {
	if t == nil || !t.Shape().Eq(tensor.Shape{NumPlanes, 8, 8}) {
		return board.Snapshot{}, false
	}
	data, ok := t.Data().([]float64)
	if !ok {
		return board.Snapshot{}, false
	}

	var cells [board.NumSquares]board.Observation
	for i := 0; i < board.NumSquares; i++ {
		sq := board.Square(i)
		cell := (7-sq.Rank())*8 + sq.File()
		occ := board.OccupiedUnknown
		switch {
		case data[PlaneEmpty*board.NumSquares+cell] == 1:
			occ = board.Empty
		case data[PlaneLight*board.NumSquares+cell] == 1:
			occ = board.OccupiedLight
		case data[PlaneDark*board.NumSquares+cell] == 1:
			occ = board.OccupiedDark
		}
		cells[i] = board.Observation{Occupancy: occ, Confidence: data[PlaneConfidence*board.NumSquares+cell]}
	}
	return board.NewSnapshot(cells, 0, time.Time{}), true
}
