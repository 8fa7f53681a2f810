package board

import (
	"fmt"
	"strings"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// State is a confirmed logical board. The FEN string is authoritative for the
// rules oracle (castling rights, en passant, clocks); the placement and turn
// are decoded from it for the vision side.
type State struct {
	placement [NumSquares]Piece
	turn      Color
	fen       string
}

// ParseFEN decodes the placement and side to move of a FEN record. The full
// record is kept verbatim for the rules oracle.
func ParseFEN(fen string) (State, error) {
	var st State
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return st, fmt.Errorf("empty FEN string")
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return st, fmt.Errorf("FEN must have 8 ranks, got %d", len(ranks))
	}

	for i, row := range ranks {
		rank := 7 - i
		file := 0
		for _, ch := range row {
			switch {
			case ch >= '1' && ch <= '8':
				file += int(ch - '0')
			default:
				p, ok := fenLetters[ch]
				if !ok {
					return st, fmt.Errorf("invalid FEN piece %q", ch)
				}
				if file > 7 {
					return st, fmt.Errorf("FEN rank %d overflows", rank+1)
				}
				st.placement[NewSquare(file, rank)] = p
				file++
			}
		}
		if file != 8 {
			return st, fmt.Errorf("FEN rank %d has %d files", rank+1, file)
		}
	}

	st.turn = White
	if len(fields) > 1 && fields[1] == "b" {
		st.turn = Black
	}
	st.fen = fen
	return st, nil
}

// MustParseFEN is ParseFEN for literals.
func MustParseFEN(fen string) State {
	st, err := ParseFEN(fen)
	if err != nil {
		panic(err)
	}
	return st
}

// At returns the piece on sq (NoPiece when empty).
func (s State) At(sq Square) Piece {
	if !sq.Valid() {
		return NoPiece
	}
	return s.placement[sq]
}

// Turn returns the side to move.
func (s State) Turn() Color { return s.turn }

// FEN returns the full FEN record.
func (s State) FEN() string { return s.fen }

// IsZero reports whether the state was never initialised.
func (s State) IsZero() bool { return s.fen == "" }

// Count returns the number of pieces of the given color (NoColor counts all).
func (s State) Count(c Color) int {
	n := 0
	for _, p := range s.placement {
		if !p.IsZero() && (c == NoColor || p.Color == c) {
			n++
		}
	}
	return n
}

// Find returns the squares holding p, in square order.
func (s State) Find(p Piece) []Square {
	var out []Square
	for i, q := range s.placement {
		if q == p {
			out = append(out, Square(i))
		}
	}
	return out
}

// String renders the board rank 8 first.
func (s State) String() string {
	var b strings.Builder
	b.WriteString("\n  a b c d e f g h\n")
	for rank := 7; rank >= 0; rank-- {
		fmt.Fprintf(&b, "%d ", rank+1)
		for file := 0; file < 8; file++ {
			b.WriteRune(s.placement[NewSquare(file, rank)].Symbol())
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d\n", rank+1)
	}
	b.WriteString("  a b c d e f g h\n")
	return b.String()
}
