// Package board holds the value types shared by the vision, reconciliation and
// execution stages: squares, pieces, confirmed board states, occupancy
// snapshots and change sets.
package board

import "fmt"

// Square identifies one of the 64 squares. Index = rank*8 + file, so A1 = 0,
// H1 = 7 and H8 = 63.
type Square int8

// NoSquare marks an unset square.
const NoSquare Square = -1

// NumSquares is the number of squares on the board.
const NumSquares = 64

// NewSquare builds a square from a file (0=a) and a rank (0=1).
func NewSquare(file, rank int) Square {
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return NoSquare
	}
	return Square(rank*8 + file)
}

// ParseSquare parses algebraic notation such as "e4".
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return NoSquare, fmt.Errorf("invalid square: %q", s)
	}
	file := int(s[0] - 'a')
	rank := int(s[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return NoSquare, fmt.Errorf("square out of bounds: %q", s)
	}
	return NewSquare(file, rank), nil
}

// MustSquare is ParseSquare for literals; it panics on bad input.
func MustSquare(s string) Square {
	sq, err := ParseSquare(s)
	if err != nil {
		panic(err)
	}
	return sq
}

// File returns 0-7 for files a-h.
func (s Square) File() int { return int(s) % 8 }

// Rank returns 0-7 for ranks 1-8.
func (s Square) Rank() int { return int(s) / 8 }

// Valid reports whether s is on the board.
func (s Square) Valid() bool { return s >= 0 && s < NumSquares }

// IsLight reports whether the square itself is a light square (h1 is light).
func (s Square) IsLight() bool { return (s.File()+s.Rank())%2 == 1 }

// String returns algebraic notation (e.g., "e4").
func (s Square) String() string {
	if !s.Valid() {
		return "-"
	}
	return fmt.Sprintf("%c%d", 'a'+s.File(), s.Rank()+1)
}
