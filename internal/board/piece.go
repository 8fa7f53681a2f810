package board

// Color is the side a piece belongs to.
type Color uint8

const (
	NoColor Color = iota
	White
	Black
)

// Other returns the opposing color.
func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return NoColor
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	}
	return "none"
}

// Kind is a piece kind.
type Kind uint8

const (
	NoKind Kind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

func (k Kind) String() string {
	switch k {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	}
	return "none"
}

// Letter returns the lower-case letter used in UCI promotions ("q", "n", ...).
func (k Kind) Letter() string {
	switch k {
	case Pawn:
		return "p"
	case Knight:
		return "n"
	case Bishop:
		return "b"
	case Rook:
		return "r"
	case Queen:
		return "q"
	case King:
		return "k"
	}
	return ""
}

// Piece is a value type; the zero value means "no piece".
type Piece struct {
	Kind  Kind
	Color Color
}

// NoPiece is the empty piece.
var NoPiece = Piece{}

// IsZero reports whether p is NoPiece.
func (p Piece) IsZero() bool { return p.Kind == NoKind }

func (p Piece) String() string {
	if p.IsZero() {
		return "empty"
	}
	return p.Color.String() + " " + p.Kind.String()
}

// Occupancy is the occupancy class vision would see for this piece.
func (p Piece) Occupancy() Occupancy {
	switch {
	case p.IsZero():
		return Empty
	case p.Color == White:
		return OccupiedLight
	case p.Color == Black:
		return OccupiedDark
	}
	return OccupiedUnknown
}

var fenLetters = map[rune]Piece{
	'P': {Pawn, White}, 'N': {Knight, White}, 'B': {Bishop, White},
	'R': {Rook, White}, 'Q': {Queen, White}, 'K': {King, White},
	'p': {Pawn, Black}, 'n': {Knight, Black}, 'b': {Bishop, Black},
	'r': {Rook, Black}, 'q': {Queen, Black}, 'k': {King, Black},
}

// Symbol returns the FEN letter for the piece, or '.' when empty.
func (p Piece) Symbol() rune {
	for r, q := range fenLetters {
		if q == p {
			return r
		}
	}
	return '.'
}
