package board

// MoveFlag tags special moves.
type MoveFlag uint8

const (
	FlagCapture MoveFlag = 1 << iota
	FlagEnPassant
	FlagCastleKingside
	FlagCastleQueenside
	FlagPromotion
)

// Move is a candidate move produced by the rules oracle.
type Move struct {
	From      Square
	To        Square
	Promotion Kind
	Flags     MoveFlag
}

// Has reports whether every flag in f is set.
func (m Move) Has(f MoveFlag) bool { return m.Flags&f == f }

// IsCastle reports whether m is either castling move.
func (m Move) IsCastle() bool {
	return m.Flags&(FlagCastleKingside|FlagCastleQueenside) != 0
}

// CaptureSquare returns the square of the captured piece: the destination for
// ordinary captures, the passed pawn's square for en passant, NoSquare otherwise.
func (m Move) CaptureSquare() Square {
	switch {
	case m.Has(FlagEnPassant):
		return NewSquare(m.To.File(), m.From.Rank())
	case m.Has(FlagCapture):
		return m.To
	}
	return NoSquare
}

// RookSquares returns the rook's origin and target for castling moves.
func (m Move) RookSquares() (Square, Square) {
	rank := m.From.Rank()
	switch {
	case m.Has(FlagCastleKingside):
		return NewSquare(7, rank), NewSquare(5, rank)
	case m.Has(FlagCastleQueenside):
		return NewSquare(0, rank), NewSquare(3, rank)
	}
	return NoSquare, NoSquare
}

// UCI returns the move in UCI long algebraic notation, e.g. "e7e8q".
func (m Move) UCI() string {
	return m.From.String() + m.To.String() + m.Promotion.Letter()
}

func (m Move) String() string { return m.UCI() }
