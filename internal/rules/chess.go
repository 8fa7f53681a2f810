package rules

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/thyrook/chessrig/internal/board"
)

// ChessOracle implements Oracle with github.com/notnil/chess.
type ChessOracle struct{}

// NewChessOracle creates the default oracle.
func NewChessOracle() *ChessOracle {
	return &ChessOracle{}
}

// LegalMoves returns every legal move of the side to move.
func (o *ChessOracle) LegalMoves(st board.State) ([]board.Move, error) {
	pos, err := position(st)
	if err != nil {
		return nil, err
	}

	valid := pos.ValidMoves()
	moves := make([]board.Move, 0, len(valid))
	for _, m := range valid {
		moves = append(moves, fromChessMove(m))
	}
	return moves, nil
}

// Apply plays m on st. It fails with an IllegalMoveError when m is not among
// the legal moves.
func (o *ChessOracle) Apply(st board.State, m board.Move) (board.State, error) {
	pos, err := position(st)
	if err != nil {
		return board.State{}, err
	}

	uci := m.UCI()
	for _, vm := range pos.ValidMoves() {
		if vm.String() != uci {
			continue
		}
		next := pos.Update(vm)
		return board.ParseFEN(next.String())
	}

	return board.State{}, &IllegalMoveError{Move: uci, FEN: st.FEN()}
}

// Status reports checkmate and stalemate.
func (o *ChessOracle) Status(st board.State) (Outcome, error) {
	pos, err := position(st)
	if err != nil {
		return Outcome{}, err
	}

	switch pos.Status() {
	case chess.Checkmate:
		return Outcome{Over: true, Reason: "checkmate", Winner: st.Turn().Other()}, nil
	case chess.Stalemate:
		return Outcome{Over: true, Reason: "stalemate"}, nil
	}
	return Outcome{}, nil
}

func position(st board.State) (*chess.Position, error) {
	if st.IsZero() {
		return nil, fmt.Errorf("board state has no FEN")
	}
	opt, err := chess.FEN(st.FEN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse FEN: %w", err)
	}
	return chess.NewGame(opt).Position(), nil
}

func fromChessMove(m *chess.Move) board.Move {
	out := board.Move{
		From:      board.Square(m.S1()),
		To:        board.Square(m.S2()),
		Promotion: fromPieceType(m.Promo()),
	}
	if m.HasTag(chess.Capture) {
		out.Flags |= board.FlagCapture
	}
	if m.HasTag(chess.EnPassant) {
		out.Flags |= board.FlagEnPassant | board.FlagCapture
	}
	if m.HasTag(chess.KingSideCastle) {
		out.Flags |= board.FlagCastleKingside
	}
	if m.HasTag(chess.QueenSideCastle) {
		out.Flags |= board.FlagCastleQueenside
	}
	if out.Promotion != board.NoKind {
		out.Flags |= board.FlagPromotion
	}
	return out
}

func fromPieceType(pt chess.PieceType) board.Kind {
	switch pt {
	case chess.Pawn:
		return board.Pawn
	case chess.Knight:
		return board.Knight
	case chess.Bishop:
		return board.Bishop
	case chess.Rook:
		return board.Rook
	case chess.Queen:
		return board.Queen
	case chess.King:
		return board.King
	}
	return board.NoKind
}
