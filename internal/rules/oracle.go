// Package rules wraps a chess rules implementation behind the Oracle contract
// so the rest of the rig never touches the library's board or move types.
package rules

import (
	"errors"
	"fmt"

	"github.com/thyrook/chessrig/internal/board"
)

// ErrIllegalMove is matched by every IllegalMoveError.
var ErrIllegalMove = errors.New("illegal move")

// IllegalMoveError reports a move that is not legal in the given position.
type IllegalMoveError struct {
	Move string
	FEN  string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %s in %q", e.Move, e.FEN)
}

// Is makes errors.Is(err, ErrIllegalMove) work.
func (e *IllegalMoveError) Is(target error) bool { return target == ErrIllegalMove }

// Outcome describes whether the game has ended.
type Outcome struct {
	Over   bool
	Reason string
	Winner board.Color
}

// Oracle enumerates and applies legal moves. Implementations must be safe for
// sequential use by one session; they hold no per-game state.
type Oracle interface {
	LegalMoves(st board.State) ([]board.Move, error)
	Apply(st board.State, m board.Move) (board.State, error)
	Status(st board.State) (Outcome, error)
}

// Start returns the standard initial position.
func Start() board.State {
	return board.MustParseFEN(board.StartFEN)
}
