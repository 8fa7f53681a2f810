package rules

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/board"
)

// Selector picks the rig's own move.
type Selector interface {
	Choose(ctx context.Context, st board.State) (board.Move, error)
}

// FirstLegalSelector picks the first legal move in UCI order. It is meant for
// bench runs without an engine.
type FirstLegalSelector struct {
	Oracle Oracle
}

// Choose returns the lexicographically first legal move.
func (s FirstLegalSelector) Choose(ctx context.Context, st board.State) (board.Move, error) {
	moves, err := s.Oracle.LegalMoves(st)
	if err != nil {
		return board.Move{}, err
	}
	if len(moves) == 0 {
		return board.Move{}, fmt.Errorf("no legal moves")
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].UCI() < moves[j].UCI() })
	return moves[0], nil
}

// UCISelector asks a UCI engine (Stockfish in the reference rig).
type UCISelector struct {
	engine   *uci.Engine
	moveTime time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewUCISelector starts the engine binary at path. skill < 0 leaves the
// engine's default skill level.
func NewUCISelector(path string, moveTime time.Duration, skill int, logger *zap.Logger) (*UCISelector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	eng, err := uci.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	cmds := []uci.Cmd{uci.CmdUCI, uci.CmdIsReady}
	if skill >= 0 {
		cmds = append(cmds, uci.CmdSetOption{Name: "Skill Level", Value: strconv.Itoa(skill)})
	}
	cmds = append(cmds, uci.CmdUCINewGame)
	if err := eng.Run(cmds...); err != nil {
		eng.Close()
		return nil, fmt.Errorf("failed to initialise engine: %w", err)
	}

	logger.Info("UCI engine ready",
		zap.String("path", path),
		zap.Duration("move_time", moveTime),
		zap.Int("skill", skill),
	)

	return &UCISelector{engine: eng, moveTime: moveTime, logger: logger}, nil
}

// Choose runs one search. The engine cannot be interrupted mid-search, so a
// cancelled context returns early and the search result is discarded.
func (s *UCISelector) Choose(ctx context.Context, st board.State) (board.Move, error) {
	opt, err := chess.FEN(st.FEN())
	if err != nil {
		return board.Move{}, fmt.Errorf("failed to parse FEN: %w", err)
	}
	pos := chess.NewGame(opt).Position()

	type result struct {
		move *chess.Move
		err  error
	}
	done := make(chan result, 1)

	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		err := s.engine.Run(uci.CmdPosition{Position: pos}, uci.CmdGo{MoveTime: s.moveTime})
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{move: s.engine.SearchResults().BestMove}
	}()

	select {
	case <-ctx.Done():
		return board.Move{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return board.Move{}, fmt.Errorf("engine search failed: %w", r.err)
		}
		if r.move == nil {
			return board.Move{}, fmt.Errorf("engine returned no move")
		}
		m := fromChessMove(r.move)
		s.logger.Debug("Engine move", zap.String("move", m.UCI()))
		return m, nil
	}
}

// Close stops the engine process.
func (s *UCISelector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Close()
}
