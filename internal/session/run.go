package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/board"
)

// ErrInvalidCommand is matched by every rejected command.
var ErrInvalidCommand = errors.New("invalid command")

// CommandKind is a request from the presentation layer.
type CommandKind int

const (
	// CmdResolve names the human move when the session stopped on an
	// ambiguous or unexplained change.
	CmdResolve CommandKind = iota
	// CmdResume restarts the loop after a person fixed the board.
	CmdResume
	// CmdAbort stops the current step, parking the arm if it is moving.
	CmdAbort
)

func (k CommandKind) String() string {
	switch k {
	case CmdResolve:
		return "resolve"
	case CmdResume:
		return "resume"
	case CmdAbort:
		return "abort"
	}
	return "unknown"
}

// Command is one presentation-layer request. Move is set for CmdResolve.
type Command struct {
	Kind CommandKind
	Move string
}

func (c Command) String() string {
	if c.Kind == CmdResolve {
		return "resolve " + c.Move
	}
	return c.Kind.String()
}

// ParseCommand parses "resolve <uci>", "resume" or "abort".
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	switch fields[0] {
	case "resolve":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%w: resolve needs one move", ErrInvalidCommand)
		}
		return Command{Kind: CmdResolve, Move: fields[1]}, nil
	case "resume":
		return Command{Kind: CmdResume}, nil
	case "abort":
		return Command{Kind: CmdAbort}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrInvalidCommand, fields[0])
}

// Submit queues cmd for Run. It never blocks.
func (m *Machine) Submit(cmd Command) error {
	select {
	case m.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("command queue full, dropped %s", cmd)
	}
}

// Apply executes cmd against st. It must not be called while a Step on st is
// in progress; Run takes care of that.
func (m *Machine) Apply(st *State, cmd Command) error {
	switch cmd.Kind {
	case CmdResolve:
		return m.resolve(st, cmd.Move)
	case CmdResume:
		if st.Phase != Error {
			return fmt.Errorf("%w: resume in phase %s", ErrInvalidCommand, st.Phase)
		}
		st.LastError = nil
		st.Pending = nil
		st.Resamples = 0
		st.next = board.State{}
		m.transition(st, Idle)
		return nil
	case CmdAbort:
		switch st.Phase {
		case GameOver:
			return fmt.Errorf("%w: game is over", ErrInvalidCommand)
		case Error:
			if st.LastError != nil {
				m.fail(st, fmt.Errorf("%w: %w", ErrUserAbort, st.LastError))
				return nil
			}
		}
		m.fail(st, ErrUserAbort)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidCommand, cmd)
}

// resolve accepts a person's choice of the human move. The move must be legal
// and, when the session stopped on an ambiguity, one of the candidates.
func (m *Machine) resolve(st *State, uci string) error {
	if st.Phase != Error {
		return fmt.Errorf("%w: resolve in phase %s", ErrInvalidCommand, st.Phase)
	}
	if st.Confirmed.Turn() == st.RobotColor {
		return fmt.Errorf("%w: the rig is to move", ErrInvalidCommand)
	}

	candidates := st.Pending
	if len(candidates) == 0 {
		legal, err := m.deps.Oracle.LegalMoves(st.Confirmed)
		if err != nil {
			return err
		}
		candidates = legal
	}

	for _, mv := range candidates {
		if mv.UCI() == uci {
			st.Pending = []board.Move{mv}
			st.LastError = nil
			st.Resamples = 0
			m.transition(st, InferredHumanMove)
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not among %v", ErrInvalidCommand, uci, moveNames(candidates))
}

// Run drives st until the game is over or ctx ends. Commands submitted while a
// step runs are applied after it, except abort, which cancels the step first.
// In Error the loop waits for a command.
func (m *Machine) Run(ctx context.Context, st *State) error {
	m.logger.Info("Session started",
		zap.String("session", st.ID.String()),
		zap.String("robot", st.RobotColor.String()),
		zap.String("fen", st.Confirmed.FEN()),
	)

	var queued []Command
	for {
		for _, cmd := range queued {
			m.handle(st, cmd)
		}
		queued = queued[:0]

		switch st.Phase {
		case GameOver:
			m.logger.Info("Session finished", zap.String("result", st.Result), zap.Int("plies", st.Ply()))
			return nil
		case Error:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmd := <-m.commands:
				m.handle(st, cmd)
			}
			continue
		}

		stepCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- m.Step(stepCtx, st) }()

		aborted := false
	wait:
		for {
			select {
			case <-done:
				break wait
			case cmd := <-m.commands:
				if cmd.Kind != CmdAbort {
					queued = append(queued, cmd)
					continue
				}
				cancel()
				<-done
				aborted = true
				m.handle(st, cmd)
				break wait
			}
		}
		cancel()

		if !aborted && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (m *Machine) handle(st *State, cmd Command) {
	if err := m.Apply(st, cmd); err != nil {
		m.logger.Warn("Rejected command", zap.Stringer("command", cmd), zap.Error(err))
		m.notify(st, Event{Kind: EventError, Error: err.Error()})
	}
}
