package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/execute"
	"github.com/thyrook/chessrig/internal/infer"
	"github.com/thyrook/chessrig/internal/observe"
	"github.com/thyrook/chessrig/internal/reconcile"
	"github.com/thyrook/chessrig/internal/rules"
)

// Executor carries out the rig's own move on the physical board.
type Executor interface {
	Execute(ctx context.Context, m board.Move, before, after board.State) (execute.Report, error)
}

// Deps are the collaborators of a Machine. Notifier and Recorder are optional.
type Deps struct {
	Observer   observe.Observer
	Reconciler *reconcile.Reconciler
	Inferencer *infer.Inferencer
	Oracle     rules.Oracle
	Selector   rules.Selector
	Executor   Executor
	Notifier   Notifier
	Recorder   Recorder
}

// Options configures a Machine.
type Options struct {
	// ResampleLimit bounds consecutive observations with uncertain squares
	// before the session stops with ErrLowConfidence.
	ResampleLimit int
	// StallNotice is the number of consecutive move-in-progress observations
	// between two stalled-board events. Zero disables them.
	StallNotice int
}

// DefaultOptions returns the default session options.
func DefaultOptions() Options {
	return Options{ResampleLimit: 3, StallNotice: 50}
}

// Machine is the game session state machine. It keeps no game state of its
// own; every transition works on the *State it is given.
type Machine struct {
	deps     Deps
	opts     Options
	logger   *zap.Logger
	commands chan Command
}

// New creates a Machine.
func New(deps Deps, opts Options, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ResampleLimit < 0 {
		opts.ResampleLimit = 0
	}
	if opts.StallNotice < 0 {
		opts.StallNotice = 0
	}
	if deps.Notifier == nil {
		deps.Notifier = Notifiers(nil)
	}
	return &Machine{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		commands: make(chan Command, 8),
	}
}

// Step performs one transition from st.Phase. It returns a context error when
// ctx ended before the transition completed, leaving the phase unchanged, and
// ErrNeedsIntervention while st is in Error.
func (m *Machine) Step(ctx context.Context, st *State) error {
	switch st.Phase {
	case Idle:
		m.start(st)
	case AwaitingHumanMove:
		return m.awaitHuman(ctx, st)
	case Reconciling:
		return m.reconcileHuman(ctx, st)
	case InferredHumanMove:
		m.applyHuman(st)
	case AmbiguousOrInvalid:
		err := st.LastError
		if err == nil {
			err = ErrAmbiguousOrInvalid
		}
		m.fail(st, err)
	case PlanningOwnMove:
		return m.planOwn(ctx, st)
	case ExecutingOwnMove:
		return m.executeOwn(ctx, st)
	case Error:
		return ErrNeedsIntervention
	case GameOver:
	}
	return nil
}

func (m *Machine) transition(st *State, to Phase) {
	from := st.Phase
	if from == to {
		return
	}
	st.Phase = to
	m.logger.Info("Session phase",
		zap.String("session", st.ID.String()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	m.notify(st, Event{Kind: EventPhase, From: from.String(), FEN: st.Confirmed.FEN()})
}

func (m *Machine) notify(st *State, ev Event) {
	ev.Session = st.ID.String()
	ev.Phase = st.Phase.String()
	ev.Time = time.Now()
	m.deps.Notifier.Notify(ev)
}

// fail moves st to Error. The confirmed state is left as it is.
func (m *Machine) fail(st *State, err error) {
	st.LastError = err
	m.logger.Error("Session needs intervention",
		zap.String("session", st.ID.String()),
		zap.String("phase", st.Phase.String()),
		zap.Strings("candidates", moveNames(st.Pending)),
		zap.Error(err),
	)
	m.transition(st, Error)
	m.notify(st, Event{Kind: EventError, Error: err.Error(), Candidates: moveNames(st.Pending), FEN: st.Confirmed.FEN()})
}

func (m *Machine) start(st *State) {
	m.notify(st, Event{Kind: EventBoard, FEN: st.Confirmed.FEN()})
	if m.finished(st) {
		return
	}
	m.nextTurn(st)
}

func (m *Machine) nextTurn(st *State) {
	if st.Confirmed.Turn() == st.RobotColor {
		m.transition(st, PlanningOwnMove)
		return
	}
	m.transition(st, AwaitingHumanMove)
}

// finished moves st to GameOver when the confirmed position ends the game.
func (m *Machine) finished(st *State) bool {
	out, err := m.deps.Oracle.Status(st.Confirmed)
	if err != nil {
		m.fail(st, fmt.Errorf("game status: %w", err))
		return true
	}
	if !out.Over {
		return false
	}

	st.Result = out.Reason
	if out.Winner != board.NoColor {
		st.Result += ", " + out.Winner.String() + " wins"
	}
	m.transition(st, GameOver)
	m.notify(st, Event{Kind: EventGameOver, FEN: st.Confirmed.FEN(), Result: st.Result})
	return true
}

// observe takes one snapshot. A failure other than ctx ending moves st to
// Error and returns ok=false with a nil error.
func (m *Machine) observe(ctx context.Context, st *State) (board.Snapshot, bool, error) {
	snap, err := m.deps.Observer.Observe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return board.Snapshot{}, false, ctx.Err()
		}
		m.fail(st, fmt.Errorf("observation failed: %w", err))
		return board.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (m *Machine) awaitHuman(ctx context.Context, st *State) error {
	snap, ok, err := m.observe(ctx, st)
	if !ok {
		return err
	}

	res := m.deps.Reconciler.Reconcile(st.Confirmed, snap)
	if !res.NeedsResample() {
		if res.Changes.IsEmpty() {
			st.Lifted = 0
			return nil
		}
		waiting, err := m.inProgress(st, res.Changes)
		if err != nil {
			m.fail(st, err)
			return nil
		}
		if waiting {
			m.lifted(st, res.Changes)
			return nil
		}
	}

	st.Lifted = 0
	st.snapshot = snap
	m.transition(st, Reconciling)
	return nil
}

// inProgress reports whether changes show pieces lifted and not yet put down:
// only vacated squares, and no legal move consistent with them. A capture
// whose capturing piece was seen with an unknown color also leaves only the
// source vacated, but the inferencer still matches it.
func (m *Machine) inProgress(st *State, changes board.ChangeSet) (bool, error) {
	if !changes.OnlyVacated() {
		return false, nil
	}
	res, err := m.deps.Inferencer.Infer(st.Confirmed, changes)
	if err != nil {
		return false, err
	}
	return res.Outcome == infer.NoLegalMove, nil
}

// lifted counts one more observation of a move in progress and reports a
// stalled board every StallNotice observations.
func (m *Machine) lifted(st *State, changes board.ChangeSet) {
	st.Lifted++
	if m.opts.StallNotice <= 0 || st.Lifted%m.opts.StallNotice != 0 {
		m.logger.Debug("Move in progress", zap.Stringer("changes", changes), zap.Int("observations", st.Lifted))
		return
	}
	msg := fmt.Sprintf("pieces lifted from %s for %d observations", changes, st.Lifted)
	m.logger.Info("Board stalled", zap.Stringer("changes", changes), zap.Int("observations", st.Lifted))
	m.notify(st, Event{Kind: EventStalled, Error: msg, FEN: st.Confirmed.FEN()})
}

// uncertain counts a re-sample. It reports false once the limit is exceeded,
// after moving st to Error.
func (m *Machine) uncertain(st *State, res reconcile.Result) bool {
	st.Resamples++
	if st.Resamples > m.opts.ResampleLimit {
		m.fail(st, fmt.Errorf("%w: %d squares below threshold after %d re-samples (%v)",
			ErrLowConfidence, len(res.Uncertain), m.opts.ResampleLimit, res.Uncertain))
		return false
	}
	m.logger.Debug("Re-sampling uncertain squares",
		zap.Int("resample", st.Resamples),
		zap.Int("uncertain", len(res.Uncertain)),
	)
	return true
}

func (m *Machine) reconcileHuman(ctx context.Context, st *State) error {
	res := m.deps.Reconciler.Reconcile(st.Confirmed, st.snapshot)
	if res.NeedsResample() {
		if !m.uncertain(st, res) {
			return nil
		}
		snap, ok, err := m.observe(ctx, st)
		if !ok {
			return err
		}
		st.snapshot = snap
		return nil
	}
	st.Resamples = 0

	if res.Changes.IsEmpty() {
		m.transition(st, AwaitingHumanMove)
		return nil
	}

	result, err := m.deps.Inferencer.Infer(st.Confirmed, res.Changes)
	if err != nil {
		m.fail(st, err)
		return nil
	}
	m.logger.Info("Inferred human move", zap.Stringer("changes", res.Changes), zap.Stringer("result", result))

	switch result.Outcome {
	case infer.Unique:
		st.Pending = result.Moves
		m.transition(st, InferredHumanMove)
	case infer.Ambiguous:
		st.Pending = result.Moves
		st.LastError = fmt.Errorf("%w: %s matches %s", ErrAmbiguousOrInvalid, res.Changes, result)
		m.transition(st, AmbiguousOrInvalid)
		m.notify(st, Event{Kind: EventAmbiguous, Candidates: moveNames(st.Pending), FEN: st.Confirmed.FEN()})
	default:
		st.Pending = nil
		if res.Changes.OnlyVacated() {
			m.transition(st, AwaitingHumanMove)
			return nil
		}
		st.LastError = fmt.Errorf("%w: no legal move explains %s", ErrAmbiguousOrInvalid, res.Changes)
		m.transition(st, AmbiguousOrInvalid)
	}
	return nil
}

func (m *Machine) applyHuman(st *State) {
	if len(st.Pending) != 1 {
		m.fail(st, fmt.Errorf("%w: %d pending moves", ErrAmbiguousOrInvalid, len(st.Pending)))
		return
	}
	mv := st.Pending[0]
	next, err := m.deps.Oracle.Apply(st.Confirmed, mv)
	if err != nil {
		m.fail(st, fmt.Errorf("inferred move rejected: %w", err))
		return
	}
	m.confirm(st, mv, next, st.snapshot)
}

// confirm advances the confirmed state by mv and moves on to the next turn.
func (m *Machine) confirm(st *State, mv board.Move, next board.State, snap board.Snapshot) {
	if m.deps.Recorder != nil {
		if err := m.deps.Recorder.Record(st.ID.String(), st.Ply(), mv, snap); err != nil {
			m.logger.Warn("Failed to record observation", zap.String("move", mv.UCI()), zap.Error(err))
		}
	}

	st.Confirmed = next
	st.History = append(st.History, mv)
	st.Pending = nil
	st.snapshot = board.Snapshot{}
	st.next = board.State{}
	m.logger.Info("Move confirmed",
		zap.String("move", mv.UCI()),
		zap.Int("ply", st.Ply()),
		zap.String("fen", next.FEN()),
	)
	m.notify(st, Event{Kind: EventBoard, Move: mv.UCI(), FEN: next.FEN()})

	if m.finished(st) {
		return
	}
	m.nextTurn(st)
}

// planOwn checks that nobody touched the board, then asks the selector.
func (m *Machine) planOwn(ctx context.Context, st *State) error {
	snap, ok, err := m.observe(ctx, st)
	if !ok {
		return err
	}
	res := m.deps.Reconciler.Reconcile(st.Confirmed, snap)
	if res.NeedsResample() {
		m.uncertain(st, res)
		return nil
	}
	st.Resamples = 0
	if !res.Changes.IsEmpty() {
		st.LastError = fmt.Errorf("%w: board changed while the rig is to move: %s", ErrAmbiguousOrInvalid, res.Changes)
		m.transition(st, AmbiguousOrInvalid)
		return nil
	}

	mv, err := m.deps.Selector.Choose(ctx, st.Confirmed)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.fail(st, fmt.Errorf("move selection failed: %w", err))
		return nil
	}
	next, err := m.deps.Oracle.Apply(st.Confirmed, mv)
	if err != nil {
		m.fail(st, fmt.Errorf("selected move rejected: %w", err))
		return nil
	}

	m.logger.Info("Own move selected", zap.String("move", mv.UCI()))
	st.Pending = []board.Move{mv}
	st.next = next
	m.transition(st, ExecutingOwnMove)
	return nil
}

func (m *Machine) executeOwn(ctx context.Context, st *State) error {
	if len(st.Pending) != 1 || st.next.IsZero() {
		m.fail(st, errors.New("no planned move to execute"))
		return nil
	}
	mv := st.Pending[0]

	report, err := m.deps.Executor.Execute(ctx, mv, st.Confirmed, st.next)
	if err != nil {
		// The arm may have moved pieces: the board needs a person either way.
		m.fail(st, fmt.Errorf("executing %s: %w", mv.UCI(), err))
		return ctx.Err()
	}
	if report.ManualSwap {
		m.notify(st, Event{Kind: EventManualSwap, Move: mv.UCI(), FEN: st.next.FEN()})
	}
	m.confirm(st, mv, st.next, report.Snapshot)
	return nil
}
