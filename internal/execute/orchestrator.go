// Package execute sequences the arm through a move and verifies the result
// with the camera. It is the only component that issues motion commands.
package execute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/motion"
	"github.com/thyrook/chessrig/internal/observe"
	"github.com/thyrook/chessrig/internal/reconcile"
)

var (
	// ErrAborted is returned when execution stopped before completion.
	ErrAborted = errors.New("execution aborted")
	// ErrVerificationFailed means the board never matched the expected
	// position within the retry limit.
	ErrVerificationFailed = errors.New("verification failed")
)

// State is an orchestrator state.
type State int

const (
	Idle State = iota
	Planning
	MovingToSource
	Gripping
	MovingToDestination
	Releasing
	Retreating
	Verifying
	Completed
	Retrying
	Aborted
)

var stateNames = [...]string{
	Idle:                "idle",
	Planning:            "planning",
	MovingToSource:      "moving-to-source",
	Gripping:            "gripping",
	MovingToDestination: "moving-to-destination",
	Releasing:           "releasing",
	Retreating:          "retreating",
	Verifying:           "verifying",
	Completed:           "completed",
	Retrying:            "retrying",
	Aborted:             "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Options configures an Orchestrator.
type Options struct {
	MaxRetries     int
	CommandTimeout time.Duration
	// VerifyTimeout bounds one camera observation during Verifying.
	VerifyTimeout time.Duration
	// ResampleLimit is the number of extra observations taken when squares
	// are uncertain before the attempt counts as a mismatch.
	ResampleLimit int
}

// DefaultOptions returns conservative limits.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     2,
		CommandTimeout: 30 * time.Second,
		VerifyTimeout:  10 * time.Second,
		ResampleLimit:  3,
	}
}

// Report summarises one Execute call.
type Report struct {
	Move        board.Move
	Final       State
	Retries     int
	Transitions []State
	Plans       []Plan
	ManualSwap  bool
	// Snapshot is the last verification observation.
	Snapshot board.Snapshot
}

// Orchestrator drives the motor driver through plans.
type Orchestrator struct {
	driver     motion.Driver
	planner    *Planner
	observer   observe.Observer
	reconciler *reconcile.Reconciler
	opts       Options
	logger     *zap.Logger

	pose motion.Pose

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)
}

// New creates an orchestrator. The arm is assumed to start at the rest pose.
func New(driver motion.Driver, planner *Planner, observer observe.Observer, reconciler *reconcile.Reconciler, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = def.VerifyTimeout
	}
	if opts.ResampleLimit < 0 {
		opts.ResampleLimit = 0
	}
	return &Orchestrator{
		driver:     driver,
		planner:    planner,
		observer:   observer,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
		pose:       planner.Geometry().Rest,
	}
}

// Pose returns the last pose the arm reached.
func (o *Orchestrator) Pose() motion.Pose { return o.pose }

// run tracks the state of one Execute call.
type run struct {
	o      *Orchestrator
	report *Report
	state  State
}

func (r *run) enter(s State) {
	if r.state == s {
		return
	}
	from := r.state
	r.state = s
	r.report.Transitions = append(r.report.Transitions, s)
	r.o.logger.Info("Execution state",
		zap.String("move", r.report.Move.UCI()),
		zap.String("from", from.String()),
		zap.String("to", s.String()),
	)
	if r.o.OnTransition != nil {
		r.o.OnTransition(from, s)
	}
}

// Execute moves the pieces for m, which takes the board from before to after,
// and verifies the result. Cancelling ctx aborts between primitives and parks
// the arm at rest. A driver fault or timeout aborts immediately and no further
// command is sent.
func (o *Orchestrator) Execute(ctx context.Context, m board.Move, before, after board.State) (Report, error) {
	report := Report{Move: m}
	r := &run{o: o, report: &report, state: Idle}

	r.enter(Planning)
	plan := o.planner.PlanMove(m, o.pose)
	report.Plans = append(report.Plans, plan)
	report.ManualSwap = plan.ManualSwap

	for {
		if err := o.runPlan(ctx, r, plan); err != nil {
			return o.abort(ctx, r, err)
		}

		r.enter(Verifying)
		mismatch, err := o.verify(ctx, r, after)
		if err != nil {
			return o.abort(ctx, r, err)
		}
		if mismatch.IsEmpty() {
			r.enter(Completed)
			report.Final = Completed
			return report, nil
		}

		o.logger.Warn("Board does not match expected position",
			zap.String("move", m.UCI()),
			zap.Stringer("changes", mismatch),
			zap.Int("retries", report.Retries),
		)
		if report.Retries >= o.opts.MaxRetries {
			return o.abort(ctx, r, fmt.Errorf("%w: %s after %d retries", ErrVerificationFailed, mismatch, report.Retries))
		}

		rel, ok := o.correction(after, mismatch)
		if !ok {
			return o.abort(ctx, r, fmt.Errorf("%w: cannot correct %s", ErrVerificationFailed, mismatch))
		}

		report.Retries++
		r.enter(Retrying)
		r.enter(Planning)
		plan = o.planner.PlanRelocations(rel, o.pose)
		plan.Move = m
		report.Plans = append(report.Plans, plan)
	}
}

func (o *Orchestrator) runPlan(ctx context.Context, r *run, plan Plan) error {
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.enter(step.Phase)
		if err := o.do(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// do runs one primitive. The command keeps running if ctx is cancelled; only
// the command timeout interrupts it.
func (o *Orchestrator) do(ctx context.Context, step Step) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CommandTimeout)
	defer cancel()

	var err error
	switch step.Kind {
	case StepMove:
		err = o.driver.MoveTo(cctx, step.Pose)
	case StepGrip:
		err = o.driver.Grip(cctx)
	case StepRelease:
		err = o.driver.Release(cctx)
	}
	if err == nil {
		if step.Kind == StepMove {
			o.pose = step.Pose
		}
		return nil
	}

	op := step.Kind.String()
	switch {
	case motion.IsSafetyStop(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return motion.TimeoutError(op, err)
	default:
		return &motion.FaultError{Op: op, Detail: "driver error", Err: err}
	}
}

// verify observes the board and returns its differences from after. Uncertain
// observations are re-sampled up to the limit.
func (o *Orchestrator) verify(ctx context.Context, r *run, after board.State) (board.ChangeSet, error) {
	var res reconcile.Result
	for attempt := 0; attempt <= o.opts.ResampleLimit; attempt++ {
		vctx, cancel := context.WithTimeout(ctx, o.opts.VerifyTimeout)
		snap, err := o.observer.Observe(vctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return board.ChangeSet{}, ctx.Err()
			}
			return board.ChangeSet{}, fmt.Errorf("%w: observation failed: %v", ErrVerificationFailed, err)
		}

		r.report.Snapshot = snap
		res = o.reconciler.Reconcile(after, snap)
		if !res.NeedsResample() {
			return res.Changes, nil
		}
		o.logger.Debug("Uncertain squares during verification", zap.Int("count", len(res.Uncertain)))
	}

	// Still uncertain: report the uncertain squares as unknown so the
	// attempt counts as a mismatch.
	changes := res.Changes.Changes()
	for _, sq := range res.Uncertain {
		changes = append(changes, board.Change{Square: sq, Kind: board.Ambiguous})
	}
	return board.NewChangeSet(changes, nil), nil
}

// correction pairs pieces standing where the board should be empty with
// squares where a piece is missing. Extra pieces without a partner go to the
// holding area. A missing piece that nothing can fill, a wrong colour or an
// unresolved observation cannot be corrected.
func (o *Orchestrator) correction(after board.State, mismatch board.ChangeSet) ([]Relocation, bool) {
	g := o.planner.Geometry()
	var extra, missing []board.Square

	for _, c := range mismatch.Changes() {
		switch {
		case c.Kind == board.BecameEmpty:
			missing = append(missing, c.Square)
		case c.Kind == board.BecameOccupied && after.At(c.Square).IsZero():
			extra = append(extra, c.Square)
		default:
			return nil, false
		}
	}
	if len(missing) > len(extra) {
		return nil, false
	}

	var rel []Relocation
	for i, sq := range extra {
		if i < len(missing) {
			rel = append(rel, Relocation{From: g.Square(sq), To: g.Square(missing[i]), Note: "correct " + sq.String() + missing[i].String()})
			continue
		}
		rel = append(rel, Relocation{From: g.Square(sq), To: o.planner.HoldingSlot(), Note: "clear " + sq.String()})
	}
	return rel, true
}

// abort stops execution. Safety stops send nothing further; a cancelled
// context or a verification failure parks the arm at rest first.
func (o *Orchestrator) abort(ctx context.Context, r *run, cause error) (Report, error) {
	if !motion.IsSafetyStop(cause) {
		if err := o.park(ctx); err != nil {
			o.logger.Error("Failed to park arm", zap.Error(err))
			cause = fmt.Errorf("%w (parking failed: %v)", cause, err)
		}
	}

	r.enter(Aborted)
	r.report.Final = Aborted
	o.logger.Error("Execution aborted", zap.String("move", r.report.Move.UCI()), zap.Error(cause))

	return *r.report, fmt.Errorf("%w: %w", ErrAborted, cause)
}

// park lifts the arm to travel height and moves it to rest.
func (o *Orchestrator) park(ctx context.Context) error {
	g := o.planner.Geometry()
	travelZ := g.A1.Z + g.Lift

	var steps []Step
	if o.pose.Z < travelZ-1e-6 {
		lifted := o.pose
		lifted.Z = travelZ
		steps = append(steps, Step{Kind: StepMove, Pose: lifted})
	}
	steps = append(steps, Step{Kind: StepMove, Pose: g.Rest})

	for _, s := range steps {
		if err := o.do(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
