package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/execute"
	"github.com/thyrook/chessrig/internal/infer"
	"github.com/thyrook/chessrig/internal/motion"
	"github.com/thyrook/chessrig/internal/reconcile"
	"github.com/thyrook/chessrig/internal/rules"
)

// scriptObserver returns its snapshots in order and then repeats the last one.
type scriptObserver struct {
	snaps []board.Snapshot
	calls int
}

func (o *scriptObserver) Observe(ctx context.Context) (board.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return board.Snapshot{}, err
	}
	i := min(o.calls, len(o.snaps)-1)
	o.calls++
	return o.snaps[i], nil
}

// blockingObserver never yields a snapshot.
type blockingObserver struct{}

func (blockingObserver) Observe(ctx context.Context) (board.Snapshot, error) {
	<-ctx.Done()
	return board.Snapshot{}, ctx.Err()
}

type fakeExecutor struct {
	moves []string
	err   error
}

func (e *fakeExecutor) Execute(ctx context.Context, m board.Move, before, after board.State) (execute.Report, error) {
	e.moves = append(e.moves, m.UCI())
	if e.err != nil {
		return execute.Report{Move: m, Final: execute.Aborted}, e.err
	}
	return execute.Report{
		Move:       m,
		Final:      execute.Completed,
		ManualSwap: m.Has(board.FlagPromotion),
		Snapshot:   board.SnapshotOf(after),
	}, nil
}

type fakeRecorder struct {
	moves []string
}

func (r *fakeRecorder) Record(session string, ply int, move board.Move, snap board.Snapshot) error {
	r.moves = append(r.moves, fmt.Sprintf("%d:%s", ply, move.UCI()))
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type rig struct {
	machine  *Machine
	observer *scriptObserver
	executor *fakeExecutor
	recorder *fakeRecorder
	events   *eventLog
}

func newRig(snaps []board.Snapshot, promotion board.Kind) *rig {
	return newRigWith(snaps, promotion, DefaultOptions())
}

func newRigWith(snaps []board.Snapshot, promotion board.Kind, opts Options) *rig {
	oracle := rules.NewChessOracle()
	r := &rig{
		observer: &scriptObserver{snaps: snaps},
		executor: &fakeExecutor{},
		recorder: &fakeRecorder{},
		events:   &eventLog{},
	}
	r.machine = New(Deps{
		Observer:   r.observer,
		Reconciler: reconcile.New(0.5),
		Inferencer: infer.New(oracle, promotion),
		Oracle:     oracle,
		Selector:   rules.FirstLegalSelector{Oracle: oracle},
		Executor:   r.executor,
		Notifier:   r.events,
		Recorder:   r.recorder,
	}, opts, nil)
	return r
}

func apply(t *testing.T, st board.State, uci string) board.State {
	t.Helper()
	oracle := rules.NewChessOracle()
	moves, err := oracle.LegalMoves(st)
	if err != nil {
		t.Fatalf("LegalMoves failed: %v", err)
	}
	for _, m := range moves {
		if m.UCI() == uci {
			next, err := oracle.Apply(st, m)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			return next
		}
	}
	t.Fatalf("%s is not legal", uci)
	return board.State{}
}

// steps runs n transitions and fails on a context error.
func steps(t *testing.T, m *Machine, st *State, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := m.Step(context.Background(), st); err != nil && !errors.Is(err, ErrNeedsIntervention) {
			t.Fatalf("Step %d failed: %v", i, err)
		}
	}
}

func uncertainAt(st board.State, sq string) board.Snapshot {
	return board.SnapshotOf(st).With(board.MustSquare(sq), board.Observation{Occupancy: board.Empty, Confidence: 0.2})
}

func TestHumanMoveThenOwnMove(t *testing.T) {
	start := rules.Start()
	afterE4 := apply(t, start, "e2e4")

	r := newRig([]board.Snapshot{
		board.SnapshotOf(start),
		board.SnapshotOf(afterE4),
		board.SnapshotOf(afterE4),
	}, board.NoKind)
	st := NewState(start, board.Black)

	want := []Phase{AwaitingHumanMove, AwaitingHumanMove, Reconciling, InferredHumanMove, PlanningOwnMove, ExecutingOwnMove, AwaitingHumanMove}
	for i, phase := range want {
		if err := r.machine.Step(context.Background(), st); err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
		if st.Phase != phase {
			t.Fatalf("Step %d: expected %s, got %s", i, phase, st.Phase)
		}
	}

	if len(st.History) != 2 || st.History[0].UCI() != "e2e4" || st.History[1].UCI() != "a7a5" {
		t.Errorf("Expected history [e2e4 a7a5], got %v", moveNames(st.History))
	}
	if want := apply(t, afterE4, "a7a5").FEN(); st.Confirmed.FEN() != want {
		t.Errorf("Expected %s, got %s", want, st.Confirmed.FEN())
	}
	if len(r.executor.moves) != 1 || r.executor.moves[0] != "a7a5" {
		t.Errorf("Expected one executed move a7a5, got %v", r.executor.moves)
	}
	if len(r.recorder.moves) != 2 || r.recorder.moves[0] != "0:e2e4" || r.recorder.moves[1] != "1:a7a5" {
		t.Errorf("Expected two recorded moves, got %v", r.recorder.moves)
	}
	if boards := r.events.kinds(EventBoard); len(boards) != 3 {
		t.Errorf("Expected 3 board events, got %d", len(boards))
	}
}

func TestMoveInProgressIsNotAnError(t *testing.T) {
	start := rules.Start()
	lifted := board.SnapshotOf(start).With(board.MustSquare("e2"), board.Observation{Occupancy: board.Empty, Confidence: 1})

	r := newRig([]board.Snapshot{lifted}, board.NoKind)
	st := NewState(start, board.Black)
	steps(t, r.machine, st, 4)

	if st.Phase != AwaitingHumanMove {
		t.Errorf("Expected %s, got %s", AwaitingHumanMove, st.Phase)
	}
}

func TestCaptureWithUnknownColorIsInferred(t *testing.T) {
	before := board.MustParseFEN("r3k3/8/8/8/8/8/8/R3K3 w - - 0 1")
	captured := board.SnapshotOf(before).
		With(board.MustSquare("a1"), board.Observation{Occupancy: board.Empty, Confidence: 1}).
		With(board.MustSquare("a8"), board.Observation{Occupancy: board.OccupiedUnknown, Confidence: 1})

	r := newRig([]board.Snapshot{captured}, board.NoKind)
	st := NewState(before, board.Black)

	want := []Phase{AwaitingHumanMove, Reconciling, InferredHumanMove, PlanningOwnMove}
	for i, phase := range want {
		if err := r.machine.Step(context.Background(), st); err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
		if st.Phase != phase {
			t.Fatalf("Step %d: expected %s, got %s (%v)", i, phase, st.Phase, st.LastError)
		}
	}

	if len(st.History) != 1 || st.History[0].UCI() != "a1a8" {
		t.Errorf("Expected history [a1a8], got %v", moveNames(st.History))
	}
	if want := apply(t, before, "a1a8").FEN(); st.Confirmed.FEN() != want {
		t.Errorf("Expected %s, got %s", want, st.Confirmed.FEN())
	}
	if st.Lifted != 0 {
		t.Errorf("Expected no move-in-progress count, got %d", st.Lifted)
	}
}

func TestLiftedPieceReportsStall(t *testing.T) {
	start := rules.Start()
	lifted := board.SnapshotOf(start).With(board.MustSquare("e2"), board.Observation{Occupancy: board.Empty, Confidence: 1})

	opts := DefaultOptions()
	opts.StallNotice = 2
	r := newRigWith([]board.Snapshot{lifted, lifted, lifted, lifted, lifted}, board.NoKind, opts)
	st := NewState(start, board.Black)

	// idle, then five observations of the lifted pawn
	steps(t, r.machine, st, 6)
	if st.Phase != AwaitingHumanMove {
		t.Fatalf("Expected %s, got %s", AwaitingHumanMove, st.Phase)
	}
	if st.Lifted != 5 {
		t.Errorf("Expected 5 move-in-progress observations, got %d", st.Lifted)
	}

	stalls := r.events.kinds(EventStalled)
	if len(stalls) != 2 {
		t.Fatalf("Expected 2 stalled events, got %d", len(stalls))
	}
	if !strings.Contains(stalls[0].Error, "e2") {
		t.Errorf("Expected the stalled event to name e2, got %q", stalls[0].Error)
	}
	if errs := r.events.kinds(EventError); len(errs) != 0 {
		t.Errorf("Expected no error events, got %d", len(errs))
	}
}

func TestPutDownResetsLiftedCount(t *testing.T) {
	start := rules.Start()
	lifted := board.SnapshotOf(start).With(board.MustSquare("e2"), board.Observation{Occupancy: board.Empty, Confidence: 1})

	r := newRig([]board.Snapshot{lifted, lifted, board.SnapshotOf(apply(t, start, "e2e4"))}, board.NoKind)
	st := NewState(start, board.Black)
	steps(t, r.machine, st, 4)

	if st.Phase != Reconciling {
		t.Fatalf("Expected %s, got %s", Reconciling, st.Phase)
	}
	if st.Lifted != 0 {
		t.Errorf("Expected lifted count reset, got %d", st.Lifted)
	}
	if stalls := r.events.kinds(EventStalled); len(stalls) != 0 {
		t.Errorf("Expected no stalled events, got %d", len(stalls))
	}
}

func TestPreferredPromotionResolves(t *testing.T) {
	before := board.MustParseFEN("4k3/1P6/8/8/8/8/8/4K3 w - - 0 1")
	after := apply(t, before, "b7b8q")

	r := newRig([]board.Snapshot{board.SnapshotOf(after)}, board.Queen)
	st := NewState(before, board.Black)
	steps(t, r.machine, st, 4)

	if st.Phase != PlanningOwnMove {
		t.Fatalf("Expected %s, got %s (%v)", PlanningOwnMove, st.Phase, st.LastError)
	}
	if len(st.History) != 1 || st.History[0].UCI() != "b7b8q" {
		t.Errorf("Expected history [b7b8q], got %v", moveNames(st.History))
	}
}

func TestLowConfidenceStopsAfterResampleLimit(t *testing.T) {
	start := rules.Start()
	r := newRig([]board.Snapshot{uncertainAt(start, "d4")}, board.NoKind)
	st := NewState(start, board.Black)

	// idle, awaiting, then one reconciliation per re-sample
	steps(t, r.machine, st, 2+DefaultOptions().ResampleLimit)
	if st.Phase != Reconciling {
		t.Fatalf("Expected still %s, got %s", Reconciling, st.Phase)
	}

	steps(t, r.machine, st, 1)
	if st.Phase != Error {
		t.Fatalf("Expected %s, got %s", Error, st.Phase)
	}
	if !errors.Is(st.LastError, ErrLowConfidence) {
		t.Errorf("Expected low confidence error, got %v", st.LastError)
	}
	if st.Confirmed.FEN() != start.FEN() {
		t.Error("Confirmed state must not change")
	}
	if r.observer.calls != 1+DefaultOptions().ResampleLimit {
		t.Errorf("Expected %d observations, got %d", 1+DefaultOptions().ResampleLimit, r.observer.calls)
	}
	if errs := r.events.kinds(EventError); len(errs) != 1 {
		t.Errorf("Expected one error event, got %d", len(errs))
	}
}

func TestResampleRecovers(t *testing.T) {
	start := rules.Start()
	afterD4 := apply(t, start, "d2d4")

	r := newRig([]board.Snapshot{
		uncertainAt(afterD4, "d4"),
		uncertainAt(afterD4, "d4"),
		board.SnapshotOf(afterD4),
	}, board.NoKind)
	st := NewState(start, board.Black)

	// idle, awaiting, two re-samples, inference, apply
	steps(t, r.machine, st, 6)
	if st.Phase != PlanningOwnMove {
		t.Fatalf("Expected %s, got %s (%v)", PlanningOwnMove, st.Phase, st.LastError)
	}
	if st.Confirmed.FEN() != afterD4.FEN() {
		t.Errorf("Expected d2d4 applied, got %s", st.Confirmed.FEN())
	}
	if st.Resamples != 0 {
		t.Errorf("Expected resample counter reset, got %d", st.Resamples)
	}
}

func TestAmbiguousPromotionThenResolve(t *testing.T) {
	before := board.MustParseFEN("4k3/1P6/8/8/8/8/8/4K3 w - - 0 1")
	after := apply(t, before, "b7b8q")

	r := newRig([]board.Snapshot{board.SnapshotOf(after)}, board.NoKind)
	st := NewState(before, board.Black)
	steps(t, r.machine, st, 4)

	if st.Phase != Error || !errors.Is(st.LastError, ErrAmbiguousOrInvalid) {
		t.Fatalf("Expected error on ambiguity, got %s (%v)", st.Phase, st.LastError)
	}
	if len(st.Pending) != 4 {
		t.Fatalf("Expected 4 candidates, got %v", moveNames(st.Pending))
	}
	if amb := r.events.kinds(EventAmbiguous); len(amb) != 1 || len(amb[0].Candidates) != 4 {
		t.Errorf("Expected one ambiguous event with 4 candidates, got %v", amb)
	}
	if err := r.machine.Step(context.Background(), st); !errors.Is(err, ErrNeedsIntervention) {
		t.Errorf("Expected ErrNeedsIntervention, got %v", err)
	}

	if err := r.machine.Apply(st, Command{Kind: CmdResolve, Move: "e1e2"}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected a move outside the candidates to be rejected, got %v", err)
	}
	if err := r.machine.Apply(st, Command{Kind: CmdResolve, Move: "b7b8n"}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	steps(t, r.machine, st, 1)

	if want := apply(t, before, "b7b8n").FEN(); st.Confirmed.FEN() != want {
		t.Errorf("Expected %s, got %s", want, st.Confirmed.FEN())
	}
	if st.Phase != PlanningOwnMove {
		t.Errorf("Expected %s, got %s", PlanningOwnMove, st.Phase)
	}
}

func TestUnexplainedChangeNeedsIntervention(t *testing.T) {
	start := rules.Start()
	jumped := board.SnapshotOf(start).
		With(board.MustSquare("e2"), board.Observation{Occupancy: board.Empty, Confidence: 1}).
		With(board.MustSquare("e5"), board.Observation{Occupancy: board.OccupiedLight, Confidence: 1})

	r := newRig([]board.Snapshot{jumped}, board.NoKind)
	st := NewState(start, board.Black)
	steps(t, r.machine, st, 4)

	if st.Phase != Error || !errors.Is(st.LastError, ErrAmbiguousOrInvalid) {
		t.Fatalf("Expected error, got %s (%v)", st.Phase, st.LastError)
	}
	if st.Confirmed.FEN() != start.FEN() || len(st.History) != 0 {
		t.Error("Confirmed state must not change")
	}

	if err := r.machine.Apply(st, Command{Kind: CmdResume}); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if st.Phase != Idle || st.LastError != nil {
		t.Errorf("Expected idle without error, got %s (%v)", st.Phase, st.LastError)
	}
}

func TestBoardTamperedBeforeOwnMove(t *testing.T) {
	start := rules.Start()
	r := newRig([]board.Snapshot{board.SnapshotOf(apply(t, start, "e2e4"))}, board.NoKind)
	st := NewState(start, board.White)
	steps(t, r.machine, st, 3)

	if st.Phase != Error || !errors.Is(st.LastError, ErrAmbiguousOrInvalid) {
		t.Fatalf("Expected error, got %s (%v)", st.Phase, st.LastError)
	}
	if len(r.executor.moves) != 0 {
		t.Errorf("Expected no execution, got %v", r.executor.moves)
	}
}

func TestExecutionFaultNeedsIntervention(t *testing.T) {
	start := rules.Start()
	r := newRig([]board.Snapshot{board.SnapshotOf(start)}, board.NoKind)
	r.executor.err = fmt.Errorf("%w: %w", execute.ErrAborted, &motion.FaultError{Op: "move", Detail: "joint 3 out of range"})
	st := NewState(start, board.White)
	steps(t, r.machine, st, 3)

	if st.Phase != Error {
		t.Fatalf("Expected %s, got %s", Error, st.Phase)
	}
	if !errors.Is(st.LastError, motion.ErrHardwareFault) {
		t.Errorf("Expected hardware fault, got %v", st.LastError)
	}
	if st.Confirmed.FEN() != start.FEN() {
		t.Error("Confirmed state must not change after a failed execution")
	}
	if len(r.executor.moves) != 1 {
		t.Errorf("Expected exactly one execution attempt, got %d", len(r.executor.moves))
	}
}

func TestRunEndsOnCheckmate(t *testing.T) {
	// After 1.f3 e5 2.g4 black mates with Qh4.
	before := board.MustParseFEN("rnbqkbnr/pppp1ppp/8/4p3/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq - 0 2")
	r := newRig([]board.Snapshot{board.SnapshotOf(before)}, board.NoKind)
	r.machine.deps.Selector = fixedSelector("d8h4")
	st := NewState(before, board.Black)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.machine.Run(ctx, st); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if st.Phase != GameOver {
		t.Fatalf("Expected %s, got %s", GameOver, st.Phase)
	}
	if st.Result != "checkmate, black wins" {
		t.Errorf("Expected checkmate, got %q", st.Result)
	}
	if over := r.events.kinds(EventGameOver); len(over) != 1 {
		t.Errorf("Expected one game-over event, got %d", len(over))
	}
}

type fixedSelector string

func (s fixedSelector) Choose(ctx context.Context, st board.State) (board.Move, error) {
	moves, err := rules.NewChessOracle().LegalMoves(st)
	if err != nil {
		return board.Move{}, err
	}
	for _, m := range moves {
		if m.UCI() == string(s) {
			return m, nil
		}
	}
	return board.Move{}, fmt.Errorf("%s not legal", string(s))
}

func TestRunAbortCancelsStep(t *testing.T) {
	oracle := rules.NewChessOracle()
	errs := make(chan Event, 4)
	m := New(Deps{
		Observer:   blockingObserver{},
		Reconciler: reconcile.New(0),
		Inferencer: infer.New(oracle, board.Queen),
		Oracle:     oracle,
		Notifier: NotifierFunc(func(ev Event) {
			if ev.Kind == EventError {
				errs <- ev
			}
		}),
	}, DefaultOptions(), nil)
	st := NewState(rules.Start(), board.Black)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, st) }()

	if err := m.Submit(Command{Kind: CmdAbort}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the abort")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if st.Phase != Error || !errors.Is(st.LastError, ErrUserAbort) {
		t.Errorf("Expected user abort error, got %s (%v)", st.Phase, st.LastError)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{"resolve e7e8q", Command{Kind: CmdResolve, Move: "e7e8q"}, false},
		{"  RESUME ", Command{Kind: CmdResume}, false},
		{"abort", Command{Kind: CmdAbort}, false},
		{"resolve", Command{}, true},
		{"castle", Command{}, true},
		{"", Command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("Expected ErrInvalidCommand, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCommandsOutsideError(t *testing.T) {
	r := newRig([]board.Snapshot{board.SnapshotOf(rules.Start())}, board.NoKind)
	st := NewState(rules.Start(), board.Black)

	if err := r.machine.Apply(st, Command{Kind: CmdResume}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected resume to be rejected, got %v", err)
	}
	if err := r.machine.Apply(st, Command{Kind: CmdResolve, Move: "e2e4"}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected resolve to be rejected, got %v", err)
	}
}
