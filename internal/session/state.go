// Package session runs one game: it waits for the human move, infers it from
// the camera, plans and executes the rig's reply, and stops for a person
// whenever the board cannot be trusted.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/thyrook/chessrig/internal/board"
)

var (
	// ErrLowConfidence means squares stayed uncertain through every re-sample.
	ErrLowConfidence = errors.New("low confidence observation")
	// ErrAmbiguousOrInvalid means the observed change does not identify
	// exactly one legal move, or the board changed when it should not have.
	ErrAmbiguousOrInvalid = errors.New("ambiguous or invalid board change")
	// ErrNeedsIntervention is returned by Step while the session is in Error.
	ErrNeedsIntervention = errors.New("session needs intervention")
	// ErrUserAbort is recorded when an abort command stops the session.
	ErrUserAbort = errors.New("aborted by user")
)

// Phase is a game session phase. Only the state machine changes it.
type Phase int

const (
	Idle Phase = iota
	AwaitingHumanMove
	Reconciling
	InferredHumanMove
	AmbiguousOrInvalid
	PlanningOwnMove
	ExecutingOwnMove
	Error
	GameOver
)

var phaseNames = [...]string{
	Idle:               "idle",
	AwaitingHumanMove:  "awaiting-human-move",
	Reconciling:        "reconciling",
	InferredHumanMove:  "inferred-human-move",
	AmbiguousOrInvalid: "ambiguous-or-invalid",
	PlanningOwnMove:    "planning-own-move",
	ExecutingOwnMove:   "executing-own-move",
	Error:              "error",
	GameOver:           "game-over",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// State is the record of one game. It is owned by a single goroutine and
// passed by reference to every transition.
type State struct {
	ID         uuid.UUID
	Confirmed  board.State
	RobotColor board.Color
	Phase      Phase
	Started    time.Time

	// Resamples counts consecutive observations with uncertain squares.
	Resamples int
	// Lifted counts consecutive observations of a move in progress.
	Lifted    int
	LastError error
	// Pending holds the candidate moves awaiting application or, in Error,
	// awaiting a person's choice.
	Pending []board.Move
	History []board.Move
	Result  string

	snapshot board.Snapshot
	next     board.State
}

// NewState starts a game from confirmed with the rig playing robot.
func NewState(confirmed board.State, robot board.Color) *State {
	return &State{
		ID:         uuid.New(),
		Confirmed:  confirmed,
		RobotColor: robot,
		Phase:      Idle,
		Started:    time.Now(),
	}
}

// Ply returns the number of moves applied so far.
func (s *State) Ply() int { return len(s.History) }
