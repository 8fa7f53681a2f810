package session

import (
	"time"

	"github.com/thyrook/chessrig/internal/board"
)

// EventKind names what an Event reports.
type EventKind string

const (
	EventPhase      EventKind = "phase"
	EventBoard      EventKind = "board"
	EventAmbiguous  EventKind = "ambiguous"
	EventError      EventKind = "error"
	EventManualSwap EventKind = "manual-swap"
	EventGameOver   EventKind = "game-over"
	EventStalled    EventKind = "stalled"
)

// Event is sent to the presentation layer.
type Event struct {
	Kind       EventKind `json:"kind"`
	Session    string    `json:"session"`
	Phase      string    `json:"phase"`
	From       string    `json:"from,omitempty"`
	FEN        string    `json:"fen,omitempty"`
	Move       string    `json:"move,omitempty"`
	Candidates []string  `json:"candidates,omitempty"`
	Error      string    `json:"error,omitempty"`
	Result     string    `json:"result,omitempty"`
	Time       time.Time `json:"time"`
}

// Notifier receives session events. Notify must not block for long; it is
// called from the session goroutine.
type Notifier interface {
	Notify(ev Event)
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		n.Notify(ev)
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Recorder stores the snapshot that confirmed a move.
type Recorder interface {
	Record(session string, ply int, move board.Move, snap board.Snapshot) error
}

func moveNames(ms []board.Move) []string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.UCI()
	}
	return names
}
