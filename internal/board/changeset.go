package board

import (
	"sort"
	"strings"
)

// ChangeKind tags one square of a change set.
type ChangeKind uint8

const (
	BecameEmpty ChangeKind = iota + 1
	BecameOccupied
	// Ambiguous marks a newly occupied square whose piece color is unknown.
	Ambiguous
)

func (k ChangeKind) String() string {
	switch k {
	case BecameEmpty:
		return "became-empty"
	case BecameOccupied:
		return "became-occupied"
	case Ambiguous:
		return "ambiguous"
	}
	return "invalid"
}

// Change is the physical change observed on one square. Color is set for
// BecameOccupied only.
type Change struct {
	Square Square
	Kind   ChangeKind
	Color  Color
}

func (c Change) String() string {
	s := c.Square.String() + " " + c.Kind.String()
	if c.Kind == BecameOccupied {
		s += "(" + c.Color.String() + ")"
	}
	return s
}

// ChangeSet is the set of squares whose occupancy differs from a confirmed
// state. It is never mutated after construction.
//
// Masked squares were seen occupied with an unknown color on a square that the
// confirmed state also has occupied: a capture there cannot be ruled out.
type ChangeSet struct {
	changes map[Square]Change
	masked  map[Square]bool
}

// NewChangeSet builds a change set. Later entries for the same square win.
func NewChangeSet(changes []Change, masked []Square) ChangeSet {
	cs := ChangeSet{
		changes: make(map[Square]Change, len(changes)),
		masked:  make(map[Square]bool, len(masked)),
	}
	for _, c := range changes {
		cs.changes[c.Square] = c
	}
	for _, sq := range masked {
		cs.masked[sq] = true
	}
	return cs
}

// Diff returns the change set a noiseless observation would show when the
// board goes from before to after.
func Diff(before, after State) ChangeSet {
	var changes []Change
	for i := 0; i < NumSquares; i++ {
		sq := Square(i)
		if c, ok := occupancyChange(before.At(sq), after.At(sq).Occupancy(), sq); ok {
			changes = append(changes, c)
		}
	}
	return NewChangeSet(changes, nil)
}

// occupancyChange compares what the confirmed piece implies against an
// observed occupancy. OccupiedUnknown on an occupied square is not a change.
func occupancyChange(confirmed Piece, observed Occupancy, sq Square) (Change, bool) {
	expected := confirmed.Occupancy()
	switch {
	case expected == observed:
		return Change{}, false
	case observed == Empty:
		return Change{Square: sq, Kind: BecameEmpty}, true
	case observed == OccupiedUnknown:
		if expected == Empty {
			return Change{Square: sq, Kind: Ambiguous}, true
		}
		return Change{}, false
	default:
		return Change{Square: sq, Kind: BecameOccupied, Color: observed.Color()}, true
	}
}

// Compare classifies one observed square against the confirmed piece. It
// returns the change (if any) and whether the square must be masked.
func Compare(confirmed Piece, observed Occupancy, sq Square) (Change, bool, bool) {
	c, changed := occupancyChange(confirmed, observed, sq)
	masked := !changed && observed == OccupiedUnknown && !confirmed.IsZero()
	return c, changed, masked
}

// Len returns the number of changed squares.
func (cs ChangeSet) Len() int { return len(cs.changes) }

// IsEmpty reports whether nothing changed.
func (cs ChangeSet) IsEmpty() bool { return len(cs.changes) == 0 }

// Get returns the change recorded for sq.
func (cs ChangeSet) Get(sq Square) (Change, bool) {
	c, ok := cs.changes[sq]
	return c, ok
}

// Masked reports whether sq is masked.
func (cs ChangeSet) Masked(sq Square) bool { return cs.masked[sq] }

// Changes returns the changes in square order.
func (cs ChangeSet) Changes() []Change {
	out := make([]Change, 0, len(cs.changes))
	for _, c := range cs.changes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Square < out[j].Square })
	return out
}

// Squares returns the changed squares in order.
func (cs ChangeSet) Squares() []Square {
	out := make([]Square, 0, len(cs.changes))
	for _, c := range cs.Changes() {
		out = append(out, c.Square)
	}
	return out
}

// OnlyVacated reports whether every change is BecameEmpty, i.e. pieces were
// lifted and nothing has been put down yet.
func (cs ChangeSet) OnlyVacated() bool {
	if cs.IsEmpty() {
		return false
	}
	for _, c := range cs.changes {
		if c.Kind != BecameEmpty {
			return false
		}
	}
	return true
}

// Equal reports exact equality of the changed squares and their tags.
func (cs ChangeSet) Equal(other ChangeSet) bool {
	if len(cs.changes) != len(other.changes) {
		return false
	}
	for sq, c := range cs.changes {
		if o, ok := other.changes[sq]; !ok || o != c {
			return false
		}
	}
	return true
}

// Consistent reports whether this observed change set could have been produced
// by the expected (noiseless) one. Ambiguous observations match any newly
// occupied square, and a masked square may hide an expected color swap.
func (cs ChangeSet) Consistent(expected ChangeSet) bool {
	for sq, o := range cs.changes {
		e, ok := expected.changes[sq]
		if !ok {
			return false
		}
		switch o.Kind {
		case Ambiguous:
			if e.Kind != BecameOccupied {
				return false
			}
		default:
			if o != e {
				return false
			}
		}
	}
	for sq, e := range expected.changes {
		if _, ok := cs.changes[sq]; ok {
			continue
		}
		if !(cs.masked[sq] && e.Kind == BecameOccupied) {
			return false
		}
	}
	return true
}

func (cs ChangeSet) String() string {
	parts := make([]string, 0, len(cs.changes))
	for _, c := range cs.Changes() {
		parts = append(parts, c.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
