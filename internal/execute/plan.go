package execute

import (
	"fmt"
	"strings"

	"github.com/thyrook/chessrig/internal/board"
	"github.com/thyrook/chessrig/internal/motion"
)

// StepKind is a primitive driver command.
type StepKind int

const (
	StepMove StepKind = iota
	StepGrip
	StepRelease
)

func (k StepKind) String() string {
	switch k {
	case StepGrip:
		return "grip"
	case StepRelease:
		return "release"
	}
	return "move"
}

// Step is one primitive action together with the orchestrator state it
// belongs to.
type Step struct {
	Kind  StepKind
	Pose  motion.Pose
	Phase State
	Note  string
}

func (s Step) String() string {
	if s.Kind == StepMove {
		return fmt.Sprintf("%s %s (%s)", s.Phase, s.Note, s.Pose)
	}
	return fmt.Sprintf("%s %s", s.Phase, s.Kind)
}

// Plan is the ordered primitive sequence realising one move or correction.
type Plan struct {
	Move  board.Move
	Steps []Step
	// ManualSwap is set for promotions: the pawn is placed on the promotion
	// square and a person swaps in the promoted piece.
	ManualSwap bool
}

func (p Plan) String() string {
	lines := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

// Relocation moves whatever stands on From to To. Target poses are used as
// is, so they may lie off the board.
type Relocation struct {
	From motion.Pose
	To   motion.Pose
	Note string
}

// Planner builds plans from rig geometry. It hands out holding-area slots in
// order.
type Planner struct {
	geo      motion.Geometry
	nextSlot int
}

// NewPlanner creates a planner.
func NewPlanner(geo motion.Geometry) *Planner {
	return &Planner{geo: geo}
}

// Geometry returns the rig geometry.
func (p *Planner) Geometry() motion.Geometry { return p.geo }

// HoldingSlot reserves the next holding-area slot.
func (p *Planner) HoldingSlot() motion.Pose {
	pose := p.geo.Slot(p.nextSlot)
	p.nextSlot++
	return pose
}

// PlanMove plans m starting from the arm pose current. Captured pieces go to
// the holding area before the capturing piece moves; castling moves the king
// and then the rook.
func (p *Planner) PlanMove(m board.Move, current motion.Pose) Plan {
	g := p.geo
	var rel []Relocation

	switch {
	case m.Has(board.FlagCapture):
		victim := m.CaptureSquare()
		rel = append(rel, Relocation{From: g.Square(victim), To: p.HoldingSlot(), Note: "capture " + victim.String()})
		rel = append(rel, Relocation{From: g.Square(m.From), To: g.Square(m.To), Note: m.UCI()})
	case m.IsCastle():
		rookFrom, rookTo := m.RookSquares()
		rel = append(rel, Relocation{From: g.Square(m.From), To: g.Square(m.To), Note: "king " + m.UCI()})
		rel = append(rel, Relocation{From: g.Square(rookFrom), To: g.Square(rookTo), Note: "rook " + rookFrom.String() + rookTo.String()})
	default:
		rel = append(rel, Relocation{From: g.Square(m.From), To: g.Square(m.To), Note: m.UCI()})
	}

	plan := p.PlanRelocations(rel, current)
	plan.Move = m
	plan.ManualSwap = m.Has(board.FlagPromotion)
	return plan
}

// PlanRelocations plans a sequence of pick-and-place transfers followed by the
// rest pose. An arm below travel height is lifted first.
func (p *Planner) PlanRelocations(rel []Relocation, current motion.Pose) Plan {
	g := p.geo
	var steps []Step

	travelZ := g.A1.Z + g.Lift
	if current.Z < travelZ-1e-6 {
		lifted := current
		lifted.Z = travelZ
		steps = append(steps, Step{Kind: StepMove, Pose: lifted, Phase: Planning, Note: "lift"})
	}

	for _, r := range rel {
		steps = append(steps,
			Step{Kind: StepRelease, Phase: MovingToSource, Note: r.Note},
			Step{Kind: StepMove, Pose: g.Above(r.From), Phase: MovingToSource, Note: "above source"},
			Step{Kind: StepMove, Pose: r.From, Phase: MovingToSource, Note: "source"},
			Step{Kind: StepGrip, Phase: Gripping, Note: r.Note},
			Step{Kind: StepMove, Pose: g.Above(r.From), Phase: MovingToDestination, Note: "lift"},
			Step{Kind: StepMove, Pose: g.Above(r.To), Phase: MovingToDestination, Note: "above destination"},
			Step{Kind: StepMove, Pose: r.To, Phase: MovingToDestination, Note: "destination"},
			Step{Kind: StepRelease, Phase: Releasing, Note: r.Note},
			Step{Kind: StepMove, Pose: g.Above(r.To), Phase: Retreating, Note: "clear"},
		)
	}

	steps = append(steps, Step{Kind: StepMove, Pose: g.Rest, Phase: Retreating, Note: "rest"})
	return Plan{Steps: steps}
}
