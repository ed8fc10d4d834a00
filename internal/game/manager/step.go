package manager

import (
	"fmt"

	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// StepKind names what a step does to the clone.
type StepKind int

const (
	StepForward StepKind = iota
	StepReverse
	StepRestore
	StepDelete
)

func (k StepKind) String() string {
	switch k {
	case StepForward:
		return "forward"
	case StepReverse:
		return "reverse"
	case StepRestore:
		return "restore"
	case StepDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Action is the kind-specific payload of a step. The set of implementations is closed.
type Action interface {
	Kind() StepKind
	isAction()
}

// Forward applies a flow. A nil Flow only pins the class level.
type Forward struct {
	Flow *advancement.Flow
}

// Reverse undoes a flow and keeps what it removed on the flow.
type Reverse struct {
	Flow *advancement.Flow
}

// Restore replays a flow from the data a previous Reverse retained.
type Restore struct {
	Flow *advancement.Flow
}

// DeleteItem removes an item from the clone.
type DeleteItem struct {
	ItemID string

	removed *character.Item
	index   int
}

// DeleteAdvancement removes an advancement definition from an item.
type DeleteAdvancement struct {
	ItemID        string
	AdvancementID string

	removed *character.Advancement
	index   int
}

func (*Forward) Kind() StepKind           { return StepForward }
func (*Reverse) Kind() StepKind           { return StepReverse }
func (*Restore) Kind() StepKind           { return StepRestore }
func (*DeleteItem) Kind() StepKind        { return StepDelete }
func (*DeleteAdvancement) Kind() StepKind { return StepDelete }

func (*Forward) isAction()           {}
func (*Reverse) isAction()           {}
func (*Restore) isAction()           {}
func (*DeleteItem) isAction()        {}
func (*DeleteAdvancement) isAction() {}

// ClassContext ties a step to a class level during a level change. CharacterLevel
// is the character level that corresponds to Level at planning time.
type ClassContext struct {
	ItemID         string
	Level          int
	CharacterLevel int
}

// Step is one planned unit of work. Only Automatic and the action (a restore may
// become a forward) change after planning.
type Step struct {
	Action    Action
	Class     *ClassContext
	Automatic bool
	Synthetic bool

	// interactive pins the step to user input after a rules violation or once a
	// restore turned out to have nothing retained.
	interactive bool
	// origin is the step whose execution spliced in this synthetic step.
	origin *Step
	// autoData is what an automatically applicable forward step applies.
	autoData advancement.Data
	// priorClassLevel records the class level replaced when the cursor landed here.
	priorClassLevel *int
	// skipped marks a reverse whose item an earlier step already removed.
	skipped bool
}

// Kind returns the action's kind.
func (s *Step) Kind() StepKind {
	return s.Action.Kind()
}

// Flow returns the flow the step runs, if any.
func (s *Step) Flow() *advancement.Flow {
	switch a := s.Action.(type) {
	case *Forward:
		return a.Flow
	case *Reverse:
		return a.Flow
	case *Restore:
		return a.Flow
	default:
		return nil
	}
}

// ItemID returns the item the step works on.
func (s *Step) ItemID() string {
	switch a := s.Action.(type) {
	case *DeleteItem:
		return a.ItemID
	case *DeleteAdvancement:
		return a.ItemID
	}
	if flow := s.Flow(); flow != nil {
		return flow.ItemID
	}
	if s.Class != nil {
		return s.Class.ItemID
	}
	return ""
}

// Level is the level the step's advancement is evaluated at, falling back to the class context.
func (s *Step) Level() int {
	if flow := s.Flow(); flow != nil {
		return flow.Level
	}
	if s.Class != nil {
		return s.Class.Level
	}
	return 0
}

// references reports whether the step would touch itemID.
func (s *Step) references(itemID string) bool {
	if flow := s.Flow(); flow != nil && flow.ItemID == itemID {
		return true
	}
	if a, ok := s.Action.(*DeleteItem); ok && a.ItemID == itemID {
		return true
	}
	return false
}

func (s *Step) String() string {
	if flow := s.Flow(); flow != nil {
		return fmt.Sprintf("%s %s", s.Kind(), flow)
	}
	return fmt.Sprintf("%s %s", s.Kind(), s.ItemID())
}

// StepView is a read-only description of a step for callers outside the package.
type StepView struct {
	Index         int    `json:"index"`
	Kind          string `json:"kind"`
	ItemID        string `json:"item_id,omitempty"`
	AdvancementID string `json:"advancement_id,omitempty"`
	Level         int    `json:"level,omitempty"`
	ClassID       string `json:"class_id,omitempty"`
	ClassLevel    int    `json:"class_level,omitempty"`
	Automatic     bool   `json:"automatic"`
	Synthetic     bool   `json:"synthetic,omitempty"`
}

func (s *Step) view(index int) StepView {
	v := StepView{
		Index:     index,
		Kind:      s.Kind().String(),
		ItemID:    s.ItemID(),
		Level:     s.Level(),
		Automatic: s.Automatic,
		Synthetic: s.Synthetic,
	}
	if flow := s.Flow(); flow != nil {
		v.AdvancementID = flow.AdvancementID
	}
	if a, ok := s.Action.(*DeleteAdvancement); ok {
		v.AdvancementID = a.AdvancementID
	}
	if s.Class != nil {
		v.ClassID = s.Class.ItemID
		v.ClassLevel = s.Class.Level
	}
	return v
}
