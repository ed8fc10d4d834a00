package manager

import (
	"slices"

	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// synthesize splices steps for items the step at index added to or removed from the
// clone as a side effect. pre is the clone's item list before the step ran. Items
// some planned step already handles are left alone.
func (s *Session) synthesize(index int, pre []*character.Item) error {
	before := make(map[string]bool, len(pre))
	for _, item := range pre {
		before[item.ID] = true
	}
	after := make(map[string]bool)
	for _, id := range s.clone.ItemIDs() {
		after[id] = true
	}
	step := s.steps[index]

	for _, item := range s.clone.Items() {
		if before[item.ID] || s.tracked(item.ID) || step.references(item.ID) {
			continue
		}
		s.synthesizeAdded(index, item)
	}

	for position, item := range pre {
		if after[item.ID] || s.tracked(item.ID) || step.references(item.ID) {
			continue
		}
		if err := s.synthesizeDeleted(index, item, position); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeAdded plans item's advancement level by level: levels up to the step
// that added it right after that step, higher levels after the last step reaching
// them, and anything beyond the session's steps at the end.
func (s *Session) synthesizeAdded(index int, item *character.Item) {
	if !item.HasAdvancement() || s.referencedAfter(index, item.ID) {
		return
	}

	origin := s.steps[index]
	handled := 0
	at := index + 1
	if level := s.levelFor(origin, item); level > 0 {
		at += s.insertForward(at, origin, item, handled, level)
		handled = level
	}

	for idx := at; idx < len(s.steps); idx++ {
		this := s.levelFor(s.steps[idx], item)
		next := 0
		if idx+1 < len(s.steps) {
			next = s.levelFor(s.steps[idx+1], item)
		}
		if this <= handled || this == next {
			continue
		}
		idx += s.insertForward(idx+1, origin, item, handled, this)
		handled = this
	}

	if final := s.planner.CurrentLevel(s.clone, item); handled < final {
		s.insertForward(len(s.steps), origin, item, handled, final)
	}
}

// synthesizeDeleted puts a removed item back and plans reversing all of its
// advancement followed by deleting it again. When an earlier pass already planned
// that, the item is only put back so those steps find it.
func (s *Session) synthesizeDeleted(index int, removed *character.Item, position int) error {
	if !removed.HasAdvancement() {
		return nil
	}
	restored := removed.Clone()
	if err := s.clone.InsertItem(position, restored); err != nil {
		return err
	}
	if s.referencedAfter(index, restored.ID) {
		return nil
	}

	origin := s.steps[index]
	top := s.planner.CurrentLevel(s.clone, restored)
	for _, step := range s.steps {
		top = max(top, step.Level())
	}
	top = min(top, s.planner.MaxLevel())

	var steps []*Step
	for level := top; level >= 1; level-- {
		flows := s.planner.FlowsForLevel(s.clone, restored, level)
		for idx := len(flows) - 1; idx >= 0; idx-- {
			steps = append(steps, &Step{Action: &Reverse{Flow: flows[idx]}, Automatic: true, Synthetic: true, origin: origin})
		}
	}
	if len(steps) == 0 {
		_, _, err := s.clone.RemoveItem(restored.ID)
		return err
	}
	steps = append(steps, &Step{Action: &DeleteItem{ItemID: restored.ID}, Automatic: true, Synthetic: true, origin: origin})
	s.steps = slices.Insert(s.steps, index+1, steps...)
	return nil
}

// clearSynthetic drops synthetic steps after index that the step at index spliced
// in, or that belong to items undoing it added or removed. A removed item is put
// back when its steps are planned, so its item set alone does not show the change.
func (s *Session) clearSynthetic(index int, pre []*character.Item) {
	before := make(map[string]bool, len(pre))
	for _, item := range pre {
		before[item.ID] = true
	}
	after := make(map[string]bool)
	for _, id := range s.clone.ItemIDs() {
		after[id] = true
	}

	changed := make(map[string]bool)
	for id := range before {
		if !after[id] {
			changed[id] = true
		}
	}
	for id := range after {
		if !before[id] {
			changed[id] = true
		}
	}
	undone := s.steps[index]
	kept := make([]*Step, 0, len(s.steps))
	kept = append(kept, s.steps[:index+1]...)
	for _, step := range s.steps[index+1:] {
		if step.Synthetic && (step.origin == undone || changed[step.ItemID()]) {
			continue
		}
		kept = append(kept, step)
	}
	s.steps = kept
}

// insertForward splices synthetic forward steps for item's levels after+1..upTo at
// position at, skipping flows already planned. It returns how many were inserted.
func (s *Session) insertForward(at int, origin *Step, item *character.Item, after, upTo int) int {
	var steps []*Step
	for level := after + 1; level <= upTo; level++ {
		for _, flow := range s.planner.FlowsForLevel(s.clone, item, level) {
			if s.planned(flow) {
				continue
			}
			steps = append(steps, &Step{Action: &Forward{Flow: flow}, Synthetic: true, origin: origin})
		}
	}
	if len(steps) > 0 {
		s.steps = slices.Insert(s.steps, at, steps...)
	}
	return len(steps)
}

// levelFor is the level item reaches once step has run. Level-change steps speak for
// the class they change; items governed by another class stay at that class's level.
func (s *Session) levelFor(step *Step, item *character.Item) int {
	if step.Class != nil {
		class := advancement.GoverningClass(s.clone, item)
		switch {
		case class == nil:
			return step.Class.CharacterLevel
		case class.ID == step.Class.ItemID:
			return step.Class.Level
		default:
			return s.planner.CurrentLevel(s.clone, item)
		}
	}
	if flow := step.Flow(); flow != nil {
		return flow.Level
	}
	return 0
}

// tracked reports whether a planned, non-synthetic step handles itemID.
func (s *Session) tracked(itemID string) bool {
	for _, step := range s.steps {
		if !step.Synthetic && step.references(itemID) {
			return true
		}
	}
	return false
}

func (s *Session) referencedAfter(index int, itemID string) bool {
	for _, step := range s.steps[index+1:] {
		if step.references(itemID) {
			return true
		}
	}
	return false
}

// planned reports whether some step already applies flow's advancement at its level.
func (s *Session) planned(flow *advancement.Flow) bool {
	for _, step := range s.steps {
		switch step.Kind() {
		case StepForward, StepRestore:
		default:
			continue
		}
		if f := step.Flow(); f != nil && f.ItemID == flow.ItemID && f.Matches(flow) {
			return true
		}
	}
	return false
}
