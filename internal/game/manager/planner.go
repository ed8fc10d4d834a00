package manager

import (
	"sort"

	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// DefaultMaxLevel is the highest character or class level planned.
const DefaultMaxLevel = 20

// Planner builds step lists for character state transitions. Planning only reads
// the character, except NewAdvancement which grafts the new definitions onto the item.
type Planner struct {
	registry *advancement.Registry
	maxLevel int
}

// NewPlanner creates a planner. A non-positive maxLevel means DefaultMaxLevel.
func NewPlanner(registry *advancement.Registry, maxLevel int) *Planner {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	return &Planner{registry: registry, maxLevel: maxLevel}
}

// MaxLevel returns the level cap.
func (p *Planner) MaxLevel() int {
	return p.maxLevel
}

// FlowsForLevel returns a flow for every advancement on item active at level,
// ordered by the advancement types' sort keys. Advancements restricted to another
// class, and levels above the cap, produce nothing.
func (p *Planner) FlowsForLevel(c *character.Character, item *character.Item, level int) []*advancement.Flow {
	if item == nil || level < 1 || level > p.maxLevel {
		return nil
	}

	type keyed struct {
		key string
		adv *character.Advancement
	}
	var advs []keyed
	for _, adv := range item.AdvancementsAt(level) {
		if !advancement.AppliesToClass(c, item, adv) {
			continue
		}
		key := "9999 " + adv.Title
		if typ, err := p.registry.Lookup(adv.Type); err == nil {
			key = advancement.SortKey(typ, adv)
		}
		advs = append(advs, keyed{key: key, adv: adv})
	}
	sort.SliceStable(advs, func(i, j int) bool { return advs[i].key < advs[j].key })

	flows := make([]*advancement.Flow, 0, len(advs))
	for _, k := range advs {
		flows = append(flows, advancement.NewFlow(item, k.adv.ID, level))
	}
	return flows
}

// CurrentLevel is the level that governs item: its own levels for a class, the
// class's levels for a subclass or class-linked item, the character level otherwise.
func (p *Planner) CurrentLevel(c *character.Character, item *character.Item) int {
	switch item.Type {
	case character.ItemTypeClass:
		return item.Levels
	case character.ItemTypeSubclass:
		if class := c.ClassOf(item); class != nil {
			return class.Levels
		}
		return 0
	}
	if item.AdvancementRootID != "" {
		if class, ok := c.Item(item.AdvancementRootID); ok {
			return class.Levels
		}
		return 0
	}
	return c.Level()
}

// flowsInRange returns the flows for levels from..to in ascending level order.
func (p *Planner) flowsInRange(c *character.Character, item *character.Item, from, to int) []*advancement.Flow {
	if from < 1 {
		from = 1
	}
	var flows []*advancement.Flow
	for level := from; level <= to; level++ {
		flows = append(flows, p.FlowsForLevel(c, item, level)...)
	}
	return flows
}

// LevelChange plans changing class's level by delta. Increases walk levels upward
// through race, class, subclass and then every other item; decreases walk downward
// in the mirror order, deleting the class when its level reaches zero. A final
// automatic step pins the class level to the target. The delta is clamped so
// neither the class nor the character leaves 0..max level.
func (p *Planner) LevelChange(c *character.Character, class *character.Item, delta int) []*Step {
	classLevel := class.Levels
	characterLevel := c.Level()

	if delta > 0 {
		delta = min(delta, p.maxLevel-classLevel, p.maxLevel-characterLevel)
	} else if delta < 0 {
		delta = max(delta, -classLevel)
	}
	if delta == 0 {
		return nil
	}

	race := c.Race()
	subclass := c.Subclass(class)
	var steps []*Step

	forward := func(flows []*advancement.Flow, ctx *ClassContext) {
		for _, flow := range flows {
			steps = append(steps, &Step{Action: &Forward{Flow: flow}, Class: ctx})
		}
	}
	reverse := func(flows []*advancement.Flow, ctx *ClassContext) {
		for idx := len(flows) - 1; idx >= 0; idx-- {
			steps = append(steps, &Step{Action: &Reverse{Flow: flows[idx]}, Class: ctx, Automatic: true})
		}
	}

	for offset := 1; offset <= delta; offset++ {
		ctx := &ClassContext{ItemID: class.ID, Level: classLevel + offset, CharacterLevel: characterLevel + offset}
		forward(p.FlowsForLevel(c, race, ctx.CharacterLevel), ctx)
		forward(p.FlowsForLevel(c, class, ctx.Level), ctx)
		forward(p.FlowsForLevel(c, subclass, ctx.Level), ctx)
		forward(p.linkedFlows(c, class, ctx), ctx)
	}

	for offset := 0; offset > delta; offset-- {
		ctx := &ClassContext{ItemID: class.ID, Level: classLevel + offset, CharacterLevel: characterLevel + offset}
		reverse(p.linkedFlows(c, class, ctx), ctx)
		reverse(p.FlowsForLevel(c, subclass, ctx.Level), ctx)
		reverse(p.FlowsForLevel(c, class, ctx.Level), ctx)
		reverse(p.FlowsForLevel(c, race, ctx.CharacterLevel), ctx)
		if ctx.Level == 1 {
			steps = append(steps, &Step{Action: &DeleteItem{ItemID: class.ID}, Automatic: true})
		}
	}

	if target := classLevel + delta; target > 0 {
		steps = append(steps, &Step{
			Action:    &Forward{},
			Class:     &ClassContext{ItemID: class.ID, Level: target, CharacterLevel: characterLevel + delta},
			Automatic: true,
		})
	}
	return steps
}

// linkedFlows returns the flows of every item that is neither a class, subclass nor
// race: items linked to class advance at the class level, items governed by the
// character level advance at the character level, items linked to another class
// are skipped. Items are visited in creation order.
func (p *Planner) linkedFlows(c *character.Character, class *character.Item, ctx *ClassContext) []*advancement.Flow {
	var flows []*advancement.Flow
	for _, item := range c.Items() {
		switch item.Type {
		case character.ItemTypeClass, character.ItemTypeSubclass, character.ItemTypeRace:
			continue
		}
		switch item.AdvancementRootID {
		case class.ID:
			flows = append(flows, p.FlowsForLevel(c, item, ctx.Level)...)
		case "":
			flows = append(flows, p.FlowsForLevel(c, item, ctx.CharacterLevel)...)
		}
	}
	return flows
}

// NewItem plans applying a freshly added non-class item from level 1 up to the level that governs it.
func (p *Planner) NewItem(c *character.Character, item *character.Item) []*Step {
	var steps []*Step
	for _, flow := range p.flowsInRange(c, item, 1, p.CurrentLevel(c, item)) {
		steps = append(steps, &Step{Action: &Forward{Flow: flow}})
	}
	return steps
}

// DeletedItem plans removing a non-class item: every applied level reversed from the
// top, then the item deleted. An item without applicable advancement plans nothing.
func (p *Planner) DeletedItem(c *character.Character, item *character.Item) []*Step {
	flows := p.flowsInRange(c, item, 1, p.CurrentLevel(c, item))
	if len(flows) == 0 {
		return nil
	}
	steps := make([]*Step, 0, len(flows)+1)
	for idx := len(flows) - 1; idx >= 0; idx-- {
		steps = append(steps, &Step{Action: &Reverse{Flow: flows[idx]}, Automatic: true})
	}
	return append(steps, &Step{Action: &DeleteItem{ItemID: item.ID}, Automatic: true})
}

// DeletedAdvancement plans removing one advancement from item: its applied levels
// reversed from the top, then the definition deleted.
func (p *Planner) DeletedAdvancement(c *character.Character, item *character.Item, adv *character.Advancement) []*Step {
	current := min(p.CurrentLevel(c, item), p.maxLevel)
	levels := make([]int, 0, len(adv.Levels))
	for _, level := range adv.Levels {
		if level >= 1 && level <= current {
			levels = append(levels, level)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	var steps []*Step
	if advancement.AppliesToClass(c, item, adv) {
		for _, level := range levels {
			steps = append(steps, &Step{Action: &Reverse{Flow: advancement.NewFlow(item, adv.ID, level)}, Automatic: true})
		}
	}
	return append(steps, &Step{Action: &DeleteAdvancement{ItemID: item.ID, AdvancementID: adv.ID}, Automatic: true})
}

// NewAdvancement plans grafting advs onto an item that is already applied. Everything
// from the lowest new level up is reversed, the definitions are added to item, and
// the range is replanned: advancements that were there before are restored from what
// the reverse retained, new ones are applied interactively. Nothing is planned or
// grafted when the new advancements only start above the item's current level.
func (p *Planner) NewAdvancement(c *character.Character, item *character.Item, advs []*character.Advancement) []*Step {
	if len(advs) == 0 {
		return nil
	}
	current := p.CurrentLevel(c, item)
	lowest := 0
	for _, adv := range advs {
		if l := adv.MinLevel(); l > 0 && (lowest == 0 || l < lowest) {
			lowest = l
		}
	}
	if lowest == 0 || lowest > current {
		return nil
	}

	oldFlows := p.flowsInRange(c, item, lowest, current)
	steps := make([]*Step, 0, 2*len(oldFlows)+len(advs))
	for idx := len(oldFlows) - 1; idx >= 0; idx-- {
		steps = append(steps, &Step{Action: &Reverse{Flow: oldFlows[idx]}, Automatic: true})
	}

	for _, adv := range advs {
		grafted := adv.Clone()
		grafted.Value = nil
		item.Advancements = append(item.Advancements, grafted)
	}

	for _, flow := range p.flowsInRange(c, item, lowest, current) {
		if old := matchingFlow(oldFlows, flow); old != nil {
			steps = append(steps, &Step{Action: &Restore{Flow: old}, Automatic: true})
			continue
		}
		steps = append(steps, &Step{Action: &Forward{Flow: flow}})
	}
	return steps
}

// ModifyChoices plans revisiting the choices made at level: everything from level up
// is reversed, level itself is applied again interactively and the levels above are
// restored from what the reverse retained.
func (p *Planner) ModifyChoices(c *character.Character, item *character.Item, level int) []*Step {
	current := p.CurrentLevel(c, item)
	if level < 1 || level > current {
		return nil
	}

	flows := p.flowsInRange(c, item, level, current)
	steps := make([]*Step, 0, 2*len(flows))
	for idx := len(flows) - 1; idx >= 0; idx-- {
		steps = append(steps, &Step{Action: &Reverse{Flow: flows[idx]}, Automatic: true})
	}
	for _, flow := range flows {
		if flow.Level == level {
			steps = append(steps, &Step{Action: &Forward{Flow: flow}})
		}
	}
	for _, flow := range flows {
		if flow.Level > level {
			steps = append(steps, &Step{Action: &Restore{Flow: flow}, Automatic: true})
		}
	}
	return steps
}

func matchingFlow(flows []*advancement.Flow, flow *advancement.Flow) *advancement.Flow {
	for _, f := range flows {
		if f.Matches(flow) {
			return f
		}
	}
	return nil
}
