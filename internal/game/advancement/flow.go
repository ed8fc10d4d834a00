package advancement

import (
	"fmt"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// Flow resolves one advancement on one item at one level. It addresses the item and
// advancement by ID and is resolved against whichever character it runs on, so the
// same flow works before and after the character is cloned.
type Flow struct {
	ItemID        string
	AdvancementID string
	Level         int
	// Retained is set by a reverse and consumed by a later restore.
	Retained *Retained
}

// NewFlow creates a flow for advancementID on item at level.
func NewFlow(item *character.Item, advancementID string, level int) *Flow {
	return &Flow{
		ItemID:        item.ID,
		AdvancementID: advancementID,
		Level:         level,
	}
}

// Resolve binds the flow to c and looks up the advancement type.
func (f *Flow) Resolve(reg *Registry, c *character.Character) (Type, Target, error) {
	item, ok := c.Item(f.ItemID)
	if !ok {
		return nil, Target{}, fmt.Errorf("%w: %s", character.ErrItemNotFound, f.ItemID)
	}
	adv, ok := item.Advancement(f.AdvancementID)
	if !ok {
		return nil, Target{}, fmt.Errorf("%w: %s on item %s", character.ErrAdvancementNotFound, f.AdvancementID, f.ItemID)
	}
	typ, err := reg.Lookup(adv.Type)
	if err != nil {
		return nil, Target{}, err
	}
	return typ, Target{Character: c, Item: item, Advancement: adv}, nil
}

// AutomaticApplicable returns the data to apply without user input, or false if the
// flow needs the user.
func (f *Flow) AutomaticApplicable(reg *Registry, c *character.Character) (Data, bool, error) {
	typ, target, err := f.Resolve(reg, c)
	if err != nil {
		return nil, false, err
	}
	data, ok := typ.AutomaticValue(target, f.Level)
	return data, ok, nil
}

// Prompt describes the input the flow collects.
func (f *Flow) Prompt(reg *Registry, c *character.Character) (Prompt, error) {
	typ, target, err := f.Resolve(reg, c)
	if err != nil {
		return Prompt{}, err
	}
	return typ.Prompt(target, f.Level), nil
}

// Matches reports whether other resolves the same advancement at the same level.
func (f *Flow) Matches(other *Flow) bool {
	return other != nil && f.AdvancementID == other.AdvancementID && f.Level == other.Level
}

// String identifies the flow in logs.
func (f *Flow) String() string {
	return fmt.Sprintf("%s/%s@%d", f.ItemID, f.AdvancementID, f.Level)
}
