// Package character holds the in-memory document graph of a character and its
// embedded items. Entities reference each other by stable identifiers instead of
// pointers so a whole character can be snapshotted with Clone and compared with Diff.
package character

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrItemNotFound is returned when an item ID is not embedded in the character.
	ErrItemNotFound = errors.New("item not found")
	// ErrDuplicateItem is returned when adding an item whose ID is already embedded.
	ErrDuplicateItem = errors.New("item already embedded")
	// ErrAdvancementNotFound is returned when an advancement ID is not defined on an item.
	ErrAdvancementNotFound = errors.New("advancement not found")
	// ErrCharacterNotFound is returned by providers for unknown character IDs.
	ErrCharacterNotFound = errors.New("character not found")
)

// ItemType describes the role an embedded item plays in level progression.
type ItemType string

const (
	ItemTypeClass     ItemType = "class"
	ItemTypeSubclass  ItemType = "subclass"
	ItemTypeRace      ItemType = "race"
	ItemTypeFeat      ItemType = "feat"
	ItemTypeEquipment ItemType = "equipment"
	ItemTypeSpell     ItemType = "spell"
)

// ClassRestriction limits an advancement to the original class or to multiclasses.
type ClassRestriction string

const (
	RestrictionNone      ClassRestriction = ""
	RestrictionPrimary   ClassRestriction = "primary"
	RestrictionSecondary ClassRestriction = "secondary"
)

// Advancement is the stored definition and applied state of one advancement on an item.
// Value holds whatever the advancement type recorded while applying it, keyed by level.
type Advancement struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Title            string           `json:"title,omitempty"`
	Levels           []int            `json:"levels"`
	ClassRestriction ClassRestriction `json:"class_restriction,omitempty"`
	Configuration    map[string]any   `json:"configuration,omitempty"`
	Value            map[string]any   `json:"value,omitempty"`
}

// AppliesAt reports whether the advancement is active at level.
func (a *Advancement) AppliesAt(level int) bool {
	for _, l := range a.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// MinLevel returns the lowest level the advancement is active at, or 0 if it has none.
func (a *Advancement) MinLevel() int {
	min := 0
	for _, l := range a.Levels {
		if min == 0 || l < min {
			min = l
		}
	}
	return min
}

// Item is an embedded document on a character: a class, subclass, race, feat or any
// other item that may carry advancements.
type Item struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       ItemType `json:"type"`
	Identifier string   `json:"identifier,omitempty"`
	// ClassIdentifier links a subclass to the class it belongs to.
	ClassIdentifier string `json:"class_identifier,omitempty"`
	// Levels is only meaningful on class items.
	Levels int `json:"levels,omitempty"`
	// AdvancementRootID is the class item whose level governs this item's
	// advancements. Empty means the character level governs them.
	AdvancementRootID string         `json:"advancement_root_id,omitempty"`
	Advancements      []*Advancement `json:"advancements,omitempty"`
	System            map[string]any `json:"system,omitempty"`
	Sort              int            `json:"sort,omitempty"`
}

// Advancement returns the advancement with id.
func (i *Item) Advancement(id string) (*Advancement, bool) {
	for _, adv := range i.Advancements {
		if adv.ID == id {
			return adv, true
		}
	}
	return nil, false
}

// AdvancementsAt returns the advancements active at level in definition order.
func (i *Item) AdvancementsAt(level int) []*Advancement {
	var out []*Advancement
	for _, adv := range i.Advancements {
		if adv.AppliesAt(level) {
			out = append(out, adv)
		}
	}
	return out
}

// HasAdvancement reports whether any advancement is defined on the item.
func (i *Item) HasAdvancement() bool {
	return len(i.Advancements) > 0
}

// RemoveAdvancement detaches the advancement with id and returns it with its former position.
func (i *Item) RemoveAdvancement(id string) (*Advancement, int, error) {
	for idx, adv := range i.Advancements {
		if adv.ID == id {
			i.Advancements = append(i.Advancements[:idx], i.Advancements[idx+1:]...)
			return adv, idx, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: %s on item %s", ErrAdvancementNotFound, id, i.ID)
}

// InsertAdvancement places adv at position idx, clamped to the current bounds.
func (i *Item) InsertAdvancement(idx int, adv *Advancement) {
	if idx < 0 || idx > len(i.Advancements) {
		idx = len(i.Advancements)
	}
	i.Advancements = append(i.Advancements, nil)
	copy(i.Advancements[idx+1:], i.Advancements[idx:])
	i.Advancements[idx] = adv
}

// Character is the root document. Items are kept in creation order; that order is
// the tie-break whenever two items contribute steps at the same level.
type Character struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// OriginalClassID is the first class taken; primary/secondary restrictions key off it.
	OriginalClassID string         `json:"original_class_id,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`

	items []*Item
}

// New creates an empty character.
func New(id, name string) *Character {
	return &Character{
		ID:     id,
		Name:   name,
		Fields: make(map[string]any),
	}
}

// Items returns the embedded items in creation order. The slice is a copy; the items are not.
func (c *Character) Items() []*Item {
	out := make([]*Item, len(c.items))
	copy(out, c.items)
	return out
}

// ItemIDs returns the embedded item IDs in creation order.
func (c *Character) ItemIDs() []string {
	ids := make([]string, len(c.items))
	for idx, item := range c.items {
		ids[idx] = item.ID
	}
	return ids
}

// Item looks up an embedded item by ID.
func (c *Character) Item(id string) (*Item, bool) {
	idx := c.indexOf(id)
	if idx < 0 {
		return nil, false
	}
	return c.items[idx], true
}

// AddItem appends item to the character.
func (c *Character) AddItem(item *Item) error {
	return c.InsertItem(len(c.items), item)
}

// InsertItem places item at position idx, clamped to the current bounds.
func (c *Character) InsertItem(idx int, item *Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("item must have an ID")
	}
	if c.indexOf(item.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
	}
	if idx < 0 || idx > len(c.items) {
		idx = len(c.items)
	}
	c.items = append(c.items, nil)
	copy(c.items[idx+1:], c.items[idx:])
	c.items[idx] = item
	return nil
}

// ReplaceItem swaps the embedded item sharing item's ID, or appends item if absent.
func (c *Character) ReplaceItem(item *Item) {
	if idx := c.indexOf(item.ID); idx >= 0 {
		c.items[idx] = item
		return
	}
	c.items = append(c.items, item)
}

// RemoveItem detaches the item with id and returns it with its former position.
func (c *Character) RemoveItem(id string) (*Item, int, error) {
	idx := c.indexOf(id)
	if idx < 0 {
		return nil, -1, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	item := c.items[idx]
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	return item, idx, nil
}

// ItemsOfType returns the items of type t in creation order.
func (c *Character) ItemsOfType(t ItemType) []*Item {
	var out []*Item
	for _, item := range c.items {
		if item.Type == t {
			out = append(out, item)
		}
	}
	return out
}

// Level is the character level: the sum of all class levels.
func (c *Character) Level() int {
	total := 0
	for _, item := range c.items {
		if item.Type == ItemTypeClass {
			total += item.Levels
		}
	}
	return total
}

// Race returns the race item, if any.
func (c *Character) Race() *Item {
	for _, item := range c.items {
		if item.Type == ItemTypeRace {
			return item
		}
	}
	return nil
}

// Subclass returns the subclass attached to class, if any.
func (c *Character) Subclass(class *Item) *Item {
	if class == nil || class.Identifier == "" {
		return nil
	}
	for _, item := range c.items {
		if item.Type == ItemTypeSubclass && item.ClassIdentifier == class.Identifier {
			return item
		}
	}
	return nil
}

// ClassOf returns the class a subclass belongs to.
func (c *Character) ClassOf(subclass *Item) *Item {
	if subclass == nil || subclass.ClassIdentifier == "" {
		return nil
	}
	for _, item := range c.items {
		if item.Type == ItemTypeClass && item.Identifier == subclass.ClassIdentifier {
			return item
		}
	}
	return nil
}

// Identifiers returns the sorted identifiers of all embedded items.
func (c *Character) Identifiers() []string {
	out := make([]string, 0, len(c.items))
	for _, item := range c.items {
		if item.Identifier != "" {
			out = append(out, item.Identifier)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Character) indexOf(id string) int {
	for idx, item := range c.items {
		if item.ID == id {
			return idx
		}
	}
	return -1
}
