// Package advancement defines the contract advancement types implement and the
// built-in types. Types are stateless: everything they record lives in the
// character.Advancement's Value, so a cloned character carries its own state.
package advancement

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// ErrUnknownType is returned when an advancement names a type that is not registered.
var ErrUnknownType = errors.New("unknown advancement type")

// Data is the submission that resolves one advancement at one level.
type Data map[string]any

// Retained is what Reverse captured, so Restore can put it back without asking again.
type Retained struct {
	Value map[string]any
	Items []*character.Item
}

// Target binds an advancement to the character and item it is evaluated on.
type Target struct {
	Character   *character.Character
	Item        *character.Item
	Advancement *character.Advancement
}

// Option is one selectable entry in a Prompt.
type Option struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Prompt describes the input an interactive flow collects.
type Prompt struct {
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Level   int      `json:"level"`
	Hint    string   `json:"hint,omitempty"`
	Choose  int      `json:"choose,omitempty"`
	Options []Option `json:"options,omitempty"`
}

// Type implements the rules of one kind of advancement.
type Type interface {
	Name() string
	// Order positions the type among others active at the same level.
	Order() int
	// AutomaticValue returns the data to apply without user input, or false if input is needed.
	AutomaticValue(t Target, level int) (Data, bool)
	Apply(t Target, level int, data Data) error
	Reverse(t Target, level int) (*Retained, error)
	Restore(t Target, level int, retained *Retained) error
	Prompt(t Target, level int) Prompt
}

// SortKey orders advancements active at the same level.
func SortKey(typ Type, adv *character.Advancement) string {
	return fmt.Sprintf("%04d %s", typ.Order(), adv.Title)
}

// Registry maps type names to implementations.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]Type),
	}
}

// DefaultRegistry creates a registry with the built-in types. Item templates for
// granting advancements are looked up in catalog.
func DefaultRegistry(catalog Catalog) *Registry {
	r := NewRegistry()
	r.MustRegister(HitPoints{})
	r.MustRegister(NewItemGrant(catalog))
	r.MustRegister(NewItemChoice(catalog))
	r.MustRegister(ScaleValue{})
	return r
}

// Register adds a type. Registering the same name twice is an error.
func (r *Registry) Register(t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[t.Name()]; exists {
		return fmt.Errorf("advancement type %s already registered", t.Name())
	}
	r.types[t.Name()] = t
	return nil
}

// MustRegister is Register that panics on duplicates.
func (r *Registry) MustRegister(t Type) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GoverningClass returns the class item whose level governs item's advancements,
// or nil when the character level governs them.
func GoverningClass(c *character.Character, item *character.Item) *character.Item {
	switch item.Type {
	case character.ItemTypeClass:
		return item
	case character.ItemTypeSubclass:
		return c.ClassOf(item)
	}
	if item.AdvancementRootID == "" {
		return nil
	}
	class, ok := c.Item(item.AdvancementRootID)
	if !ok {
		return nil
	}
	return class
}

// AppliesToClass reports whether adv applies given which class governs item.
// Primary advancements only apply to the original class, secondary ones only to
// multiclasses. Advancements on items not governed by a class always apply.
func AppliesToClass(c *character.Character, item *character.Item, adv *character.Advancement) bool {
	if adv.ClassRestriction == character.RestrictionNone {
		return true
	}
	class := GoverningClass(c, item)
	if class == nil {
		return true
	}
	original := c.OriginalClassID == "" || c.OriginalClassID == class.ID
	switch adv.ClassRestriction {
	case character.RestrictionPrimary:
		return original
	case character.RestrictionSecondary:
		return !original
	default:
		return true
	}
}
