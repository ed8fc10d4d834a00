package advancement

import (
	"sort"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// Catalog supplies the item templates granting advancements copy onto a character.
type Catalog interface {
	Template(key string) (*character.Item, bool)
}

// MapCatalog is a Catalog backed by a map.
type MapCatalog map[string]*character.Item

// Template returns the template registered under key.
func (m MapCatalog) Template(key string) (*character.Item, bool) {
	item, ok := m[key]
	return item, ok
}

// ItemGrant adds a fixed list of items to the character.
//
// Configuration:
//
//	items     []string  catalog keys to grant
//	optional  bool      let the user pick a subset
type ItemGrant struct {
	catalog Catalog
}

// NewItemGrant creates an ItemGrant resolving templates in catalog.
func NewItemGrant(catalog Catalog) ItemGrant {
	if catalog == nil {
		catalog = MapCatalog{}
	}
	return ItemGrant{catalog: catalog}
}

func (ItemGrant) Name() string { return "ItemGrant" }

func (ItemGrant) Order() int { return 40 }

func (ItemGrant) AutomaticValue(t Target, _ int) (Data, bool) {
	if configBool(t.Advancement, "optional") {
		return nil, false
	}
	return Data{"selected": configStrings(t.Advancement, "items")}, true
}

func (g ItemGrant) Apply(t Target, level int, data Data) error {
	selected, ok := toStrings(data["selected"])
	if !ok {
		return Violationf(t, level, "selection must be a list of item keys")
	}
	allowed := make(map[string]bool)
	for _, key := range configStrings(t.Advancement, "items") {
		allowed[key] = true
	}
	for _, key := range selected {
		if !allowed[key] {
			return Violationf(t, level, "%s is not granted by this advancement", key)
		}
	}
	return grantItems(g.catalog, t, level, selected)
}

func (ItemGrant) Reverse(t Target, level int) (*Retained, error) {
	return revokeItems(t, level)
}

func (ItemGrant) Restore(t Target, level int, retained *Retained) error {
	return restoreItems(t, level, retained)
}

func (g ItemGrant) Prompt(t Target, level int) Prompt {
	keys := configStrings(t.Advancement, "items")
	return Prompt{
		Type:    "ItemGrant",
		Title:   titleOf(t),
		Level:   level,
		Options: catalogOptions(g.catalog, keys),
	}
}

// grantItems copies the templates for keys onto the character. Nothing is added
// unless every key resolves.
func grantItems(catalog Catalog, t Target, level int, keys []string) error {
	items := make([]*character.Item, 0, len(keys))
	added := make(map[string]any, len(keys))
	root := ""
	if class := GoverningClass(t.Character, t.Item); class != nil {
		root = class.ID
	}

	for _, key := range keys {
		tmpl, ok := catalog.Template(key)
		if !ok {
			return Violationf(t, level, "item %s does not exist", key)
		}
		item := tmpl.Clone()
		item.ID = character.DerivedID(t.Item.ID, t.Advancement.ID, level, key)
		item.AdvancementRootID = root
		if _, exists := t.Character.Item(item.ID); exists {
			return Violationf(t, level, "%s was already granted", key)
		}
		items = append(items, item)
		added[item.ID] = key
	}

	for _, item := range items {
		if err := t.Character.AddItem(item); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		setValueAt(t.Advancement, level, added)
	}
	return nil
}

// revokeItems removes what grantItems added at level and returns it.
func revokeItems(t Target, level int) (*Retained, error) {
	v, ok := valueAt(t.Advancement, level)
	if !ok {
		return nil, nil
	}
	added, _ := v.(map[string]any)

	ids := make([]string, 0, len(added))
	for id := range added {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	retained := &Retained{Value: map[string]any{"added": character.CloneValue(v)}}
	for _, id := range ids {
		item, _, err := t.Character.RemoveItem(id)
		if err != nil {
			// Removed by the user in the meantime; nothing to take back.
			continue
		}
		retained.Items = append(retained.Items, item.Clone())
	}
	clearValueAt(t.Advancement, level)
	return retained, nil
}

// restoreItems puts back exactly what revokeItems removed.
func restoreItems(t Target, level int, retained *Retained) error {
	if retained == nil {
		return nil
	}
	for _, item := range retained.Items {
		t.Character.ReplaceItem(item.Clone())
	}
	if added, ok := retained.Value["added"]; ok {
		setValueAt(t.Advancement, level, character.CloneValue(added))
	}
	return nil
}

func catalogOptions(catalog Catalog, keys []string) []Option {
	options := make([]Option, 0, len(keys))
	for _, key := range keys {
		name := key
		if tmpl, ok := catalog.Template(key); ok {
			name = tmpl.Name
		}
		options = append(options, Option{Key: key, Name: name})
	}
	return options
}
