package advancement

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// ItemChoice lets the user pick items from a pool, such as a fighting style.
//
// Configuration:
//
//	pool           []string           catalog keys to choose from
//	count          int                how many to pick at each level (default 1)
//	prerequisites  map[string]string  per-key expression that must evaluate to true
//
// Prerequisite expressions see level, class_level, items (owned identifiers) and
// has(identifier).
type ItemChoice struct {
	catalog  Catalog
	programs *sync.Map // expression -> *vm.Program
}

// NewItemChoice creates an ItemChoice resolving templates in catalog.
func NewItemChoice(catalog Catalog) ItemChoice {
	if catalog == nil {
		catalog = MapCatalog{}
	}
	return ItemChoice{catalog: catalog, programs: &sync.Map{}}
}

func (ItemChoice) Name() string { return "ItemChoice" }

func (ItemChoice) Order() int { return 50 }

func (ItemChoice) AutomaticValue(Target, int) (Data, bool) {
	return nil, false
}

func (c ItemChoice) Apply(t Target, level int, data Data) error {
	selected, ok := toStrings(data["selected"])
	if !ok {
		return Violationf(t, level, "selection must be a list of item keys")
	}
	count := configInt(t.Advancement, "count", 1)
	if len(selected) != count {
		return Violationf(t, level, "choose exactly %d, got %d", count, len(selected))
	}

	pool := make(map[string]bool)
	for _, key := range configStrings(t.Advancement, "pool") {
		pool[key] = true
	}
	seen := make(map[string]bool)
	for _, key := range selected {
		if !pool[key] {
			return Violationf(t, level, "%s is not one of the choices", key)
		}
		if seen[key] {
			return Violationf(t, level, "%s chosen more than once", key)
		}
		seen[key] = true

		met, err := c.prerequisiteMet(t, level, key)
		if err != nil {
			return Violationf(t, level, "prerequisite for %s cannot be evaluated: %v", key, err)
		}
		if !met {
			return Violationf(t, level, "prerequisite for %s is not met", key)
		}
	}
	return grantItems(c.catalog, t, level, selected)
}

func (ItemChoice) Reverse(t Target, level int) (*Retained, error) {
	return revokeItems(t, level)
}

func (ItemChoice) Restore(t Target, level int, retained *Retained) error {
	return restoreItems(t, level, retained)
}

func (c ItemChoice) Prompt(t Target, level int) Prompt {
	options := catalogOptions(c.catalog, configStrings(t.Advancement, "pool"))
	for idx := range options {
		met, err := c.prerequisiteMet(t, level, options[idx].Key)
		options[idx].Disabled = err != nil || !met
	}
	return Prompt{
		Type:    "ItemChoice",
		Title:   titleOf(t),
		Level:   level,
		Choose:  configInt(t.Advancement, "count", 1),
		Options: options,
	}
}

func (c ItemChoice) prerequisiteMet(t Target, level int, key string) (bool, error) {
	expression := c.prerequisite(t.Advancement, key)
	if expression == "" {
		return true, nil
	}

	env := prerequisiteEnv(t, level)
	program, err := c.compile(expression, env)
	if err != nil {
		return false, err
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	met, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expression, result)
	}
	return met, nil
}

func (ItemChoice) prerequisite(adv *character.Advancement, key string) string {
	if adv.Configuration == nil {
		return ""
	}
	switch prereqs := adv.Configuration["prerequisites"].(type) {
	case map[string]string:
		return prereqs[key]
	case map[string]any:
		s, _ := prereqs[key].(string)
		return s
	}
	return ""
}

func (c ItemChoice) compile(expression string, env map[string]any) (*vm.Program, error) {
	if cached, ok := c.programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	c.programs.Store(expression, program)
	return program, nil
}

func prerequisiteEnv(t Target, level int) map[string]any {
	owned := t.Character.Identifiers()
	has := make(map[string]bool, len(owned))
	for _, id := range owned {
		has[id] = true
	}
	classLevel := level
	if class := GoverningClass(t.Character, t.Item); class == nil {
		classLevel = 0
	}
	return map[string]any{
		"level":       t.Character.Level(),
		"class_level": classLevel,
		"items":       owned,
		"has": func(identifier string) bool {
			return has[identifier]
		},
	}
}
