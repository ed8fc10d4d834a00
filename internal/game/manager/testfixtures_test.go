package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
	"github.com/thraizz/advancement-server-go/internal/store"
)

const heroID = "hero"

func testCatalog() advancement.MapCatalog {
	return advancement.MapCatalog{
		"second-wind":  {Name: "Second Wind", Type: character.ItemTypeFeat, Identifier: "second-wind"},
		"defense":      {Name: "Defense", Type: character.ItemTypeFeat, Identifier: "defense"},
		"dueling":      {Name: "Dueling", Type: character.ItemTypeFeat, Identifier: "dueling"},
		"great-weapon": {Name: "Great Weapon Fighting", Type: character.ItemTypeFeat, Identifier: "great-weapon"},
		"superiority": {
			Name:       "Combat Superiority",
			Type:       character.ItemTypeFeat,
			Identifier: "superiority",
			Advancements: []*character.Advancement{{
				ID:            "adv-dice",
				Type:          "ScaleValue",
				Title:         "Superiority Dice",
				Levels:        []int{1, 3},
				Configuration: map[string]any{"scale": map[string]any{"1": "d8", "3": "d10"}},
			}},
		},
	}
}

func allLevels() []int {
	levels := make([]int, DefaultMaxLevel)
	for idx := range levels {
		levels[idx] = idx + 1
	}
	return levels
}

// fighterTemplate is a class whose only interactive advancement is the level 2 style choice.
func fighterTemplate() *character.Item {
	return &character.Item{
		ID:         "class-fighter",
		Name:       "Fighter",
		Type:       character.ItemTypeClass,
		Identifier: "fighter",
		Levels:     1,
		Advancements: []*character.Advancement{
			{ID: "adv-hp", Type: "HitPoints", Title: "Hit Points", Levels: allLevels(), Configuration: map[string]any{"hit_die": 10, "average": true}},
			{ID: "adv-grant", Type: "ItemGrant", Title: "Second Wind", Levels: []int{1}, Configuration: map[string]any{"items": []string{"second-wind"}}},
			{ID: "adv-style", Type: "ItemChoice", Title: "Fighting Style", Levels: []int{2}, Configuration: map[string]any{
				"pool":  []string{"defense", "dueling", "great-weapon"},
				"count": 1,
			}},
			{ID: "adv-superiority", Type: "ItemGrant", Title: "Combat Superiority", Levels: []int{3}, Configuration: map[string]any{"items": []string{"superiority"}}},
		},
	}
}

// luckyFeat scales at levels 1 and 3 and never asks for input.
func luckyFeat() *character.Item {
	return &character.Item{
		ID:         "feat-lucky",
		Name:       "Lucky",
		Type:       character.ItemTypeFeat,
		Identifier: "lucky",
		Advancements: []*character.Advancement{{
			ID:            "adv-luck",
			Type:          "ScaleValue",
			Title:         "Luck Points",
			Levels:        []int{1, 3},
			Configuration: map[string]any{"scale": map[string]any{"1": 1, "3": 2}},
		}},
	}
}

var chooseDefense = map[string]advancement.Data{
	"adv-style": {"selected": []string{"defense"}},
}

type testEnv struct {
	store    *store.MemoryStore
	registry *advancement.Registry
	manager  *Manager
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	return newTestEnvWithRegistry(t, advancement.DefaultRegistry(testCatalog()), opts...)
}

func newTestEnvWithRegistry(t *testing.T, registry *advancement.Registry, opts ...Option) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	st := store.NewMemoryStore(logger)
	require.NoError(t, st.Save(context.Background(), character.New(heroID, "Aria")))
	return &testEnv{
		store:    st,
		registry: registry,
		manager:  NewManager(st, registry, logger, opts...),
	}
}

func (e *testEnv) load(t *testing.T) *character.Character {
	t.Helper()
	c, err := e.store.Load(context.Background(), heroID)
	require.NoError(t, err)
	return c
}

// commitSession starts s, answers every prompt from answers and commits.
func (e *testEnv) commitSession(t *testing.T, s *Session, answers map[string]advancement.Data) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	drive(t, s, answers)
	if s.State() == StateComplete {
		require.NoError(t, s.Commit(ctx))
	}
	require.Equal(t, StateCommitted, s.State())
}

// fighterAt commits a fighter and levels it to level.
func (e *testEnv) fighterAt(t *testing.T, level int) {
	t.Helper()
	ctx := context.Background()

	s, err := e.manager.ForNewItem(ctx, heroID, fighterTemplate())
	require.NoError(t, err)
	e.commitSession(t, s, nil)

	for current := 1; current < level; current++ {
		s, err := e.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
		require.NoError(t, err)
		e.commitSession(t, s, chooseDefense)
	}
}

// drive answers prompts until the session leaves StateAtStep.
func drive(t *testing.T, s *Session, answers map[string]advancement.Data) {
	t.Helper()
	for s.State() == StateAtStep {
		step, err := s.CurrentStep()
		require.NoError(t, err)
		data, ok := answers[step.AdvancementID]
		require.True(t, ok, "no answer for %s at level %d", step.AdvancementID, step.Level)
		require.NoError(t, s.Advance(context.Background(), data))
	}
}

func classLevel(t *testing.T, c *character.Character) int {
	t.Helper()
	class, ok := c.Item("class-fighter")
	require.True(t, ok)
	return class.Levels
}

func grantedID(advancementID string, level int, key string) string {
	return character.DerivedID("class-fighter", advancementID, level, key)
}

// plannedFighter builds a character by hand for planner tests: a fighter at level
// without any applied values.
func plannedFighter(level int) (*character.Character, *character.Item) {
	c := character.New(heroID, "Aria")
	class := fighterTemplate()
	class.Levels = level
	_ = c.AddItem(class)
	c.OriginalClassID = class.ID
	return c, class
}

type stepSummary struct {
	Kind  string
	Item  string
	Adv   string
	Level int
}

func summarize(steps []*Step) []stepSummary {
	out := make([]stepSummary, len(steps))
	for idx, step := range steps {
		v := step.view(idx)
		out[idx] = stepSummary{Kind: v.Kind, Item: v.ItemID, Adv: v.AdvancementID, Level: v.Level}
	}
	return out
}

func summarizeViews(views []StepView) []stepSummary {
	out := make([]stepSummary, len(views))
	for idx, v := range views {
		out[idx] = stepSummary{Kind: v.Kind, Item: v.ItemID, Adv: v.AdvancementID, Level: v.Level}
	}
	return out
}
