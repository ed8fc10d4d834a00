package manager

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

func TestNewClassAppliesFirstLevel(t *testing.T) {
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	hero := env.load(t)
	assert.Equal(t, "class-fighter", hero.OriginalClassID)
	assert.Equal(t, 1, classLevel(t, hero))

	class, _ := hero.Item("class-fighter")
	hp, _ := class.Advancement("adv-hp")
	assert.Equal(t, map[string]any{"1": "max"}, hp.Value)

	secondWind, ok := hero.Item(grantedID("adv-grant", 1, "second-wind"))
	require.True(t, ok)
	assert.Equal(t, "class-fighter", secondWind.AdvancementRootID)
	assert.Equal(t, 0, env.manager.ActiveSessions())
}

func TestLevelUpStopsOnlyAtChoice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, env.manager.ActiveSessions())
	require.NoError(t, s.Start(ctx))

	var interactive []StepView
	for _, v := range s.Steps() {
		assert.False(t, v.Synthetic)
		if !v.Automatic {
			interactive = append(interactive, v)
		}
	}
	require.Len(t, interactive, 1)
	assert.Equal(t, "adv-style", interactive[0].AdvancementID)
	assert.Equal(t, 2, interactive[0].Level)

	current, err := s.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, "adv-style", current.AdvancementID)

	prompt, err := s.CurrentPrompt()
	require.NoError(t, err)
	assert.Equal(t, "ItemChoice", prompt.Type)
	assert.Equal(t, 1, prompt.Choose)
	assert.Len(t, prompt.Options, 3)

	// Nothing is written until the last step ran.
	assert.Equal(t, 2, classLevel(t, s.Preview()))
	assert.Equal(t, 1, classLevel(t, env.load(t)))

	require.NoError(t, s.Advance(ctx, chooseDefense["adv-style"]))
	assert.Equal(t, StateCommitted, s.State())

	hero := env.load(t)
	assert.Equal(t, 2, classLevel(t, hero))
	_, ok := hero.Item(grantedID("adv-style", 2, "defense"))
	assert.True(t, ok)
	class, _ := hero.Item("class-fighter")
	hp, _ := class.Advancement("adv-hp")
	assert.Equal(t, "avg", hp.Value["2"])
	assert.Equal(t, 0, env.manager.ActiveSessions())
}

func TestLevelChangeSynthesizesGrantedItemSteps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 2)

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	require.Equal(t, StateCommitted, s.State())

	superiority := grantedID("adv-superiority", 3, "superiority")
	assert.Equal(t, []stepSummary{
		{Kind: "forward", Item: "class-fighter", Adv: "adv-hp", Level: 3},
		{Kind: "forward", Item: "class-fighter", Adv: "adv-superiority", Level: 3},
		{Kind: "forward", Item: superiority, Adv: "adv-dice", Level: 1},
		{Kind: "forward", Item: superiority, Adv: "adv-dice", Level: 3},
		{Kind: "forward", Item: "class-fighter", Level: 3},
	}, summarizeViews(s.Steps()))
	views := s.Steps()
	assert.True(t, views[2].Synthetic)
	assert.True(t, views[3].Synthetic)

	hero := env.load(t)
	item, ok := hero.Item(superiority)
	require.True(t, ok)
	dice, _ := item.Advancement("adv-dice")
	assert.Equal(t, map[string]any{"1": "d8", "3": "d10"}, dice.Value)
}

func TestRetreatToIdleRestoresOriginal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, WithAutoCommit(false))
	env.fighterAt(t, 2)
	original := env.load(t).MustChecksum()

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	require.Equal(t, StateComplete, s.State())
	assert.NotEqual(t, original, s.Preview().MustChecksum())

	require.NoError(t, s.Retreat())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, -1, s.Cursor())
	assert.Equal(t, original, s.Preview().MustChecksum())
	for _, v := range s.Steps() {
		assert.False(t, v.Synthetic, "synthetic steps must be cleared with the step that caused them")
	}

	// Retreating from idle is a no-op.
	require.NoError(t, s.Retreat())
	assert.Equal(t, StateIdle, s.State())

	// Data cannot be submitted before a step is entered.
	assert.ErrorIs(t, s.Advance(ctx, advancement.Data{"value": "avg"}), ErrSessionIdle)
	assert.Equal(t, StateIdle, s.State())

	// Advancing again synthesizes the same steps once.
	require.NoError(t, s.Advance(ctx, nil))
	require.Equal(t, StateComplete, s.State())
	synthetic := 0
	for _, v := range s.Steps() {
		if v.Synthetic {
			synthetic++
		}
	}
	assert.Equal(t, 2, synthetic)

	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, 3, classLevel(t, env.load(t)))
}

func TestRetreatFromChoiceRestoresOriginal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)
	original := env.load(t).MustChecksum()

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	require.Equal(t, 1, s.Cursor())

	require.NoError(t, s.Retreat())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, original, s.Preview().MustChecksum())

	journal := s.Journal().Snapshot()
	require.NotEmpty(t, journal)
	assert.Equal(t, DirectionRetreat, journal[len(journal)-1].Direction)
	assert.Equal(t, "adv-hp", journal[len(journal)-1].AdvancementID)
}

func TestRetreatDropsStepsPlannedForRemovedItems(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 3)
	original := env.load(t).MustChecksum()

	s, err := env.manager.ForModifyChoices(ctx, heroID, "class-fighter", 2)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	current, err := s.CurrentStep()
	require.NoError(t, err)
	require.Equal(t, "adv-style", current.AdvancementID)

	countSynthetic := func() int {
		n := 0
		for _, v := range s.Steps() {
			if v.Synthetic {
				n++
			}
		}
		return n
	}
	// Reversing the level 3 grant removed the superiority feat along with its scale value.
	synthetic := countSynthetic()
	require.Positive(t, synthetic)

	require.NoError(t, s.Retreat())
	require.Equal(t, StateIdle, s.State())
	assert.Equal(t, original, s.Preview().MustChecksum())
	assert.Zero(t, countSynthetic())

	require.NoError(t, s.Advance(ctx, nil))
	current, err = s.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, "adv-style", current.AdvancementID)
	assert.Equal(t, synthetic, countSynthetic())
}

func TestRestartReturnsToFirstChoice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, WithAutoCommit(false))
	env.fighterAt(t, 1)

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 2)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Advance(ctx, chooseDefense["adv-style"]))
	require.Equal(t, StateComplete, s.State())

	require.NoError(t, s.Restart())
	assert.Equal(t, StateAtStep, s.State())
	assert.Equal(t, 1, s.Cursor())
	current, err := s.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, "adv-style", current.AdvancementID)

	preview := s.Preview()
	assert.Equal(t, 2, classLevel(t, preview))
	_, hasDefense := preview.Item(grantedID("adv-style", 2, "defense"))
	assert.False(t, hasDefense)
	_, hasSuperiority := preview.Item(grantedID("adv-superiority", 3, "superiority"))
	assert.False(t, hasSuperiority)
	for _, v := range s.Steps() {
		assert.False(t, v.Synthetic)
	}

	require.NoError(t, s.Advance(ctx, advancement.Data{"selected": []string{"dueling"}}))
	require.NoError(t, s.Commit(ctx))

	hero := env.load(t)
	assert.Equal(t, 3, classLevel(t, hero))
	_, ok := hero.Item(grantedID("adv-style", 2, "dueling"))
	assert.True(t, ok)
	_, ok = hero.Item(grantedID("adv-style", 2, "defense"))
	assert.False(t, ok)
}

func TestRulesViolationKeepsSessionAtStep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	err = s.Advance(ctx, advancement.Data{"selected": []string{"defense", "dueling"}})
	require.Error(t, err)
	assert.True(t, advancement.IsRulesViolation(err))
	assert.Equal(t, StateAtStep, s.State())
	assert.Equal(t, 1, s.Cursor())
	assert.NoError(t, s.Err())

	err = s.Advance(ctx, advancement.Data{"selected": []string{"archery"}})
	assert.ErrorIs(t, err, advancement.ErrRulesViolation)
	assert.Equal(t, StateAtStep, s.State())

	require.NoError(t, s.Advance(ctx, chooseDefense["adv-style"]))
	assert.Equal(t, StateCommitted, s.State())
}

// strictType offers an automatic value it then refuses to apply.
type strictType struct{}

func (strictType) Name() string { return "Strict" }

func (strictType) Order() int { return 70 }

func (strictType) AutomaticValue(advancement.Target, int) (advancement.Data, bool) {
	return advancement.Data{"value": "auto"}, true
}

func (strictType) Apply(t advancement.Target, level int, data advancement.Data) error {
	if data["value"] != "manual" {
		return advancement.Violationf(t, level, "only manual values are accepted")
	}
	if t.Advancement.Value == nil {
		t.Advancement.Value = make(map[string]any)
	}
	t.Advancement.Value[strconv.Itoa(level)] = "manual"
	return nil
}

func (strictType) Reverse(t advancement.Target, level int) (*advancement.Retained, error) {
	v, ok := t.Advancement.Value[strconv.Itoa(level)]
	if !ok {
		return nil, nil
	}
	delete(t.Advancement.Value, strconv.Itoa(level))
	return &advancement.Retained{Value: map[string]any{"value": v}}, nil
}

func (strictType) Restore(t advancement.Target, level int, retained *advancement.Retained) error {
	if retained == nil {
		return nil
	}
	return strictType{}.Apply(t, level, advancement.Data(retained.Value))
}

func (strictType) Prompt(_ advancement.Target, level int) advancement.Prompt {
	return advancement.Prompt{Type: "Strict", Level: level}
}

func TestAutomaticStepViolationBecomesInteractive(t *testing.T) {
	ctx := context.Background()
	registry := advancement.DefaultRegistry(testCatalog())
	registry.MustRegister(strictType{})
	env := newTestEnvWithRegistry(t, registry)
	env.fighterAt(t, 1)

	s, err := env.manager.ForNewItem(ctx, heroID, &character.Item{
		ID:   "feat-strict",
		Name: "Strict",
		Type: character.ItemTypeFeat,
		Advancements: []*character.Advancement{
			{ID: "adv-strict", Type: "Strict", Levels: []int{1}},
		},
	})
	require.NoError(t, err)

	err = s.Start(ctx)
	assert.True(t, advancement.IsRulesViolation(err))
	assert.Equal(t, StateAtStep, s.State())
	current, err := s.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, "adv-strict", current.AdvancementID)
	assert.False(t, current.Automatic)

	require.NoError(t, s.Advance(ctx, advancement.Data{"value": "manual"}))
	assert.Equal(t, StateCommitted, s.State())

	feat, ok := env.load(t).Item("feat-strict")
	require.True(t, ok)
	adv, _ := feat.Advancement("adv-strict")
	assert.Equal(t, "manual", adv.Value["1"])
}

// brittleType refuses to restore anything it retained.
type brittleType struct{ strictType }

func (brittleType) Name() string { return "Brittle" }

func (brittleType) Restore(t advancement.Target, level int, _ *advancement.Retained) error {
	return advancement.Violationf(t, level, "retained values cannot be restored")
}

// saveFeatWith adds a feat carrying one advancement of typ at levels 1 and 2, with
// value already recorded for the given levels.
func (e *testEnv) saveFeatWith(t *testing.T, typ string, value map[string]any) {
	t.Helper()
	hero := e.load(t)
	require.NoError(t, hero.AddItem(&character.Item{
		ID:   "feat-strict",
		Name: "Strict",
		Type: character.ItemTypeFeat,
		Advancements: []*character.Advancement{
			{ID: "adv-strict", Type: typ, Levels: []int{1, 2}, Value: value},
		},
	}))
	require.NoError(t, e.store.Save(context.Background(), hero))
}

func TestRestoreWithoutRetainedDataAsksForInput(t *testing.T) {
	ctx := context.Background()
	registry := advancement.DefaultRegistry(testCatalog())
	registry.MustRegister(strictType{})
	env := newTestEnvWithRegistry(t, registry)
	env.fighterAt(t, 2)
	env.saveFeatWith(t, "Strict", map[string]any{"1": "manual"})

	s, err := env.manager.ForModifyChoices(ctx, heroID, "feat-strict", 1)
	require.NoError(t, err)
	assert.Equal(t, []stepSummary{
		{Kind: "reverse", Item: "feat-strict", Adv: "adv-strict", Level: 2},
		{Kind: "reverse", Item: "feat-strict", Adv: "adv-strict", Level: 1},
		{Kind: "forward", Item: "feat-strict", Adv: "adv-strict", Level: 1},
		{Kind: "restore", Item: "feat-strict", Adv: "adv-strict", Level: 2},
	}, summarizeViews(s.Steps()))

	err = s.Start(ctx)
	assert.True(t, advancement.IsRulesViolation(err))
	require.NoError(t, s.Advance(ctx, advancement.Data{"value": "manual"}))

	// Level 2 never had a value, so there is nothing to restore.
	require.Equal(t, StateAtStep, s.State())
	current, err := s.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, "forward", current.Kind)
	assert.Equal(t, 2, current.Level)
	assert.False(t, current.Automatic)

	require.NoError(t, s.Advance(ctx, advancement.Data{"value": "manual"}))
	assert.Equal(t, StateCommitted, s.State())

	feat, ok := env.load(t).Item("feat-strict")
	require.True(t, ok)
	adv, _ := feat.Advancement("adv-strict")
	assert.Equal(t, map[string]any{"1": "manual", "2": "manual"}, adv.Value)
}

func TestRestoreViolationBecomesInteractiveForward(t *testing.T) {
	ctx := context.Background()
	registry := advancement.DefaultRegistry(testCatalog())
	registry.MustRegister(brittleType{})
	env := newTestEnvWithRegistry(t, registry)
	env.fighterAt(t, 2)
	env.saveFeatWith(t, "Brittle", map[string]any{"1": "manual", "2": "manual"})

	s, err := env.manager.ForModifyChoices(ctx, heroID, "feat-strict", 1)
	require.NoError(t, err)
	require.Equal(t, 4, s.StepCount())

	err = s.Start(ctx)
	assert.True(t, advancement.IsRulesViolation(err))

	err = s.Advance(ctx, advancement.Data{"value": "manual"})
	assert.True(t, advancement.IsRulesViolation(err))
	require.Equal(t, StateAtStep, s.State())
	current, err := s.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, 3, current.Index)
	assert.Equal(t, "forward", current.Kind)
	assert.Equal(t, 2, current.Level)
	assert.False(t, current.Automatic)

	require.NoError(t, s.Advance(ctx, advancement.Data{"value": "manual"}))
	assert.Equal(t, StateCommitted, s.State())

	feat, ok := env.load(t).Item("feat-strict")
	require.True(t, ok)
	adv, _ := feat.Advancement("adv-strict")
	assert.Equal(t, map[string]any{"1": "manual", "2": "manual"}, adv.Value)
}

func TestCommitFailureLeavesCharacterUntouched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)
	before := env.load(t).MustChecksum()

	injected := errors.New("disk full")
	env.store.FailNextCommit(injected)

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	err = s.Advance(ctx, chooseDefense["adv-style"])
	require.ErrorIs(t, err, ErrCommitFailed)
	require.ErrorIs(t, err, injected)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), ErrCommitFailed)
	assert.Equal(t, before, env.load(t).MustChecksum())
	assert.Equal(t, 0, env.manager.ActiveSessions())

	assert.ErrorIs(t, s.Advance(ctx, nil), ErrSessionClosed)
	assert.ErrorIs(t, s.Retreat(), ErrSessionClosed)

	// The character is free for a new session.
	retry, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	env.commitSession(t, retry, chooseDefense)
	assert.Equal(t, 2, classLevel(t, env.load(t)))
}

func TestManualCommitLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, WithAutoCommit(false))
	env.fighterAt(t, 1)

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Commit(ctx), ErrSessionIncomplete)

	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Commit(ctx), ErrSessionIncomplete)

	require.NoError(t, s.Advance(ctx, chooseDefense["adv-style"]))
	assert.Equal(t, StateComplete, s.State())
	assert.ErrorIs(t, s.Advance(ctx, nil), ErrSessionComplete)
	assert.Equal(t, 1, env.manager.ActiveSessions())
	assert.Equal(t, 1, classLevel(t, env.load(t)))

	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, StateCommitted, s.State())
	assert.ErrorIs(t, s.Commit(ctx), ErrSessionClosed)
	assert.Equal(t, 2, classLevel(t, env.load(t)))
	assert.Equal(t, 0, env.manager.ActiveSessions())
}

func TestOneSessionPerCharacter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	first, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	got, ok := env.manager.Session(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)

	_, err = env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.ErrorIs(t, err, ErrCharacterBusy)

	require.NoError(t, first.Close())
	assert.Equal(t, StateClosed, first.State())
	assert.NoError(t, first.Close())
	_, ok = env.manager.Session(first.ID())
	assert.False(t, ok)

	second, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	env.manager.CloseAll()
	assert.Equal(t, StateClosed, second.State())
	assert.Equal(t, 0, env.manager.ActiveSessions())
}

func TestCompleteHookCannotReenterSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	var s *Session
	var reentry error
	env.manager.OnComplete(func(*character.Batch) error {
		reentry = s.Advance(ctx, nil)
		return nil
	})

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Advance(ctx, chooseDefense["adv-style"]))

	assert.ErrorIs(t, reentry, ErrSessionBusy)
	assert.Equal(t, StateCommitted, s.State())
}

func TestCompleteHookCancelsCommit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)
	before := env.load(t).MustChecksum()

	vetoed := errors.New("vetoed")
	var seen *character.Batch
	env.manager.OnComplete(func(batch *character.Batch) error {
		seen = batch
		return vetoed
	})

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	err = s.Advance(ctx, chooseDefense["adv-style"])
	require.ErrorIs(t, err, vetoed)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, before, env.load(t).MustChecksum())

	require.NotNil(t, seen)
	assert.Equal(t, heroID, seen.CharacterID)
	require.Len(t, seen.Create, 1)
	assert.Equal(t, grantedID("adv-style", 2, "defense"), seen.Create[0].ID)
}

func TestPlanningInconsistencyAbortsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	s, err := env.manager.build(ctx, "broken", heroID, func(*character.Character) ([]*Step, error) {
		return []*Step{{Action: &Forward{Flow: &advancement.Flow{ItemID: "missing", AdvancementID: "adv-hp", Level: 1}}}}, nil
	})
	require.NoError(t, err)

	err = s.Start(ctx)
	require.ErrorIs(t, err, ErrPlanningInconsistency)
	require.ErrorIs(t, err, character.ErrItemNotFound)
	var planning *PlanningError
	require.ErrorAs(t, err, &planning)
	assert.Equal(t, 0, planning.Index)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, env.manager.ActiveSessions())
}

func TestJournalIsSavedOnCommit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	env := newTestEnv(t, WithJournalDir(dir))
	env.fighterAt(t, 1)

	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	env.commitSession(t, s, chooseDefense)

	loaded, err := LoadJournal(dir, s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), loaded.SessionID)
	assert.Equal(t, heroID, loaded.CharacterID)
	require.Equal(t, s.Journal().Size(), loaded.Size())
	require.Equal(t, 3, loaded.Size())

	first, ok := loaded.EntryAt(0)
	require.True(t, ok)
	assert.Equal(t, DirectionAdvance, first.Direction)
	assert.Equal(t, "adv-hp", first.AdvancementID)

	last, ok := loaded.EntryAt(loaded.Size() - 1)
	require.True(t, ok)
	assert.Equal(t, env.load(t).MustChecksum(), last.Checksum)
}

func TestNewAndDeletedFeat(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 3)

	added, err := env.manager.ForNewItem(ctx, heroID, luckyFeat())
	require.NoError(t, err)
	assert.Equal(t, 2, added.StepCount())
	env.commitSession(t, added, nil)

	feat, ok := env.load(t).Item("feat-lucky")
	require.True(t, ok)
	luck, _ := feat.Advancement("adv-luck")
	assert.Equal(t, map[string]any{"1": 1, "3": 2}, luck.Value)

	deleted, err := env.manager.ForDeletedItem(ctx, heroID, "feat-lucky")
	require.NoError(t, err)
	assert.Equal(t, []stepSummary{
		{Kind: "reverse", Item: "feat-lucky", Adv: "adv-luck", Level: 3},
		{Kind: "reverse", Item: "feat-lucky", Adv: "adv-luck", Level: 1},
		{Kind: "delete", Item: "feat-lucky"},
	}, summarizeViews(deleted.Steps()))
	env.commitSession(t, deleted, nil)

	_, ok = env.load(t).Item("feat-lucky")
	assert.False(t, ok)
}

func TestItemsWithoutAdvancementNeedNoSteps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	rope := &character.Item{Name: "Rope", Type: character.ItemTypeEquipment}
	added, err := env.manager.ForNewItem(ctx, heroID, rope)
	require.NoError(t, err)
	assert.Equal(t, 0, added.StepCount())
	assert.Equal(t, 0, env.manager.ActiveSessions())
	env.commitSession(t, added, nil)

	var ropeID string
	for _, item := range env.load(t).ItemsOfType(character.ItemTypeEquipment) {
		ropeID = item.ID
	}
	require.NotEmpty(t, ropeID)

	deleted, err := env.manager.ForDeletedItem(ctx, heroID, ropeID)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted.StepCount())
	env.commitSession(t, deleted, nil)
	assert.Empty(t, env.load(t).ItemsOfType(character.ItemTypeEquipment))
}

func TestDeletingClassRemovesEverythingItGranted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, WithAutoCommit(false))
	env.fighterAt(t, 3)
	original := env.load(t).MustChecksum()

	s, err := env.manager.ForDeletedItem(ctx, heroID, "class-fighter")
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	require.Equal(t, StateComplete, s.State())
	assert.Empty(t, s.Preview().Items())

	require.NoError(t, s.Retreat())
	require.Equal(t, StateIdle, s.State())
	assert.Equal(t, original, s.Preview().MustChecksum())

	require.NoError(t, s.Advance(ctx, nil))
	require.NoError(t, s.Commit(ctx))
	assert.Empty(t, env.load(t).Items())
}

func TestModifyChoicesSwapsSelection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 3)

	s, err := env.manager.ForModifyChoices(ctx, heroID, "class-fighter", 2)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	current, err := s.CurrentStep()
	require.NoError(t, err)
	assert.Equal(t, "adv-style", current.AdvancementID)
	preview := s.Preview()
	assert.Equal(t, 3, classLevel(t, preview))
	_, hasDefense := preview.Item(grantedID("adv-style", 2, "defense"))
	assert.False(t, hasDefense)

	require.NoError(t, s.Advance(ctx, advancement.Data{"selected": []string{"dueling"}}))
	require.Equal(t, StateCommitted, s.State())

	hero := env.load(t)
	assert.Equal(t, 3, classLevel(t, hero))
	_, ok := hero.Item(grantedID("adv-style", 2, "dueling"))
	assert.True(t, ok)
	_, ok = hero.Item(grantedID("adv-style", 2, "defense"))
	assert.False(t, ok)

	class, _ := hero.Item("class-fighter")
	hp, _ := class.Advancement("adv-hp")
	assert.Equal(t, map[string]any{"1": "max", "2": "avg", "3": "avg"}, hp.Value)

	superiority, ok := hero.Item(grantedID("adv-superiority", 3, "superiority"))
	require.True(t, ok)
	dice, _ := superiority.Advancement("adv-dice")
	assert.Equal(t, map[string]any{"1": "d8", "3": "d10"}, dice.Value)
}

func TestNewAdvancementKeepsExistingChoices(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 3)

	s, err := env.manager.ForNewAdvancement(ctx, heroID, "class-fighter", []*character.Advancement{
		{ID: "adv-extra", Type: "ScaleValue", Title: "Extra Attack", Levels: []int{2}, Configuration: map[string]any{"scale": map[string]any{"2": "x2"}}},
	})
	require.NoError(t, err)
	env.commitSession(t, s, nil)

	hero := env.load(t)
	class, _ := hero.Item("class-fighter")
	extra, ok := class.Advancement("adv-extra")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"2": "x2"}, extra.Value)

	_, ok = hero.Item(grantedID("adv-style", 2, "defense"))
	assert.True(t, ok)
	style, _ := class.Advancement("adv-style")
	assert.Contains(t, style.Value, "2")
	_, ok = hero.Item(grantedID("adv-superiority", 3, "superiority"))
	assert.True(t, ok)

	_, err = env.manager.ForNewAdvancement(ctx, heroID, "class-fighter", []*character.Advancement{{ID: "adv-extra", Type: "ScaleValue"}})
	assert.Error(t, err)
}

func TestNewAdvancementAboveLevelIsGraftedDirectly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 1)

	s, err := env.manager.ForNewAdvancement(ctx, heroID, "class-fighter", []*character.Advancement{
		{Type: "ScaleValue", Title: "Later", Levels: []int{5}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.StepCount())
	env.commitSession(t, s, nil)

	class, _ := env.load(t).Item("class-fighter")
	assert.Len(t, class.Advancements, len(fighterTemplate().Advancements)+1)
}

func TestDeletedAdvancementRevokesWhatItGranted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.fighterAt(t, 3)

	s, err := env.manager.ForDeletedAdvancement(ctx, heroID, "class-fighter", "adv-style")
	require.NoError(t, err)
	env.commitSession(t, s, nil)

	hero := env.load(t)
	class, _ := hero.Item("class-fighter")
	_, ok := class.Advancement("adv-style")
	assert.False(t, ok)
	_, ok = hero.Item(grantedID("adv-style", 2, "defense"))
	assert.False(t, ok)

	_, err = env.manager.ForDeletedAdvancement(ctx, heroID, "class-fighter", "adv-style")
	assert.ErrorIs(t, err, character.ErrAdvancementNotFound)
}

func TestFactoryValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, WithMaxLevel(1))
	env.fighterAt(t, 1)

	_, err := env.manager.ForLevelChange(ctx, "nobody", "class-fighter", 1)
	assert.ErrorIs(t, err, character.ErrCharacterNotFound)

	_, err = env.manager.ForLevelChange(ctx, heroID, "class-missing", 1)
	assert.ErrorIs(t, err, character.ErrItemNotFound)

	_, err = env.manager.ForLevelChange(ctx, heroID, grantedID("adv-grant", 1, "second-wind"), 1)
	assert.ErrorIs(t, err, ErrNotClass)

	wizard := &character.Item{ID: "class-wizard", Name: "Wizard", Type: character.ItemTypeClass, Identifier: "wizard"}
	_, err = env.manager.ForNewItem(ctx, heroID, wizard)
	assert.ErrorIs(t, err, ErrLevelCap)

	// A level change past the cap plans nothing.
	s, err := env.manager.ForLevelChange(ctx, heroID, "class-fighter", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, s.StepCount())
}
