package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thraizz/advancement-server-go/internal/config"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

func newHero() *character.Character {
	c := character.New("hero", "Aria")
	c.OriginalClassID = "class-fighter"
	c.Fields["alignment"] = "neutral good"
	_ = c.AddItem(&character.Item{
		ID:         "class-fighter",
		Name:       "Fighter",
		Type:       character.ItemTypeClass,
		Identifier: "fighter",
		Levels:     2,
		Advancements: []*character.Advancement{{
			ID:     "adv-hp",
			Type:   "HitPoints",
			Levels: []int{1, 2},
			Value:  map[string]any{"1": "max", "2": "avg"},
		}},
	})
	_ = c.AddItem(&character.Item{ID: "feat-alert", Name: "Alert", Type: character.ItemTypeFeat, Identifier: "alert"})
	_ = c.AddItem(&character.Item{ID: "equip-rope", Name: "Rope", Type: character.ItemTypeEquipment})
	return c
}

// runStoreContract exercises the behavior every store shares.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("load missing character", func(t *testing.T) {
		_, err := s.Load(ctx, "nobody")
		require.ErrorIs(t, err, character.ErrCharacterNotFound)
	})

	t.Run("save and load keep order and content", func(t *testing.T) {
		hero := newHero()
		require.NoError(t, s.Save(ctx, hero))

		loaded, err := s.Load(ctx, "hero")
		require.NoError(t, err)
		assert.Equal(t, hero.ItemIDs(), loaded.ItemIDs())
		assert.Equal(t, "class-fighter", loaded.OriginalClassID)
		assert.Equal(t, "neutral good", loaded.Fields["alignment"])

		class, ok := loaded.Item("class-fighter")
		require.True(t, ok)
		assert.Equal(t, 2, class.Levels)
		adv, ok := class.Advancement("adv-hp")
		require.True(t, ok)
		assert.Equal(t, "avg", adv.Value["2"])
	})

	t.Run("commit applies creates updates deletes and order", func(t *testing.T) {
		original, err := s.Load(ctx, "hero")
		require.NoError(t, err)

		modified := original.Clone()
		modified.Name = "Aria the Bold"
		class, _ := modified.Item("class-fighter")
		class.Levels = 3
		_, _, err = modified.RemoveItem("equip-rope")
		require.NoError(t, err)
		require.NoError(t, modified.InsertItem(0, &character.Item{ID: "feat-tough", Name: "Tough", Type: character.ItemTypeFeat}))

		require.NoError(t, s.Commit(ctx, character.Diff(original, modified)))

		loaded, err := s.Load(ctx, "hero")
		require.NoError(t, err)
		assert.Equal(t, "Aria the Bold", loaded.Name)
		assert.Equal(t, []string{"feat-tough", "class-fighter", "feat-alert"}, loaded.ItemIDs())
		class, _ = loaded.Item("class-fighter")
		assert.Equal(t, 3, class.Levels)
	})

	t.Run("failed commit leaves character untouched", func(t *testing.T) {
		before, err := s.Load(ctx, "hero")
		require.NoError(t, err)

		modified := before.Clone()
		modified.Name = "Should Not Persist"
		_, _, err = modified.RemoveItem("feat-alert")
		require.NoError(t, err)
		batch := character.Diff(before, modified)
		// An update for an item the store does not have makes the batch fail halfway.
		batch.Update = append(batch.Update, &character.Item{ID: "ghost", Name: "Ghost"})

		err = s.Commit(ctx, batch)
		require.ErrorIs(t, err, character.ErrItemNotFound)

		after, err := s.Load(ctx, "hero")
		require.NoError(t, err)
		assert.Equal(t, before.Name, after.Name)
		assert.Equal(t, before.ItemIDs(), after.ItemIDs())
	})

	t.Run("commit for unknown character fails", func(t *testing.T) {
		err := s.Commit(ctx, &character.Batch{CharacterID: "nobody"})
		require.ErrorIs(t, err, character.ErrCharacterNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(zaptest.NewLogger(t))
	runStoreContract(t, s)
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zaptest.NewLogger(t))
	require.NoError(t, s.Save(ctx, newHero()))

	loaded, err := s.Load(ctx, "hero")
	require.NoError(t, err)
	loaded.Name = "Changed"
	_, _, err = loaded.RemoveItem("feat-alert")
	require.NoError(t, err)

	again, err := s.Load(ctx, "hero")
	require.NoError(t, err)
	assert.Equal(t, "Aria", again.Name)
	assert.Len(t, again.Items(), 3)
}

func TestMemoryStoreFailNextCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zaptest.NewLogger(t))
	require.NoError(t, s.Save(ctx, newHero()))

	original, err := s.Load(ctx, "hero")
	require.NoError(t, err)
	modified := original.Clone()
	modified.Name = "Changed"
	batch := character.Diff(original, modified)

	injected := errors.New("disk full")
	s.FailNextCommit(injected)
	require.ErrorIs(t, s.Commit(ctx, batch), injected)

	loaded, err := s.Load(ctx, "hero")
	require.NoError(t, err)
	assert.Equal(t, "Aria", loaded.Name)

	// The failure is one-shot.
	require.NoError(t, s.Commit(ctx, batch))
	loaded, err = s.Load(ctx, "hero")
	require.NoError(t, err)
	assert.Equal(t, "Changed", loaded.Name)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runStoreContract(t, s)
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Save(ctx, newHero()))
	require.NoError(t, s.Migrate(ctx))

	loaded, err := s.Load(ctx, "hero")
	require.NoError(t, err)
	assert.Len(t, loaded.Items(), 3)
}

// TestPostgresStore runs against a real server when ADVANCEMENT_TEST_POSTGRES_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ADVANCEMENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ADVANCEMENT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM characters WHERE id = 'hero'`)
		_ = s.Close()
	})

	runStoreContract(t, s)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverMemory}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.DatabaseConfig{Driver: "oracle"}, logger)
	require.Error(t, err)
}
