// Package manager plans and runs advancement sessions: ordered steps that take a
// cloned character from one state to another, walked forward and backward by the
// user and committed to the provider as a single batch.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// Option configures a Manager.
type Option func(*Manager)

// WithMaxLevel caps planned levels.
func WithMaxLevel(level int) Option {
	return func(m *Manager) {
		m.maxLevel = level
	}
}

// WithJournalDir saves each committed session's journal under dir.
func WithJournalDir(dir string) Option {
	return func(m *Manager) {
		m.journalDir = dir
	}
}

// WithAutoCommit controls whether sessions commit as soon as their last step runs.
// It defaults to true; without it callers call Session.Commit.
func WithAutoCommit(enabled bool) Option {
	return func(m *Manager) {
		m.autoCommit = enabled
	}
}

// Manager builds sessions and keeps at most one open session per character.
type Manager struct {
	provider   Provider
	registry   *advancement.Registry
	planner    *Planner
	logger     *zap.Logger
	maxLevel   int
	journalDir string
	autoCommit bool

	mu          sync.Mutex
	hooks       []CompleteHook
	sessions    map[string]*Session // session ID -> session
	byCharacter map[string]string   // character ID -> session ID
}

// NewManager creates a manager reading and committing characters through provider.
func NewManager(provider Provider, registry *advancement.Registry, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		provider:    provider,
		registry:    registry,
		logger:      logger,
		maxLevel:    DefaultMaxLevel,
		autoCommit:  true,
		sessions:    make(map[string]*Session),
		byCharacter: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.planner = NewPlanner(registry, m.maxLevel)
	return m
}

// Planner returns the planner sessions are built with.
func (m *Manager) Planner() *Planner {
	return m.planner
}

// OnComplete registers a hook run before every later session commits.
func (m *Manager) OnComplete(hook CompleteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, hook)
}

// Session returns an open session by ID.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	return s, ok
}

// ActiveSessions returns the number of open sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// CloseAll discards every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		if err := s.Close(); err != nil {
			m.logger.Warn("failed to close session", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
}

// ForLevelChange plans changing a class's level by delta.
func (m *Manager) ForLevelChange(ctx context.Context, characterID, classID string, delta int) (*Session, error) {
	return m.build(ctx, "level_change", characterID, func(clone *character.Character) ([]*Step, error) {
		class, err := lookupItem(clone, classID)
		if err != nil {
			return nil, err
		}
		if class.Type != character.ItemTypeClass {
			return nil, fmt.Errorf("%w: %s", ErrNotClass, classID)
		}
		return m.planner.LevelChange(clone, class, delta), nil
	})
}

// ForNewItem plans adding item. A class is added at level zero and leveled to
// the levels it carries, at least one; it becomes the original class if the
// character has none. An item without an ID gets a fresh one.
func (m *Manager) ForNewItem(ctx context.Context, characterID string, item *character.Item) (*Session, error) {
	return m.build(ctx, "new_item", characterID, func(clone *character.Character) ([]*Step, error) {
		added := item.Clone()
		if added.ID == "" {
			added.ID = character.NewID()
		}

		if added.Type != character.ItemTypeClass {
			if err := clone.AddItem(added); err != nil {
				return nil, err
			}
			return m.planner.NewItem(clone, added), nil
		}

		levels := max(added.Levels, 1)
		added.Levels = 0
		if clone.OriginalClassID == "" {
			clone.OriginalClassID = added.ID
		}
		if err := clone.AddItem(added); err != nil {
			return nil, err
		}
		steps := m.planner.LevelChange(clone, added, levels)
		if len(steps) == 0 {
			return nil, fmt.Errorf("%w: cannot add %s", ErrLevelCap, added.Name)
		}
		return steps, nil
	})
}

// ForDeletedItem plans removing an item. A class loses all of its levels first.
// An item without applied advancement is removed from the clone directly and the
// session has no steps.
func (m *Manager) ForDeletedItem(ctx context.Context, characterID, itemID string) (*Session, error) {
	return m.build(ctx, "deleted_item", characterID, func(clone *character.Character) ([]*Step, error) {
		item, err := lookupItem(clone, itemID)
		if err != nil {
			return nil, err
		}

		var steps []*Step
		if item.Type == character.ItemTypeClass {
			steps = m.planner.LevelChange(clone, item, -item.Levels)
		} else {
			steps = m.planner.DeletedItem(clone, item)
		}
		if len(steps) == 0 {
			if _, _, err := clone.RemoveItem(itemID); err != nil {
				return nil, err
			}
		}
		return steps, nil
	})
}

// ForDeletedAdvancement plans removing one advancement from an item.
func (m *Manager) ForDeletedAdvancement(ctx context.Context, characterID, itemID, advancementID string) (*Session, error) {
	return m.build(ctx, "deleted_advancement", characterID, func(clone *character.Character) ([]*Step, error) {
		item, err := lookupItem(clone, itemID)
		if err != nil {
			return nil, err
		}
		adv, ok := item.Advancement(advancementID)
		if !ok {
			return nil, fmt.Errorf("%w: %s on item %s", character.ErrAdvancementNotFound, advancementID, itemID)
		}
		return m.planner.DeletedAdvancement(clone, item, adv), nil
	})
}

// ForNewAdvancement plans adding advancement definitions to an item already on
// the character. Definitions only active above the item's level are added to
// the clone directly and the session has no steps.
func (m *Manager) ForNewAdvancement(ctx context.Context, characterID, itemID string, advancements []*character.Advancement) (*Session, error) {
	return m.build(ctx, "new_advancement", characterID, func(clone *character.Character) ([]*Step, error) {
		item, err := lookupItem(clone, itemID)
		if err != nil {
			return nil, err
		}

		advs := make([]*character.Advancement, 0, len(advancements))
		for _, adv := range advancements {
			a := adv.Clone()
			if a.ID == "" {
				a.ID = character.NewID()
			}
			if _, exists := item.Advancement(a.ID); exists {
				return nil, fmt.Errorf("advancement %s already on item %s", a.ID, itemID)
			}
			advs = append(advs, a)
		}

		steps := m.planner.NewAdvancement(clone, item, advs)
		if len(steps) == 0 {
			for _, adv := range advs {
				adv.Value = nil
				item.Advancements = append(item.Advancements, adv)
			}
		}
		return steps, nil
	})
}

// ForModifyChoices plans revisiting the choices an item made at level.
func (m *Manager) ForModifyChoices(ctx context.Context, characterID, itemID string, level int) (*Session, error) {
	return m.build(ctx, "modify_choices", characterID, func(clone *character.Character) ([]*Step, error) {
		item, err := lookupItem(clone, itemID)
		if err != nil {
			return nil, err
		}
		return m.planner.ModifyChoices(clone, item, level), nil
	})
}

// build loads the character, plans against a clone and registers the session.
// Sessions without steps are returned unregistered; starting one commits the clone.
func (m *Manager) build(ctx context.Context, kind, characterID string, plan func(*character.Character) ([]*Step, error)) (*Session, error) {
	original, err := m.provider.Load(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load character %s: %w", characterID, err)
	}
	clone := original.Clone()

	steps, err := plan(clone)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	hooks := make([]CompleteHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	id := uuid.NewString()
	s := &Session{
		id:         id,
		kind:       kind,
		registry:   m.registry,
		planner:    m.planner,
		provider:   m.provider,
		logger:     m.logger.With(zap.String("character_id", characterID)),
		hooks:      hooks,
		autoCommit: m.autoCommit,
		journalDir: m.journalDir,
		onRelease:  m.unregister,
		original:   original,
		clone:      clone,
		steps:      steps,
		cursor:     -1,
		state:      StateIdle,
		journal:    NewJournal(id, characterID),
		seen:       make(map[string]bool),
	}
	for _, itemID := range clone.ItemIDs() {
		s.seen[itemID] = true
	}
	for _, item := range original.Items() {
		s.seen[item.ID] = true
	}

	if len(steps) > 0 {
		if err := m.register(s); err != nil {
			return nil, err
		}
	}

	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("character_id", characterID),
		zap.String("kind", kind),
		zap.Int("step_count", len(steps)),
	)
	return s, nil
}

func (m *Manager) register(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, busy := m.byCharacter[s.CharacterID()]; busy {
		return fmt.Errorf("%w: %s (session %s)", ErrCharacterBusy, s.CharacterID(), existing)
	}
	m.sessions[s.id] = s
	m.byCharacter[s.CharacterID()] = s.id
	return nil
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.id]; !ok {
		return
	}
	delete(m.sessions, s.id)
	if m.byCharacter[s.CharacterID()] == s.id {
		delete(m.byCharacter, s.CharacterID())
	}
}

func lookupItem(c *character.Character, itemID string) (*character.Item, error) {
	item, ok := c.Item(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", character.ErrItemNotFound, itemID)
	}
	return item, nil
}
