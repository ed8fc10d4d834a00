package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// MemoryStore keeps characters in a map. Loads hand out copies and commits apply
// to a copy that replaces the stored character only on success.
type MemoryStore struct {
	mu         sync.RWMutex
	characters map[string]*character.Character
	failCommit error
	logger     *zap.Logger
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		characters: make(map[string]*character.Character),
		logger:     logger,
	}
}

// Load returns a copy of the stored character.
func (s *MemoryStore) Load(_ context.Context, characterID string) (*character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[characterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", character.ErrCharacterNotFound, characterID)
	}
	return c.Clone(), nil
}

// Save stores a copy of c, replacing any character with the same ID.
func (s *MemoryStore) Save(_ context.Context, c *character.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.characters[c.ID] = c.Clone()
	return nil
}

// Commit applies batch to a copy of the stored character and swaps it in.
func (s *MemoryStore) Commit(_ context.Context, batch *character.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failCommit; err != nil {
		s.failCommit = nil
		return err
	}

	current, ok := s.characters[batch.CharacterID]
	if !ok {
		return fmt.Errorf("%w: %s", character.ErrCharacterNotFound, batch.CharacterID)
	}
	next := current.Clone()
	if err := next.ApplyBatch(batch); err != nil {
		return fmt.Errorf("failed to apply batch: %w", err)
	}
	s.characters[batch.CharacterID] = next

	s.logger.Debug("committed batch",
		zap.String("character_id", batch.CharacterID),
		zap.Int("created", len(batch.Create)),
		zap.Int("updated", len(batch.Update)),
		zap.Int("deleted", len(batch.Delete)),
	)
	return nil
}

// FailNextCommit makes the next Commit return err without touching anything.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failCommit = err
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
