package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// Commit writes a complete session's batch to the provider. Sessions built with
// auto-commit do this on their own when the last step runs.
func (s *Session) Commit(ctx context.Context) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	switch s.state {
	case StateComplete:
		return s.commit(ctx)
	case StateCommitted, StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: %d of %d steps done", ErrSessionIncomplete, max(s.cursor, 0), len(s.steps))
	}
}

// commit diffs the clone against the original and hands the batch to the provider.
// The original is never written to, so any failure only needs the clone dropped.
func (s *Session) commit(ctx context.Context) error {
	batch := character.Diff(s.original, s.clone)

	for _, hook := range s.hooks {
		if err := hook(batch); err != nil {
			return s.abort(fmt.Errorf("commit cancelled: %w", err))
		}
	}

	if err := s.provider.Commit(ctx, batch); err != nil {
		return s.abort(fmt.Errorf("%w: %w", ErrCommitFailed, err))
	}

	s.state = StateCommitted
	s.logger.Info("session committed",
		zap.String("session_id", s.id),
		zap.String("character_id", s.original.ID),
		zap.Int("created", len(batch.Create)),
		zap.Int("updated", len(batch.Update)),
		zap.Int("deleted", len(batch.Delete)),
	)

	if s.journalDir != "" {
		if err := s.journal.SaveToFile(s.journalDir); err != nil {
			s.logger.Warn("failed to save journal",
				zap.String("session_id", s.id),
				zap.Error(err),
			)
		}
	}

	s.release()
	return nil
}
