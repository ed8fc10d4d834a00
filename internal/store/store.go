// Package store persists characters and applies committed session batches.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/config"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// Store is a character provider. Commit applies a batch completely or not at all.
type Store interface {
	Load(ctx context.Context, characterID string) (*character.Character, error)
	Save(ctx context.Context, c *character.Character) error
	Commit(ctx context.Context, batch *character.Batch) error
	Close() error
}

// Open connects the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemoryStore(logger), nil
	case config.DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return OpenSQLite(ctx, dsn, logger)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
