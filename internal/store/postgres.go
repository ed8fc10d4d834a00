package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS characters (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	original_class_id TEXT NOT NULL DEFAULT '',
	fields JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS items (
	character_id TEXT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (character_id, id)
);`

// PostgresStore persists characters in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects to dsn, checks the connection and creates the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres store ready")
	return s, nil
}

// Migrate creates the tables if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load reads a character and its items in position order.
func (s *PostgresStore) Load(ctx context.Context, characterID string) (*character.Character, error) {
	var name, originalClassID, fields string
	err := s.pool.QueryRow(ctx,
		`SELECT name, original_class_id, fields::text FROM characters WHERE id = $1`, characterID,
	).Scan(&name, &originalClassID, &fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", character.ErrCharacterNotFound, characterID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load character %s: %w", characterID, err)
	}

	c := character.New(characterID, name)
	c.OriginalClassID = originalClassID
	if c.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT data::text FROM items WHERE character_id = $1 ORDER BY position`, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item, err := decodeItem(data)
		if err != nil {
			return nil, err
		}
		if err := c.AddItem(item); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	return c, nil
}

// Save writes c, replacing whatever was stored under its ID.
func (s *PostgresStore) Save(ctx context.Context, c *character.Character) error {
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO characters (id, name, original_class_id, fields) VALUES ($1, $2, $3, $4::jsonb)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				original_class_id = EXCLUDED.original_class_id,
				fields = EXCLUDED.fields`,
			c.ID, c.Name, c.OriginalClassID, fields,
		); err != nil {
			return fmt.Errorf("failed to save character: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM items WHERE character_id = $1`, c.ID); err != nil {
			return fmt.Errorf("failed to clear items: %w", err)
		}
		for position, item := range c.Items() {
			if err := insertItemPG(ctx, tx, c.ID, position, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Commit applies batch in one transaction. A missing character or item rolls
// everything back.
func (s *PostgresStore) Commit(ctx context.Context, batch *character.Batch) error {
	fields, err := encodeFields(batch.Header.Fields)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE characters SET name = $1, original_class_id = $2, fields = $3::jsonb WHERE id = $4`,
			batch.Header.Name, batch.Header.OriginalClassID, fields, batch.CharacterID)
		if err := expectOnePG(tag, err, character.ErrCharacterNotFound, batch.CharacterID); err != nil {
			return err
		}

		for _, id := range batch.Delete {
			tag, err := tx.Exec(ctx,
				`DELETE FROM items WHERE character_id = $1 AND id = $2`, batch.CharacterID, id)
			if err := expectOnePG(tag, err, character.ErrItemNotFound, id); err != nil {
				return fmt.Errorf("failed to delete item: %w", err)
			}
		}
		for _, item := range batch.Update {
			data, err := encodeItem(item)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx,
				`UPDATE items SET data = $1::jsonb WHERE character_id = $2 AND id = $3`, data, batch.CharacterID, item.ID)
			if err := expectOnePG(tag, err, character.ErrItemNotFound, item.ID); err != nil {
				return fmt.Errorf("failed to update item: %w", err)
			}
		}
		for _, item := range batch.Create {
			if err := insertItemPG(ctx, tx, batch.CharacterID, -1, item); err != nil {
				return err
			}
		}

		order := &pgx.Batch{}
		for position, id := range batch.Order {
			order.Queue(`UPDATE items SET position = $1 WHERE character_id = $2 AND id = $3`, position, batch.CharacterID, id)
		}
		if order.Len() > 0 {
			if err := tx.SendBatch(ctx, order).Close(); err != nil {
				return fmt.Errorf("failed to order items: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("committed batch",
		zap.String("character_id", batch.CharacterID),
		zap.Int("created", len(batch.Create)),
		zap.Int("updated", len(batch.Update)),
		zap.Int("deleted", len(batch.Delete)),
	)
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func insertItemPG(ctx context.Context, tx pgx.Tx, characterID string, position int, item *character.Item) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO items (character_id, id, position, data) VALUES ($1, $2, $3, $4::jsonb)`,
		characterID, item.ID, position, data,
	); err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
	}
	return nil
}

func expectOnePG(tag pgconn.CommandTag, err error, notFound error, id string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
