package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/game/character"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS characters (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	original_class_id TEXT NOT NULL DEFAULT '',
	fields TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS items (
	character_id TEXT NOT NULL,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (character_id, id)
);`

// SQLiteStore persists characters in SQLite through database/sql.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens dsn and creates the schema. ":memory:" gives a private database.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("sqlite store ready", zap.String("dsn", dsn))
	return s, nil
}

// Migrate creates the tables if they are missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load reads a character and its items in position order.
func (s *SQLiteStore) Load(ctx context.Context, characterID string) (*character.Character, error) {
	var name, originalClassID, fields string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, original_class_id, fields FROM characters WHERE id = ?`, characterID,
	).Scan(&name, &originalClassID, &fields)
	if errors.Is(err, sql.ErrNoRows) {
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM items WHERE character_id = ? ORDER BY position`, characterID)
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
func (s *SQLiteStore) Save(ctx context.Context, c *character.Character) error {
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO characters (id, name, original_class_id, fields) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				original_class_id = excluded.original_class_id,
				fields = excluded.fields`,
			c.ID, c.Name, c.OriginalClassID, fields,
		); err != nil {
			return fmt.Errorf("failed to save character: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE character_id = ?`, c.ID); err != nil {
			return fmt.Errorf("failed to clear items: %w", err)
		}
		for position, item := range c.Items() {
			if err := s.insertItem(ctx, tx, c.ID, position, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Commit applies batch in one transaction. A missing character or item rolls
// everything back.
func (s *SQLiteStore) Commit(ctx context.Context, batch *character.Batch) error {
	fields, err := encodeFields(batch.Header.Fields)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE characters SET name = ?, original_class_id = ?, fields = ? WHERE id = ?`,
			batch.Header.Name, batch.Header.OriginalClassID, fields, batch.CharacterID)
		if err := expectOne(res, err, character.ErrCharacterNotFound, batch.CharacterID); err != nil {
			return err
		}

		for _, id := range batch.Delete {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM items WHERE character_id = ? AND id = ?`, batch.CharacterID, id)
			if err := expectOne(res, err, character.ErrItemNotFound, id); err != nil {
				return fmt.Errorf("failed to delete item: %w", err)
			}
		}
		for _, item := range batch.Update {
			data, err := encodeItem(item)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE items SET data = ? WHERE character_id = ? AND id = ?`, data, batch.CharacterID, item.ID)
			if err := expectOne(res, err, character.ErrItemNotFound, item.ID); err != nil {
				return fmt.Errorf("failed to update item: %w", err)
			}
		}
		for _, item := range batch.Create {
			if err := s.insertItem(ctx, tx, batch.CharacterID, -1, item); err != nil {
				return err
			}
		}
		for position, id := range batch.Order {
			if _, err := tx.ExecContext(ctx,
				`UPDATE items SET position = ? WHERE character_id = ? AND id = ?`, position, batch.CharacterID, id,
			); err != nil {
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

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) insertItem(ctx context.Context, tx *sql.Tx, characterID string, position int, item *character.Item) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO items (character_id, id, position, data) VALUES (?, ?, ?, ?)`,
		characterID, item.ID, position, data,
	); err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// expectOne turns a statement that matched no row into notFound.
func expectOne(res sql.Result, err error, notFound error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
