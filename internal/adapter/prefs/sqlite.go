// Package prefs persists the user's bot and conversation selection.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatline/internal/domain"
)

const (
	keyBotID          = "bot_id"
	keyConversationID = "conversation_id"
)

// SQLiteStore implements domain.Preferences as a key/value table in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath, creating its
// parent directory, and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create state dir: %w", domain.ErrPreferences, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open state db: %w", domain.ErrPreferences, err)
	}
	// WAL mode for concurrent readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %w", domain.ErrPreferences, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate state db: %w", domain.ErrPreferences, err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS preferences (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements domain.Preferences. A fresh database yields a zero Selection.
func (s *SQLiteStore) Load(ctx context.Context) (domain.Selection, error) {
	var sel domain.Selection
	var err error
	if sel.BotID, err = s.get(ctx, keyBotID); err != nil {
		return domain.Selection{}, err
	}
	if sel.ConversationID, err = s.get(ctx, keyConversationID); err != nil {
		return domain.Selection{}, err
	}
	return sel, nil
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", domain.ErrPreferences, key, err)
	}
	return value, nil
}

// Save implements domain.Preferences. Both keys are written in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, sel domain.Selection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrPreferences, err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, kv := range [][2]string{{keyBotID, sel.BotID}, {keyConversationID, sel.ConversationID}} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			kv[0], kv[1], now,
		)
		if err != nil {
			return fmt.Errorf("%w: write %s: %w", domain.ErrPreferences, kv[0], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrPreferences, err)
	}
	return nil
}

var _ domain.Preferences = (*SQLiteStore)(nil)
