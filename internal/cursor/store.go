// Package cursor persists one opaque sync token per member, the only
// durable state the engine keeps. Losing a cursor is safe (the next run
// falls back to a windowed fetch); persisting a torn one is not, so writes
// are single upsert statements.
package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS cursors (
	member     TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Store is a sqlite-backed cursor store keyed by member address.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cursor database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL so a reader never observes a half-written row.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cursor database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the member's cursor, with found=false when none was ever
// persisted.
func (s *Store) Get(ctx context.Context, member string) (token string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT token FROM cursors WHERE member = ?", member).Scan(&token)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load cursor for %s: %w", member, err)
	}
	return token, true, nil
}

// Put overwrites the member's cursor. The upsert is atomic per key; a failed
// Put leaves the previous cursor in place.
func (s *Store) Put(ctx context.Context, member, token string) error {
	if token == "" {
		return fmt.Errorf("refusing to persist empty cursor for %s", member)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (member, token, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(member) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		member, token)
	if err != nil {
		return fmt.Errorf("failed to persist cursor for %s: %w", member, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
