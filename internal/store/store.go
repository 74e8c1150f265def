// Package store persists the last door and motion change times in SQLite so
// the status page survives a restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/sweeney/pirage/internal/garage"
)

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	connectionTimeout = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS garage_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	last_door_change INTEGER,
	last_motion      INTEGER,
	updated_at       INTEGER NOT NULL
)`

// Store reads and writes garage.History.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	_ = os.Chmod(path, filePermissions)

	return &Store{db: db, path: path}, nil
}

// Load returns the saved history. A database with no saved state yields an
// empty History.
func (s *Store) Load(ctx context.Context) (garage.History, error) {
	var door, motion sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_door_change, last_motion FROM garage_state WHERE id = 1`,
	).Scan(&door, &motion)
	if errors.Is(err, sql.ErrNoRows) {
		return garage.History{}, nil
	}
	if err != nil {
		return garage.History{}, fmt.Errorf("loading state: %w", err)
	}
	return garage.History{
		LastDoorChange: fromNull(door),
		LastMotion:     fromNull(motion),
	}, nil
}

// Save replaces the saved history.
func (s *Store) Save(ctx context.Context, h garage.History) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO garage_state (id, last_door_change, last_motion, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_door_change = excluded.last_door_change,
			last_motion      = excluded.last_motion,
			updated_at       = excluded.updated_at`,
		toNull(h.LastDoorChange), toNull(h.LastMotion), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Times are stored as Unix milliseconds.
func toNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
