// Package sqlite persists the version store to a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tariffcore/internal/infra/persistence/memory"
	"tariffcore/internal/infra/persistence/sqlstate"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "tariffcore.db"

// Store persists the in-memory state to SQLite after every mutation.
type Store struct {
	*sqlstate.Store
	path string
}

// NewStore opens (or creates) the SQLite database at path and loads its state.
func NewStore(ctx context.Context, path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	st, err := sqlstate.Open(ctx, db, sqlstate.SQLite, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: st, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
