package sqlstate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"tariffcore/internal/infra/persistence/memory"
	"tariffcore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Store serves reads from the embedded memory store and writes the full state
// to SQL after every successful mutation. Writes are serialized.
type Store struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// Open ensures the schema exists and hydrates a memory store from db.
func Open(ctx context.Context, db *sql.DB, d Dialect, opts ...memory.Option) (*Store, error) {
	if err := EnsureSchema(ctx, db, d); err != nil {
		return nil, err
	}
	snap, err := Load(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(opts...)
	mem.ImportState(snap)
	return &Store{Store: mem, db: db, dialect: d}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// write applies fn to the memory store and saves the result. When the save
// fails the memory store is restored to the state fn started from, so a
// retry sees the same data as the database.
func (s *Store) write(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	if err := fn(); err != nil {
		return err
	}
	if err := Save(ctx, s.db, s.dialect, s.ExportState()); err != nil {
		s.ImportState(before)
		return fmt.Errorf("persist %s state: %w", s.dialect.Name, err)
	}
	return nil
}

// CreateWorkbasket creates the workbasket and persists it.
func (s *Store) CreateWorkbasket(ctx context.Context, wb domain.Workbasket) (domain.Workbasket, error) {
	var out domain.Workbasket
	err := s.write(ctx, func() (err error) {
		out, err = s.Store.CreateWorkbasket(ctx, wb)
		return err
	})
	return out, err
}

// TransitionWorkbasket applies the event and persists the result.
func (s *Store) TransitionWorkbasket(ctx context.Context, id int64, event domain.WorkbasketEvent) (domain.Workbasket, error) {
	var out domain.Workbasket
	err := s.write(ctx, func() (err error) {
		out, err = s.Store.TransitionWorkbasket(ctx, id, event)
		return err
	})
	return out, err
}

// NewTransaction appends a transaction and persists it.
func (s *Store) NewTransaction(ctx context.Context, workbasketID int64) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.write(ctx, func() (err error) {
		out, err = s.Store.NewTransaction(ctx, workbasketID)
		return err
	})
	return out, err
}

// Edit stages versions and persists them once the edit succeeds.
func (s *Store) Edit(ctx context.Context, transactionID int64, fn func(domain.Editor) error) error {
	return s.write(ctx, func() error {
		return s.Store.Edit(ctx, transactionID, fn)
	})
}

// RecordCheck appends the check and its verdicts and persists them.
func (s *Store) RecordCheck(ctx context.Context, check domain.TransactionCheck, verdicts []domain.Verdict) (domain.TransactionCheck, error) {
	var out domain.TransactionCheck
	err := s.write(ctx, func() (err error) {
		out, err = s.Store.RecordCheck(ctx, check, verdicts)
		return err
	})
	return out, err
}
