package core

import (
	"context"
	"fmt"
	"time"

	"tariffcore/internal/config"
	"tariffcore/internal/infra/persistence/memory"
	"tariffcore/internal/infra/persistence/postgres"
	"tariffcore/internal/infra/persistence/sqlite"
	"tariffcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.StorageMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.StorageSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.StoragePostgres // PostgreSQL server
)

// OpenPersistentStore selects a backend from the storage configuration.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, now func() time.Time) (domain.PersistentStore, error) {
	var opts []memory.Option
	if now != nil {
		opts = append(opts, memory.WithClock(now))
	}
	switch StorageDriver(cfg.Driver) {
	case StorageMemory, "":
		return memory.NewStore(opts...), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath, opts...)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
