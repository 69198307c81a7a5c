package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tariffcore/internal/blob"
	blobcore "tariffcore/internal/blob/core"
	"tariffcore/internal/config"
	"tariffcore/internal/core"
	"tariffcore/internal/hierarchy"
	"tariffcore/internal/rulerun"
	"tariffcore/pkg/domain"
)

// App is the wired tariffcore stack behind one command invocation.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    domain.PersistentStore
	Archive  blobcore.Store
	Service  *core.Service
	Checker  *rulerun.Checker
	Registry *prometheus.Registry
}

// Open wires the store, archive, hierarchy cache, rule registry and checker
// described by cfg.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := core.OpenPersistentStore(ctx, cfg.Storage, func() time.Time { return time.Now().UTC() })
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	app := &App{Config: cfg, Logger: logger, Store: store, Registry: prometheus.NewRegistry()}

	app.Archive, err = blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open %s archive: %w", cfg.Blob.Driver, err), app.Close())
	}
	metrics := rulerun.NewMetrics(app.Registry)
	cache, err := hierarchy.NewCache(cfg.Hierarchy.CacheSize,
		hierarchy.WithLogger(logger),
		hierarchy.WithBuildHook(metrics.HierarchyBuildHook()))
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}
	registry, err := core.NewDefaultRegistry(cache, cfg.Check.Warn...)
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}
	app.Checker = rulerun.NewChecker(store, registry,
		rulerun.WithLogger(logger),
		rulerun.WithArchive(app.Archive),
		rulerun.WithMetrics(metrics),
		rulerun.WithWorkers(cfg.Check.Workers))
	app.Service = core.NewService(store, registry,
		core.WithLogger(logger),
		core.WithHierarchyCache(cache),
		core.WithApprovalGate(app.Checker))
	return app, nil
}

// Close releases the store when it holds a database handle.
func (a *App) Close() error {
	if closer, ok := a.Store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WriteMetrics writes the run metrics in the Prometheus text format, for the
// node_exporter textfile collector.
func (a *App) WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, a.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
