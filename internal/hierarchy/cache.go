package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"tariffcore/pkg/domain"
)

// DefaultCacheSize is the number of snapshots kept when no size is configured.
const DefaultCacheSize = 128

type cacheKey struct {
	prefix        string
	transactionID int64
	revision      int64
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s@%d/%d", k.prefix, k.transactionID, k.revision)
}

// Cache shares built snapshots per (prefix, transaction). Entries are keyed by
// the store revision too, so a snapshot is never served after the data it was
// built from has changed. Concurrent requests for the same key build once.
type Cache struct {
	entries *lru.Cache[cacheKey, *Snapshot]
	group   singleflight.Group
	logger  *slog.Logger
	onBuild func(*Snapshot)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger used to report inconsistencies found while building.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBuildHook registers a callback invoked once per freshly built snapshot.
func WithBuildHook(fn func(*Snapshot)) CacheOption {
	return func(c *Cache) { c.onBuild = fn }
}

// NewCache constructs a cache holding up to size snapshots.
func NewCache(size int, opts ...CacheOption) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[cacheKey, *Snapshot](size)
	if err != nil {
		return nil, fmt.Errorf("hierarchy cache: %w", err)
	}
	c := &Cache{entries: entries, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Snapshot returns the tree for prefix as of the view's transaction.
func (c *Cache) Snapshot(ctx context.Context, view domain.RuleView, prefix string) (*Snapshot, error) {
	key := cacheKey{prefix: prefix, transactionID: view.Transaction().ID, revision: view.Revision()}
	if snap, ok := c.entries.Get(key); ok {
		return snap, nil
	}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if snap, ok := c.entries.Get(key); ok {
			return snap, nil
		}
		snap, err := Build(ctx, view, prefix)
		if err != nil {
			return nil, err
		}
		for _, inc := range snap.Inconsistencies() {
			c.logger.Warn("hierarchy inconsistency",
				"item_id", inc.ItemID,
				"suffix", inc.Suffix,
				"period", inc.Period.String(),
				"reason", inc.Reason,
				"transaction_id", key.transactionID,
			)
		}
		if c.onBuild != nil {
			c.onBuild(snap)
		}
		c.entries.Add(key, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int { return c.entries.Len() }

// Purge drops every cached snapshot.
func (c *Cache) Purge() { c.entries.Purge() }
