package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/forum-sync/internal/domain"
	"github.com/blackmichael/forum-sync/internal/metrics"
	"github.com/blackmichael/forum-sync/internal/ttlcache"
)

// ErrUnavailable is returned when a list could not be fetched and nothing
// is cached.
var ErrUnavailable = errors.New("catalog unavailable")

// Source fetches catalog lists.
type Source interface {
	ListPackages(ctx context.Context) ([]domain.Package, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
}

// Options sets the lifetimes of the cached lists.
type Options struct {
	PackagesTTL time.Duration
	ItemsTTL    time.Duration
	Metrics     metrics.Recorder
}

// Catalog serves cached catalog lists.
type Catalog struct {
	src      Source
	logger   *slog.Logger
	metrics  metrics.Recorder
	packages *ttlcache.Cache[string, []domain.Package]
	items    *ttlcache.Cache[string, []domain.Item]
}

const listKey = "all"

// New creates a catalog reading from src. now supplies the current time.
func New(src Source, opts Options, now func() time.Time, logger *slog.Logger) *Catalog {
	if opts.PackagesTTL <= 0 {
		opts.PackagesTTL = time.Hour
	}
	if opts.ItemsTTL <= 0 {
		opts.ItemsTTL = 10 * time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Catalog{
		src:      src,
		logger:   logger,
		metrics:  opts.Metrics,
		packages: ttlcache.New[string, []domain.Package](opts.PackagesTTL, now),
		items:    ttlcache.New[string, []domain.Item](opts.ItemsTTL, now),
	}
}

// Packages returns the coin packages on sale.
func (c *Catalog) Packages(ctx context.Context) ([]domain.Package, error) {
	return read(ctx, c, "packages", c.packages, c.src.ListPackages)
}

// Items returns the items purchasable with coins.
func (c *Catalog) Items(ctx context.Context) ([]domain.Item, error) {
	return read(ctx, c, "items", c.items, c.src.ListItems)
}

// Invalidate forces the next reads of both lists to fetch.
func (c *Catalog) Invalidate() {
	c.packages.Invalidate(listKey)
	c.items.Invalidate(listKey)
}

func read[V any](ctx context.Context, c *Catalog, name string, cache *ttlcache.Cache[string, []V], fetch func(context.Context) ([]V, error)) ([]V, error) {
	if v, ok := cache.Get(listKey); ok {
		c.metrics.CacheRead(name, "hit")
		return v, nil
	}

	v, err := fetch(ctx)
	if err == nil {
		cache.Set(listKey, v)
		c.metrics.CacheRead(name, "miss")
		return v, nil
	}

	if e, ok := cache.Peek(listKey); ok {
		c.metrics.CacheRead(name, "stale")
		c.logger.Warn("serving stale catalog", "list", name, "fetched_at", e.FetchedAt, "error", err)
		return e.Value, nil
	}
	c.metrics.CacheRead(name, "unavailable")
	return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
}
