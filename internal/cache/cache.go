// Package cache provides the bounded result cache observed by the
// optimization loop. Embedding applications memoize expensive work here;
// the optimizer only reads hit-rate statistics and resets the cache when an
// optimize-cache action executes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
)

// ErrNotFound indicates the key is absent or evicted.
var ErrNotFound = errors.New("cache entry not found")

// Stats summarizes cache effectiveness for the cache analyzer.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Lookups int64   `json:"lookups"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
	Resets  uint64  `json:"resets"`
}

// ResultCache wraps bigcache with reset tracking. Resets may arrive from the
// optimization cycle and from recovery hooks concurrently.
type ResultCache struct {
	cache  *bigcache.BigCache
	resets atomic.Uint64
	logger *zap.Logger
}

// New creates a result cache sized per cfg.
func New(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (*ResultCache, error) {
	bcfg := bigcache.DefaultConfig(cfg.LifeWindow)
	bcfg.Shards = cfg.Shards
	bcfg.HardMaxCacheSize = cfg.MaxSizeMB
	bcfg.Verbose = false

	bc, err := bigcache.New(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	return &ResultCache{
		cache:  bc,
		logger: logger.Named("cache"),
	}, nil
}

// Get returns the cached value for key, or ErrNotFound.
func (c *ResultCache) Get(key string) ([]byte, error) {
	value, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key.
func (c *ResultCache) Set(key string, value []byte) error {
	if err := c.cache.Set(key, value); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Reset drops every entry. Hit and miss counters are cumulative across
// resets; the reset count lets observers correlate rate changes.
func (c *ResultCache) Reset() error {
	if err := c.cache.Reset(); err != nil {
		return fmt.Errorf("cache reset: %w", err)
	}
	c.logger.Info("Result cache reset", zap.Uint64("resets", c.resets.Add(1)))
	return nil
}

// Stats returns hit-rate statistics.
func (c *ResultCache) Stats() Stats {
	bs := c.cache.Stats()
	stats := Stats{
		Hits:    bs.Hits,
		Misses:  bs.Misses,
		Lookups: bs.Hits + bs.Misses,
		Entries: c.cache.Len(),
		Resets:  c.resets.Load(),
	}
	if stats.Lookups > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Lookups)
	}
	return stats
}

// Close releases the cache's resources.
func (c *ResultCache) Close() error {
	return c.cache.Close()
}
