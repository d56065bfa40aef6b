package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
)

func newTestCache(t *testing.T) *ResultCache {
	t.Helper()
	c, err := New(context.Background(), config.CacheConfig{
		LifeWindow: time.Minute,
		Shards:     16,
		MaxSizeMB:  8,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t)

	if _, err := c.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := c.Set("valuation:prop-42", []byte(`{"value":375000}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := c.Get("valuation:prop-42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"value":375000}` {
		t.Errorf("Get() = %s, want stored value", got)
	}
}

func TestStatsTrackHitRate(t *testing.T) {
	c := newTestCache(t)

	if err := c.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	c.Get("k")       // hit
	c.Get("k")       // hit
	c.Get("absent")  // miss
	c.Get("absent2") // miss

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("hits/misses = %d/%d, want 2/2", stats.Hits, stats.Misses)
	}
	if stats.Lookups != 4 {
		t.Errorf("lookups = %d, want 4", stats.Lookups)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %.2f, want 0.50", stats.HitRate)
	}
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
}

func TestReset(t *testing.T) {
	c := newTestCache(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(key, []byte("v")); err != nil {
			t.Fatalf("Set(%s) error = %v", key, err)
		}
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	stats := c.Stats()
	if stats.Entries != 0 {
		t.Errorf("entries after reset = %d, want 0", stats.Entries)
	}
	if stats.Resets != 1 {
		t.Errorf("resets = %d, want 1", stats.Resets)
	}
	if _, err := c.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after reset error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentResetAndStats(t *testing.T) {
	c := newTestCache(t)

	const workers = 4
	const resetsPerWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < resetsPerWorker; j++ {
				if err := c.Reset(); err != nil {
					t.Errorf("Reset() error = %v", err)
					return
				}
				c.Stats()
			}
		}()
	}
	wg.Wait()

	if got := c.Stats().Resets; got != workers*resetsPerWorker {
		t.Errorf("resets = %d, want %d", got, workers*resetsPerWorker)
	}
}
