// Package metrics provides load snapshot sources for the optimization loop.
//
// A Source produces MetricsSnapshot values. The coordinator never calls a
// source directly; it wraps it in a TimeoutSource so a stuck sampler cannot
// stall a cycle.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adaptix/perf-manager/internal/types"
)

// ErrSampleTimeout indicates a sample did not complete within its deadline.
var ErrSampleTimeout = errors.New("metrics sample timed out")

// Source supplies point-in-time load snapshots.
type Source = types.MetricsSource

// TimeoutSource bounds each Sample call of the wrapped source.
type TimeoutSource struct {
	inner   Source
	timeout time.Duration
}

// NewTimeoutSource wraps source so Sample returns ErrSampleTimeout when the
// inner source does not answer within timeout.
func NewTimeoutSource(source Source, timeout time.Duration) *TimeoutSource {
	return &TimeoutSource{inner: source, timeout: timeout}
}

// Sample collects a snapshot from the wrapped source under a deadline.
func (t *TimeoutSource) Sample(ctx context.Context) (types.MetricsSnapshot, error) {
	sampleCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		snapshot types.MetricsSnapshot
		err      error
	}

	// Buffered so a late inner Sample does not leak its goroutine forever
	// blocked on send.
	ch := make(chan result, 1)
	go func() {
		snapshot, err := t.inner.Sample(sampleCtx)
		ch <- result{snapshot: snapshot, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return types.MetricsSnapshot{}, fmt.Errorf("sampling failed: %w", r.err)
		}
		return r.snapshot, nil
	case <-sampleCtx.Done():
		if errors.Is(sampleCtx.Err(), context.DeadlineExceeded) {
			return types.MetricsSnapshot{}, fmt.Errorf("%w after %s", ErrSampleTimeout, t.timeout)
		}
		return types.MetricsSnapshot{}, sampleCtx.Err()
	}
}
