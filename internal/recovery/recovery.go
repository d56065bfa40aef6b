// Package recovery isolates recurring failures behind circuit breakers and
// attempts bounded, kind-specific recovery.
//
// Breakers are keyed by (component, error kind). A breaker opens after a
// configured number of recorded failures, fast-rejects recovery while open,
// admits a trial once the open timeout elapses, and closes only on an
// explicit successful recovery.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/types"
)

// Stats aggregates recovery activity for summaries.
type Stats struct {
	TotalErrors       uint64            `json:"total_errors"`
	ErrorsByKind      map[ErrorKind]int `json:"errors_by_kind"`
	RecoveryAttempts  uint64            `json:"recovery_attempts"`
	RecoverySuccesses uint64            `json:"recovery_successes"`
	SuccessRate       float64           `json:"success_rate"`
	OpenBreakers      int               `json:"open_breakers"`
}

// System records failures, manages breakers and dispatches recovery
// strategies. Safe for concurrent use.
type System struct {
	mu           sync.Mutex
	history      []ErrorEvent
	errorsByKind map[ErrorKind]int
	attempts     uint64
	successes    uint64
	totalErrors  uint64

	breakers   *BreakerRegistry
	strategies map[ErrorKind]RecoveryStrategy
	cfg        config.RecoveryConfig
	logger     *zap.Logger
}

// NewSystem creates a recovery system with the given strategies. Duplicate
// strategy kinds are rejected at construction.
func NewSystem(cfg config.RecoveryConfig, strategies []RecoveryStrategy, logger *zap.Logger) (*System, error) {
	log := logger.Named("recovery")

	byKind := make(map[ErrorKind]RecoveryStrategy, len(strategies))
	for _, s := range strategies {
		if _, dup := byKind[s.Kind()]; dup {
			return nil, fmt.Errorf("duplicate recovery strategy for kind %q", s.Kind())
		}
		byKind[s.Kind()] = s
	}

	return &System{
		history:      make([]ErrorEvent, 0, cfg.ErrorHistorySize),
		errorsByKind: make(map[ErrorKind]int),
		breakers:     NewBreakerRegistry(cfg.BreakerThreshold, cfg.BreakerTimeout, log),
		strategies:   byKind,
		cfg:          cfg,
		logger:       log,
	}, nil
}

// DefaultStrategies builds the standard strategy set. Any hook may be nil.
func DefaultStrategies(cfg config.RecoveryConfig, probe Probe, release, shed, repair Hook, logger *zap.Logger) []RecoveryStrategy {
	log := logger.Named("recovery")
	return []RecoveryStrategy{
		NewTimeoutStrategy(log),
		NewResourceExhaustionStrategy(release, log),
		NewConnectionFailureStrategy(probe, cfg.MaxRetries, cfg.RetryBaseDelay, log),
		NewProcessingOverloadStrategy(shed, log),
		NewDataCorruptionStrategy(repair, log),
	}
}

// Breakers exposes the registry for transition listeners.
func (s *System) Breakers() *BreakerRegistry {
	return s.breakers
}

// Record appends the failure to the bounded history and advances the
// breaker for (component, kind).
func (s *System) Record(kind ErrorKind, component, details string) {
	ev := ErrorEvent{
		Kind:      kind,
		Component: component,
		Details:   details,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	s.totalErrors++
	s.errorsByKind[kind]++
	s.history = append(s.history, ev)
	if len(s.history) > s.cfg.ErrorHistorySize {
		s.history = s.history[len(s.history)-s.cfg.ErrorHistorySize:]
	}
	s.mu.Unlock()

	if opened := s.breakers.RecordFailure(component, kind); opened {
		s.logger.Warn("Failure threshold reached",
			zap.String("component", component),
			zap.String("error_kind", string(kind)))
	}
}

// IsOpen reports whether the breaker for (component, kind) refuses calls.
func (s *System) IsOpen(component string, kind ErrorKind) bool {
	return s.breakers.IsOpen(component, kind)
}

// AttemptRecovery dispatches the strategy for kind unless the breaker is
// open. A successful recovery closes the breaker and clears its failures;
// a strategy failure or panic leaves breaker state untouched.
func (s *System) AttemptRecovery(ctx context.Context, kind ErrorKind, component, details string) types.RecoveryResult {
	start := time.Now()

	if s.breakers.IsOpen(component, kind) {
		return types.RecoveryResult{
			Success:  false,
			Reason:   ReasonBreakerOpen,
			Duration: time.Since(start),
		}
	}

	strategy, ok := s.strategies[kind]
	if !ok {
		return types.RecoveryResult{
			Success:  false,
			Reason:   ReasonNoStrategy,
			Duration: time.Since(start),
		}
	}

	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()

	ev := ErrorEvent{Kind: kind, Component: component, Details: details, Timestamp: start}
	err := s.runStrategy(ctx, strategy, ev)
	if err != nil {
		s.logger.Warn("Recovery failed",
			zap.String("component", component),
			zap.String("error_kind", string(kind)),
			zap.Error(err))
		return types.RecoveryResult{
			Success:  false,
			Reason:   ReasonRecoveryFailed,
			Attempts: 1,
			Duration: time.Since(start),
		}
	}

	s.breakers.Reset(component, kind)
	s.mu.Lock()
	s.successes++
	s.mu.Unlock()

	s.logger.Info("Recovered from failure",
		zap.String("component", component),
		zap.String("error_kind", string(kind)),
		zap.Duration("took", time.Since(start)))

	return types.RecoveryResult{
		Success:  true,
		Reason:   ReasonRecovered,
		Attempts: 1,
		Duration: time.Since(start),
	}
}

// runStrategy invokes the strategy, converting a panic into an error so a
// misbehaving strategy cannot take down the control loop.
func (s *System) runStrategy(ctx context.Context, strategy RecoveryStrategy, ev ErrorEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery strategy for %s panicked: %v", ev.Kind, r)
		}
	}()
	return strategy.Recover(ctx, ev)
}

// Handle records the failure and immediately attempts recovery.
func (s *System) Handle(ctx context.Context, kind ErrorKind, component, details string) types.RecoveryResult {
	s.Record(kind, component, details)
	return s.AttemptRecovery(ctx, kind, component, details)
}

// Stats returns aggregate recovery statistics.
func (s *System) Stats() Stats {
	s.mu.Lock()
	byKind := make(map[ErrorKind]int, len(s.errorsByKind))
	for kind, n := range s.errorsByKind {
		byKind[kind] = n
	}
	stats := Stats{
		TotalErrors:       s.totalErrors,
		ErrorsByKind:      byKind,
		RecoveryAttempts:  s.attempts,
		RecoverySuccesses: s.successes,
	}
	s.mu.Unlock()

	if stats.RecoveryAttempts > 0 {
		stats.SuccessRate = float64(stats.RecoverySuccesses) / float64(stats.RecoveryAttempts)
	}
	stats.OpenBreakers = s.breakers.OpenCount()
	return stats
}

// History returns a copy of the recorded failures, oldest first.
func (s *System) History() []ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErrorEvent, len(s.history))
	copy(out, s.history)
	return out
}
