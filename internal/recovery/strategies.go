package recovery

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// RecoveryStrategy repairs one kind of failure. Implementations must honor
// context cancellation during any wait.
type RecoveryStrategy interface {
	// Kind returns the error kind this strategy handles
	Kind() ErrorKind
	// Recover attempts to repair the failure described by ev
	Recover(ctx context.Context, ev ErrorEvent) error
}

// Probe checks whether a failed dependency is reachable again.
type Probe func(ctx context.Context, ev ErrorEvent) error

// Hook performs a side effect during recovery, such as shedding load or
// releasing cached memory.
type Hook func(ctx context.Context, ev ErrorEvent) error

// TimeoutStrategy handles timed-out operations. Timeouts are transient by
// nature; recovery succeeds once the component is given breathing room.
type TimeoutStrategy struct {
	logger *zap.Logger
}

func NewTimeoutStrategy(logger *zap.Logger) *TimeoutStrategy {
	return &TimeoutStrategy{logger: logger}
}

func (s *TimeoutStrategy) Kind() ErrorKind { return KindTimeout }

func (s *TimeoutStrategy) Recover(ctx context.Context, ev ErrorEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Debug("Cleared timeout condition", zap.String("component", ev.Component))
	return nil
}

// ResourceExhaustionStrategy releases memory pressure. It invokes the
// optional release hook (e.g. a cache reset) and forces a garbage collection.
type ResourceExhaustionStrategy struct {
	release Hook
	logger  *zap.Logger
}

func NewResourceExhaustionStrategy(release Hook, logger *zap.Logger) *ResourceExhaustionStrategy {
	return &ResourceExhaustionStrategy{release: release, logger: logger}
}

func (s *ResourceExhaustionStrategy) Kind() ErrorKind { return KindResourceExhaustion }

func (s *ResourceExhaustionStrategy) Recover(ctx context.Context, ev ErrorEvent) error {
	if s.release != nil {
		if err := s.release(ctx, ev); err != nil {
			return fmt.Errorf("releasing resources for %s: %w", ev.Component, err)
		}
	}
	runtime.GC()
	s.logger.Info("Released resources", zap.String("component", ev.Component))
	return nil
}

// ConnectionFailureStrategy retries a connectivity probe with exponential
// backoff: base, 2x base, 4x base, ... up to maxRetries attempts. The wait
// is cancellable; cancellation returns the context error without losing
// breaker state.
type ConnectionFailureStrategy struct {
	probe      Probe
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

func NewConnectionFailureStrategy(probe Probe, maxRetries int, baseDelay time.Duration, logger *zap.Logger) *ConnectionFailureStrategy {
	if probe == nil {
		probe = func(ctx context.Context, ev ErrorEvent) error { return nil }
	}
	return &ConnectionFailureStrategy{
		probe:      probe,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

func (s *ConnectionFailureStrategy) Kind() ErrorKind { return KindConnectionFailure }

func (s *ConnectionFailureStrategy) Recover(ctx context.Context, ev ErrorEvent) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		delay := s.baseDelay * (1 << attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if lastErr = s.probe(ctx, ev); lastErr == nil {
			s.logger.Info("Connection restored",
				zap.String("component", ev.Component),
				zap.Int("attempt", attempt+1))
			return nil
		}
		s.logger.Warn("Connection probe failed",
			zap.String("component", ev.Component),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("connection to %s not restored after %d attempts: %w", ev.Component, s.maxRetries, lastErr)
}

// ProcessingOverloadStrategy sheds load from the overloaded component via
// the optional shed hook.
type ProcessingOverloadStrategy struct {
	shed   Hook
	logger *zap.Logger
}

func NewProcessingOverloadStrategy(shed Hook, logger *zap.Logger) *ProcessingOverloadStrategy {
	return &ProcessingOverloadStrategy{shed: shed, logger: logger}
}

func (s *ProcessingOverloadStrategy) Kind() ErrorKind { return KindProcessingOverload }

func (s *ProcessingOverloadStrategy) Recover(ctx context.Context, ev ErrorEvent) error {
	if s.shed != nil {
		if err := s.shed(ctx, ev); err != nil {
			return fmt.Errorf("shedding load from %s: %w", ev.Component, err)
		}
	}
	s.logger.Info("Shed processing load", zap.String("component", ev.Component))
	return nil
}

// DataCorruptionStrategy refuses automatic repair unless a repair hook is
// provided. Corrupted data must not be silently "recovered".
type DataCorruptionStrategy struct {
	repair Hook
	logger *zap.Logger
}

func NewDataCorruptionStrategy(repair Hook, logger *zap.Logger) *DataCorruptionStrategy {
	return &DataCorruptionStrategy{repair: repair, logger: logger}
}

func (s *DataCorruptionStrategy) Kind() ErrorKind { return KindDataCorruption }

func (s *DataCorruptionStrategy) Recover(ctx context.Context, ev ErrorEvent) error {
	if s.repair == nil {
		return fmt.Errorf("data corruption in %s: %w", ev.Component, ErrManualInterventionRequired)
	}
	if err := s.repair(ctx, ev); err != nil {
		return fmt.Errorf("repairing %s: %w", ev.Component, err)
	}
	s.logger.Warn("Repaired corrupted data", zap.String("component", ev.Component))
	return nil
}
