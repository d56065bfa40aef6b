package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
)

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		BreakerThreshold: 5,
		BreakerTimeout:   300 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   time.Second,
		ErrorHistorySize: 1000,
	}
}

func newTestSystem(t *testing.T, cfg config.RecoveryConfig, strategies []RecoveryStrategy) *System {
	t.Helper()
	if strategies == nil {
		strategies = DefaultStrategies(cfg, nil, nil, nil, nil, zap.NewNop())
	}
	sys, err := NewSystem(cfg, strategies, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSystem() error = %v", err)
	}
	return sys
}

func TestBreakerOpensOnFifthFailure(t *testing.T) {
	sys := newTestSystem(t, testRecoveryConfig(), nil)

	for i := 1; i <= 4; i++ {
		sys.Record(KindTimeout, "agentA", "deadline exceeded")
		if sys.IsOpen("agentA", KindTimeout) {
			t.Fatalf("breaker open after %d failures, want closed until 5", i)
		}
	}

	sys.Record(KindTimeout, "agentA", "deadline exceeded")
	if !sys.IsOpen("agentA", KindTimeout) {
		t.Error("breaker closed after 5th failure, want open")
	}

	// Other keys are unaffected.
	if sys.IsOpen("agentB", KindTimeout) {
		t.Error("breaker for different component opened")
	}
	if sys.IsOpen("agentA", KindConnectionFailure) {
		t.Error("breaker for different error kind opened")
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.BreakerTimeout = 30 * time.Millisecond
	sys := newTestSystem(t, cfg, nil)

	for i := 0; i < cfg.BreakerThreshold; i++ {
		sys.Record(KindTimeout, "agentA", "")
	}
	if !sys.IsOpen("agentA", KindTimeout) {
		t.Fatal("breaker should be open")
	}

	time.Sleep(cfg.BreakerTimeout + 20*time.Millisecond)

	// Past the timeout the breaker admits a trial call.
	if sys.IsOpen("agentA", KindTimeout) {
		t.Error("breaker still open past timeout, want half-open trial")
	}
	// Half-open keeps admitting until an explicit close or reopen.
	if sys.IsOpen("agentA", KindTimeout) {
		t.Error("half-open breaker refused a second check")
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.BreakerTimeout = 20 * time.Millisecond
	sys := newTestSystem(t, cfg, nil)

	for i := 0; i < cfg.BreakerThreshold; i++ {
		sys.Record(KindTimeout, "agentA", "")
	}
	time.Sleep(cfg.BreakerTimeout + 20*time.Millisecond)
	if sys.IsOpen("agentA", KindTimeout) {
		t.Fatal("breaker should be half-open past the timeout")
	}

	// The trial failed: one more failure reopens immediately.
	sys.Record(KindTimeout, "agentA", "")
	if !sys.IsOpen("agentA", KindTimeout) {
		t.Error("breaker stayed half-open after a renewed failure")
	}
}

func TestTransitionListenerCanReenterRegistry(t *testing.T) {
	sys := newTestSystem(t, testRecoveryConfig(), nil)

	var transitions []BreakerState
	sys.Breakers().OnTransition(func(component string, kind ErrorKind, from, to BreakerState) {
		// Listeners run outside the registry lock, so querying it back is fine.
		sys.Stats()
		transitions = append(transitions, to)
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			sys.Record(KindTimeout, "agentA", "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recording failures blocked; listener deadlocked against the registry")
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("transitions = %v, want a single open transition", transitions)
	}
}

func TestRecoveryRefusedWhileOpen(t *testing.T) {
	sys := newTestSystem(t, testRecoveryConfig(), nil)

	for i := 0; i < 5; i++ {
		sys.Record(KindTimeout, "agentA", "")
	}

	result := sys.AttemptRecovery(context.Background(), KindTimeout, "agentA", "")
	if result.Success {
		t.Fatal("recovery succeeded while breaker open")
	}
	if result.Reason != ReasonBreakerOpen {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonBreakerOpen)
	}
}

func TestRecoveryUnknownKind(t *testing.T) {
	sys := newTestSystem(t, testRecoveryConfig(), nil)

	result := sys.AttemptRecovery(context.Background(), ErrorKind("cosmic_rays"), "agentA", "")
	if result.Success {
		t.Fatal("recovery succeeded for unknown kind")
	}
	if result.Reason != ReasonNoStrategy {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonNoStrategy)
	}
}

func TestSuccessfulRecoveryClosesBreaker(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.BreakerTimeout = 10 * time.Millisecond
	sys := newTestSystem(t, cfg, nil)

	for i := 0; i < 5; i++ {
		sys.Record(KindTimeout, "agentA", "")
	}
	time.Sleep(cfg.BreakerTimeout + 10*time.Millisecond)

	result := sys.AttemptRecovery(context.Background(), KindTimeout, "agentA", "")
	if !result.Success {
		t.Fatalf("recovery failed: %s", result.Reason)
	}
	if result.Reason != ReasonRecovered {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonRecovered)
	}

	// Breaker closed with failures reset: four more failures stay closed.
	for i := 0; i < 4; i++ {
		sys.Record(KindTimeout, "agentA", "")
	}
	if sys.IsOpen("agentA", KindTimeout) {
		t.Error("breaker reopened before reaching the threshold again")
	}
	sys.Record(KindTimeout, "agentA", "")
	if !sys.IsOpen("agentA", KindTimeout) {
		t.Error("breaker did not reopen at the threshold after reset")
	}
}

type failingStrategy struct{ kind ErrorKind }

func (f failingStrategy) Kind() ErrorKind { return f.kind }
func (f failingStrategy) Recover(ctx context.Context, ev ErrorEvent) error {
	return errors.New("still broken")
}

type panickingStrategy struct{ kind ErrorKind }

func (p panickingStrategy) Kind() ErrorKind { return p.kind }
func (p panickingStrategy) Recover(ctx context.Context, ev ErrorEvent) error {
	panic("strategy bug")
}

func TestStrategyFailureLeavesBreakerUntouched(t *testing.T) {
	sys := newTestSystem(t, testRecoveryConfig(), []RecoveryStrategy{failingStrategy{KindTimeout}})

	sys.Record(KindTimeout, "agentA", "")
	sys.Record(KindTimeout, "agentA", "")

	result := sys.AttemptRecovery(context.Background(), KindTimeout, "agentA", "")
	if result.Success {
		t.Fatal("failing strategy reported success")
	}
	if result.Reason != ReasonRecoveryFailed {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonRecoveryFailed)
	}

	// Failure count preserved: three more failures open the breaker.
	sys.Record(KindTimeout, "agentA", "")
	sys.Record(KindTimeout, "agentA", "")
	sys.Record(KindTimeout, "agentA", "")
	if !sys.IsOpen("agentA", KindTimeout) {
		t.Error("failed recovery reset the failure count")
	}
}

func TestStrategyPanicIsCaught(t *testing.T) {
	sys := newTestSystem(t, testRecoveryConfig(), []RecoveryStrategy{panickingStrategy{KindTimeout}})

	result := sys.AttemptRecovery(context.Background(), KindTimeout, "agentA", "")
	if result.Success {
		t.Fatal("panicking strategy reported success")
	}
	if result.Reason != ReasonRecoveryFailed {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonRecoveryFailed)
	}
}

func TestConnectionFailureBackoffDelays(t *testing.T) {
	base := 10 * time.Millisecond
	var attempts []time.Time
	probe := func(ctx context.Context, ev ErrorEvent) error {
		attempts = append(attempts, time.Now())
		return errors.New("unreachable")
	}
	strategy := NewConnectionFailureStrategy(probe, 3, base, zap.NewNop())

	start := time.Now()
	err := strategy.Recover(context.Background(), ErrorEvent{Kind: KindConnectionFailure, Component: "db"})
	if err == nil {
		t.Fatal("Recover() succeeded with an always-failing probe")
	}
	if len(attempts) != 3 {
		t.Fatalf("probe called %d times, want 3", len(attempts))
	}

	// Delays before each attempt: base, 2*base, 4*base.
	wantOffsets := []time.Duration{base, 3 * base, 7 * base}
	for i, at := range attempts {
		offset := at.Sub(start)
		if offset < wantOffsets[i] {
			t.Errorf("attempt %d at +%s, want at least +%s", i+1, offset, wantOffsets[i])
		}
	}
	if total := time.Since(start); total > time.Second {
		t.Errorf("backoff took %s, expected well under a second", total)
	}
}

func TestConnectionFailureBackoffCancellable(t *testing.T) {
	strategy := NewConnectionFailureStrategy(func(ctx context.Context, ev ErrorEvent) error {
		return errors.New("unreachable")
	}, 3, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- strategy.Recover(ctx, ErrorEvent{Kind: KindConnectionFailure})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Recover() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Recover() did not return after cancellation")
	}
}

func TestConnectionFailureSucceedsAfterRetry(t *testing.T) {
	calls := 0
	probe := func(ctx context.Context, ev ErrorEvent) error {
		calls++
		if calls < 2 {
			return errors.New("unreachable")
		}
		return nil
	}
	strategy := NewConnectionFailureStrategy(probe, 3, time.Millisecond, zap.NewNop())

	if err := strategy.Recover(context.Background(), ErrorEvent{}); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("probe called %d times, want 2", calls)
	}
}

func TestDataCorruptionRequiresRepairHook(t *testing.T) {
	strategy := NewDataCorruptionStrategy(nil, zap.NewNop())
	err := strategy.Recover(context.Background(), ErrorEvent{Component: "ledger"})
	if !errors.Is(err, ErrManualInterventionRequired) {
		t.Errorf("Recover() error = %v, want ErrManualInterventionRequired", err)
	}

	repaired := false
	strategy = NewDataCorruptionStrategy(func(ctx context.Context, ev ErrorEvent) error {
		repaired = true
		return nil
	}, zap.NewNop())
	if err := strategy.Recover(context.Background(), ErrorEvent{}); err != nil {
		t.Errorf("Recover() with repair hook error = %v", err)
	}
	if !repaired {
		t.Error("repair hook not invoked")
	}
}

func TestStats(t *testing.T) {
	sys := newTestSystem(t, testRecoveryConfig(), nil)

	sys.Record(KindTimeout, "agentA", "")
	sys.Record(KindTimeout, "agentA", "")
	sys.Record(KindDataCorruption, "ledger", "")

	sys.AttemptRecovery(context.Background(), KindTimeout, "agentA", "")        // succeeds
	sys.AttemptRecovery(context.Background(), KindDataCorruption, "ledger", "") // no repair hook, fails

	stats := sys.Stats()
	if stats.TotalErrors != 3 {
		t.Errorf("total errors = %d, want 3", stats.TotalErrors)
	}
	if stats.ErrorsByKind[KindTimeout] != 2 {
		t.Errorf("timeout errors = %d, want 2", stats.ErrorsByKind[KindTimeout])
	}
	if stats.RecoveryAttempts != 2 {
		t.Errorf("attempts = %d, want 2", stats.RecoveryAttempts)
	}
	if stats.RecoverySuccesses != 1 {
		t.Errorf("successes = %d, want 1", stats.RecoverySuccesses)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("success rate = %.2f, want 0.50", stats.SuccessRate)
	}
}

func TestErrorHistoryBounded(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.ErrorHistorySize = 10
	sys := newTestSystem(t, cfg, nil)

	for i := 0; i < 30; i++ {
		sys.Record(KindTimeout, "agentA", "")
	}

	if got := len(sys.History()); got != 10 {
		t.Errorf("history length = %d, want 10", got)
	}
}

func TestDuplicateStrategyRejected(t *testing.T) {
	_, err := NewSystem(testRecoveryConfig(), []RecoveryStrategy{
		failingStrategy{KindTimeout},
		panickingStrategy{KindTimeout},
	}, zap.NewNop())
	if err == nil {
		t.Error("NewSystem() accepted duplicate strategy kinds")
	}
}
