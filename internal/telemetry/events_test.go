package telemetry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
)

func newTestEmitter(t *testing.T) (*EventEmitter, *MemoryStorage) {
	t.Helper()
	service, err := NewService(config.TelemetryConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	storage := NewMemoryStorage(100)
	return NewEventEmitter(service, zap.NewNop(), storage), storage
}

func TestEmitScalingStoresEvent(t *testing.T) {
	emitter, storage := newTestEmitter(t)

	if err := emitter.EmitScaling(context.Background(), "compute", 4, 6, "high cpu"); err != nil {
		t.Fatalf("EmitScaling() error = %v", err)
	}

	events, err := storage.GetEvents(context.Background(), EventFilter{Type: EventTypeScaling})
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("stored %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.ID == "" {
		t.Error("event has no ID")
	}
	if ev.Component != "compute" {
		t.Errorf("component = %q, want compute", ev.Component)
	}
	if ev.Details["from"] != 4 || ev.Details["to"] != 6 {
		t.Errorf("details = %v, want from=4 to=6", ev.Details)
	}
	if ev.Severity != SeverityInfo {
		t.Errorf("severity = %s, want info", ev.Severity)
	}
}

func TestEmitBreakerTransitionSeverity(t *testing.T) {
	emitter, storage := newTestEmitter(t)

	ctx := context.Background()
	if err := emitter.EmitBreakerTransition(ctx, "agentA", "timeout", "closed", "open"); err != nil {
		t.Fatalf("EmitBreakerTransition() error = %v", err)
	}
	if err := emitter.EmitBreakerTransition(ctx, "agentA", "timeout", "half_open", "closed"); err != nil {
		t.Fatalf("EmitBreakerTransition() error = %v", err)
	}

	warnings, err := storage.GetEvents(ctx, EventFilter{Severity: SeverityWarning})
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warning events, want 1 (only the open transition)", len(warnings))
	}
}

func TestMemoryStorageFilterAndBound(t *testing.T) {
	storage := NewMemoryStorage(5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		ev := Event{
			ID:        "ev",
			Type:      EventTypeOptimizationCycle,
			Timestamp: time.Now(),
			Severity:  SeverityInfo,
		}
		if i%2 == 0 {
			ev.Type = EventTypeRecovery
			ev.Component = "agentA"
		}
		if err := storage.StoreEvent(ctx, ev); err != nil {
			t.Fatalf("StoreEvent() error = %v", err)
		}
	}

	all, _ := storage.GetEvents(ctx, EventFilter{})
	if len(all) != 5 {
		t.Errorf("stored events = %d, want 5 (bounded)", len(all))
	}

	recoveries, _ := storage.GetEvents(ctx, EventFilter{Type: EventTypeRecovery, Component: "agentA"})
	for _, ev := range recoveries {
		if ev.Type != EventTypeRecovery || ev.Component != "agentA" {
			t.Errorf("filter returned non-matching event %+v", ev)
		}
	}

	limited, _ := storage.GetEvents(ctx, EventFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limited query returned %d events, want 2", len(limited))
	}
}
