package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventType represents the type of operational event
type EventType string

const (
	EventTypeScaling           EventType = "scaling"
	EventTypeRebalance         EventType = "rebalance"
	EventTypeBreakerTransition EventType = "breaker_transition"
	EventTypeOptimizationCycle EventType = "optimization_cycle"
	EventTypeRecovery          EventType = "recovery"
	EventTypeConfiguration     EventType = "configuration"
)

// EventSeverity represents the severity level of an event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// Event represents a structured operational event
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	Component     string                 `json:"component,omitempty"`
	Summary       string                 `json:"summary"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Severity      EventSeverity          `json:"severity"`
}

// EventStorage holds emitted events for later querying
type EventStorage interface {
	StoreEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// EventFilter represents filters for querying events
type EventFilter struct {
	StartTime time.Time
	EndTime   time.Time
	Component string
	Type      EventType
	Severity  EventSeverity
	Limit     int
}

// EventEmitter handles structured event emission with telemetry integration
type EventEmitter struct {
	service *Service
	logger  *zap.Logger
	storage EventStorage
}

// NewEventEmitter creates a new event emitter
func NewEventEmitter(service *Service, logger *zap.Logger, storage EventStorage) *EventEmitter {
	return &EventEmitter{
		service: service,
		logger:  logger,
		storage: storage,
	}
}

// EmitScaling emits a worker pool scaling event
func (e *EventEmitter) EmitScaling(ctx context.Context, pool string, from, to int, reason string) error {
	return e.emit(ctx, Event{
		Type:      EventTypeScaling,
		Component: pool,
		Summary:   fmt.Sprintf("Pool %s scaled from %d to %d workers", pool, from, to),
		Details: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
		Severity: SeverityInfo,
	})
}

// EmitRebalance emits a load redistribution event
func (e *EventEmitter) EmitRebalance(ctx context.Context, from, to string, moved float64) error {
	return e.emit(ctx, Event{
		Type:    EventTypeRebalance,
		Summary: fmt.Sprintf("Moved %.2f load from %s to %s", moved, from, to),
		Details: map[string]interface{}{
			"from":  from,
			"to":    to,
			"moved": moved,
		},
		Severity: SeverityInfo,
	})
}

// EmitBreakerTransition emits a circuit breaker state change event
func (e *EventEmitter) EmitBreakerTransition(ctx context.Context, component, errorKind, fromState, toState string) error {
	severity := SeverityInfo
	if toState == "open" {
		severity = SeverityWarning
	}
	return e.emit(ctx, Event{
		Type:      EventTypeBreakerTransition,
		Component: component,
		Summary:   fmt.Sprintf("Breaker (%s, %s) moved %s -> %s", component, errorKind, fromState, toState),
		Details: map[string]interface{}{
			"error_kind": errorKind,
			"from":       fromState,
			"to":         toState,
		},
		Severity: severity,
	})
}

// EmitCycle emits an optimization cycle summary event
func (e *EventEmitter) EmitCycle(ctx context.Context, identified, executed int, totalImpact float64) error {
	return e.emit(ctx, Event{
		Type:    EventTypeOptimizationCycle,
		Summary: fmt.Sprintf("Cycle executed %d of %d actions (impact %.2f)", executed, identified, totalImpact),
		Details: map[string]interface{}{
			"actions_identified": identified,
			"actions_executed":   executed,
			"total_impact":       totalImpact,
		},
		Severity: SeverityInfo,
	})
}

// EmitRecovery emits an error recovery outcome event
func (e *EventEmitter) EmitRecovery(ctx context.Context, component, errorKind, reason string, success bool) error {
	severity := SeverityInfo
	if !success {
		severity = SeverityWarning
	}
	return e.emit(ctx, Event{
		Type:      EventTypeRecovery,
		Component: component,
		Summary:   fmt.Sprintf("Recovery for (%s, %s): %s", component, errorKind, reason),
		Details: map[string]interface{}{
			"error_kind": errorKind,
			"reason":     reason,
			"success":    success,
		},
		Severity: severity,
	})
}

// emit stamps identity and correlation onto the event, traces it, stores it
// and logs it.
func (e *EventEmitter) emit(ctx context.Context, event Event) error {
	event.ID = uuid.New().String()
	event.Timestamp = time.Now()

	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		event.CorrelationID = span.SpanContext().TraceID().String()
	}

	if e.service.IsEnabled() {
		_, span := e.service.Tracer().Start(ctx, "event.emit",
			oteltrace.WithAttributes(
				attribute.String("event.type", string(event.Type)),
				attribute.String("event.component", event.Component),
				attribute.String("event.severity", string(event.Severity)),
				attribute.String("event.summary", event.Summary),
			),
		)
		defer span.End()
	}

	if e.storage != nil {
		if err := e.storage.StoreEvent(ctx, event); err != nil {
			e.logger.Error("Failed to store event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			return err
		}
	}

	e.logger.Info("Event emitted",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("component", event.Component),
		zap.String("summary", event.Summary),
		zap.String("severity", string(event.Severity)))

	return nil
}

// GetEvents retrieves events from storage
func (e *EventEmitter) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	if e.storage == nil {
		return nil, fmt.Errorf("event storage not configured")
	}
	return e.storage.GetEvents(ctx, filter)
}
