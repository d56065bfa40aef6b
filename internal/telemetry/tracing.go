package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	// Trace operation names
	TraceOptimizationCycle = "perf.cycle"
	TraceMetricsSample     = "perf.metrics.sample"
	TraceActionExecution   = "perf.action.execute"
	TraceRecoveryAttempt   = "perf.recovery.attempt"

	// Attribute keys
	AttrActionID        = "perf.action.id"
	AttrActionStrategy  = "perf.action.strategy"
	AttrActionPriority  = "perf.action.priority"
	AttrActionSucceeded = "perf.action.succeeded"
	AttrComponent       = "perf.component"
	AttrErrorKind       = "perf.error.kind"
	AttrCycleForced     = "perf.cycle.forced"
)

// TraceHelper provides helper methods for creating traces
type TraceHelper struct {
	tracer oteltrace.Tracer
}

// StartSpan starts a new tracing span with common attributes
func (th *TraceHelper) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return th.tracer.Start(ctx, operationName, oteltrace.WithAttributes(attrs...))
}

// RecordError records an error on the span
func (th *TraceHelper) RecordError(span oteltrace.Span, err error, description string) {
	if err != nil {
		span.SetStatus(codes.Error, description)
		span.RecordError(err)
	}
}

// SetSpanSuccess marks span as successful
func (th *TraceHelper) SetSpanSuccess(span oteltrace.Span) {
	span.SetStatus(codes.Ok, "Success")
}

// TraceCycleFunc traces one optimization cycle
func (th *TraceHelper) TraceCycleFunc(ctx context.Context, forced bool, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceOptimizationCycle,
		attribute.Bool(AttrCycleForced, forced),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		th.RecordError(span, err, "optimization cycle failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// TraceSampleFunc traces a metrics sample
func (th *TraceHelper) TraceSampleFunc(ctx context.Context, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceMetricsSample)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		th.RecordError(span, err, "metrics sampling failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// TraceActionFunc traces execution of one optimization action
func (th *TraceHelper) TraceActionFunc(ctx context.Context, actionID, strategy string, priority int, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceActionExecution,
		attribute.String(AttrActionID, actionID),
		attribute.String(AttrActionStrategy, strategy),
		attribute.Int(AttrActionPriority, priority),
	)
	defer span.End()

	err := fn(ctx)
	span.SetAttributes(attribute.Bool(AttrActionSucceeded, err == nil))

	if err != nil {
		th.RecordError(span, err, "action execution failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// TraceRecoveryFunc traces an error recovery attempt
func (th *TraceHelper) TraceRecoveryFunc(ctx context.Context, component, errorKind string, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceRecoveryAttempt,
		attribute.String(AttrComponent, component),
		attribute.String(AttrErrorKind, errorKind),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		th.RecordError(span, err, "recovery failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// GetTraceHelper returns a trace helper instance from telemetry service
func (s *Service) GetTraceHelper() *TraceHelper {
	if !s.config.Enabled {
		return &TraceHelper{tracer: otel.Tracer("noop")}
	}
	return &TraceHelper{tracer: s.tracer}
}
