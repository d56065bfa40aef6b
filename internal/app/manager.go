// Package app assembles the performance control subsystem: metrics sampling,
// autoscaling, load balancing, error recovery, the optimization coordinator
// and the observability surfaces around them.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adaptix/perf-manager/internal/autoscaler"
	"github.com/adaptix/perf-manager/internal/cache"
	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/coordinator"
	"github.com/adaptix/perf-manager/internal/loadbalancer"
	"github.com/adaptix/perf-manager/internal/metrics"
	"github.com/adaptix/perf-manager/internal/prometheus"
	"github.com/adaptix/perf-manager/internal/recovery"
	"github.com/adaptix/perf-manager/internal/telemetry"
	"github.com/adaptix/perf-manager/internal/types"
)

// Manager coordinates all subsystem components and owns their lifecycle.
type Manager struct {
	config *config.Config
	logger *zap.Logger

	telemetryService *telemetry.Service
	eventStorage     *telemetry.MemoryStorage
	eventEmitter     *telemetry.EventEmitter
	tracer           *telemetry.TraceHelper
	exporter         *prometheus.Exporter
	resultCache      *cache.ResultCache

	source      metrics.Source
	scaler      *autoscaler.AutoScaler
	balancer    *loadbalancer.LoadBalancer
	recovery    *recovery.System
	coordinator *coordinator.Coordinator

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// NewManager wires every component from the configuration. A nil source
// falls back to sampling the host with gopsutil.
func NewManager(cfg *config.Config, source metrics.Source, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	m := &Manager{
		config: cfg,
		logger: logger,
	}

	telemetryService, err := telemetry.NewService(cfg.Telemetry, logger.Named("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry service: %w", err)
	}
	m.telemetryService = telemetryService
	m.eventStorage = telemetry.NewMemoryStorage(config.DefaultEventHistorySize)
	m.eventEmitter = telemetry.NewEventEmitter(telemetryService, logger.Named("events"), m.eventStorage)
	m.tracer = telemetryService.GetTraceHelper()

	exporter, err := prometheus.NewExporter(cfg.Server, m.Health, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	m.exporter = exporter

	if cfg.Cache.Enabled {
		resultCache, err := cache.New(context.Background(), cfg.Cache, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		m.resultCache = resultCache
	}

	if source == nil {
		source = metrics.NewSystemSampler("", logger)
	}
	m.source = metrics.NewTimeoutSource(source, cfg.Metrics.SampleTimeout)

	m.scaler = autoscaler.New(cfg.Scaling, logger)
	// Seed the pool-size gauge so initial sizes are visible before the
	// first rescale.
	for _, pool := range cfg.Scaling.Pools {
		m.exporter.ObservePoolSize(pool.Kind, pool.InitialSize)
	}
	m.balancer = loadbalancer.New(cfg.LoadBalancer, logger)

	recoverySystem, err := recovery.NewSystem(cfg.Recovery,
		recovery.DefaultStrategies(cfg.Recovery, nil, m.releaseHook, m.shedHook, nil, logger), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create recovery system: %w", err)
	}
	m.recovery = recoverySystem

	recoverySystem.Breakers().OnTransition(func(component string, kind recovery.ErrorKind, from, to recovery.BreakerState) {
		m.exporter.ObserveBreakerTransition(component, string(kind), string(to))
		_ = m.eventEmitter.EmitBreakerTransition(context.Background(), component, string(kind), string(from), string(to))
	})

	opts := coordinator.Options{
		Observer: m.exporter,
		Emitter:  m.eventEmitter,
		Tracer:   m.tracer,
	}
	if m.resultCache != nil {
		opts.Cache = m.resultCache
	}
	m.coordinator = coordinator.New(cfg.Coordinator, cfg.LoadBalancer, cfg.Cache,
		cfg.Scaling.ScaleUpThreshold, m.source, m.scaler, m.balancer, recoverySystem, opts, logger)

	return m, nil
}

// releaseHook frees reclaimable memory during resource-exhaustion recovery.
func (m *Manager) releaseHook(ctx context.Context, ev recovery.ErrorEvent) error {
	if m.resultCache == nil {
		return nil
	}
	m.logger.Info("Releasing result cache under resource exhaustion",
		zap.String("component", ev.Component))
	return m.resultCache.Reset()
}

// shedHook relieves processing overload by redistributing work away from the
// busiest worker class.
func (m *Manager) shedHook(ctx context.Context, ev recovery.ErrorEvent) error {
	for _, rec := range m.balancer.Recommendations() {
		moved := m.balancer.ApplyRebalance(rec.From, rec.To, m.config.LoadBalancer.RebalanceFraction)
		if moved > 0 {
			m.exporter.ObserveRebalance()
			m.logger.Info("Shed load during overload recovery",
				zap.String("from", rec.From),
				zap.String("to", rec.To),
				zap.Float64("moved", moved))
		}
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager is already running")
	}
	m.running = true
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("Starting performance manager",
		zap.Duration("cycle_interval", m.config.Coordinator.CycleInterval),
		zap.Int("pools", len(m.config.Scaling.Pools)),
		zap.Bool("exporter_enabled", m.config.Server.Enabled))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.exporter.Start(gCtx)
	})

	g.Go(func() error {
		if err := m.coordinator.Start(gCtx); err != nil {
			return err
		}
		<-gCtx.Done()
		return m.coordinator.Stop()
	})

	err := g.Wait()

	m.scaler.Stop()
	if m.resultCache != nil {
		if closeErr := m.resultCache.Close(); closeErr != nil {
			m.logger.Error("Failed to close result cache", zap.Error(closeErr))
		}
	}
	if stopErr := m.telemetryService.Stop(context.Background()); stopErr != nil {
		m.logger.Error("Failed to stop telemetry service", zap.Error(stopErr))
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("Manager stopped with error", zap.Error(err))
		return err
	}

	m.logger.Info("Manager stopped gracefully",
		zap.Duration("uptime", time.Since(m.startTime)))
	return nil
}

// ForceCycle runs one optimization cycle immediately.
func (m *Manager) ForceCycle(ctx context.Context) types.CycleResult {
	return m.coordinator.ForceCycle(ctx)
}

// RecordError registers a failure without attempting recovery.
func (m *Manager) RecordError(kind recovery.ErrorKind, component, details string) {
	m.recovery.Record(kind, component, details)
	m.exporter.ObserveError(string(kind))
}

// HandleError records a failure and attempts recovery through the
// registered strategy, respecting the component's circuit breaker.
func (m *Manager) HandleError(ctx context.Context, kind recovery.ErrorKind, component, details string) types.RecoveryResult {
	m.exporter.ObserveError(string(kind))

	var result types.RecoveryResult
	_ = m.tracer.TraceRecoveryFunc(ctx, component, string(kind), func(ctx context.Context) error {
		result = m.recovery.Handle(ctx, kind, component, details)
		if !result.Success {
			return fmt.Errorf("recovery did not succeed: %s", result.Reason)
		}
		return nil
	})

	m.exporter.ObserveRecovery(result.Success)
	_ = m.eventEmitter.EmitRecovery(ctx, component, string(kind), result.Reason, result.Success)
	return result
}

// ReportLoad scores and records an observed worker class measurement.
func (m *Manager) ReportLoad(class string, responseTime time.Duration, errorRate float64) {
	load := m.balancer.Score(responseTime, errorRate)
	m.balancer.Update(class, load)
	m.exporter.ObserveLoad(class, load)
}

// Submit enqueues work on the named worker pool.
func (m *Manager) Submit(kind string, task autoscaler.Task) error {
	return m.scaler.Submit(kind, task)
}

// LeastLoaded returns the best worker class among the candidates.
func (m *Manager) LeastLoaded(candidates []string) string {
	return m.balancer.LeastLoaded(candidates)
}

// OnOptimization registers a callback for successfully executed actions.
func (m *Manager) OnOptimization(cb types.OptimizationCallback) int {
	return m.coordinator.OnOptimization(cb)
}

// RemoveCallback unregisters an optimization callback.
func (m *Manager) RemoveCallback(id int) {
	m.coordinator.RemoveCallback(id)
}

// Summary aggregates statistics from every component.
func (m *Manager) Summary() coordinator.Summary {
	return m.coordinator.Summarize()
}

// Events queries the recorded operational events.
func (m *Manager) Events(ctx context.Context, filter telemetry.EventFilter) ([]telemetry.Event, error) {
	return m.eventEmitter.GetEvents(ctx, filter)
}

// Health reports the subsystem's health.
func (m *Manager) Health() types.HealthStatus {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()

	if !running {
		return types.HealthStatus{
			Overall: types.HealthStateStopping,
			Updated: time.Now(),
		}
	}
	return m.coordinator.Health()
}

// IsRunning reports whether the manager is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
