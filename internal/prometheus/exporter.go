// Package prometheus exposes control-loop metrics over HTTP.
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/types"
)

// HealthFunc supplies the current health status for the health endpoint.
type HealthFunc func() types.HealthStatus

// Exporter owns the metrics registry and the optional HTTP server.
type Exporter struct {
	config config.ServerConfig
	logger *zap.Logger

	server      *http.Server
	registry    *prometheus.Registry
	rateLimiter *rate.Limiter
	health      HealthFunc

	// Cycle metrics
	cyclesTotal     prometheus.Counter
	cycleDuration   prometheus.Histogram
	actionsTotal    *prometheus.CounterVec
	actionsPerCycle prometheus.Gauge

	// Pool metrics
	poolSize     *prometheus.GaugeVec
	rescaleTotal *prometheus.CounterVec

	// Load metrics
	loadScore  *prometheus.GaugeVec
	loadSpread prometheus.Gauge
	rebalances prometheus.Counter

	// Recovery metrics
	errorsTotal        *prometheus.CounterVec
	recoveriesTotal    *prometheus.CounterVec
	breakersOpen       prometheus.Gauge
	breakerTransitions *prometheus.CounterVec

	// Sampling metrics
	sampleFailures prometheus.Counter
	systemPercent  *prometheus.GaugeVec

	mu      sync.Mutex
	running bool
}

// NewExporter creates the exporter and registers every collector.
func NewExporter(cfg config.ServerConfig, health HealthFunc, logger *zap.Logger) (*Exporter, error) {
	e := &Exporter{
		config:   cfg,
		logger:   logger.Named("prometheus"),
		registry: prometheus.NewRegistry(),
		health:   health,
		// Per-minute config expressed as a per-second limiter with burst.
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/60), config.BurstLimit),
	}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return e, nil
}

func (e *Exporter) initMetrics() error {
	e.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perf_cycles_total",
		Help: "Total number of optimization cycles run",
	})
	e.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "perf_cycle_duration_seconds",
		Help:    "Duration of optimization cycles",
		Buckets: prometheus.DefBuckets,
	})
	e.actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perf_actions_total",
		Help: "Optimization actions executed by strategy and outcome",
	}, []string{"strategy", "success"})
	e.actionsPerCycle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perf_actions_identified",
		Help: "Candidate actions identified in the most recent cycle",
	})

	e.poolSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perf_pool_size",
		Help: "Current worker pool size",
	}, []string{"kind"})
	e.rescaleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perf_pool_rescales_total",
		Help: "Total pool resizes by kind and direction",
	}, []string{"kind", "direction"})

	e.loadScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perf_load_score",
		Help: "Current load score per worker class",
	}, []string{"class"})
	e.loadSpread = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perf_load_spread",
		Help: "Spread between the busiest and idlest worker class",
	})
	e.rebalances = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perf_rebalances_total",
		Help: "Total load rebalance operations",
	})

	e.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perf_errors_recorded_total",
		Help: "Failures recorded by error kind",
	}, []string{"kind"})
	e.recoveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perf_recoveries_total",
		Help: "Recovery attempts by outcome",
	}, []string{"success"})
	e.breakersOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perf_breakers_open",
		Help: "Circuit breakers currently open",
	})
	e.breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perf_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"component", "kind", "to"})

	e.sampleFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perf_sample_failures_total",
		Help: "Metrics sampling failures",
	})
	e.systemPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perf_system_utilization_percent",
		Help: "Sampled system utilization by resource",
	}, []string{"resource"})

	collectors := []prometheus.Collector{
		e.cyclesTotal,
		e.cycleDuration,
		e.actionsTotal,
		e.actionsPerCycle,
		e.poolSize,
		e.rescaleTotal,
		e.loadScore,
		e.loadSpread,
		e.rebalances,
		e.errorsTotal,
		e.recoveriesTotal,
		e.breakersOpen,
		e.breakerTransitions,
		e.sampleFailures,
		e.systemPercent,
	}
	for _, c := range collectors {
		if err := e.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}

	e.logger.Info("Initialized Prometheus metrics", zap.Int("collectors", len(collectors)))
	return nil
}

// ObserveCycle records the outcome of one optimization cycle.
func (e *Exporter) ObserveCycle(identified int, duration time.Duration) {
	e.cyclesTotal.Inc()
	e.cycleDuration.Observe(duration.Seconds())
	e.actionsPerCycle.Set(float64(identified))
}

// ObserveAction records one executed action.
func (e *Exporter) ObserveAction(strategy string, success bool) {
	e.actionsTotal.WithLabelValues(strategy, fmt.Sprintf("%t", success)).Inc()
}

// ObservePoolSize records a pool's current size.
func (e *Exporter) ObservePoolSize(kind string, size int) {
	e.poolSize.WithLabelValues(kind).Set(float64(size))
}

// ObserveRescale records a completed pool resize.
func (e *Exporter) ObserveRescale(kind string, from, to int) {
	direction := "up"
	if to < from {
		direction = "down"
	}
	e.rescaleTotal.WithLabelValues(kind, direction).Inc()
	e.poolSize.WithLabelValues(kind).Set(float64(to))
}

// ObserveLoad records per-class load and the overall spread.
func (e *Exporter) ObserveLoad(class string, load float64) {
	e.loadScore.WithLabelValues(class).Set(load)
}

// ObserveLoadSpread records the current max-min load spread.
func (e *Exporter) ObserveLoadSpread(spread float64) {
	e.loadSpread.Set(spread)
}

// ObserveRebalance counts one rebalance operation.
func (e *Exporter) ObserveRebalance() {
	e.rebalances.Inc()
}

// ObserveError counts one recorded failure.
func (e *Exporter) ObserveError(kind string) {
	e.errorsTotal.WithLabelValues(kind).Inc()
}

// ObserveRecovery counts one recovery attempt.
func (e *Exporter) ObserveRecovery(success bool) {
	e.recoveriesTotal.WithLabelValues(fmt.Sprintf("%t", success)).Inc()
}

// ObserveBreakers records the number of open breakers.
func (e *Exporter) ObserveBreakers(open int) {
	e.breakersOpen.Set(float64(open))
}

// ObserveBreakerTransition counts one breaker state change.
func (e *Exporter) ObserveBreakerTransition(component, kind, to string) {
	e.breakerTransitions.WithLabelValues(component, kind, to).Inc()
}

// ObserveSampleFailure counts one metrics sampling failure.
func (e *Exporter) ObserveSampleFailure() {
	e.sampleFailures.Inc()
}

// ObserveSnapshot records sampled system utilization.
func (e *Exporter) ObserveSnapshot(snapshot types.MetricsSnapshot) {
	e.systemPercent.WithLabelValues("cpu").Set(snapshot.CPUPercent)
	e.systemPercent.WithLabelValues("memory").Set(snapshot.MemoryPercent)
	e.systemPercent.WithLabelValues("disk").Set(snapshot.DiskPercent)
}

// Registry exposes the underlying registry for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// rateLimitMiddleware refuses requests above the configured rate.
func (e *Exporter) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.rateLimiter.Allow() {
			e.logger.Warn("Rate limit exceeded",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))

			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves the metrics and health endpoints until ctx is cancelled.
// When the server is disabled it blocks until cancellation so the caller can
// treat both modes identically.
func (e *Exporter) Start(ctx context.Context) error {
	if !e.config.Enabled {
		<-ctx.Done()
		return nil
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("exporter is already running")
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("Starting Prometheus exporter",
		zap.String("bind_address", e.config.BindAddress),
		zap.String("metrics_path", e.config.MetricsPath))

	mux := http.NewServeMux()
	metricsHandler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(e.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
	mux.Handle(e.config.MetricsPath, e.rateLimitMiddleware(metricsHandler))
	mux.HandleFunc(e.config.HealthPath, e.healthHandler)

	e.server = &http.Server{
		Addr:         e.config.BindAddress,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}

	e.logger.Info("Prometheus exporter stopped")
	return nil
}

// healthHandler reports the subsystem's health status.
func (e *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := types.HealthStatus{Overall: types.HealthStateUnknown}
	if e.health != nil {
		status = e.health()
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Overall != types.HealthStateHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fmt.Fprintf(w, `{"status":%q,"cycles_run":%d,"breakers_open":%d,"timestamp":%q}`,
		status.Overall, status.CyclesRun, status.BreakersOpen, time.Now().UTC().Format(time.RFC3339))
}
