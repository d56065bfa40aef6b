// Package coordinator runs the periodic optimization loop: sample metrics,
// collect candidate actions from the autoscaler, load balancer and resource
// analyzers, rank them, execute the top few, record the cycle and notify
// subscribers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/autoscaler"
	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/loadbalancer"
	"github.com/adaptix/perf-manager/internal/metrics"
	"github.com/adaptix/perf-manager/internal/recovery"
	"github.com/adaptix/perf-manager/internal/telemetry"
	"github.com/adaptix/perf-manager/internal/types"
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("coordinator is already running")

// ErrNotRunning is returned by Stop when the loop is not active.
var ErrNotRunning = errors.New("coordinator is not running")

// Observer receives control-loop measurements, typically the Prometheus
// exporter. All methods must be cheap and non-blocking.
type Observer interface {
	ObserveCycle(identified int, duration time.Duration)
	ObserveAction(strategy string, success bool)
	ObserveRescale(kind string, from, to int)
	ObserveLoadSpread(spread float64)
	ObserveRebalance()
	ObserveBreakers(open int)
	ObserveSampleFailure()
	ObserveSnapshot(snapshot types.MetricsSnapshot)
}

// Summary aggregates subsystem statistics for embedding applications.
type Summary struct {
	LoadStats          loadbalancer.Stats `json:"load_stats"`
	ScalingStats       autoscaler.Stats   `json:"scaling_stats"`
	ErrorStats         recovery.Stats     `json:"error_stats"`
	CyclesRun          uint64             `json:"cycles_run"`
	RecentImprovements []float64          `json:"recent_improvements"`
}

// Coordinator owns the control loop. It only reads aggregated outputs from
// the components it drives; each component serializes its own state.
type Coordinator struct {
	cfg      config.CoordinatorConfig
	source   metrics.Source
	scaler   *autoscaler.AutoScaler
	balancer *loadbalancer.LoadBalancer
	recovery *recovery.System
	cache    ResultCache

	resources *resourceAnalyzer
	cacheOpt  *cacheAnalyzer

	observer Observer
	emitter  *telemetry.EventEmitter
	tracer   *telemetry.TraceHelper
	logger   *zap.Logger

	rebalanceFraction float64

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	cyclesRun    uint64
	lastSnapshot types.MetricsSnapshot
	cycles       []types.CycleResult
	callbacks    map[int]types.OptimizationCallback
	nextCallback int
}

// Options carries the optional collaborators.
type Options struct {
	Cache    ResultCache
	Observer Observer
	Emitter  *telemetry.EventEmitter
	Tracer   *telemetry.TraceHelper
}

// New creates a coordinator. source must already be timeout-bounded;
// scaler, balancer and recoverySystem are required.
func New(
	cfg config.CoordinatorConfig,
	lbCfg config.LoadBalancerConfig,
	cacheCfg config.CacheConfig,
	scaleUpThreshold float64,
	source metrics.Source,
	scaler *autoscaler.AutoScaler,
	balancer *loadbalancer.LoadBalancer,
	recoverySystem *recovery.System,
	opts Options,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		source:   source,
		scaler:   scaler,
		balancer: balancer,
		recovery: recoverySystem,
		cache:    opts.Cache,
		resources: &resourceAnalyzer{
			limits: cfg.Resources,
		},
		cacheOpt: &cacheAnalyzer{
			cache:            opts.Cache,
			minHitRate:       cacheCfg.MinHitRate,
			minLookups:       int64(cacheCfg.MinLookups),
			memoryPressurePt: scaleUpThreshold,
		},
		observer:          opts.Observer,
		emitter:           opts.Emitter,
		tracer:            opts.Tracer,
		logger:            logger.Named("coordinator"),
		rebalanceFraction: lbCfg.RebalanceFraction,
		cycles:            make([]types.CycleResult, 0, cfg.CycleHistorySize),
		callbacks:         make(map[int]types.OptimizationCallback),
	}
}

// Start launches the periodic loop. It returns immediately; the loop runs
// until Stop or context cancellation.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.loop(loopCtx, done)

	c.logger.Info("Coordinator started",
		zap.Duration("cycle_interval", c.cfg.CycleInterval),
		zap.Int("max_actions_per_run", c.cfg.MaxActionsPerRun))
	return nil
}

// Stop signals cancellation and waits for the in-flight cycle to finish.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel := c.cancel
	done := c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	<-done

	c.logger.Info("Coordinator stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCycle(ctx, false)
		}
	}
}

// ForceCycle runs one cycle synchronously, outside the schedule.
func (c *Coordinator) ForceCycle(ctx context.Context) types.CycleResult {
	return c.runCycle(ctx, true)
}

// runCycle performs one full optimization pass. A panic anywhere in the
// cycle is caught and logged; the loop continues at the next interval.
func (c *Coordinator) runCycle(ctx context.Context, forced bool) (result types.CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			c.logger.Error("Optimization cycle panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", buf[:n]))
		}
	}()

	start := time.Now()
	run := func(ctx context.Context) error {
		result = c.cycle(ctx, start)
		return nil
	}
	if c.tracer != nil {
		_ = c.tracer.TraceCycleFunc(ctx, forced, run)
	} else {
		_ = run(ctx)
	}

	if c.observer != nil {
		c.observer.ObserveCycle(result.ActionsIdentified, time.Since(start))
	}
	if c.emitter != nil {
		_ = c.emitter.EmitCycle(ctx, result.ActionsIdentified, result.ActionsExecuted, result.TotalImpact)
	}
	return result
}

func (c *Coordinator) cycle(ctx context.Context, start time.Time) types.CycleResult {
	snapshot := c.sample(ctx)
	c.balancer.Observe(snapshot)

	candidates := c.collect(snapshot)
	rank(candidates)

	executed := 0
	var totalImpact float64
	var succeeded []int
	for i := range candidates {
		if executed >= c.cfg.MaxActionsPerRun {
			break
		}
		res := c.execute(ctx, &candidates[i])
		candidates[i].Executed = true
		candidates[i].Result = &res
		executed++

		if c.observer != nil {
			c.observer.ObserveAction(string(candidates[i].Strategy), res.Success)
		}
		if res.Success {
			totalImpact += candidates[i].EstimatedImpact
			succeeded = append(succeeded, i)
		} else {
			c.logger.Warn("Optimization action failed",
				zap.String("action_id", candidates[i].ID),
				zap.String("strategy", string(candidates[i].Strategy)),
				zap.String("message", res.Message))
		}
	}

	result := types.CycleResult{
		Timestamp:         start,
		Metrics:           snapshot,
		ActionsIdentified: len(candidates),
		ActionsExecuted:   executed,
		TotalImpact:       totalImpact,
		Actions:           candidates,
	}

	c.mu.Lock()
	c.cyclesRun++
	c.cycles = append(c.cycles, result)
	if len(c.cycles) > c.cfg.CycleHistorySize {
		c.cycles = c.cycles[len(c.cycles)-c.cfg.CycleHistorySize:]
	}
	callbacks := make([]types.OptimizationCallback, 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		callbacks = append(callbacks, cb)
	}
	c.mu.Unlock()

	for _, i := range succeeded {
		for _, cb := range callbacks {
			cb(candidates[i], *candidates[i].Result)
		}
	}

	if c.observer != nil {
		stats := c.balancer.Stats()
		if stats.Classes >= 2 {
			c.observer.ObserveLoadSpread(stats.Max - stats.Min)
		}
		c.observer.ObserveBreakers(c.recovery.Stats().OpenBreakers)
	}

	c.logger.Info("Optimization cycle complete",
		zap.Int("identified", result.ActionsIdentified),
		zap.Int("executed", result.ActionsExecuted),
		zap.Float64("total_impact", result.TotalImpact),
		zap.Duration("took", time.Since(start)))

	return result
}

// sample pulls a snapshot, falling back to the last known one on failure.
// Sampling failures are fed into error recovery, never fatal to the cycle.
func (c *Coordinator) sample(ctx context.Context) types.MetricsSnapshot {
	var snapshot types.MetricsSnapshot
	pull := func(ctx context.Context) error {
		var err error
		snapshot, err = c.source.Sample(ctx)
		return err
	}

	var err error
	if c.tracer != nil {
		err = c.tracer.TraceSampleFunc(ctx, pull)
	} else {
		err = pull(ctx)
	}
	if err != nil {
		kind := recovery.KindConnectionFailure
		if errors.Is(err, metrics.ErrSampleTimeout) {
			kind = recovery.KindTimeout
		}
		c.recovery.Record(kind, "metrics_source", err.Error())
		if c.observer != nil {
			c.observer.ObserveSampleFailure()
		}

		c.mu.Lock()
		last := c.lastSnapshot
		c.mu.Unlock()
		c.logger.Warn("Metrics sampling failed, using last known snapshot",
			zap.Error(err),
			zap.Time("last_sample", last.Timestamp))
		return last
	}

	c.mu.Lock()
	c.lastSnapshot = snapshot
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveSnapshot(snapshot)
	}
	return snapshot
}

// collect gathers candidate actions from every analyzer.
func (c *Coordinator) collect(snapshot types.MetricsSnapshot) []types.OptimizationAction {
	var candidates []types.OptimizationAction

	if !snapshot.IsZero() {
		candidates = append(candidates, c.scaler.Analyze(snapshot)...)
		candidates = append(candidates, c.resources.analyze(snapshot)...)
		candidates = append(candidates, c.cacheOpt.analyze(snapshot)...)
	}
	candidates = append(candidates, c.rebalanceActions()...)

	return candidates
}

// rebalanceActions converts load balancer recommendations into actions.
func (c *Coordinator) rebalanceActions() []types.OptimizationAction {
	recs := c.balancer.Recommendations()
	actions := make([]types.OptimizationAction, 0, len(recs))
	for _, rec := range recs {
		actions = append(actions, types.OptimizationAction{
			ID:        uuid.New().String(),
			Timestamp: time.Now(),
			Strategy:  types.StrategyRebalance,
			Resource:  types.ResourceWorker,
			Description: fmt.Sprintf("redistribute work from %s to %s (estimated improvement %.2f)",
				rec.From, rec.To, rec.EstimatedImprovement),
			Parameters: map[string]interface{}{
				paramFrom:     rec.From,
				paramTo:       rec.To,
				paramFraction: c.rebalanceFraction,
			},
			Priority:        rebalancePriority,
			EstimatedImpact: math.Min(1, rec.EstimatedImprovement),
		})
	}
	return actions
}

// rank orders candidates by priority, then estimated impact, both
// descending. Ties keep a deterministic order by ID.
func rank(actions []types.OptimizationAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Priority != actions[j].Priority {
			return actions[i].Priority > actions[j].Priority
		}
		if actions[i].EstimatedImpact != actions[j].EstimatedImpact {
			return actions[i].EstimatedImpact > actions[j].EstimatedImpact
		}
		return actions[i].ID < actions[j].ID
	})
}

// execute dispatches one action to its owning component.
func (c *Coordinator) execute(ctx context.Context, action *types.OptimizationAction) types.ActionResult {
	var result types.ActionResult
	run := func(context.Context) error {
		result = c.dispatch(ctx, action)
		if !result.Success {
			if result.Err != nil {
				return result.Err
			}
			return fmt.Errorf("action failed: %s", result.Message)
		}
		return nil
	}
	if c.tracer != nil {
		_ = c.tracer.TraceActionFunc(ctx, action.ID, string(action.Strategy), action.Priority, run)
	} else {
		_ = run(ctx)
	}
	return result
}

func (c *Coordinator) dispatch(ctx context.Context, action *types.OptimizationAction) types.ActionResult {
	switch action.Strategy {
	case types.StrategyScaleUp, types.StrategyScaleDown:
		res := c.scaler.Execute(*action)
		if res.Success && res.FromSize != res.ToSize {
			kind, _ := action.Parameters[autoscaler.ParamPoolKind].(string)
			if c.observer != nil {
				c.observer.ObserveRescale(kind, res.FromSize, res.ToSize)
			}
			if c.emitter != nil {
				_ = c.emitter.EmitScaling(ctx, kind, res.FromSize, res.ToSize, action.Description)
			}
		}
		return res

	case types.StrategyRebalance:
		return c.executeRebalance(ctx, action)

	case types.StrategyReallocate:
		return c.executeReallocate(action)

	case types.StrategyOptimizeCache:
		return c.executeCacheReset()

	default:
		return types.ActionResult{
			Success: false,
			Message: fmt.Sprintf("unknown strategy %q", action.Strategy),
		}
	}
}

func (c *Coordinator) executeRebalance(ctx context.Context, action *types.OptimizationAction) types.ActionResult {
	from, _ := action.Parameters[paramFrom].(string)
	to, _ := action.Parameters[paramTo].(string)
	fraction, _ := action.Parameters[paramFraction].(float64)

	moved := c.balancer.ApplyRebalance(from, to, fraction)
	if moved == 0 {
		return types.ActionResult{
			Success: false,
			Message: fmt.Sprintf("no load to move from %s to %s", from, to),
		}
	}

	if c.observer != nil {
		c.observer.ObserveRebalance()
	}
	if c.emitter != nil {
		_ = c.emitter.EmitRebalance(ctx, from, to, moved)
	}
	return types.ActionResult{
		Success: true,
		Message: fmt.Sprintf("moved %.2f load from %s to %s", moved, from, to),
	}
}

// executeReallocate relieves resource pressure: memory pressure forces a
// garbage collection and shrinks the memory pool one step, disk pressure
// shrinks the io pool.
func (c *Coordinator) executeReallocate(action *types.OptimizationAction) types.ActionResult {
	resource, _ := action.Parameters[paramResource].(string)

	var poolKind string
	switch types.ResourceKind(resource) {
	case types.ResourceMemory:
		runtime.GC()
		poolKind = "memory"
	case types.ResourceDisk:
		poolKind = "io"
	default:
		return types.ActionResult{
			Success: false,
			Message: fmt.Sprintf("cannot reallocate resource %q", resource),
		}
	}

	size, err := c.scaler.PoolSize(poolKind)
	if err != nil {
		return types.ActionResult{Success: false, Message: err.Error(), Err: err}
	}
	target := int(math.Floor(float64(size) * config.DefaultScaleDownFactor))

	res := c.scaler.Execute(types.OptimizationAction{
		Strategy:    types.StrategyScaleDown,
		Description: action.Description,
		Parameters: map[string]interface{}{
			autoscaler.ParamPoolKind:   poolKind,
			autoscaler.ParamTargetSize: target,
		},
	})
	if res.Success {
		res.Message = fmt.Sprintf("reallocated %s: %s", resource, res.Message)
	}
	return res
}

func (c *Coordinator) executeCacheReset() types.ActionResult {
	if c.cache == nil {
		return types.ActionResult{Success: false, Message: "no result cache configured"}
	}
	if err := c.cache.Reset(); err != nil {
		return types.ActionResult{Success: false, Message: err.Error(), Err: err}
	}
	return types.ActionResult{Success: true, Message: "result cache reset"}
}

// OnOptimization registers a callback invoked for every successfully
// executed action. It returns a handle for RemoveCallback.
func (c *Coordinator) OnOptimization(cb types.OptimizationCallback) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCallback++
	c.callbacks[c.nextCallback] = cb
	return c.nextCallback
}

// RemoveCallback unregisters a callback by its handle.
func (c *Coordinator) RemoveCallback(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, id)
}

// CyclesRun returns the number of completed cycles.
func (c *Coordinator) CyclesRun() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cyclesRun
}

// Cycles returns a copy of the recorded cycle history, oldest first.
func (c *Coordinator) Cycles() []types.CycleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.CycleResult, len(c.cycles))
	copy(out, c.cycles)
	return out
}

// Summarize assembles the subsystem-wide summary.
func (c *Coordinator) Summarize() Summary {
	c.mu.Lock()
	cyclesRun := c.cyclesRun
	recent := make([]float64, 0, 10)
	from := len(c.cycles) - 10
	if from < 0 {
		from = 0
	}
	for _, cycle := range c.cycles[from:] {
		recent = append(recent, cycle.TotalImpact)
	}
	c.mu.Unlock()

	return Summary{
		LoadStats:          c.balancer.Stats(),
		ScalingStats:       c.scaler.Stats(),
		ErrorStats:         c.recovery.Stats(),
		CyclesRun:          cyclesRun,
		RecentImprovements: recent,
	}
}

// Health derives an overall health state from the loop and breaker status.
func (c *Coordinator) Health() types.HealthStatus {
	c.mu.Lock()
	running := c.running
	cyclesRun := c.cyclesRun
	c.mu.Unlock()

	open := c.recovery.Stats().OpenBreakers
	overall := types.HealthStateHealthy
	if !running {
		overall = types.HealthStateUnknown
	} else if open > 0 {
		overall = types.HealthStateDegraded
	}

	return types.HealthStatus{
		Overall:      overall,
		CyclesRun:    cyclesRun,
		BreakersOpen: open,
		Updated:      time.Now(),
	}
}
