// Package autoscaler sizes worker pools against observed resource
// utilization. Each pool kind tracks one resource: compute follows CPU,
// memory follows memory, io follows disk.
package autoscaler

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/types"
)

// ScalingEvent records one completed pool resize.
type ScalingEvent struct {
	Kind      string    `json:"kind"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PoolStats describes one managed pool.
type PoolStats struct {
	Kind        string    `json:"kind"`
	Size        int       `json:"size"`
	QueueDepth  int       `json:"queue_depth"`
	Rescales    uint64    `json:"rescales"`
	LastRescale time.Time `json:"last_rescale,omitempty"`
}

// Stats aggregates autoscaler state for summaries.
type Stats struct {
	Pools         []PoolStats    `json:"pools"`
	TotalRescales uint64         `json:"total_rescales"`
	Recent        []ScalingEvent `json:"recent"`
}

type managedPool struct {
	cfg         config.PoolConfig
	pool        *WorkerPool
	rescales    uint64
	lastRescale time.Time
}

// AutoScaler owns the worker pools and is the only component that mutates
// their sizes. Analyze proposes actions from a snapshot; Execute applies one.
type AutoScaler struct {
	mu      sync.Mutex
	pools   map[string]*managedPool
	history []ScalingEvent

	cfg    config.ScalingConfig
	logger *zap.Logger
}

// New creates the autoscaler and starts one worker pool per configured kind.
func New(cfg config.ScalingConfig, logger *zap.Logger) *AutoScaler {
	log := logger.Named("autoscaler")
	pools := make(map[string]*managedPool, len(cfg.Pools))
	for _, pc := range cfg.Pools {
		pools[pc.Kind] = &managedPool{
			cfg:  pc,
			pool: NewWorkerPool(pc.Kind, pc.InitialSize, pc.TaskBacklog, log),
		}
	}
	return &AutoScaler{
		pools:   pools,
		history: make([]ScalingEvent, 0, ScalingHistorySize),
		cfg:     cfg,
		logger:  log,
	}
}

// utilizationFor maps a pool kind to its driving utilization, as a ratio.
func utilizationFor(kind string, snapshot types.MetricsSnapshot) (float64, bool) {
	switch kind {
	case "compute":
		return snapshot.CPUPercent / 100, true
	case "memory":
		return snapshot.MemoryPercent / 100, true
	case "io":
		return snapshot.DiskPercent / 100, true
	default:
		return 0, false
	}
}

// Analyze compares each pool's driving utilization to the scaling thresholds
// and emits candidate actions. Pools rescaled within min_scale_interval are
// skipped to prevent oscillation.
func (a *AutoScaler) Analyze(snapshot types.MetricsSnapshot) []types.OptimizationAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	var actions []types.OptimizationAction
	for kind, mp := range a.pools {
		util, ok := utilizationFor(kind, snapshot)
		if !ok {
			continue
		}
		if !a.shouldScaleLocked(mp) {
			continue
		}

		current := mp.pool.Size()
		switch {
		case util > a.cfg.ScaleUpThreshold:
			target := int(math.Ceil(float64(current) * config.DefaultScaleUpFactor))
			actions = append(actions, a.newAction(types.StrategyScaleUp, kind, current, target, util,
				ScaleUpPriority, ScaleUpImpact))
		case util < a.cfg.ScaleDownThreshold:
			target := int(math.Floor(float64(current) * config.DefaultScaleDownFactor))
			actions = append(actions, a.newAction(types.StrategyScaleDown, kind, current, target, util,
				ScaleDownPriority, ScaleDownImpact))
		}
	}
	return actions
}

func (a *AutoScaler) newAction(strategy types.Strategy, kind string, current, target int, util float64, priority int, impact float64) types.OptimizationAction {
	return types.OptimizationAction{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Strategy:  strategy,
		Resource:  types.ResourceWorker,
		Description: fmt.Sprintf("%s %s pool from %d workers at %.0f%% utilization",
			strategy, kind, current, util*100),
		Parameters: map[string]interface{}{
			ParamPoolKind:   kind,
			ParamTargetSize: target,
		},
		Priority:        priority,
		EstimatedImpact: impact,
	}
}

// shouldScaleLocked reports whether enough time has passed since the pool's
// last rescale.
func (a *AutoScaler) shouldScaleLocked(mp *managedPool) bool {
	if mp.lastRescale.IsZero() {
		return true
	}
	return time.Since(mp.lastRescale) >= a.cfg.MinScaleInterval
}

// Execute applies a scaling action. The target size is clamped to the pool's
// configured bounds; a target equal to the current size succeeds without
// resizing and without touching the rescale timestamp.
func (a *AutoScaler) Execute(action types.OptimizationAction) types.ActionResult {
	kind, _ := action.Parameters[ParamPoolKind].(string)

	a.mu.Lock()
	defer a.mu.Unlock()

	mp, ok := a.pools[kind]
	if !ok {
		err := NewScalingError(kind, string(action.Strategy), ErrUnknownPool)
		return types.ActionResult{Success: false, Message: err.Error(), Err: err}
	}

	target, ok := targetSize(action.Parameters)
	if !ok {
		err := NewScalingError(kind, string(action.Strategy), ErrMissingTargetSize)
		return types.ActionResult{Success: false, Message: err.Error(), Err: err}
	}

	if target < mp.cfg.MinSize {
		target = mp.cfg.MinSize
	}
	if target > mp.cfg.MaxSize {
		target = mp.cfg.MaxSize
	}

	current := mp.pool.Size()
	if target == current {
		return types.ActionResult{
			Success:  true,
			Message:  "no scaling needed",
			FromSize: current,
			ToSize:   current,
		}
	}

	if err := mp.pool.Resize(target); err != nil {
		wrapped := NewScalingError(kind, string(action.Strategy), err)
		return types.ActionResult{Success: false, Message: wrapped.Error(), FromSize: current, ToSize: current, Err: wrapped}
	}

	now := time.Now()
	mp.rescales++
	mp.lastRescale = now
	a.appendEventLocked(ScalingEvent{
		Kind:      kind,
		From:      current,
		To:        target,
		Reason:    action.Description,
		Timestamp: now,
	})

	a.logger.Info("Executed scaling action",
		zap.String("pool", kind),
		zap.String("strategy", string(action.Strategy)),
		zap.Int("from", current),
		zap.Int("to", target))

	return types.ActionResult{
		Success:  true,
		Message:  fmt.Sprintf("resized %s pool %d -> %d", kind, current, target),
		FromSize: current,
		ToSize:   target,
	}
}

func targetSize(params map[string]interface{}) (int, bool) {
	switch v := params[ParamTargetSize].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Submit enqueues work on the named pool.
func (a *AutoScaler) Submit(kind string, task Task) error {
	a.mu.Lock()
	mp, ok := a.pools[kind]
	a.mu.Unlock()
	if !ok {
		return NewScalingError(kind, "submit", ErrUnknownPool)
	}
	return mp.pool.Submit(task)
}

// Stats returns per-pool sizes, rescale counts and recent scaling events.
func (a *AutoScaler) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{Pools: make([]PoolStats, 0, len(a.pools))}
	for kind, mp := range a.pools {
		stats.Pools = append(stats.Pools, PoolStats{
			Kind:        kind,
			Size:        mp.pool.Size(),
			QueueDepth:  mp.pool.QueueDepth(),
			Rescales:    mp.rescales,
			LastRescale: mp.lastRescale,
		})
		stats.TotalRescales += mp.rescales
	}
	stats.Recent = make([]ScalingEvent, len(a.history))
	copy(stats.Recent, a.history)
	return stats
}

// PoolSize returns the current size of the named pool.
func (a *AutoScaler) PoolSize(kind string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mp, ok := a.pools[kind]
	if !ok {
		return 0, NewScalingError(kind, "size", ErrUnknownPool)
	}
	return mp.pool.Size(), nil
}

// Stop drains all pools.
func (a *AutoScaler) Stop() {
	a.mu.Lock()
	pools := make([]*WorkerPool, 0, len(a.pools))
	for _, mp := range a.pools {
		pools = append(pools, mp.pool)
	}
	a.mu.Unlock()

	for _, p := range pools {
		p.Stop()
	}
	a.logger.Info("Autoscaler stopped")
}

func (a *AutoScaler) appendEventLocked(ev ScalingEvent) {
	a.history = append(a.history, ev)
	if len(a.history) > ScalingHistorySize {
		a.history = a.history[len(a.history)-ScalingHistorySize:]
	}
}
