package types

import (
	"context"
	"time"
)

// MetricsSource supplies system load snapshots to the control loop.
//
// Implementations are expected to return within a bounded time; callers wrap
// sources with a timeout and treat an expired deadline as a sampling error.
type MetricsSource interface {
	// Sample collects a point-in-time snapshot of system load
	Sample(ctx context.Context) (MetricsSnapshot, error)
}

// MetricsSnapshot is a point-in-time view of system load consumed by the
// optimization cycle. Per-worker maps are keyed by logical worker class
// (e.g. "valuation", "rendering").
type MetricsSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`

	WorkerResponseTimes map[string]time.Duration `json:"worker_response_times,omitempty"`
	WorkerErrorRates    map[string]float64       `json:"worker_error_rates,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// IsZero reports whether the snapshot carries no sampled data.
func (s MetricsSnapshot) IsZero() bool {
	return s.Timestamp.IsZero()
}

// Strategy identifies the kind of optimization an action performs.
type Strategy string

const (
	StrategyScaleUp       Strategy = "scale_up"
	StrategyScaleDown     Strategy = "scale_down"
	StrategyRebalance     Strategy = "rebalance"
	StrategyReallocate    Strategy = "reallocate_resource"
	StrategyOptimizeCache Strategy = "optimize_cache"
)

// ResourceKind identifies the resource an action targets.
type ResourceKind string

const (
	ResourceCPU    ResourceKind = "cpu"
	ResourceMemory ResourceKind = "memory"
	ResourceDisk   ResourceKind = "disk"
	ResourceCache  ResourceKind = "cache"
	ResourceWorker ResourceKind = "worker"
)

// Priority bounds for optimization actions. Higher executes first.
const (
	MinActionPriority = 1
	MaxActionPriority = 5
)

// OptimizationAction is a candidate improvement produced by an analyzer
// during one cycle. Once executed, only Result may change.
type OptimizationAction struct {
	ID              string                 `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	Strategy        Strategy               `json:"strategy"`
	Resource        ResourceKind           `json:"resource"`
	Description     string                 `json:"description"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	Priority        int                    `json:"priority"`
	EstimatedImpact float64                `json:"estimated_impact"`
	Executed        bool                   `json:"executed"`
	Result          *ActionResult          `json:"result,omitempty"`
}

// ActionResult captures the outcome of executing an optimization action.
type ActionResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	FromSize int           `json:"from_size,omitempty"`
	ToSize   int           `json:"to_size,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// CycleResult summarizes one optimization cycle, scheduled or forced.
type CycleResult struct {
	Timestamp         time.Time            `json:"timestamp"`
	Metrics           MetricsSnapshot      `json:"metrics"`
	ActionsIdentified int                  `json:"actions_identified"`
	ActionsExecuted   int                  `json:"actions_executed"`
	TotalImpact       float64              `json:"total_impact"`
	Actions           []OptimizationAction `json:"actions"`
}

// RecoveryResult reports the outcome of an error-recovery attempt.
type RecoveryResult struct {
	Success  bool          `json:"success"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// OptimizationCallback is invoked for every action that executed
// successfully during a cycle.
type OptimizationCallback func(action OptimizationAction, result ActionResult)

// HealthState represents the health of a component.
type HealthState string

const (
	HealthStateHealthy  HealthState = "healthy"
	HealthStateDegraded HealthState = "degraded"
	HealthStateStarting HealthState = "starting"
	HealthStateStopping HealthState = "stopping"
	HealthStateUnknown  HealthState = "unknown"
)

// HealthStatus represents the health state of the subsystem.
type HealthStatus struct {
	Overall      HealthState `json:"overall"`
	CyclesRun    uint64      `json:"cycles_run"`
	BreakersOpen int         `json:"breakers_open"`
	Updated      time.Time   `json:"updated"`
}
