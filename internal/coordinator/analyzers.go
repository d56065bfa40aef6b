package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adaptix/perf-manager/internal/cache"
	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/types"
)

// Action priorities and impacts for coordinator-owned analyzers
const (
	reallocatePriority    = 4
	reallocateMemImpact   = 0.25
	reallocateDiskImpact  = 0.2
	rebalancePriority     = 3
	optimizeCachePriority = 2
	optimizeCacheImpact   = 0.15
)

// Action parameter keys used by coordinator-owned analyzers
const (
	paramResource  = "resource"
	paramFrom      = "from"
	paramTo        = "to"
	paramFraction  = "fraction"
	paramHitRate   = "hit_rate"
	paramUtilizPct = "utilization_percent"
)

// resourceAnalyzer flags memory and disk pressure above the configured
// limits and proposes reallocation.
type resourceAnalyzer struct {
	limits config.ResourceLimits
}

func (a *resourceAnalyzer) analyze(snapshot types.MetricsSnapshot) []types.OptimizationAction {
	var actions []types.OptimizationAction

	if snapshot.MemoryPercent > a.limits.MaxMemoryPercent {
		actions = append(actions, types.OptimizationAction{
			ID:        uuid.New().String(),
			Timestamp: time.Now(),
			Strategy:  types.StrategyReallocate,
			Resource:  types.ResourceMemory,
			Description: fmt.Sprintf("memory at %.1f%% exceeds limit %.1f%%",
				snapshot.MemoryPercent, a.limits.MaxMemoryPercent),
			Parameters: map[string]interface{}{
				paramResource:  string(types.ResourceMemory),
				paramUtilizPct: snapshot.MemoryPercent,
			},
			Priority:        reallocatePriority,
			EstimatedImpact: reallocateMemImpact,
		})
	}

	if snapshot.DiskPercent > a.limits.MaxDiskPercent {
		actions = append(actions, types.OptimizationAction{
			ID:        uuid.New().String(),
			Timestamp: time.Now(),
			Strategy:  types.StrategyReallocate,
			Resource:  types.ResourceDisk,
			Description: fmt.Sprintf("disk at %.1f%% exceeds limit %.1f%%",
				snapshot.DiskPercent, a.limits.MaxDiskPercent),
			Parameters: map[string]interface{}{
				paramResource:  string(types.ResourceDisk),
				paramUtilizPct: snapshot.DiskPercent,
			},
			Priority:        reallocatePriority,
			EstimatedImpact: reallocateDiskImpact,
		})
	}

	return actions
}

// ResultCache is the slice of the result cache the coordinator touches.
type ResultCache interface {
	Stats() cache.Stats
	Reset() error
}

// cacheAnalyzer proposes a cache reset when the hit rate is poor over a
// trustworthy number of lookups, or when memory pressure makes cached
// payloads expensive to keep.
type cacheAnalyzer struct {
	cache            ResultCache
	minHitRate       float64
	minLookups       int64
	memoryPressurePt float64
}

func (a *cacheAnalyzer) analyze(snapshot types.MetricsSnapshot) []types.OptimizationAction {
	if a.cache == nil {
		return nil
	}
	stats := a.cache.Stats()

	poorHitRate := stats.Lookups >= a.minLookups && stats.HitRate < a.minHitRate
	memoryPressure := snapshot.MemoryPercent/100 > a.memoryPressurePt
	if !poorHitRate && !memoryPressure {
		return nil
	}

	reason := fmt.Sprintf("hit rate %.2f over %d lookups", stats.HitRate, stats.Lookups)
	if memoryPressure {
		reason = fmt.Sprintf("memory at %.1f%% with %d cached lookups", snapshot.MemoryPercent, stats.Lookups)
	}

	return []types.OptimizationAction{{
		ID:          uuid.New().String(),
		Timestamp:   time.Now(),
		Strategy:    types.StrategyOptimizeCache,
		Resource:    types.ResourceCache,
		Description: "reset result cache: " + reason,
		Parameters: map[string]interface{}{
			paramHitRate: stats.HitRate,
		},
		Priority:        optimizeCachePriority,
		EstimatedImpact: optimizeCacheImpact,
	}}
}
