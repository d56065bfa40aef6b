// Package loadbalancer tracks per-worker-class load scores and proposes
// work redistribution when the spread between the busiest and idlest class
// grows past a configured threshold.
package loadbalancer

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/types"
)

// LoadSample is one recorded load observation for a worker class.
type LoadSample struct {
	Class     string    `json:"class"`
	Load      float64   `json:"load"`
	Timestamp time.Time `json:"timestamp"`
}

// Recommendation proposes moving work from one class to another.
type Recommendation struct {
	From                 string  `json:"from"`
	To                   string  `json:"to"`
	EstimatedImprovement float64 `json:"estimated_improvement"`
}

// Stats summarizes the current load distribution.
type Stats struct {
	Classes    int     `json:"classes"`
	Average    float64 `json:"average"`
	Max        float64 `json:"max"`
	Min        float64 `json:"min"`
	Variance   float64 `json:"variance"`
	QueueDepth int     `json:"queue_depth"`
	Rebalances uint64  `json:"rebalances"`
}

// LoadBalancer owns per-class load state. All methods are safe for
// concurrent use; the sample history is bounded with oldest-first eviction.
type LoadBalancer struct {
	mu         sync.RWMutex
	current    map[string]float64
	history    []LoadSample
	rebalances uint64

	cfg    config.LoadBalancerConfig
	logger *zap.Logger
}

// New creates a load balancer with no tracked classes.
func New(cfg config.LoadBalancerConfig, logger *zap.Logger) *LoadBalancer {
	return &LoadBalancer{
		current: make(map[string]float64),
		history: make([]LoadSample, 0, cfg.HistorySize),
		cfg:     cfg,
		logger:  logger.Named("loadbalancer"),
	}
}

// Update records a load observation for class, clamped to [0, 1].
func (lb *LoadBalancer) Update(class string, load float64) {
	load = clamp01(load)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.current[class] = load
	lb.appendSampleLocked(LoadSample{Class: class, Load: load, Timestamp: time.Now()})

	lb.logger.Debug("Updated worker class load",
		zap.String("class", class),
		zap.Float64("load", load))
}

// Score derives a load value for a worker class from its observed response
// time and error rate, weighted 70/30 against the configured goals.
func (lb *LoadBalancer) Score(responseTime time.Duration, errorRate float64) float64 {
	timePart := float64(responseTime) / float64(lb.cfg.ResponseTimeGoal)
	errPart := errorRate / lb.cfg.ErrorRateGoal
	return clamp01(0.7*timePart + 0.3*errPart)
}

// Observe records loads for every worker class present in the snapshot.
func (lb *LoadBalancer) Observe(snapshot types.MetricsSnapshot) {
	for class, rt := range snapshot.WorkerResponseTimes {
		lb.Update(class, lb.Score(rt, snapshot.WorkerErrorRates[class]))
	}
	// Classes reporting only an error rate still count.
	for class, rate := range snapshot.WorkerErrorRates {
		if _, ok := snapshot.WorkerResponseTimes[class]; !ok {
			lb.Update(class, lb.Score(0, rate))
		}
	}
}

// LeastLoaded returns the candidate with the minimum recorded load. When no
// candidate has load data the first candidate is returned, so the choice is
// deterministic rather than random.
func (lb *LoadBalancer) LeastLoaded(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	lb.mu.RLock()
	defer lb.mu.RUnlock()

	best := candidates[0]
	bestLoad := math.Inf(1)
	for _, class := range candidates {
		if load, ok := lb.current[class]; ok && load < bestLoad {
			best = class
			bestLoad = load
		}
	}
	return best
}

// ShouldRebalance reports whether the spread between the busiest and idlest
// tracked class exceeds the rebalance threshold. At least two classes must
// be tracked.
func (lb *LoadBalancer) ShouldRebalance() bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.shouldRebalanceLocked()
}

func (lb *LoadBalancer) shouldRebalanceLocked() bool {
	if len(lb.current) < 2 {
		return false
	}
	minLoad, maxLoad := math.Inf(1), math.Inf(-1)
	for _, load := range lb.current {
		minLoad = math.Min(minLoad, load)
		maxLoad = math.Max(maxLoad, load)
	}
	return maxLoad-minLoad > lb.cfg.RebalanceThreshold
}

// Recommendations pairs every class above the high-load threshold with every
// class below the low-load threshold. The pairing is a deliberately simple
// cross-product heuristic, kept deterministic by sorting classes by load.
func (lb *LoadBalancer) Recommendations() []Recommendation {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if !lb.shouldRebalanceLocked() {
		return nil
	}

	classes := make([]string, 0, len(lb.current))
	for class := range lb.current {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if lb.current[classes[i]] != lb.current[classes[j]] {
			return lb.current[classes[i]] > lb.current[classes[j]]
		}
		return classes[i] < classes[j]
	})

	var high, low []string
	for _, class := range classes {
		switch load := lb.current[class]; {
		case load > lb.cfg.HighLoadThreshold:
			high = append(high, class)
		case load < lb.cfg.LowLoadThreshold:
			low = append(low, class)
		}
	}

	var recs []Recommendation
	for _, from := range high {
		for _, to := range low {
			recs = append(recs, Recommendation{
				From:                 from,
				To:                   to,
				EstimatedImprovement: (lb.current[from] - lb.current[to]) / 2,
			})
		}
	}
	return recs
}

// ApplyRebalance moves fraction of the load spread between from and to,
// clamping both to [0, 1]. It is the execution target of rebalance actions.
func (lb *LoadBalancer) ApplyRebalance(from, to string, fraction float64) (moved float64) {
	fraction = clamp01(fraction)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	fromLoad, okFrom := lb.current[from]
	toLoad, okTo := lb.current[to]
	if !okFrom || !okTo || fromLoad <= toLoad {
		return 0
	}

	moved = (fromLoad - toLoad) * fraction
	now := time.Now()
	lb.current[from] = clamp01(fromLoad - moved)
	lb.current[to] = clamp01(toLoad + moved)
	lb.appendSampleLocked(LoadSample{Class: from, Load: lb.current[from], Timestamp: now})
	lb.appendSampleLocked(LoadSample{Class: to, Load: lb.current[to], Timestamp: now})
	lb.rebalances++

	lb.logger.Info("Rebalanced worker classes",
		zap.String("from", from),
		zap.String("to", to),
		zap.Float64("moved", moved))

	return moved
}

// Stats returns aggregate statistics over the current loads.
func (lb *LoadBalancer) Stats() Stats {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	stats := Stats{
		Classes:    len(lb.current),
		QueueDepth: len(lb.history),
		Rebalances: lb.rebalances,
	}
	if len(lb.current) == 0 {
		return stats
	}

	stats.Min = math.Inf(1)
	stats.Max = math.Inf(-1)
	var sum float64
	for _, load := range lb.current {
		sum += load
		stats.Min = math.Min(stats.Min, load)
		stats.Max = math.Max(stats.Max, load)
	}
	stats.Average = sum / float64(len(lb.current))

	var sq float64
	for _, load := range lb.current {
		d := load - stats.Average
		sq += d * d
	}
	stats.Variance = sq / float64(len(lb.current))

	return stats
}

// History returns a copy of the recorded load samples, oldest first.
func (lb *LoadBalancer) History() []LoadSample {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	out := make([]LoadSample, len(lb.history))
	copy(out, lb.history)
	return out
}

func (lb *LoadBalancer) appendSampleLocked(s LoadSample) {
	lb.history = append(lb.history, s)
	if len(lb.history) > lb.cfg.HistorySize {
		lb.history = lb.history[len(lb.history)-lb.cfg.HistorySize:]
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
