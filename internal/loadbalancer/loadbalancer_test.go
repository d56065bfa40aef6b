package loadbalancer

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/config"
	"github.com/adaptix/perf-manager/internal/types"
)

func testConfig() config.LoadBalancerConfig {
	return config.LoadBalancerConfig{
		HighLoadThreshold:  config.DefaultHighLoadThreshold,
		LowLoadThreshold:   config.DefaultLowLoadThreshold,
		RebalanceThreshold: config.DefaultRebalanceThreshold,
		RebalanceFraction:  config.DefaultRebalanceFraction,
		HistorySize:        config.DefaultLoadHistorySize,
		ResponseTimeGoal:   config.DefaultResponseTimeGoal,
		ErrorRateGoal:      config.DefaultErrorRateGoal,
	}
}

func newTestBalancer(t *testing.T) *LoadBalancer {
	t.Helper()
	return New(testConfig(), zap.NewNop())
}

func TestUpdateClampsLoad(t *testing.T) {
	lb := newTestBalancer(t)

	lb.Update("a", 1.7)
	lb.Update("b", -0.4)

	stats := lb.Stats()
	if stats.Max != 1.0 {
		t.Errorf("max load = %.2f, want 1.00 (clamped)", stats.Max)
	}
	if stats.Min != 0.0 {
		t.Errorf("min load = %.2f, want 0.00 (clamped)", stats.Min)
	}
}

func TestLeastLoaded(t *testing.T) {
	tests := []struct {
		name       string
		loads      map[string]float64
		candidates []string
		want       string
	}{
		{
			name:       "no data returns first candidate",
			loads:      nil,
			candidates: []string{"a", "b"},
			want:       "a",
		},
		{
			name:       "picks minimum load",
			loads:      map[string]float64{"a": 0.9, "b": 0.2, "c": 0.5},
			candidates: []string{"a", "b", "c"},
			want:       "b",
		},
		{
			name:       "ignores untracked candidates unless all untracked",
			loads:      map[string]float64{"c": 0.8},
			candidates: []string{"a", "b", "c"},
			want:       "c",
		},
		{
			name:       "empty candidates",
			loads:      map[string]float64{"a": 0.1},
			candidates: nil,
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := newTestBalancer(t)
			for class, load := range tt.loads {
				lb.Update(class, load)
			}
			if got := lb.LeastLoaded(tt.candidates); got != tt.want {
				t.Errorf("LeastLoaded(%v) = %q, want %q", tt.candidates, got, tt.want)
			}
		})
	}
}

func TestShouldRebalance(t *testing.T) {
	tests := []struct {
		name  string
		loads map[string]float64
		want  bool
	}{
		{name: "no classes", loads: nil, want: false},
		{name: "single class", loads: map[string]float64{"a": 0.95}, want: false},
		{name: "equal loads", loads: map[string]float64{"a": 0.5, "b": 0.5}, want: false},
		{name: "spread at threshold", loads: map[string]float64{"a": 0.6, "b": 0.3}, want: false},
		{name: "spread above threshold", loads: map[string]float64{"a": 0.9, "b": 0.5}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := newTestBalancer(t)
			for class, load := range tt.loads {
				lb.Update(class, load)
			}
			if got := lb.ShouldRebalance(); got != tt.want {
				t.Errorf("ShouldRebalance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecommendationsCrossProduct(t *testing.T) {
	lb := newTestBalancer(t)
	lb.Update("hot1", 0.95)
	lb.Update("hot2", 0.85)
	lb.Update("cold1", 0.10)
	lb.Update("cold2", 0.20)
	lb.Update("mid", 0.55) // neither source nor target

	recs := lb.Recommendations()
	if len(recs) != 4 {
		t.Fatalf("got %d recommendations, want 4 (2 high x 2 low)", len(recs))
	}

	// Sorted by descending source load, so hot1 pairs come first.
	if recs[0].From != "hot1" || recs[len(recs)-1].From != "hot2" {
		t.Errorf("recommendations not ordered by source load: %+v", recs)
	}
	for _, rec := range recs {
		if rec.From != "hot1" && rec.From != "hot2" {
			t.Errorf("unexpected source %q", rec.From)
		}
		if rec.To != "cold1" && rec.To != "cold2" {
			t.Errorf("unexpected target %q", rec.To)
		}
		if rec.EstimatedImprovement <= 0 {
			t.Errorf("improvement for %s->%s = %.3f, want positive", rec.From, rec.To, rec.EstimatedImprovement)
		}
	}
}

func TestRecommendationsEmptyWhenBalanced(t *testing.T) {
	lb := newTestBalancer(t)
	lb.Update("a", 0.5)
	lb.Update("b", 0.5)

	if recs := lb.Recommendations(); len(recs) != 0 {
		t.Errorf("got %d recommendations for balanced loads, want 0", len(recs))
	}
}

func TestApplyRebalance(t *testing.T) {
	lb := newTestBalancer(t)
	lb.Update("hot", 0.9)
	lb.Update("cold", 0.1)

	moved := lb.ApplyRebalance("hot", "cold", 0.5)
	if moved <= 0 {
		t.Fatalf("ApplyRebalance moved %.3f, want positive", moved)
	}

	stats := lb.Stats()
	if spread := stats.Max - stats.Min; spread >= 0.8 {
		t.Errorf("spread after rebalance = %.3f, want reduced from 0.8", spread)
	}
	if stats.Rebalances != 1 {
		t.Errorf("rebalance count = %d, want 1", stats.Rebalances)
	}

	// Moving from the less loaded class is a no-op.
	if moved := lb.ApplyRebalance("cold", "hot", 0.5); moved != 0 {
		t.Errorf("reverse rebalance moved %.3f, want 0", moved)
	}
}

func TestStats(t *testing.T) {
	lb := newTestBalancer(t)
	lb.Update("a", 0.2)
	lb.Update("b", 0.4)
	lb.Update("c", 0.6)

	stats := lb.Stats()
	if stats.Classes != 3 {
		t.Errorf("classes = %d, want 3", stats.Classes)
	}
	if diff := stats.Average - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("average = %.3f, want 0.400", stats.Average)
	}
	if stats.Max != 0.6 || stats.Min != 0.2 {
		t.Errorf("max/min = %.2f/%.2f, want 0.60/0.20", stats.Max, stats.Min)
	}
	wantVar := ((0.2-0.4)*(0.2-0.4) + 0 + (0.6-0.4)*(0.6-0.4)) / 3
	if diff := stats.Variance - wantVar; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("variance = %.5f, want %.5f", stats.Variance, wantVar)
	}
}

func TestHistoryBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 10
	lb := New(cfg, zap.NewNop())

	for i := 0; i < 25; i++ {
		lb.Update("a", float64(i%10)/10)
	}

	history := lb.History()
	if len(history) != 10 {
		t.Fatalf("history length = %d, want 10", len(history))
	}
	// Oldest entries evicted: the first surviving sample is the 16th update.
	if history[0].Load != 0.5 {
		t.Errorf("oldest surviving sample load = %.2f, want 0.50", history[0].Load)
	}
}

func TestScore(t *testing.T) {
	lb := newTestBalancer(t)

	tests := []struct {
		name         string
		responseTime time.Duration
		errorRate    float64
		want         float64
	}{
		{"idle", 0, 0, 0},
		{"at both goals", config.DefaultResponseTimeGoal, config.DefaultErrorRateGoal, 1.0},
		{"half response goal only", config.DefaultResponseTimeGoal / 2, 0, 0.35},
		{"saturated clamps to one", 10 * config.DefaultResponseTimeGoal, 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lb.Score(tt.responseTime, tt.errorRate)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score(%s, %.2f) = %.3f, want %.3f", tt.responseTime, tt.errorRate, got, tt.want)
			}
		})
	}
}

func TestObserve(t *testing.T) {
	lb := newTestBalancer(t)
	lb.Observe(types.MetricsSnapshot{
		WorkerResponseTimes: map[string]time.Duration{
			"valuation": config.DefaultResponseTimeGoal,
			"rendering": 50 * time.Millisecond,
		},
		WorkerErrorRates: map[string]float64{
			"valuation": config.DefaultErrorRateGoal,
			"messaging": 0.01,
		},
		Timestamp: time.Now(),
	})

	stats := lb.Stats()
	if stats.Classes != 3 {
		t.Errorf("tracked classes = %d, want 3 (valuation, rendering, messaging)", stats.Classes)
	}
	if got := lb.LeastLoaded([]string{"valuation", "rendering", "messaging"}); got == "valuation" {
		t.Errorf("LeastLoaded returned the saturated class %q", got)
	}
}
