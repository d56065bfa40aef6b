package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefault(t *testing.T) {
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	if cfg.Coordinator.CycleInterval != DefaultCycleInterval {
		t.Errorf("CycleInterval = %s, want %s", cfg.Coordinator.CycleInterval, DefaultCycleInterval)
	}
	if cfg.Coordinator.MaxActionsPerRun != DefaultMaxActionsPerRun {
		t.Errorf("MaxActionsPerRun = %d, want %d", cfg.Coordinator.MaxActionsPerRun, DefaultMaxActionsPerRun)
	}
	if got := len(cfg.Scaling.Pools); got != 3 {
		t.Fatalf("default pools = %d, want 3", got)
	}

	kinds := map[string]bool{}
	for _, pool := range cfg.Scaling.Pools {
		kinds[pool.Kind] = true
		if pool.InitialSize != DefaultPoolSize {
			t.Errorf("pool %s initial size = %d, want %d", pool.Kind, pool.InitialSize, DefaultPoolSize)
		}
	}
	for _, kind := range []string{"compute", "memory", "io"} {
		if !kinds[kind] {
			t.Errorf("default pools missing kind %q", kind)
		}
	}

	if cfg.Recovery.BreakerThreshold != DefaultBreakerThreshold {
		t.Errorf("BreakerThreshold = %d, want %d", cfg.Recovery.BreakerThreshold, DefaultBreakerThreshold)
	}
	if cfg.Recovery.BreakerTimeout != DefaultBreakerTimeout {
		t.Errorf("BreakerTimeout = %s, want %s", cfg.Recovery.BreakerTimeout, DefaultBreakerTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
coordinator:
  cycle_interval: 30s
  max_actions_per_run: 3
scaling:
  enabled: true
  scale_up_threshold: 0.9
  pools:
    - kind: compute
      initial_size: 8
      min_size: 2
      max_size: 32
load_balancer:
  rebalance_threshold: 0.25
recovery:
  breaker_threshold: 7
logging:
  level: debug
  format: console
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Coordinator.CycleInterval != 30*time.Second {
		t.Errorf("CycleInterval = %s, want 30s", cfg.Coordinator.CycleInterval)
	}
	if cfg.Coordinator.MaxActionsPerRun != 3 {
		t.Errorf("MaxActionsPerRun = %d, want 3", cfg.Coordinator.MaxActionsPerRun)
	}
	if cfg.Scaling.ScaleUpThreshold != 0.9 {
		t.Errorf("ScaleUpThreshold = %.2f, want 0.90", cfg.Scaling.ScaleUpThreshold)
	}
	if len(cfg.Scaling.Pools) != 1 || cfg.Scaling.Pools[0].InitialSize != 8 {
		t.Errorf("pools = %+v, want single compute pool of size 8", cfg.Scaling.Pools)
	}
	if cfg.LoadBalancer.RebalanceThreshold != 0.25 {
		t.Errorf("RebalanceThreshold = %.2f, want 0.25", cfg.LoadBalancer.RebalanceThreshold)
	}
	if cfg.Recovery.BreakerThreshold != 7 {
		t.Errorf("BreakerThreshold = %d, want 7", cfg.Recovery.BreakerThreshold)
	}

	// Unset sections fall back to defaults.
	if cfg.Recovery.BreakerTimeout != DefaultBreakerTimeout {
		t.Errorf("BreakerTimeout = %s, want default %s", cfg.Recovery.BreakerTimeout, DefaultBreakerTimeout)
	}
	if cfg.Metrics.SampleTimeout != DefaultSampleTimeout {
		t.Errorf("SampleTimeout = %s, want default %s", cfg.Metrics.SampleTimeout, DefaultSampleTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() on missing file should return an error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("coordinator: [not a map"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() on malformed YAML should return an error")
	}
}

func TestValidation(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadDefault()
		if err != nil {
			t.Fatalf("LoadDefault() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name: "cycle interval below 1s",
			mutate: func(cfg *Config) {
				cfg.Coordinator.CycleInterval = 200 * time.Millisecond
			},
			wantErr: true,
		},
		{
			name: "scale thresholds inverted",
			mutate: func(cfg *Config) {
				cfg.Scaling.ScaleUpThreshold = 0.3
				cfg.Scaling.ScaleDownThreshold = 0.8
			},
			wantErr: true,
		},
		{
			name: "threshold above one",
			mutate: func(cfg *Config) {
				cfg.LoadBalancer.RebalanceThreshold = 1.5
			},
			wantErr: true,
		},
		{
			name: "load thresholds inverted",
			mutate: func(cfg *Config) {
				cfg.LoadBalancer.HighLoadThreshold = 0.2
			},
			wantErr: true,
		},
		{
			name: "unknown pool kind",
			mutate: func(cfg *Config) {
				cfg.Scaling.Pools[0].Kind = "gpu"
			},
			wantErr: true,
		},
		{
			name: "duplicate pool kind",
			mutate: func(cfg *Config) {
				cfg.Scaling.Pools[1].Kind = cfg.Scaling.Pools[0].Kind
			},
			wantErr: true,
		},
		{
			name: "pool initial size above max",
			mutate: func(cfg *Config) {
				cfg.Scaling.Pools[0].MaxSize = 4
				cfg.Scaling.Pools[0].InitialSize = 10
			},
			wantErr: true,
		},
		{
			name: "zero breaker threshold",
			mutate: func(cfg *Config) {
				cfg.Recovery.BreakerThreshold = -1
			},
			wantErr: true,
		},
		{
			name: "negative retry delay",
			mutate: func(cfg *Config) {
				cfg.Recovery.RetryBaseDelay = -time.Second
			},
			wantErr: true,
		},
		{
			name: "cache shards not power of two",
			mutate: func(cfg *Config) {
				cfg.Cache.Shards = 50
			},
			wantErr: true,
		},
		{
			name: "bad log level",
			mutate: func(cfg *Config) {
				cfg.Logging.Level = "verbose"
			},
			wantErr: true,
		},
		{
			name: "otlp exporter without endpoint",
			mutate: func(cfg *Config) {
				cfg.Telemetry.Enabled = true
				cfg.Telemetry.Exporter.Type = ExporterTypeOTLP
				cfg.Telemetry.Exporter.Endpoint = ""
			},
			wantErr: true,
		},
		{
			name: "server enabled with bad bind address",
			mutate: func(cfg *Config) {
				cfg.Server.Enabled = true
				cfg.Server.BindAddress = "no-port"
			},
			wantErr: true,
		},
		{
			name: "memory percent above 100",
			mutate: func(cfg *Config) {
				cfg.Coordinator.Resources.MaxMemoryPercent = 120
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				t.Logf("validation error: %v", err)
			}
		})
	}
}
