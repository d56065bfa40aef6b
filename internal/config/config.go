package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	Scaling      ScalingConfig      `yaml:"scaling"`
	LoadBalancer LoadBalancerConfig `yaml:"load_balancer"`
	Recovery     RecoveryConfig     `yaml:"recovery"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Cache        CacheConfig        `yaml:"cache"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig contains HTTP exporter settings
type ServerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bind_address"`
	MetricsPath string `yaml:"metrics_path"`
	HealthPath  string `yaml:"health_path"`
	RateLimit   int    `yaml:"rate_limit"` // requests per minute per IP
}

// CoordinatorConfig contains optimization cycle settings
type CoordinatorConfig struct {
	CycleInterval    time.Duration  `yaml:"cycle_interval"`
	MaxActionsPerRun int            `yaml:"max_actions_per_run"`
	CycleHistorySize int            `yaml:"cycle_history_size"`
	Resources        ResourceLimits `yaml:"resources"`
}

// ResourceLimits defines resource pressure thresholds for reallocation
type ResourceLimits struct {
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
	MaxDiskPercent   float64 `yaml:"max_disk_percent"`
}

// ScalingConfig contains autoscaler settings
type ScalingConfig struct {
	Enabled            bool          `yaml:"enabled"`
	ScaleUpThreshold   float64       `yaml:"scale_up_threshold"`   // 0.0 to 1.0
	ScaleDownThreshold float64       `yaml:"scale_down_threshold"` // 0.0 to 1.0
	MinScaleInterval   time.Duration `yaml:"min_scale_interval"`
	Pools              []PoolConfig  `yaml:"pools"`
}

// PoolConfig represents a managed worker pool
type PoolConfig struct {
	Kind        string `yaml:"kind"` // "compute", "memory", "io"
	InitialSize int    `yaml:"initial_size"`
	MinSize     int    `yaml:"min_size"`
	MaxSize     int    `yaml:"max_size"`
	TaskBacklog int    `yaml:"task_backlog"`
}

// LoadBalancerConfig contains load distribution settings
type LoadBalancerConfig struct {
	HighLoadThreshold  float64       `yaml:"high_load_threshold"`
	LowLoadThreshold   float64       `yaml:"low_load_threshold"`
	RebalanceThreshold float64       `yaml:"rebalance_threshold"`
	RebalanceFraction  float64       `yaml:"rebalance_fraction"`
	HistorySize        int           `yaml:"history_size"`
	ResponseTimeGoal   time.Duration `yaml:"response_time_goal"`
	ErrorRateGoal      float64       `yaml:"error_rate_goal"`
}

// RecoveryConfig contains circuit breaker and retry settings
type RecoveryConfig struct {
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	ErrorHistorySize int           `yaml:"error_history_size"`
}

// MetricsConfig contains sampling settings
type MetricsConfig struct {
	SampleTimeout  time.Duration `yaml:"sample_timeout"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// CacheConfig contains result cache settings
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	LifeWindow time.Duration `yaml:"life_window"`
	Shards     int           `yaml:"shards"`
	MaxSizeMB  int           `yaml:"max_size_mb"`
	MinHitRate float64       `yaml:"min_hit_rate"`
	MinLookups int           `yaml:"min_lookups"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled        bool                    `yaml:"enabled"`
	ServiceName    string                  `yaml:"service_name"`
	ServiceVersion string                  `yaml:"service_version"`
	Environment    string                  `yaml:"environment"`
	Exporter       TelemetryExporterConfig `yaml:"exporter"`
	Sampling       TelemetrySamplingConfig `yaml:"sampling"`
}

// TelemetryExporterConfig configures telemetry exporters
type TelemetryExporterConfig struct {
	Type     string            `yaml:"type"` // "stdout", "otlp"
	Endpoint string            `yaml:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// TelemetrySamplingConfig configures trace sampling
type TelemetrySamplingConfig struct {
	Rate float64 `yaml:"rate"` // 0.0 to 1.0
}

// LoadDefault creates a zero-configuration setup with all defaults
func LoadDefault() (*Config, error) {
	var config Config

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid default configuration: %w", err)
	}

	return &config, nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = DefaultBindAddress
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = DefaultMetricsPath
	}
	if cfg.Server.HealthPath == "" {
		cfg.Server.HealthPath = DefaultHealthPath
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = DefaultRateLimit
	}

	// Coordinator defaults
	if cfg.Coordinator.CycleInterval == 0 {
		cfg.Coordinator.CycleInterval = DefaultCycleInterval
	}
	if cfg.Coordinator.MaxActionsPerRun == 0 {
		cfg.Coordinator.MaxActionsPerRun = DefaultMaxActionsPerRun
	}
	if cfg.Coordinator.CycleHistorySize == 0 {
		cfg.Coordinator.CycleHistorySize = DefaultCycleHistorySize
	}
	if cfg.Coordinator.Resources.MaxMemoryPercent == 0 {
		cfg.Coordinator.Resources.MaxMemoryPercent = DefaultMaxMemoryPercent
	}
	if cfg.Coordinator.Resources.MaxDiskPercent == 0 {
		cfg.Coordinator.Resources.MaxDiskPercent = DefaultMaxDiskPercent
	}

	// Scaling defaults
	if cfg.Scaling.ScaleUpThreshold == 0 {
		cfg.Scaling.ScaleUpThreshold = DefaultScaleUpThreshold
	}
	if cfg.Scaling.ScaleDownThreshold == 0 {
		cfg.Scaling.ScaleDownThreshold = DefaultScaleDownThreshold
	}
	if cfg.Scaling.MinScaleInterval == 0 {
		cfg.Scaling.MinScaleInterval = DefaultMinScaleInterval
	}
	if len(cfg.Scaling.Pools) == 0 {
		cfg.Scaling.Pools = defaultPools()
	}
	for i := range cfg.Scaling.Pools {
		p := &cfg.Scaling.Pools[i]
		if p.InitialSize == 0 {
			p.InitialSize = DefaultPoolSize
		}
		if p.MinSize == 0 {
			p.MinSize = MinPoolSize
		}
		if p.MaxSize == 0 {
			p.MaxSize = MaxPoolSize
		}
		if p.TaskBacklog == 0 {
			p.TaskBacklog = DefaultTaskBacklog
		}
	}

	// Load balancer defaults
	if cfg.LoadBalancer.HighLoadThreshold == 0 {
		cfg.LoadBalancer.HighLoadThreshold = DefaultHighLoadThreshold
	}
	if cfg.LoadBalancer.LowLoadThreshold == 0 {
		cfg.LoadBalancer.LowLoadThreshold = DefaultLowLoadThreshold
	}
	if cfg.LoadBalancer.RebalanceThreshold == 0 {
		cfg.LoadBalancer.RebalanceThreshold = DefaultRebalanceThreshold
	}
	if cfg.LoadBalancer.RebalanceFraction == 0 {
		cfg.LoadBalancer.RebalanceFraction = DefaultRebalanceFraction
	}
	if cfg.LoadBalancer.HistorySize == 0 {
		cfg.LoadBalancer.HistorySize = DefaultLoadHistorySize
	}
	if cfg.LoadBalancer.ResponseTimeGoal == 0 {
		cfg.LoadBalancer.ResponseTimeGoal = DefaultResponseTimeGoal
	}
	if cfg.LoadBalancer.ErrorRateGoal == 0 {
		cfg.LoadBalancer.ErrorRateGoal = DefaultErrorRateGoal
	}

	// Recovery defaults
	if cfg.Recovery.BreakerThreshold == 0 {
		cfg.Recovery.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.Recovery.BreakerTimeout == 0 {
		cfg.Recovery.BreakerTimeout = DefaultBreakerTimeout
	}
	if cfg.Recovery.MaxRetries == 0 {
		cfg.Recovery.MaxRetries = DefaultMaxRetries
	}
	if cfg.Recovery.RetryBaseDelay == 0 {
		cfg.Recovery.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Recovery.ErrorHistorySize == 0 {
		cfg.Recovery.ErrorHistorySize = DefaultErrorHistorySize
	}

	// Metrics defaults
	if cfg.Metrics.SampleTimeout == 0 {
		cfg.Metrics.SampleTimeout = DefaultSampleTimeout
	}
	if cfg.Metrics.SampleInterval == 0 {
		cfg.Metrics.SampleInterval = DefaultSampleInterval
	}

	// Cache defaults
	if cfg.Cache.LifeWindow == 0 {
		cfg.Cache.LifeWindow = DefaultCacheLifeWindow
	}
	if cfg.Cache.Shards == 0 {
		cfg.Cache.Shards = DefaultCacheShards
	}
	if cfg.Cache.MaxSizeMB == 0 {
		cfg.Cache.MaxSizeMB = DefaultCacheMaxSizeMB
	}
	if cfg.Cache.MinHitRate == 0 {
		cfg.Cache.MinHitRate = DefaultCacheMinHitRate
	}
	if cfg.Cache.MinLookups == 0 {
		cfg.Cache.MinLookups = DefaultCacheMinLookups
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.OutputPath == "" {
		cfg.Logging.OutputPath = "stdout"
	}

	// Telemetry defaults
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "dev"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = EnvDevelopment
	}
	if cfg.Telemetry.Exporter.Type == "" {
		cfg.Telemetry.Exporter.Type = ExporterTypeStdout
	}
	if cfg.Telemetry.Sampling.Rate == 0 {
		cfg.Telemetry.Sampling.Rate = DefaultSamplingRate
	}
}

// defaultPools returns the standard pool set for zero-config mode
func defaultPools() []PoolConfig {
	kinds := []string{"compute", "memory", "io"}
	pools := make([]PoolConfig, 0, len(kinds))
	for _, kind := range kinds {
		pools = append(pools, PoolConfig{
			Kind:        kind,
			InitialSize: DefaultPoolSize,
			MinSize:     MinPoolSize,
			MaxSize:     MaxPoolSize,
			TaskBacklog: DefaultTaskBacklog,
		})
	}
	return pools
}

// validate checks the configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Server.BindAddress); err != nil {
			return fmt.Errorf("server.bind_address %q is not host:port: %w", cfg.Server.BindAddress, err)
		}
		if !strings.HasPrefix(cfg.Server.MetricsPath, "/") {
			return fmt.Errorf("server.metrics_path %q must start with /", cfg.Server.MetricsPath)
		}
		if !strings.HasPrefix(cfg.Server.HealthPath, "/") {
			return fmt.Errorf("server.health_path %q must start with /", cfg.Server.HealthPath)
		}
		if cfg.Server.RateLimit < 0 {
			return fmt.Errorf("server.rate_limit must not be negative, got %d", cfg.Server.RateLimit)
		}
	}

	if cfg.Coordinator.CycleInterval < time.Second {
		return fmt.Errorf("coordinator.cycle_interval must be at least 1s, got %s", cfg.Coordinator.CycleInterval)
	}
	if cfg.Coordinator.MaxActionsPerRun < 1 {
		return fmt.Errorf("coordinator.max_actions_per_run must be at least 1, got %d", cfg.Coordinator.MaxActionsPerRun)
	}
	if cfg.Coordinator.CycleHistorySize < 1 {
		return fmt.Errorf("coordinator.cycle_history_size must be at least 1, got %d", cfg.Coordinator.CycleHistorySize)
	}
	if err := validatePercent("coordinator.resources.max_memory_percent", cfg.Coordinator.Resources.MaxMemoryPercent); err != nil {
		return err
	}
	if err := validatePercent("coordinator.resources.max_disk_percent", cfg.Coordinator.Resources.MaxDiskPercent); err != nil {
		return err
	}

	if err := validateRatio("scaling.scale_up_threshold", cfg.Scaling.ScaleUpThreshold); err != nil {
		return err
	}
	if err := validateRatio("scaling.scale_down_threshold", cfg.Scaling.ScaleDownThreshold); err != nil {
		return err
	}
	if cfg.Scaling.ScaleDownThreshold >= cfg.Scaling.ScaleUpThreshold {
		return fmt.Errorf("scaling.scale_down_threshold (%.2f) must be below scale_up_threshold (%.2f)",
			cfg.Scaling.ScaleDownThreshold, cfg.Scaling.ScaleUpThreshold)
	}
	if cfg.Scaling.MinScaleInterval < 0 {
		return fmt.Errorf("scaling.min_scale_interval must not be negative, got %s", cfg.Scaling.MinScaleInterval)
	}

	seen := make(map[string]bool, len(cfg.Scaling.Pools))
	for i, pool := range cfg.Scaling.Pools {
		if err := validatePool(i, pool); err != nil {
			return err
		}
		if seen[pool.Kind] {
			return fmt.Errorf("scaling.pools[%d]: duplicate pool kind %q", i, pool.Kind)
		}
		seen[pool.Kind] = true
	}

	if err := validateRatio("load_balancer.high_load_threshold", cfg.LoadBalancer.HighLoadThreshold); err != nil {
		return err
	}
	if err := validateRatio("load_balancer.low_load_threshold", cfg.LoadBalancer.LowLoadThreshold); err != nil {
		return err
	}
	if cfg.LoadBalancer.LowLoadThreshold >= cfg.LoadBalancer.HighLoadThreshold {
		return fmt.Errorf("load_balancer.low_load_threshold (%.2f) must be below high_load_threshold (%.2f)",
			cfg.LoadBalancer.LowLoadThreshold, cfg.LoadBalancer.HighLoadThreshold)
	}
	if err := validateRatio("load_balancer.rebalance_threshold", cfg.LoadBalancer.RebalanceThreshold); err != nil {
		return err
	}
	if err := validateRatio("load_balancer.rebalance_fraction", cfg.LoadBalancer.RebalanceFraction); err != nil {
		return err
	}
	if cfg.LoadBalancer.HistorySize < 1 {
		return fmt.Errorf("load_balancer.history_size must be at least 1, got %d", cfg.LoadBalancer.HistorySize)
	}
	if cfg.LoadBalancer.ResponseTimeGoal <= 0 {
		return fmt.Errorf("load_balancer.response_time_goal must be positive, got %s", cfg.LoadBalancer.ResponseTimeGoal)
	}
	if err := validateRatio("load_balancer.error_rate_goal", cfg.LoadBalancer.ErrorRateGoal); err != nil {
		return err
	}

	if cfg.Recovery.BreakerThreshold < 1 {
		return fmt.Errorf("recovery.breaker_threshold must be at least 1, got %d", cfg.Recovery.BreakerThreshold)
	}
	if cfg.Recovery.BreakerTimeout <= 0 {
		return fmt.Errorf("recovery.breaker_timeout must be positive, got %s", cfg.Recovery.BreakerTimeout)
	}
	if cfg.Recovery.MaxRetries < 1 {
		return fmt.Errorf("recovery.max_retries must be at least 1, got %d", cfg.Recovery.MaxRetries)
	}
	if cfg.Recovery.RetryBaseDelay <= 0 {
		return fmt.Errorf("recovery.retry_base_delay must be positive, got %s", cfg.Recovery.RetryBaseDelay)
	}

	if cfg.Metrics.SampleTimeout <= 0 {
		return fmt.Errorf("metrics.sample_timeout must be positive, got %s", cfg.Metrics.SampleTimeout)
	}
	if cfg.Metrics.SampleInterval <= 0 {
		return fmt.Errorf("metrics.sample_interval must be positive, got %s", cfg.Metrics.SampleInterval)
	}

	if cfg.Cache.Shards&(cfg.Cache.Shards-1) != 0 {
		return fmt.Errorf("cache.shards must be a power of two, got %d", cfg.Cache.Shards)
	}
	if cfg.Cache.MaxSizeMB < 1 {
		return fmt.Errorf("cache.max_size_mb must be at least 1, got %d", cfg.Cache.MaxSizeMB)
	}
	if err := validateRatio("cache.min_hit_rate", cfg.Cache.MinHitRate); err != nil {
		return err
	}

	if err := validateLogging(cfg.Logging); err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		if err := validateTelemetry(cfg.Telemetry); err != nil {
			return err
		}
	}

	return nil
}

func validatePool(i int, pool PoolConfig) error {
	switch pool.Kind {
	case "compute", "memory", "io":
	default:
		return fmt.Errorf("scaling.pools[%d]: unknown kind %q (want compute, memory or io)", i, pool.Kind)
	}
	if pool.MinSize < MinPoolSize {
		return fmt.Errorf("scaling.pools[%d]: min_size must be at least %d, got %d", i, MinPoolSize, pool.MinSize)
	}
	if pool.MaxSize > MaxPoolSize {
		return fmt.Errorf("scaling.pools[%d]: max_size must not exceed %d, got %d", i, MaxPoolSize, pool.MaxSize)
	}
	if pool.MinSize > pool.MaxSize {
		return fmt.Errorf("scaling.pools[%d]: min_size (%d) exceeds max_size (%d)", i, pool.MinSize, pool.MaxSize)
	}
	if pool.InitialSize < pool.MinSize || pool.InitialSize > pool.MaxSize {
		return fmt.Errorf("scaling.pools[%d]: initial_size (%d) outside [%d, %d]", i, pool.InitialSize, pool.MinSize, pool.MaxSize)
	}
	if pool.TaskBacklog < 1 {
		return fmt.Errorf("scaling.pools[%d]: task_backlog must be at least 1, got %d", i, pool.TaskBacklog)
	}
	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	switch cfg.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not one of json, console", cfg.Format)
	}
	return nil
}

func validateTelemetry(cfg TelemetryConfig) error {
	switch cfg.Exporter.Type {
	case ExporterTypeStdout:
	case ExporterTypeOTLP:
		if cfg.Exporter.Endpoint == "" {
			return fmt.Errorf("telemetry.exporter.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("telemetry.exporter.type %q is not one of stdout, otlp", cfg.Exporter.Type)
	}
	if cfg.Sampling.Rate < 0 || cfg.Sampling.Rate > 1 {
		return fmt.Errorf("telemetry.sampling.rate must be within [0, 1], got %.2f", cfg.Sampling.Rate)
	}
	return nil
}

func validateRatio(field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %.2f", field, v)
	}
	return nil
}

func validatePercent(field string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be within [0, 100], got %.1f", field, v)
	}
	return nil
}
