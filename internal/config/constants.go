package config

import "time"

// Application constants for the performance control loop
const (
	// Optimization Cycle
	DefaultCycleInterval    = 60 * time.Second // Interval between optimization cycles
	DefaultMaxActionsPerRun = 5                // Executed actions per cycle, highest priority first
	DefaultCycleHistorySize = 100              // Bounded ring of recent cycle records

	// Scaling Thresholds
	DefaultScaleUpThreshold   = 0.80 // Utilization above which pools scale up
	DefaultScaleDownThreshold = 0.30 // Utilization below which pools scale down
	DefaultScaleUpFactor      = 1.25 // Target = ceil(current * factor) on scale up
	DefaultScaleDownFactor    = 0.75 // Target = floor(current * factor) on scale down
	DefaultMinScaleInterval   = 60 * time.Second

	// Worker Pool Limits
	MinPoolSize        = 1
	MaxPoolSize        = 1000
	DefaultPoolSize    = 4
	DefaultTaskBacklog = 64 // Task channel buffer per pool

	// Load Balancing
	DefaultHighLoadThreshold  = 0.70 // Workers above this are rebalance sources
	DefaultLowLoadThreshold   = 0.40 // Workers below this are rebalance targets
	DefaultRebalanceThreshold = 0.30 // Minimum source-target spread to recommend
	DefaultRebalanceFraction  = 0.50 // Fraction of the spread moved per rebalance
	DefaultLoadHistorySize    = 1000 // Bounded per-worker load sample history

	// Error Recovery
	DefaultBreakerThreshold = 5                 // Consecutive failures before a breaker opens
	DefaultBreakerTimeout   = 300 * time.Second // Open duration before recovery may close
	DefaultMaxRetries       = 3                 // Recovery attempts per error
	DefaultRetryBaseDelay   = 1 * time.Second   // Exponential backoff base
	DefaultErrorHistorySize = 1000              // Bounded recorded error history

	// Metrics Sampling
	DefaultSampleTimeout  = 5 * time.Second // Bound on a single metrics sample
	DefaultSampleInterval = 10 * time.Second

	// Resource Limits
	DefaultMaxMemoryPercent = 85.0 // Memory percent above which reallocation triggers
	DefaultMaxDiskPercent   = 90.0 // Disk percent above which reallocation triggers

	// Result Cache
	DefaultCacheLifeWindow = 10 * time.Minute
	DefaultCacheShards     = 64
	DefaultCacheMaxSizeMB  = 64
	DefaultCacheMinHitRate = 0.40 // Hit rate below this triggers optimize-cache
	DefaultCacheMinLookups = 100  // Lookups required before the hit rate is trusted

	// Worker Class Goals
	DefaultResponseTimeGoal = 500 * time.Millisecond // Response time mapped to load score 0.7
	DefaultErrorRateGoal    = 0.05                   // Error rate mapped to load score 0.3

	// Configuration Defaults
	DefaultConfigPath   = "configs/example.yaml"
	DefaultServiceName  = "perf-manager"
	DefaultSamplingRate = 0.1 // Telemetry trace sampling rate (10%)

	// Operational Events
	DefaultEventHistorySize = 1000 // Bounded in-memory event ring

	// HTTP Exporter
	DefaultBindAddress = "0.0.0.0:9090"
	DefaultMetricsPath = "/metrics"
	DefaultHealthPath  = "/health"
	DefaultRateLimit   = 100 // Requests per minute per IP
	BurstLimit         = 10  // Burst requests allowed
)

// Environment-specific constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Telemetry exporter types
const (
	ExporterTypeStdout = "stdout"
	ExporterTypeOTLP   = "otlp"
)
