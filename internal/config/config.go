// Package config loads and validates scrapehub's configuration, following
// the teacher's viper-based pattern (internal/config/{config,loader,validate}.go)
// generalized to the enumerated settings of this service.
package config

import "time"

// Version is scrapehub's build version, reported by `scrapehub version`.
const Version = "0.1.0"

// Config is the root configuration tree for scrapehub.
type Config struct {
	Pool      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Throttler ThrottlerConfig `mapstructure:"throttler" yaml:"throttler"`
	Scaler    ScalerConfig    `mapstructure:"scaler" yaml:"scaler"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
}

// PoolConfig governs the PagePool (§4.1).
type PoolConfig struct {
	Headless           bool `mapstructure:"headless" yaml:"headless"`
	MinContexts        int  `mapstructure:"min_contexts" yaml:"min_contexts"`
	MaxContexts        int  `mapstructure:"max_contexts" yaml:"max_contexts"`
	MaxPagesPerContext int  `mapstructure:"max_pages_per_context" yaml:"max_pages_per_context"`
	ContextReuseLimit  int  `mapstructure:"context_reuse_limit" yaml:"context_reuse_limit"`
	EnableImages       bool `mapstructure:"enable_images" yaml:"enable_images"`
	Stealth            bool `mapstructure:"stealth" yaml:"stealth"`
}

// RateLimitConfig governs the RateLimiter (§4.2).
type RateLimitConfig struct {
	MaxConcurrent        int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MaxRequestsPerMinute int `mapstructure:"max_requests_per_minute" yaml:"max_requests_per_minute"`
}

// CacheConfig governs L1Cache and the optional L2Cache (§4.3–4.4).
type CacheConfig struct {
	L1Capacity int           `mapstructure:"l1_capacity" yaml:"l1_capacity"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl" yaml:"negative_ttl"`
	L2URL      string        `mapstructure:"l2_url" yaml:"l2_url"`
}

// ThrottlerConfig governs the Throttler (§4.9).
type ThrottlerConfig struct {
	BaseDelay         time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	LatencyThreshold  time.Duration `mapstructure:"latency_threshold" yaml:"latency_threshold"`
	MissThreshold     float64       `mapstructure:"miss_threshold" yaml:"miss_threshold"`
	MemoryThresholdMB float64       `mapstructure:"memory_threshold_mb" yaml:"memory_threshold_mb"`
}

// ScalerConfig governs the Scaler (§4.10).
type ScalerConfig struct {
	MinWorkers         int           `mapstructure:"min_workers" yaml:"min_workers"`
	MaxWorkers         int           `mapstructure:"max_workers" yaml:"max_workers"`
	ScaleUpThreshold   time.Duration `mapstructure:"scale_up_threshold" yaml:"scale_up_threshold"`
	ScaleDownThreshold time.Duration `mapstructure:"scale_down_threshold" yaml:"scale_down_threshold"`
	QueueUpThreshold   int           `mapstructure:"queue_up_threshold" yaml:"queue_up_threshold"`
	QueueDownThreshold int           `mapstructure:"queue_down_threshold" yaml:"queue_down_threshold"`
	Cooldown           time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	MemoryThresholdMB  float64       `mapstructure:"memory_threshold_mb" yaml:"memory_threshold_mb"`
	RestartCooldown    time.Duration `mapstructure:"restart_cooldown" yaml:"restart_cooldown"`
}

// WorkerConfig governs the WorkerPool / mode-partitioned job queue (§4.11).
type WorkerConfig struct {
	ChunkSize              int `mapstructure:"chunk_size" yaml:"chunk_size"`
	MaxConcurrentPerWorker int `mapstructure:"max_concurrent_per_worker" yaml:"max_concurrent_per_worker"`
}

// LoggingConfig follows the teacher's internal/config LoggingConfig shape.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig follows the teacher's internal/config MetricsConfig shape.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// APIConfig governs the HTTP collaborator surface (§6).
type APIConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns a Config with every default named across §4 of
// SPEC_FULL.md, resolved against original_source's constants where spec.md
// left a value unstated.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Headless:           true,
			MinContexts:        5,
			MaxContexts:        8,
			MaxPagesPerContext: 6,
			ContextReuseLimit:  200,
			EnableImages:       false,
			Stealth:            true,
		},
		RateLimit: RateLimitConfig{
			MaxConcurrent:        6,
			MaxRequestsPerMinute: 30,
		},
		Cache: CacheConfig{
			L1Capacity:  1000,
			TTL:         600 * time.Second,
			NegativeTTL: 30 * time.Second,
			L2URL:       "",
		},
		Throttler: ThrottlerConfig{
			BaseDelay:         50 * time.Millisecond,
			MaxDelay:          3 * time.Second,
			LatencyThreshold:  2 * time.Second,
			MissThreshold:     0.6,
			MemoryThresholdMB: 800.0,
		},
		Scaler: ScalerConfig{
			MinWorkers:         1,
			MaxWorkers:         10,
			ScaleUpThreshold:   time.Second,
			ScaleDownThreshold: 200 * time.Millisecond,
			QueueUpThreshold:   10,
			QueueDownThreshold: 3,
			Cooldown:           30 * time.Second,
			MemoryThresholdMB:  800.0,
			RestartCooldown:    5 * time.Minute,
		},
		Worker: WorkerConfig{
			ChunkSize:              25,
			MaxConcurrentPerWorker: 8,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		API:     APIConfig{Port: 8080},
	}
}
