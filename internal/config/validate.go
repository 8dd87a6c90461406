package config

import "fmt"

// Validate checks configuration ranges the way the teacher's
// internal/config/validate.go does, adapted to this service's settings.
func Validate(cfg *Config) error {
	if cfg.Pool.MinContexts < 1 {
		return fmt.Errorf("pool.min_contexts must be >= 1")
	}
	if cfg.Pool.MaxContexts < cfg.Pool.MinContexts {
		return fmt.Errorf("pool.max_contexts must be >= pool.min_contexts")
	}
	if cfg.Pool.MaxPagesPerContext < 1 {
		return fmt.Errorf("pool.max_pages_per_context must be >= 1")
	}
	if cfg.Pool.ContextReuseLimit < 1 {
		return fmt.Errorf("pool.context_reuse_limit must be >= 1")
	}
	if cfg.RateLimit.MaxConcurrent < 1 {
		return fmt.Errorf("rate_limit.max_concurrent must be >= 1")
	}
	if cfg.RateLimit.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("rate_limit.max_requests_per_minute must be >= 1")
	}
	if cfg.Cache.L1Capacity < 1 {
		return fmt.Errorf("cache.l1_capacity must be >= 1")
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if cfg.Cache.NegativeTTL <= 0 {
		return fmt.Errorf("cache.negative_ttl must be > 0")
	}
	if cfg.Throttler.BaseDelay <= 0 || cfg.Throttler.MaxDelay <= 0 {
		return fmt.Errorf("throttler.base_delay and max_delay must be > 0")
	}
	if cfg.Throttler.MaxDelay < cfg.Throttler.BaseDelay {
		return fmt.Errorf("throttler.max_delay must be >= base_delay")
	}
	if cfg.Scaler.MinWorkers < 1 {
		return fmt.Errorf("scaler.min_workers must be >= 1")
	}
	if cfg.Scaler.MaxWorkers < cfg.Scaler.MinWorkers {
		return fmt.Errorf("scaler.max_workers must be >= min_workers")
	}
	if cfg.Scaler.Cooldown <= 0 {
		return fmt.Errorf("scaler.cooldown must be > 0")
	}
	if cfg.Worker.ChunkSize < 1 {
		return fmt.Errorf("worker.chunk_size must be >= 1")
	}
	if cfg.Worker.MaxConcurrentPerWorker < 1 {
		return fmt.Errorf("worker.max_concurrent_per_worker must be >= 1")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be in [1,65535]")
	}
	return nil
}
