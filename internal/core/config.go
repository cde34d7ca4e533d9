package core

import "time"

// DefaultRenderTimeout bounds a single page render.
const DefaultRenderTimeout = 30 * time.Second

// EngineConfig holds runtime configuration for render workers.
type EngineConfig struct {
	MaxThreads       int           // upper bound on concurrent render workers
	MemoryLimitMB    int           // per-VM memory limit, 0 for none
	RenderTimeout    time.Duration // per-route render limit
	FetchTimeout     time.Duration // per-fetch timeout
	MaxResponseBytes int           // max fetch response body size
}

// WithDefaults returns a copy of cfg with zero fields replaced by defaults.
func (cfg EngineConfig) WithDefaults() EngineConfig {
	if cfg.MaxThreads < 1 {
		cfg.MaxThreads = 1
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 10 * 1024 * 1024
	}
	return cfg
}
