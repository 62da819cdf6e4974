// Cache sizing, rate limits and stats retention.
package config

import (
	"fmt"
	"time"
)

// CacheConfig sizes one in-memory cache instance.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"` // Entry count ceiling
	MaxBytes   int64         `yaml:"max_bytes"`   // Byte accounting ceiling
	TTL        time.Duration `yaml:"ttl"`         // Default entry TTL
	Policy     string        `yaml:"policy"`      // lru, lfu, time_aware, hybrid
}

// CachesConfig holds the three cache instances the gateway runs.
type CachesConfig struct {
	Response   CacheConfig `yaml:"response"`   // Route-level response cache
	AIResult   CacheConfig `yaml:"ai_result"`  // AI verdict cache
	Credential CacheConfig `yaml:"credential"` // In-process credential cache

	// AIResultBlockTTL overrides the AI-result TTL for blocked or marginal
	// verdicts; clear-allow verdicts use AIResult.TTL.
	AIResultBlockTTL time.Duration `yaml:"ai_result_block_ttl"`
}

func (c *CachesConfig) applyDefaults() {
	def := func(cc *CacheConfig, entries int, bytes int64, ttl time.Duration) {
		if cc.MaxEntries == 0 {
			cc.MaxEntries = entries
		}
		if cc.MaxBytes == 0 {
			cc.MaxBytes = bytes
		}
		if cc.TTL == 0 {
			cc.TTL = ttl
		}
		if cc.Policy == "" {
			cc.Policy = "hybrid"
		}
	}
	def(&c.Response, 5000, 64<<20, 10*time.Minute)
	def(&c.AIResult, 10000, 128<<20, time.Hour)
	def(&c.Credential, 10000, 16<<20, 2*time.Minute)
	if c.AIResultBlockTTL == 0 {
		c.AIResultBlockTTL = 5 * time.Minute
	}
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`  // Requests per window (default 100)
	Window time.Duration `yaml:"window"` // Window length (default 1m)

	// Routes overrides the global limit for specific route patterns.
	Routes map[string]int `yaml:"routes"`
}

func (r *RateLimitConfig) applyDefaults() {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.Window == 0 {
		r.Window = time.Minute
	}
}

// Validate rejects nonsensical limits.
func (r *RateLimitConfig) Validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must not be negative")
	}
	for route, limit := range r.Routes {
		if limit < 0 {
			return fmt.Errorf("rate_limit.routes[%q] must not be negative", route)
		}
	}
	return nil
}

// StatsConfig configures the tracker and the aggregation worker.
type StatsConfig struct {
	LatencyRetention    int           `yaml:"latency_retention"`    // Samples kept after aggregation (default 500)
	AggregationInterval time.Duration `yaml:"aggregation_interval"` // 0 disables the schedule
}

func (s *StatsConfig) applyDefaults() {
	if s.LatencyRetention == 0 {
		s.LatencyRetention = 500
	}
}
