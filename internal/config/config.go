// Package config loads and validates the filter gateway configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default} env
// expansion, so the same file works across environments. Required fields
// (port, redis addr, database DSN) fail Validate(); tuning knobs (cache
// sizes, TTLs, rate limits) fall back to documented defaults.
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate(), defaults
//   - providers.go:  AI provider tiers (fast / normal / pro)
//   - caches.go:     Cache sizing, rate limits, stats retention
//   - monitoring.go: Logging settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the filter gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`     // HTTP server settings
	Redis      RedisConfig      `yaml:"redis"`      // Distributed counter store
	Database   DatabaseConfig   `yaml:"database"`   // Relational rollup store
	Providers  ProvidersConfig  `yaml:"providers"`  // AI provider tiers
	RateLimit  RateLimitConfig  `yaml:"rate_limit"` // Fixed-window limits
	Caches     CachesConfig     `yaml:"caches"`     // In-memory cache sizing
	Stats      StatsConfig      `yaml:"stats"`      // Tracker and aggregator
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // Port to listen on
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Max time to read request
	WriteTimeout time.Duration `yaml:"write_timeout"` // Max time to write response
	CORSOrigins  []string      `yaml:"cors_origins"`  // Allowed CORS origins
	AdminToken   string        `yaml:"admin_token"`   // Token for privileged stats endpoints
}

// RedisConfig contains counter store connection settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"`           // host:port
	Password     string `yaml:"password"`       // Optional
	DB           int    `yaml:"db"`             // Logical database
	PoolSize     int    `yaml:"pool_size"`      // Connection pool size
	MinIdleConns int    `yaml:"min_idle_conns"` // Eagerly opened connections
}

// DatabaseConfig contains relational store connection settings.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`            // Postgres DSN
	MaxOpenConns int    `yaml:"max_open_conns"` // Pool ceiling
	MaxIdleConns int    `yaml:"max_idle_conns"` // Warm connections
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file.
// Returns an error if the file doesn't exist or is invalid.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, applies defaults, validates.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills tuning knobs the operator left unset.
func (c *Config) applyDefaults() {
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	c.RateLimit.applyDefaults()
	c.Caches.applyDefaults()
	c.Stats.applyDefaults()
	c.Monitoring.applyDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if err := c.Providers.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return nil
}
