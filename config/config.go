// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/tollgate/domain/plan"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Downstream DownstreamConfig `yaml:"downstream"`
	Throttle   ThrottleConfig   `yaml:"throttle"`
	Billing    BillingConfig    `yaml:"billing"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Database   DatabaseConfig   `yaml:"database"`
	Pool       PoolConfig       `yaml:"pool"`
	Plans      []PlanConfig     `yaml:"plans"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// DownstreamConfig configures the metered completion service.
type DownstreamConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// ThrottleConfig configures the pre-auth per-address limiter.
// The per-caller limit comes from the caller's plan, not from here.
type ThrottleConfig struct {
	Enabled    bool `yaml:"enabled"`
	Limit      int  `yaml:"limit"`       // requests per window per source address
	WindowSecs int  `yaml:"window_secs"` // window length in seconds
}

// BillingConfig configures cost computation.
type BillingConfig struct {
	InputPerK  int64 `yaml:"input_per_k"`  // minor units per 1000 input units
	OutputPerK int64 `yaml:"output_per_k"` // minor units per 1000 output units
}

// LedgerConfig configures the buffered usage recorder.
type LedgerConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	MaxBuffered   int           `yaml:"max_buffered"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// PoolConfig configures the storage connection pool.
type PoolConfig struct {
	Base           int           `yaml:"base"`            // connections kept warm
	Overflow       int           `yaml:"overflow"`        // extra connections under burst
	MaxLifetime    time.Duration `yaml:"max_lifetime"`    // recycle age
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // wait before pool_exhausted
}

// PlanConfig configures a subscription plan.
type PlanConfig struct {
	Tier               string `yaml:"tier"`
	Name               string `yaml:"name"`
	CallsPerMonth      int64  `yaml:"calls_per_month"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	PriceMonthly       int64  `yaml:"price_monthly"` // cents
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	TOLLGATE_DOWNSTREAM_URL   - Completion service URL (required)
//	TOLLGATE_DATABASE_DSN     - Database path (default: tollgate.db)
//	TOLLGATE_SERVER_HOST      - Server host (default: 0.0.0.0)
//	TOLLGATE_SERVER_PORT      - Server port (default: 8080)
//	TOLLGATE_THROTTLE_ENABLED - Enable per-address throttle (default: true)
//	TOLLGATE_LOG_LEVEL        - Log level (default: info)
//	TOLLGATE_LOG_FORMAT       - json or console (default: json)
//	TOLLGATE_METRICS_ENABLED  - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("TOLLGATE_DOWNSTREAM_URL") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set TOLLGATE_DOWNSTREAM_URL")
}

// applyEnvOverrides applies TOLLGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOLLGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TOLLGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TOLLGATE_SERVER_SLOW_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.SlowThreshold = d
		}
	}

	if v := os.Getenv("TOLLGATE_DOWNSTREAM_URL"); v != "" {
		cfg.Downstream.URL = v
	}
	if v := os.Getenv("TOLLGATE_DOWNSTREAM_API_KEY"); v != "" {
		cfg.Downstream.APIKey = v
	}
	if v := os.Getenv("TOLLGATE_DOWNSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Downstream.Timeout = d
		}
	}

	if v := os.Getenv("TOLLGATE_THROTTLE_ENABLED"); v != "" {
		cfg.Throttle.Enabled = parseBool(v)
	}
	if v := os.Getenv("TOLLGATE_THROTTLE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Throttle.Limit = n
		}
	}
	if v := os.Getenv("TOLLGATE_THROTTLE_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Throttle.WindowSecs = n
		}
	}

	if v := os.Getenv("TOLLGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TOLLGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("TOLLGATE_POOL_BASE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Base = n
		}
	}
	if v := os.Getenv("TOLLGATE_POOL_OVERFLOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Overflow = n
		}
	}

	if v := os.Getenv("TOLLGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TOLLGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("TOLLGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("TOLLGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// setDefaults fills in default values for unset fields.
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.SlowThreshold == 0 {
		cfg.Server.SlowThreshold = 5 * time.Second
	}

	if cfg.Downstream.Timeout == 0 {
		cfg.Downstream.Timeout = 30 * time.Second
	}

	if cfg.Throttle.Limit == 0 {
		cfg.Throttle.Limit = 60
	}
	if cfg.Throttle.WindowSecs == 0 {
		cfg.Throttle.WindowSecs = 60
	}

	if cfg.Billing.InputPerK == 0 {
		cfg.Billing.InputPerK = 15
	}
	if cfg.Billing.OutputPerK == 0 {
		cfg.Billing.OutputPerK = 60
	}

	if cfg.Ledger.BatchSize == 0 {
		cfg.Ledger.BatchSize = 50
	}
	if cfg.Ledger.FlushInterval == 0 {
		cfg.Ledger.FlushInterval = 5 * time.Second
	}
	if cfg.Ledger.WriteTimeout == 0 {
		cfg.Ledger.WriteTimeout = 10 * time.Second
	}
	if cfg.Ledger.MaxBuffered == 0 {
		cfg.Ledger.MaxBuffered = 10000
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "tollgate.db"
	}

	if cfg.Pool.Base == 0 {
		cfg.Pool.Base = 10
	}
	if cfg.Pool.Overflow == 0 {
		cfg.Pool.Overflow = 20
	}
	if cfg.Pool.MaxLifetime == 0 {
		cfg.Pool.MaxLifetime = time.Hour
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// validate checks configuration for errors.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	if cfg.Pool.Base < 1 {
		return fmt.Errorf("pool base must be at least 1, got %d", cfg.Pool.Base)
	}
	if cfg.Pool.Overflow < 0 {
		return fmt.Errorf("pool overflow must not be negative, got %d", cfg.Pool.Overflow)
	}

	if cfg.Billing.InputPerK < 0 || cfg.Billing.OutputPerK < 0 {
		return fmt.Errorf("billing rates must not be negative")
	}

	seen := map[string]bool{}
	for _, p := range cfg.Plans {
		if _, ok := plan.ParseTier(p.Tier); !ok {
			return fmt.Errorf("unknown plan tier: %q", p.Tier)
		}
		if seen[p.Tier] {
			return fmt.Errorf("duplicate plan tier: %q", p.Tier)
		}
		seen[p.Tier] = true
		if p.RateLimitPerMinute < 1 {
			return fmt.Errorf("plan %s: rate_limit_per_minute must be at least 1", p.Tier)
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}

// ToPlans converts configured plans to domain plans, falling back to the
// built-in table when none are configured.
func (c *Config) ToPlans() []plan.Plan {
	if len(c.Plans) == 0 {
		return plan.Defaults()
	}
	plans := make([]plan.Plan, 0, len(c.Plans))
	for _, p := range c.Plans {
		tier, _ := plan.ParseTier(p.Tier)
		name := p.Name
		if name == "" {
			name = tier.String()
		}
		plans = append(plans, plan.Plan{
			Tier:            tier,
			Name:            name,
			CallsPerMonth:   p.CallsPerMonth,
			RateLimitPerMin: p.RateLimitPerMinute,
			PriceMonthly:    p.PriceMonthly,
		})
	}
	return plans
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
