package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the durability engine.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithKeyPrefix("agentmem:prod"),
//	    core.WithRedisURL("redis://localhost:6379"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// KeyPrefix namespaces every fast-tier key for this deployment
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"AGENTMEM_KEY_PREFIX"`

	// RedisURL is the fast tier connection string
	RedisURL string `json:"redis_url" yaml:"redis_url" env:"AGENTMEM_REDIS_URL"`

	// PostgresURL is the durable tier connection string
	PostgresURL string `json:"postgres_url" yaml:"postgres_url" env:"AGENTMEM_POSTGRES_URL"`

	// ActiveWindow is the expiry applied to live entries while an
	// agent is executing
	ActiveWindow time.Duration `json:"active_window" yaml:"active_window" env:"AGENTMEM_ACTIVE_WINDOW"`

	// PausedWindow is the expiry applied on pause, and the TTL of
	// every fast-tier snapshot regardless of phase
	PausedWindow time.Duration `json:"paused_window" yaml:"paused_window" env:"AGENTMEM_PAUSED_WINDOW"`

	// FastTimeout bounds each individual fast-tier call
	FastTimeout time.Duration `json:"fast_timeout" yaml:"fast_timeout" env:"AGENTMEM_FAST_TIMEOUT"`

	// DurableTimeout bounds each individual durable-tier call
	DurableTimeout time.Duration `json:"durable_timeout" yaml:"durable_timeout" env:"AGENTMEM_DURABLE_TIMEOUT"`

	// RetryAttempts is the retry budget for transient tier errors
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts" env:"AGENTMEM_RETRY_ATTEMPTS"`

	// RetryInitialDelay is the first backoff delay
	RetryInitialDelay time.Duration `json:"retry_initial_delay" yaml:"retry_initial_delay"`

	// RetryMaxDelay caps the exponential backoff
	RetryMaxDelay time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
}

// Option is a functional option for configuring the engine
type Option func(*Config)

// WithKeyPrefix sets the fast-tier key namespace
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) { c.KeyPrefix = prefix }
}

// WithRedisURL sets the fast tier connection URL
func WithRedisURL(url string) Option {
	return func(c *Config) { c.RedisURL = url }
}

// WithPostgresURL sets the durable tier connection URL
func WithPostgresURL(url string) Option {
	return func(c *Config) { c.PostgresURL = url }
}

// WithWindows sets the active and paused expiry windows
func WithWindows(active, paused time.Duration) Option {
	return func(c *Config) {
		c.ActiveWindow = active
		c.PausedWindow = paused
	}
}

// WithTierTimeouts sets the per-call timeouts for both tiers
func WithTierTimeouts(fast, durable time.Duration) Option {
	return func(c *Config) {
		c.FastTimeout = fast
		c.DurableTimeout = durable
	}
}

// WithRetryPolicy sets the transient-error retry budget
func WithRetryPolicy(attempts int, initialDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.RetryAttempts = attempts
		c.RetryInitialDelay = initialDelay
		c.RetryMaxDelay = maxDelay
	}
}

// DefaultConfig returns the design-default configuration: a 24 hour
// active window, a 14 day paused window, and tier timeouts tuned for
// a low-latency fast tier and a slow-but-available durable tier.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix:         "agentmem",
		RedisURL:          "redis://localhost:6379",
		ActiveWindow:      24 * time.Hour,
		PausedWindow:      14 * 24 * time.Hour,
		FastTimeout:       250 * time.Millisecond,
		DurableTimeout:    5 * time.Second,
		RetryAttempts:     3,
		RetryInitialDelay: 100 * time.Millisecond,
		RetryMaxDelay:     2 * time.Second,
	}
}

// NewConfig creates a configuration with the standard three-layer
// priority: defaults, then environment variables, then options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvironmentVariables()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironmentVariables overrides defaults from the process
// environment. REDIS_URL is honored as a fallback because most
// deployments already export it.
func (c *Config) applyEnvironmentVariables() {
	if v := os.Getenv("AGENTMEM_KEY_PREFIX"); v != "" {
		c.KeyPrefix = v
	}
	if v := os.Getenv("AGENTMEM_REDIS_URL"); v != "" {
		c.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("AGENTMEM_POSTGRES_URL"); v != "" {
		c.PostgresURL = v
	}
	if d, ok := envDuration("AGENTMEM_ACTIVE_WINDOW"); ok {
		c.ActiveWindow = d
	}
	if d, ok := envDuration("AGENTMEM_PAUSED_WINDOW"); ok {
		c.PausedWindow = d
	}
	if d, ok := envDuration("AGENTMEM_FAST_TIMEOUT"); ok {
		c.FastTimeout = d
	}
	if d, ok := envDuration("AGENTMEM_DURABLE_TIMEOUT"); ok {
		c.DurableTimeout = d
	}
	if v := os.Getenv("AGENTMEM_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RetryAttempts = n
		}
	}
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// fileConfig mirrors Config for file decoding with durations as
// strings, so config files can say "12h" instead of nanoseconds.
type fileConfig struct {
	KeyPrefix         string `json:"key_prefix" yaml:"key_prefix"`
	RedisURL          string `json:"redis_url" yaml:"redis_url"`
	PostgresURL       string `json:"postgres_url" yaml:"postgres_url"`
	ActiveWindow      string `json:"active_window" yaml:"active_window"`
	PausedWindow      string `json:"paused_window" yaml:"paused_window"`
	FastTimeout       string `json:"fast_timeout" yaml:"fast_timeout"`
	DurableTimeout    string `json:"durable_timeout" yaml:"durable_timeout"`
	RetryAttempts     int    `json:"retry_attempts" yaml:"retry_attempts"`
	RetryInitialDelay string `json:"retry_initial_delay" yaml:"retry_initial_delay"`
	RetryMaxDelay     string `json:"retry_max_delay" yaml:"retry_max_delay"`
}

// LoadFromFile loads configuration from a JSON or YAML file.
// File values override whatever the config currently holds, so call
// this before applying functional options if options should win.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	var fc fileConfig
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse JSON config file %s: %w", cleanPath, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse YAML config file %s: %w", cleanPath, ErrInvalidConfiguration)
		}
	}

	return c.applyFileConfig(cleanPath, &fc)
}

func (c *Config) applyFileConfig(path string, fc *fileConfig) error {
	if fc.KeyPrefix != "" {
		c.KeyPrefix = fc.KeyPrefix
	}
	if fc.RedisURL != "" {
		c.RedisURL = fc.RedisURL
	}
	if fc.PostgresURL != "" {
		c.PostgresURL = fc.PostgresURL
	}
	if fc.RetryAttempts > 0 {
		c.RetryAttempts = fc.RetryAttempts
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"active_window", fc.ActiveWindow, &c.ActiveWindow},
		{"paused_window", fc.PausedWindow, &c.PausedWindow},
		{"fast_timeout", fc.FastTimeout, &c.FastTimeout},
		{"durable_timeout", fc.DurableTimeout, &c.DurableTimeout},
		{"retry_initial_delay", fc.RetryInitialDelay, &c.RetryInitialDelay},
		{"retry_max_delay", fc.RetryMaxDelay, &c.RetryMaxDelay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: bad duration for %s (%q): %w", path, d.field, d.raw, ErrInvalidConfiguration)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error
// if not. Called automatically by NewConfig() but safe to call again
// after mutating the config.
//
// Validation rules:
//   - Key prefix is required (fast-tier keys would otherwise collide
//     with unrelated data in a shared Redis)
//   - The paused window must be at least as long as the active window
//   - Tier timeouts and the retry budget must be positive
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return &StateError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "key prefix is required",
			Err:     ErrMissingConfiguration,
		}
	}
	if c.ActiveWindow <= 0 || c.PausedWindow <= 0 {
		return &StateError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("expiry windows must be positive: active=%v paused=%v", c.ActiveWindow, c.PausedWindow),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.PausedWindow < c.ActiveWindow {
		return &StateError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("paused window %v must not be shorter than active window %v", c.PausedWindow, c.ActiveWindow),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.FastTimeout <= 0 || c.DurableTimeout <= 0 {
		return &StateError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("tier timeouts must be positive: fast=%v durable=%v", c.FastTimeout, c.DurableTimeout),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.RetryAttempts < 1 {
		return &StateError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("retry attempts must be at least 1, got %d", c.RetryAttempts),
			Err:     ErrInvalidConfiguration,
		}
	}
	return nil
}
