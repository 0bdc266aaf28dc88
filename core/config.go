package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the workflow engine recognizes.
// Resolution order: defaults, then INVOICEFLOW_* environment variables,
// then functional options.
type Config struct {
	// MatchThreshold is the score at or above which the two-way match
	// emits MATCHED.
	MatchThreshold float64 `yaml:"match_threshold"`

	// TwoWayTolerancePct is the tolerance percent for the match-score curve.
	TwoWayTolerancePct float64 `yaml:"two_way_tolerance_pct"`

	// AutoApproveThreshold is the amount ceiling for automatic approval.
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"`

	// ReviewExpiryHours is how long a pending review stays actionable.
	ReviewExpiryHours int `yaml:"review_expiry_hours"`

	// Env influences tool selection rules ("development" or "production").
	Env string `yaml:"env"`

	// FrontendBaseURL is the base for generated review URLs.
	FrontendBaseURL string `yaml:"frontend_base_url"`

	// LLMFallbackKey enables the LLM tool-selection fallback when set.
	LLMFallbackKey string `yaml:"llm_fallback_key"`

	// RedisURL selects the Redis-backed store when set.
	RedisURL string `yaml:"redis_url"`

	// LogLevel for the process logger.
	LogLevel string `yaml:"log_level"`

	// ExternalCallTimeout bounds every external-backend ability call.
	ExternalCallTimeout time.Duration `yaml:"external_call_timeout"`
}

// Option configures a Config.
type Option func(*Config)

// DefaultConfig returns the built-in defaults without consulting the
// environment.
func DefaultConfig() *Config {
	return &Config{
		MatchThreshold:       0.90,
		TwoWayTolerancePct:   5.0,
		AutoApproveThreshold: 10000,
		ReviewExpiryHours:    72,
		Env:                  "development",
		FrontendBaseURL:      "http://localhost:3000",
		LogLevel:             "info",
		ExternalCallTimeout:  30 * time.Second,
	}
}

// NewConfig builds a Config from defaults, environment and options.
func NewConfig(opts ...Option) *Config {
	c := DefaultConfig()
	c.applyEnv()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Config) applyEnv() {
	c.MatchThreshold = getEnvFloat("INVOICEFLOW_MATCH_THRESHOLD", c.MatchThreshold)
	c.TwoWayTolerancePct = getEnvFloat("INVOICEFLOW_TWO_WAY_TOLERANCE_PCT", c.TwoWayTolerancePct)
	c.AutoApproveThreshold = getEnvFloat("INVOICEFLOW_AUTO_APPROVE_THRESHOLD", c.AutoApproveThreshold)
	c.ReviewExpiryHours = getEnvInt("INVOICEFLOW_REVIEW_EXPIRY_HOURS", c.ReviewExpiryHours)
	c.Env = getEnvOrDefault("INVOICEFLOW_ENV", c.Env)
	c.FrontendBaseURL = getEnvOrDefault("INVOICEFLOW_FRONTEND_BASE_URL", c.FrontendBaseURL)
	c.LLMFallbackKey = getEnvOrDefault("INVOICEFLOW_LLM_FALLBACK_KEY", c.LLMFallbackKey)
	c.RedisURL = getEnvOrDefault("INVOICEFLOW_REDIS_URL", c.RedisURL)
	c.LogLevel = getEnvOrDefault("INVOICEFLOW_LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("INVOICEFLOW_EXTERNAL_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ExternalCallTimeout = d
		}
	}
}

// LoadConfigFile overlays a YAML file on top of defaults and environment.
func LoadConfigFile(path string, opts ...Option) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsDevelopment reports whether the selector should prefer dev tools.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// IsProduction reports whether the selector should prefer prod tools.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WithMatchThreshold overrides the MATCHED cut-off.
func WithMatchThreshold(v float64) Option {
	return func(c *Config) { c.MatchThreshold = v }
}

// WithTwoWayTolerance overrides the tolerance percent.
func WithTwoWayTolerance(pct float64) Option {
	return func(c *Config) { c.TwoWayTolerancePct = pct }
}

// WithAutoApproveThreshold overrides the auto-approval ceiling.
func WithAutoApproveThreshold(v float64) Option {
	return func(c *Config) { c.AutoApproveThreshold = v }
}

// WithReviewExpiry overrides the pending review lifetime in hours.
func WithReviewExpiry(hours int) Option {
	return func(c *Config) { c.ReviewExpiryHours = hours }
}

// WithEnv sets the environment name.
func WithEnv(env string) Option {
	return func(c *Config) { c.Env = env }
}

// WithFrontendBaseURL sets the review URL base.
func WithFrontendBaseURL(u string) Option {
	return func(c *Config) { c.FrontendBaseURL = u }
}

// WithLLMFallbackKey enables the LLM selection fallback.
func WithLLMFallbackKey(key string) Option {
	return func(c *Config) { c.LLMFallbackKey = key }
}

// WithRedisURL selects the Redis store.
func WithRedisURL(u string) Option {
	return func(c *Config) { c.RedisURL = u }
}

// WithExternalCallTimeout bounds external ability calls.
func WithExternalCallTimeout(d time.Duration) Option {
	return func(c *Config) { c.ExternalCallTimeout = d }
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
