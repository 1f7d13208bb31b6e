// Package config loads the application configuration: compiled-in
// defaults, overridden by an optional YAML file, overridden by
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full application configuration.
type Config struct {
	Logging      LoggingConfig            `yaml:"logging"`
	Server       ServerConfig             `yaml:"server"`
	Upstream     UpstreamConfig           `yaml:"upstream"`
	Retry        RetryConfig              `yaml:"retry"`
	Breaker      BreakerConfig            `yaml:"circuit_breaker"`
	Cache        CacheConfig              `yaml:"cache"`
	Engine       EngineConfig             `yaml:"engine"`
	Warming      []map[string]any         `yaml:"warming"`
	Invalidation []InvalidationRuleConfig `yaml:"invalidation"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	SSEAddr  string `yaml:"sse_addr"`
}

type UpstreamConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	InitialDelay  Duration `yaml:"initial_delay"`
	BackoffFactor float64  `yaml:"backoff_factor"`
	MaxDelay      Duration `yaml:"max_delay"`
	Jitter        bool     `yaml:"jitter"`
}

type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
	SuccessThreshold int      `yaml:"success_threshold"`
}

type CacheConfig struct {
	RedisAddr       string   `yaml:"redis_addr"`
	RedisPassword   string   `yaml:"redis_password"`
	RedisDB         int      `yaml:"redis_db"`
	KeyPrefix       string   `yaml:"key_prefix"`
	DefaultTTL      Duration `yaml:"default_ttl"`
	AnalyticsWindow Duration `yaml:"analytics_window"`
	SweepInterval   Duration `yaml:"sweep_interval"`
}

type EngineConfig struct {
	Mode             string `yaml:"mode"` // auto, sync or async
	BatchConcurrency int    `yaml:"batch_concurrency"`
	MaxSteps         int    `yaml:"max_steps"`
}

type InvalidationRuleConfig struct {
	Trigger  string   `yaml:"trigger"`
	Patterns []string `yaml:"patterns"`
}

// WarmingStrategyConfig is one warming strategy entry. It decodes from the
// loose maps YAML produces (and MCP tool arguments) via mapstructure.
type WarmingStrategyConfig struct {
	Name          string        `mapstructure:"name"`
	Keys          []string      `mapstructure:"keys"`
	Priority      int           `mapstructure:"priority"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			HTTPAddr: ":8080",
			SSEAddr:  ":8081",
		},
		Upstream: UpstreamConfig{
			Timeout: Duration(10 * time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  Duration(time.Second),
			BackoffFactor: 2.0,
			MaxDelay:      Duration(60 * time.Second),
			Jitter:        true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(60 * time.Second),
			SuccessThreshold: 1,
		},
		Cache: CacheConfig{
			KeyPrefix:       "trialmatch:",
			DefaultTTL:      Duration(time.Hour),
			AnalyticsWindow: Duration(15 * time.Minute),
			SweepInterval:   Duration(5 * time.Minute),
		},
		Engine: EngineConfig{
			Mode:             "auto",
			BatchConcurrency: 5,
			MaxSteps:         100,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides selected fields from TRIALMATCH_* variables.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("TRIALMATCH_LOG_LEVEL", &c.Logging.Level)
	setString("TRIALMATCH_HTTP_ADDR", &c.Server.HTTPAddr)
	setString("TRIALMATCH_SSE_ADDR", &c.Server.SSEAddr)
	setString("TRIALMATCH_UPSTREAM_URL", &c.Upstream.BaseURL)
	setString("TRIALMATCH_REDIS_ADDR", &c.Cache.RedisAddr)
	setString("TRIALMATCH_REDIS_PASSWORD", &c.Cache.RedisPassword)
	setString("TRIALMATCH_MODE", &c.Engine.Mode)

	if v := os.Getenv("TRIALMATCH_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.RedisDB = n
		}
	}
	if v := os.Getenv("TRIALMATCH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("TRIALMATCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.DefaultTTL = Duration(d)
		}
	}
	if v := os.Getenv("TRIALMATCH_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.BatchConcurrency = n
		}
	}
}

// WarmingStrategies decodes the loose warming entries into typed configs,
// sorted as configured (the warmer applies priority ordering itself).
func (c *Config) WarmingStrategies() ([]WarmingStrategyConfig, error) {
	out := make([]WarmingStrategyConfig, 0, len(c.Warming))
	for i, raw := range c.Warming {
		var s WarmingStrategyConfig
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
			Result:     &s,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("warming strategy %d: %w", i, err)
		}
		if s.Name == "" {
			return nil, fmt.Errorf("warming strategy %d: missing name", i)
		}
		out = append(out, s)
	}
	return out, nil
}
