package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Retry.Jitter)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout.Std())
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, "auto", cfg.Engine.Mode)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
retry:
  max_attempts: 5
  initial_delay: 500ms
circuit_breaker:
  failure_threshold: 10
  recovery_timeout: 30s
cache:
  redis_addr: localhost:6379
  default_ttl: 2h
engine:
  mode: async
  batch_concurrency: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay.Std())
	assert.Equal(t, 10, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout.Std())
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 2*time.Hour, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, "async", cfg.Engine.Mode)
	assert.Equal(t, 8, cfg.Engine.BatchConcurrency)

	// Untouched sections keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay.Std())
	assert.Equal(t, "trialmatch:", cfg.Cache.KeyPrefix)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
cache:
  redis_addr: filehost:6379
`)
	t.Setenv("TRIALMATCH_LOG_LEVEL", "error")
	t.Setenv("TRIALMATCH_REDIS_ADDR", "envhost:6379")
	t.Setenv("TRIALMATCH_MAX_ATTEMPTS", "7")
	t.Setenv("TRIALMATCH_CACHE_TTL", "45m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "envhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 45*time.Minute, cfg.Cache.DefaultTTL.Std())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
retry:
  initial_delay: soon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestWarmingStrategies(t *testing.T) {
	path := writeConfig(t, `
warming:
  - name: common-mutations
    keys: ["trials:egfr l858r:1:10", "trials:kras g12c:1:10"]
    priority: 1
    max_concurrent: 5
    ttl: 2h
  - name: rare-mutations
    keys: ["trials:ros1:1:10"]
    priority: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	strategies, err := cfg.WarmingStrategies()
	require.NoError(t, err)
	require.Len(t, strategies, 2)

	assert.Equal(t, "common-mutations", strategies[0].Name)
	assert.Len(t, strategies[0].Keys, 2)
	assert.Equal(t, 1, strategies[0].Priority)
	assert.Equal(t, 5, strategies[0].MaxConcurrent)
	assert.Equal(t, 2*time.Hour, strategies[0].TTL)

	assert.Equal(t, "rare-mutations", strategies[1].Name)
	assert.Zero(t, strategies[1].TTL)
}

func TestWarmingStrategiesRequireName(t *testing.T) {
	cfg := Default()
	cfg.Warming = []map[string]any{{"keys": []string{"a"}}}

	_, err := cfg.WarmingStrategies()
	assert.Error(t, err)
}

func TestInvalidationRules(t *testing.T) {
	path := writeConfig(t, `
invalidation:
  - trigger: upstream-refresh
    patterns: ["trials:*"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Invalidation, 1)
	assert.Equal(t, "upstream-refresh", cfg.Invalidation[0].Trigger)
	assert.Equal(t, []string{"trials:*"}, cfg.Invalidation[0].Patterns)
}
