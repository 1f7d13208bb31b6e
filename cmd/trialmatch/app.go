package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/clinicaltrials"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/config"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/logging"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/pipeline"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/cache"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/flow"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/resilience"
)

// app bundles the collaborators every subcommand shares: config, logger,
// cache, resilience layer and the query pipeline.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	cache    *cache.Cache
	breakers *resilience.Registry
	executor *resilience.Executor
	pipeline *pipeline.Pipeline
}

func newApp(configPath, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := logging.New(logging.ParseLevel(cfg.Logging.Level))
	col := metrics.New()

	cacheOpts := []cache.CacheOption{
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL.Std()),
		cache.WithAnalyticsWindow(cfg.Cache.AnalyticsWindow.Std()),
		cache.WithCacheMetrics(col),
		cache.WithCacheLogger(logger),
	}
	if cfg.Cache.RedisAddr != "" {
		cacheOpts = append(cacheOpts, cache.WithPrimary(cache.NewRedisBackend(
			cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB,
			cache.WithRedisPrefix(cfg.Cache.KeyPrefix),
		)))
	}
	c := cache.New(cacheOpts...)

	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout.Std(),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}, resilience.WithMetrics(col), resilience.WithLogger(logger))

	executor := resilience.NewExecutor(resilience.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		InitialDelay:  cfg.Retry.InitialDelay.Std(),
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxDelay:      cfg.Retry.MaxDelay.Std(),
		Jitter:        cfg.Retry.Jitter,
	},
		resilience.WithBreakers(breakers),
		resilience.WithRetryMetrics(col),
		resilience.WithRetryLogger(logger),
	)

	clientOpts := []clinicaltrials.ClientOption{clinicaltrials.WithLogger(logger)}
	if cfg.Upstream.BaseURL != "" {
		clientOpts = append(clientOpts, clinicaltrials.WithBaseURL(cfg.Upstream.BaseURL))
	}
	querier := clinicaltrials.NewClient(clientOpts...)

	p := pipeline.New(querier, c, executor,
		pipeline.WithMode(parseMode(cfg.Engine.Mode)),
		pipeline.WithCacheTTL(cfg.Cache.DefaultTTL.Std()),
		pipeline.WithBatchConcurrency(cfg.Engine.BatchConcurrency),
		pipeline.WithMetrics(col),
		pipeline.WithLogger(logger),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  col,
		cache:    c,
		breakers: breakers,
		executor: executor,
		pipeline: p,
	}, nil
}

func parseMode(s string) flow.Mode {
	switch s {
	case "sync":
		return flow.ModeSync
	case "async":
		return flow.ModeAsync
	default:
		return flow.ModeAuto
	}
}

// newWarmer builds the cache warmer from the configured strategies. The
// loader replays the cached query behind each key through the resilience
// layer.
func (a *app) newWarmer() (*cache.Warmer, error) {
	strategies, err := a.cfg.WarmingStrategies()
	if err != nil {
		return nil, err
	}

	loader := func(ctx context.Context, key string) (any, error) {
		req, err := clinicaltrials.ParseCacheKey(key)
		if err != nil {
			return nil, err
		}
		result, err := a.pipeline.QueryTrials(ctx, req.Mutation, req.MinRank, req.MaxRank)
		if err != nil {
			return nil, err
		}
		return &clinicaltrials.QueryResponse{Studies: result.Studies, TotalCount: len(result.Studies)}, nil
	}

	w := cache.NewWarmer(a.cache, loader, a.logger)
	for _, s := range strategies {
		w.AddStrategy(cache.WarmingStrategy{
			Name:          s.Name,
			Keys:          s.Keys,
			Priority:      s.Priority,
			MaxConcurrent: s.MaxConcurrent,
			TTL:           s.TTL,
		})
	}
	return w, nil
}

// newInvalidator builds the invalidator from the configured rules.
func (a *app) newInvalidator() *cache.Invalidator {
	inv := cache.NewInvalidator(a.cache, a.logger)
	for _, r := range a.cfg.Invalidation {
		inv.AddRule(cache.InvalidationRule{Trigger: r.Trigger, Patterns: r.Patterns})
	}
	return inv
}

func (a *app) close() {
	if err := a.cache.Close(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "closing cache: %v\n", err)
	}
}
