package cache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

// Cache is the front over a primary networked backend and a local
// in-process fallback. Backend failures never surface to callers: the
// cache degrades to the local backend and reports the transition once.
//
// Construct one Cache at process start and share it across concurrent flow
// executions; all methods are safe for concurrent use.
type Cache struct {
	primary    Backend
	local      *MemoryBackend
	defaultTTL time.Duration
	now        func() time.Time
	metrics    *metrics.Collector
	logger     *slog.Logger
	degraded   atomic.Bool
	probeEvery time.Duration
	lastProbe  atomic.Int64
	analytics  *analytics
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithPrimary sets the networked primary backend. Without one the cache
// runs purely in-process.
func WithPrimary(b Backend) CacheOption {
	return func(c *Cache) { c.primary = b }
}

// WithLocal replaces the in-process fallback backend. Used by tests.
func WithLocal(m *MemoryBackend) CacheOption {
	return func(c *Cache) { c.local = m }
}

// WithDefaultTTL sets the TTL applied when Set is called with ttl 0.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.defaultTTL = ttl }
}

// WithCacheMetrics wires a metrics collector.
func WithCacheMetrics(col *metrics.Collector) CacheOption {
	return func(c *Cache) { c.metrics = col }
}

// WithCacheLogger sets a structured logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheClock overrides the time source. Used by tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithRecoveryProbe sets how often a degraded cache re-checks the primary
// backend. At most one operation per interval pays for the check; the rest
// go straight to the local fallback. Default 5s.
func WithRecoveryProbe(interval time.Duration) CacheOption {
	return func(c *Cache) { c.probeEvery = interval }
}

// WithAnalyticsWindow sets the sliding window for hit-rate analytics.
func WithAnalyticsWindow(window time.Duration) CacheOption {
	return func(c *Cache) { c.analytics = newAnalytics(window) }
}

// New creates a Cache. The in-process fallback is always present.
func New(opts ...CacheOption) *Cache {
	c := &Cache{
		local:      NewMemoryBackend(),
		defaultTTL: time.Hour,
		probeEvery: 5 * time.Second,
		now:        time.Now,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		analytics:  newAnalytics(DefaultAnalyticsWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get loads the value for key into dest (a JSON-unmarshal target) and
// reports whether it was a hit. Absent and TTL-expired entries are misses,
// never errors; expired entries are reaped on access.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	now := c.now()
	b := c.backendFor(ctx)
	data, ok, err := b.Get(ctx, key)
	if err != nil {
		// Primary failed after backendFor probed healthy; degrade now.
		c.markDegraded(err)
		c.analytics.recordError()
		b = c.local
		data, ok, _ = b.Get(ctx, key)
	}
	if !ok {
		c.recordAccess(now, key, false)
		return false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corrupt envelope: drop it and report a miss.
		c.logger.Warn("dropping corrupt cache entry", "key", key, "err", err)
		_ = b.Delete(ctx, key)
		c.recordAccess(now, key, false)
		return false
	}
	if e.Expired(now) {
		_ = b.Delete(ctx, key)
		c.recordAccess(now, key, false)
		return false
	}

	e.Touch(now)
	if updated, err := json.Marshal(&e); err == nil {
		// Best-effort write-back of access metadata. The read-modify-write
		// is not atomic, so concurrent hits on one key can lose increments:
		// hit counts are approximate and usage-based eviction must treat
		// them as a relative signal, not an exact tally.
		_ = b.Set(ctx, key, updated, c.remainingTTL(&e, now))
	}

	c.recordAccess(now, key, true)
	if dest != nil {
		if err := json.Unmarshal(e.Value, dest); err != nil {
			c.logger.Warn("cache value does not fit destination", "key", key, "err", err)
			return false
		}
	}
	return true
}

// Set stores value under key. A ttl of 0 applies the configured default;
// NoExpiry stores without expiration. Backend failures degrade to the
// local store and are not returned; only marshal failures error.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := c.now()
	e := Entry{Value: raw, CreatedAt: now, TTL: c.resolveTTL(ttl)}
	data, err := json.Marshal(&e)
	if err != nil {
		return err
	}

	c.analytics.recordSet()
	if c.metrics != nil {
		c.metrics.Increment("cache_sets_total", metrics.Tags{"pattern": keyPattern(key)})
	}

	b := c.backendFor(ctx)
	if err := b.Set(ctx, key, data, e.TTL); err != nil {
		c.markDegraded(err)
		c.analytics.recordError()
		return c.local.Set(ctx, key, data, e.TTL)
	}
	return nil
}

// Delete removes one entry from both backends.
func (c *Cache) Delete(ctx context.Context, key string) error {
	var firstErr error
	if c.primary != nil {
		if err := c.primary.Delete(ctx, key); err != nil {
			c.markDegraded(err)
			firstErr = nil // degraded delete is not a caller error
		}
	}
	if err := c.local.Delete(ctx, key); err != nil && firstErr == nil {
		firstErr = err
	}
	c.analytics.recordInvalidations(1)
	return firstErr
}

// InvalidatePattern removes every entry whose key matches the glob pattern
// and returns how many were removed.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	b := c.backendFor(ctx)
	keys, err := b.Keys(ctx, pattern)
	if err != nil {
		c.markDegraded(err)
		b = c.local
		if keys, err = b.Keys(ctx, pattern); err != nil {
			return 0, err
		}
	}
	for _, k := range keys {
		_ = b.Delete(ctx, k)
		if b != c.local {
			_ = c.local.Delete(ctx, k)
		}
	}
	c.analytics.recordInvalidations(len(keys))
	if c.metrics != nil {
		c.metrics.Add("cache_invalidations_total", float64(len(keys)), metrics.Tags{"pattern": pattern})
	}
	c.logger.Info("invalidated cache entries", "pattern", pattern, "count", len(keys))
	return len(keys), nil
}

// Stats returns the analytics snapshot.
func (c *Cache) Stats() Stats {
	return c.analytics.stats(c.now(), c.degraded.Load())
}

// Healthy checks connectivity of the active backend.
func (c *Cache) Healthy(ctx context.Context) error {
	if c.primary != nil && !c.degraded.Load() {
		return c.primary.Ping(ctx)
	}
	return c.local.Ping(ctx)
}

// StartSweeper runs a background reap of expired local entries every
// interval until ctx is cancelled. The primary backend expires its own
// keys.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := c.local.Sweep(); n > 0 {
					c.logger.Debug("swept expired cache entries", "count", n)
				}
			}
		}
	}()
}

// Close closes both backends.
func (c *Cache) Close() error {
	var firstErr error
	if c.primary != nil {
		firstErr = c.primary.Close()
	}
	if err := c.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// entriesByPattern decodes every envelope matching pattern. Used by the
// invalidation triggers for age and usage-based eviction.
func (c *Cache) entriesByPattern(ctx context.Context, pattern string) (map[string]Entry, error) {
	b := c.backendFor(ctx)
	keys, err := b.Keys(ctx, pattern)
	if err != nil {
		c.markDegraded(err)
		b = c.local
		if keys, err = b.Keys(ctx, pattern); err != nil {
			return nil, err
		}
	}
	out := make(map[string]Entry, len(keys))
	for _, k := range keys {
		data, ok, err := b.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out[k] = e
	}
	return out, nil
}

// backendFor picks the backend for an operation: the primary unless the
// cache is degraded or purely local. While degraded, at most one operation
// per probeEvery interval checks the primary for recovery, under the
// caller's ctx so its deadline still applies; everything else stays local.
func (c *Cache) backendFor(ctx context.Context) Backend {
	if c.primary == nil {
		return c.local
	}
	if c.degraded.Load() {
		if !c.claimRecoveryCheck() {
			return c.local
		}
		if err := c.primary.Ping(ctx); err != nil {
			return c.local
		}
		c.markRecovered()
	}
	return c.primary
}

// claimRecoveryCheck reserves the recovery check for this caller. Losing
// the swap means another operation holds the current interval.
func (c *Cache) claimRecoveryCheck() bool {
	now := c.now().UnixNano()
	last := c.lastProbe.Load()
	if now-last < int64(c.probeEvery) {
		return false
	}
	return c.lastProbe.CompareAndSwap(last, now)
}

func (c *Cache) markDegraded(err error) {
	if c.primary == nil {
		return
	}
	if c.degraded.CompareAndSwap(false, true) {
		c.logger.Warn("cache degraded: primary backend unreachable, using local fallback", "err", err)
		if c.metrics != nil {
			c.metrics.SetGauge("cache_degraded", 1, nil)
		}
	}
}

func (c *Cache) markRecovered() {
	if c.degraded.CompareAndSwap(true, false) {
		c.logger.Info("cache recovered: primary backend reachable again")
		if c.metrics != nil {
			c.metrics.SetGauge("cache_degraded", 0, nil)
		}
	}
}

func (c *Cache) recordAccess(now time.Time, key string, hit bool) {
	c.analytics.recordAccess(now, key, hit)
	if c.metrics != nil {
		outcome := "miss"
		if hit {
			outcome = "hit"
		}
		c.metrics.Increment("cache_requests_total", metrics.Tags{"outcome": outcome, "pattern": keyPattern(key)})
	}
}

// resolveTTL maps caller TTL to the stored envelope TTL: 0 takes the
// configured default, NoExpiry stores without expiration.
func (c *Cache) resolveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return c.defaultTTL
	case ttl < 0:
		return 0
	default:
		return ttl
	}
}

// remainingTTL computes the backend-level retention left for an entry so a
// metadata write-back does not extend its life.
func (c *Cache) remainingTTL(e *Entry, now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	remaining := e.TTL - now.Sub(e.CreatedAt)
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}
