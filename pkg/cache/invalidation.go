package cache

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// InvalidationRule maps a named trigger event to the key patterns it
// invalidates.
type InvalidationRule struct {
	Trigger  string
	Patterns []string
}

// Invalidator applies event, age and usage based invalidation over a
// Cache.
type Invalidator struct {
	cache  *Cache
	logger *slog.Logger

	mu    sync.Mutex
	rules map[string][]string
}

// NewInvalidator creates an Invalidator over c.
func NewInvalidator(c *Cache, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Invalidator{
		cache:  c,
		logger: logger,
		rules:  make(map[string][]string),
	}
}

// AddRule registers the patterns invalidated when trigger fires. Calling
// again for the same trigger appends.
func (inv *Invalidator) AddRule(r InvalidationRule) {
	inv.mu.Lock()
	inv.rules[r.Trigger] = append(inv.rules[r.Trigger], r.Patterns...)
	inv.mu.Unlock()
}

// Trigger fires a named event and removes every entry matching its
// registered patterns. Unknown triggers are a no-op. Returns the number of
// entries removed.
func (inv *Invalidator) Trigger(ctx context.Context, trigger string) (int, error) {
	inv.mu.Lock()
	patterns := inv.rules[trigger]
	inv.mu.Unlock()
	if len(patterns) == 0 {
		return 0, nil
	}

	total := 0
	for _, p := range patterns {
		n, err := inv.cache.InvalidatePattern(ctx, p)
		if err != nil {
			return total, err
		}
		total += n
	}
	inv.logger.Info("invalidation trigger fired", "trigger", trigger, "removed", total)
	return total, nil
}

// SweepOlderThan removes entries matching pattern whose creation time is
// more than age ago, regardless of TTL. Returns the number removed.
func (inv *Invalidator) SweepOlderThan(ctx context.Context, pattern string, age time.Duration) (int, error) {
	entries, err := inv.cache.entriesByPattern(ctx, pattern)
	if err != nil {
		return 0, err
	}
	cutoff := inv.cache.now().Add(-age)
	removed := 0
	for key, e := range entries {
		if e.CreatedAt.Before(cutoff) {
			_ = inv.cache.Delete(ctx, key)
			removed++
		}
	}
	if removed > 0 {
		inv.logger.Info("swept aged cache entries", "pattern", pattern, "age", age, "removed", removed)
	}
	return removed, nil
}

// EvictLowHit removes up to limit entries matching pattern with the fewest
// recorded hits, lowest first, oldest breaking ties. Returns the evicted
// keys. Hit counts come from a best-effort write-back and may undercount
// concurrent access; they rank entries relative to each other.
func (inv *Invalidator) EvictLowHit(ctx context.Context, pattern string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := inv.cache.entriesByPattern(ctx, pattern)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		key string
		e   Entry
	}
	candidates := make([]candidate, 0, len(entries))
	for k, e := range entries {
		candidates = append(candidates, candidate{key: k, e: e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].e.HitCount != candidates[j].e.HitCount {
			return candidates[i].e.HitCount < candidates[j].e.HitCount
		}
		return candidates[i].e.CreatedAt.Before(candidates[j].e.CreatedAt)
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	evicted := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		_ = inv.cache.Delete(ctx, c.key)
		evicted = append(evicted, c.key)
	}
	if len(evicted) > 0 {
		inv.logger.Info("evicted low-hit cache entries", "pattern", pattern, "count", len(evicted))
	}
	return evicted, nil
}
