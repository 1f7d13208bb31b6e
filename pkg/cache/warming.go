package cache

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// WarmingStrategy names a set of keys to pre-populate. Lower priority runs
// first; MaxConcurrent bounds in-flight loads within the strategy.
type WarmingStrategy struct {
	Name          string
	Keys          []string
	Priority      int
	MaxConcurrent int
	TTL           time.Duration
}

// LoaderFunc computes the value for one key during warming, typically by
// calling the upstream operation.
type LoaderFunc func(ctx context.Context, key string) (any, error)

// WarmingStats accumulates outcomes across warming runs.
type WarmingStats struct {
	Attempted  int64         `json:"attempted"`
	Succeeded  int64         `json:"succeeded"`
	Failed     int64         `json:"failed"`
	Skipped    int64         `json:"skipped"`
	LastRun    time.Time     `json:"last_run"`
	LastRunFor time.Duration `json:"last_run_duration"`
}

// Warmer pre-populates the cache by running named strategies in priority
// order. Key failures are logged and skipped, never abort a strategy.
type Warmer struct {
	cache  *Cache
	loader LoaderFunc
	logger *slog.Logger

	mu         sync.Mutex
	strategies map[string]WarmingStrategy
	stats      WarmingStats
}

// NewWarmer creates a Warmer that loads values with loader.
func NewWarmer(c *Cache, loader LoaderFunc, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Warmer{
		cache:      c,
		loader:     loader,
		logger:     logger,
		strategies: make(map[string]WarmingStrategy),
	}
}

// AddStrategy registers or replaces a strategy by name.
func (w *Warmer) AddStrategy(s WarmingStrategy) {
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 1
	}
	w.mu.Lock()
	w.strategies[s.Name] = s
	w.mu.Unlock()
	w.logger.Info("registered warming strategy", "strategy", s.Name, "keys", len(s.Keys))
}

// RemoveStrategy unregisters a strategy.
func (w *Warmer) RemoveStrategy(name string) {
	w.mu.Lock()
	delete(w.strategies, name)
	w.mu.Unlock()
}

// RunAll executes every registered strategy in priority order (lower
// first) and returns per-strategy success counts.
func (w *Warmer) RunAll(ctx context.Context) (map[string]int, error) {
	w.mu.Lock()
	ordered := make([]WarmingStrategy, 0, len(w.strategies))
	for _, s := range w.strategies {
		ordered = append(ordered, s)
	}
	w.mu.Unlock()
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	results := make(map[string]int, len(ordered))
	for _, s := range ordered {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		n, err := w.Run(ctx, s)
		results[s.Name] = n
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Run executes one strategy: each key is loaded and stored concurrently up
// to the strategy's concurrency cap. Already-cached keys are skipped.
// Returns the number of keys successfully warmed; the only error returned
// is context cancellation.
func (w *Warmer) Run(ctx context.Context, s WarmingStrategy) (int, error) {
	start := time.Now()
	w.logger.Info("warming cache", "strategy", s.Name, "keys", len(s.Keys))

	limit := s.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var succeeded, failed, skipped int64
	var mu sync.Mutex

	for _, key := range s.Keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if w.cache.Get(gctx, key, nil) {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			value, err := w.loader(gctx, key)
			if err != nil {
				// Individual failures never abort the strategy.
				w.logger.Warn("warming key failed", "strategy", s.Name, "key", key, "err", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			if err := w.cache.Set(gctx, key, value, s.TTL); err != nil {
				w.logger.Warn("warming store failed", "strategy", s.Name, "key", key, "err", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	elapsed := time.Since(start)
	w.mu.Lock()
	w.stats.Attempted += int64(len(s.Keys))
	w.stats.Succeeded += succeeded
	w.stats.Failed += failed
	w.stats.Skipped += skipped
	w.stats.LastRun = time.Now()
	w.stats.LastRunFor = elapsed
	w.mu.Unlock()

	w.logger.Info("warming complete",
		"strategy", s.Name,
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped,
		"elapsed", elapsed,
	)
	return int(succeeded), err
}

// Stats returns accumulated warming outcomes.
func (w *Warmer) Stats() WarmingStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
