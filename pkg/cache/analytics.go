package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultAnalyticsWindow is the sliding window over which hit rate is
// computed.
const DefaultAnalyticsWindow = 15 * time.Minute

// PatternStats is the per-pattern breakdown of window activity. The
// pattern is the key prefix up to the first ':' separator.
type PatternStats struct {
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Rate   float64 `json:"hit_rate"`
}

// Stats is a snapshot of cache activity: lifetime totals plus a
// sliding-window hit rate with per-pattern breakdown.
type Stats struct {
	Hits          int64                   `json:"hits"`
	Misses        int64                   `json:"misses"`
	Sets          int64                   `json:"sets"`
	Errors        int64                   `json:"errors"`
	Invalidations int64                   `json:"invalidations"`
	TotalRequests int64                   `json:"total_requests"`
	HitRate       float64                 `json:"hit_rate"`
	WindowHitRate float64                 `json:"window_hit_rate"`
	Window        time.Duration           `json:"window"`
	Degraded      bool                    `json:"degraded"`
	ByPattern     map[string]PatternStats `json:"by_pattern"`
}

// analytics tracks lifetime counters and a bounded event window.
type analytics struct {
	mu            sync.Mutex
	window        time.Duration
	events        []accessEvent
	hits          int64
	misses        int64
	sets          int64
	errors        int64
	invalidations int64
}

type accessEvent struct {
	at      time.Time
	hit     bool
	pattern string
}

func newAnalytics(window time.Duration) *analytics {
	if window <= 0 {
		window = DefaultAnalyticsWindow
	}
	return &analytics{window: window}
}

func (a *analytics) recordAccess(now time.Time, key string, hit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if hit {
		a.hits++
	} else {
		a.misses++
	}
	a.events = append(a.events, accessEvent{at: now, hit: hit, pattern: keyPattern(key)})
	a.prune(now)
}

func (a *analytics) recordSet() {
	a.mu.Lock()
	a.sets++
	a.mu.Unlock()
}

func (a *analytics) recordError() {
	a.mu.Lock()
	a.errors++
	a.mu.Unlock()
}

func (a *analytics) recordInvalidations(n int) {
	a.mu.Lock()
	a.invalidations += int64(n)
	a.mu.Unlock()
}

// prune drops events older than the window. Caller holds a.mu.
func (a *analytics) prune(now time.Time) {
	cutoff := now.Add(-a.window)
	i := 0
	for i < len(a.events) && a.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.events = append(a.events[:0], a.events[i:]...)
	}
}

func (a *analytics) stats(now time.Time, degraded bool) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prune(now)

	s := Stats{
		Hits:          a.hits,
		Misses:        a.misses,
		Sets:          a.sets,
		Errors:        a.errors,
		Invalidations: a.invalidations,
		TotalRequests: a.hits + a.misses,
		Window:        a.window,
		Degraded:      degraded,
		ByPattern:     make(map[string]PatternStats),
	}
	if s.TotalRequests > 0 {
		s.HitRate = float64(a.hits) / float64(s.TotalRequests)
	}

	var windowHits, windowTotal int64
	for _, e := range a.events {
		windowTotal++
		ps := s.ByPattern[e.pattern]
		if e.hit {
			windowHits++
			ps.Hits++
		} else {
			ps.Misses++
		}
		s.ByPattern[e.pattern] = ps
	}
	if windowTotal > 0 {
		s.WindowHitRate = float64(windowHits) / float64(windowTotal)
	}
	for p, ps := range s.ByPattern {
		if total := ps.Hits + ps.Misses; total > 0 {
			ps.Rate = float64(ps.Hits) / float64(total)
		}
		s.ByPattern[p] = ps
	}
	return s
}

// keyPattern buckets a key by its prefix up to the first ':'.
func keyPattern(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
