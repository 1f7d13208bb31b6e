// Package metrics provides a process-wide, thread-safe collector for
// counters, gauges and histograms tagged with arbitrary key/value pairs.
// Snapshots are pull-based and side-effect free; the HTTP adapter bridges
// them into a Prometheus scrape target.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tags labels a metric sample (operation name, outcome, etc.).
type Tags map[string]string

// DefaultRetention is the number of samples retained per histogram series
// for percentile queries.
const DefaultRetention = 1000

// Collector aggregates metric samples. The zero value is not usable; create
// one with New. All methods are safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*histogram
	retention  int
	now        func() time.Time
	logger     *slog.Logger
}

// histogram keeps running aggregates plus a bounded ring of raw samples for
// percentile computation.
type histogram struct {
	count   int64
	sum     float64
	min     float64
	max     float64
	samples []float64
	next    int
	full    bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithRetention bounds the number of samples retained per histogram series.
func WithRetention(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.retention = n
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// WithLogger sets a structured logger for the collector.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an empty Collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
		retention:  DefaultRetention,
		now:        time.Now,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Increment adds 1 to the counter identified by name and tags.
func (c *Collector) Increment(name string, tags Tags) {
	c.Add(name, 1, tags)
}

// Add adds value to the counter identified by name and tags.
func (c *Collector) Add(name string, value float64, tags Tags) {
	key := seriesKey(name, tags)
	c.mu.Lock()
	c.counters[key] += value
	c.mu.Unlock()
}

// SetGauge sets the gauge identified by name and tags to value.
func (c *Collector) SetGauge(name string, value float64, tags Tags) {
	key := seriesKey(name, tags)
	c.mu.Lock()
	c.gauges[key] = value
	c.mu.Unlock()
}

// Observe records a histogram sample for the series identified by name and
// tags.
func (c *Collector) Observe(name string, value float64, tags Tags) {
	key := seriesKey(name, tags)
	c.mu.Lock()
	h, ok := c.histograms[key]
	if !ok {
		h = &histogram{samples: make([]float64, 0, c.retention)}
		c.histograms[key] = h
	}
	h.observe(value, c.retention)
	c.mu.Unlock()
}

func (h *histogram) observe(value float64, retention int) {
	if h.count == 0 || value < h.min {
		h.min = value
	}
	if h.count == 0 || value > h.max {
		h.max = value
	}
	h.count++
	h.sum += value

	if len(h.samples) < retention {
		h.samples = append(h.samples, value)
		return
	}
	// Ring buffer: overwrite oldest once the retention bound is reached.
	h.samples[h.next] = value
	h.next = (h.next + 1) % retention
	h.full = true
}

// Reset clears all recorded metrics. Used by tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string]*histogram)
}

// seriesKey encodes a metric name and tag set into a stable map key:
// name[k1=v1,k2=v2] with tags sorted by key.
func seriesKey(name string, tags Tags) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%s", k, tags[k])
	}
	b.WriteByte(']')
	return b.String()
}

// splitSeriesKey decodes a seriesKey back into name and tags.
func splitSeriesKey(key string) (string, Tags) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, nil
	}
	name := key[:open]
	tags := make(Tags)
	for _, pair := range strings.Split(strings.TrimSuffix(key[open+1:], "]"), ",") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			tags[k] = v
		}
	}
	return name, tags
}
