package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// HistogramStats summarizes one histogram series at snapshot time.
// Percentiles are computed from the retained sample ring.
type HistogramStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Series is one exported metric series: decoded name and tags plus value.
type Series struct {
	Name  string  `json:"name"`
	Tags  Tags    `json:"tags,omitempty"`
	Value float64 `json:"value"`
}

// HistogramSeries is one exported histogram series.
type HistogramSeries struct {
	Name  string         `json:"name"`
	Tags  Tags           `json:"tags,omitempty"`
	Stats HistogramStats `json:"stats"`
}

// Snapshot is a point-in-time view of every registered metric. Taking a
// snapshot never mutates collector state.
type Snapshot struct {
	Counters   []Series          `json:"counters"`
	Gauges     []Series          `json:"gauges"`
	Histograms []HistogramSeries `json:"histograms"`
	TakenAt    time.Time         `json:"taken_at"`
}

// Snapshot captures the current value of every registered metric.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{TakenAt: c.now()}

	for _, key := range sortedKeys(c.counters) {
		name, tags := splitSeriesKey(key)
		snap.Counters = append(snap.Counters, Series{Name: name, Tags: tags, Value: c.counters[key]})
	}
	for _, key := range sortedKeys(c.gauges) {
		name, tags := splitSeriesKey(key)
		snap.Gauges = append(snap.Gauges, Series{Name: name, Tags: tags, Value: c.gauges[key]})
	}

	histKeys := make([]string, 0, len(c.histograms))
	for key := range c.histograms {
		histKeys = append(histKeys, key)
	}
	sort.Strings(histKeys)
	for _, key := range histKeys {
		name, tags := splitSeriesKey(key)
		snap.Histograms = append(snap.Histograms, HistogramSeries{
			Name:  name,
			Tags:  tags,
			Stats: c.histograms[key].stats(),
		})
	}
	return snap
}

func (h *histogram) stats() HistogramStats {
	s := HistogramStats{
		Count: h.count,
		Sum:   h.sum,
		Min:   h.min,
		Max:   h.max,
	}
	if h.count > 0 {
		s.Avg = h.sum / float64(h.count)
	}
	retained := make([]float64, len(h.samples))
	copy(retained, h.samples)
	sort.Float64s(retained)
	s.P50 = percentile(retained, 0.50)
	s.P95 = percentile(retained, 0.95)
	s.P99 = percentile(retained, 0.99)
	return s
}

// percentile computes a linearly interpolated percentile over sorted values.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	k := float64(n-1) * p
	f := int(k)
	if f >= n-1 {
		return sorted[n-1]
	}
	frac := k - float64(f)
	return sorted[f]*(1-frac) + sorted[f+1]*frac
}

// Text renders the snapshot in Prometheus exposition style, one line per
// series plus a TYPE comment per metric name.
func (s Snapshot) Text() string {
	var b strings.Builder
	lastTyped := ""

	writeType := func(name, kind string) {
		if name != lastTyped {
			fmt.Fprintf(&b, "# TYPE %s %s\n", name, kind)
			lastTyped = name
		}
	}

	for _, c := range s.Counters {
		writeType(c.Name, "counter")
		fmt.Fprintf(&b, "%s%s %v\n", c.Name, formatLabels(c.Tags), c.Value)
	}
	for _, g := range s.Gauges {
		writeType(g.Name, "gauge")
		fmt.Fprintf(&b, "%s%s %v\n", g.Name, formatLabels(g.Tags), g.Value)
	}
	for _, h := range s.Histograms {
		writeType(h.Name, "summary")
		labels := formatLabels(h.Tags)
		fmt.Fprintf(&b, "%s_count%s %d\n", h.Name, labels, h.Stats.Count)
		fmt.Fprintf(&b, "%s_sum%s %v\n", h.Name, labels, h.Stats.Sum)
		fmt.Fprintf(&b, "%s_min%s %v\n", h.Name, labels, h.Stats.Min)
		fmt.Fprintf(&b, "%s_max%s %v\n", h.Name, labels, h.Stats.Max)
		fmt.Fprintf(&b, "%s_avg%s %v\n", h.Name, labels, h.Stats.Avg)
		fmt.Fprintf(&b, "%s_p50%s %v\n", h.Name, labels, h.Stats.P50)
		fmt.Fprintf(&b, "%s_p95%s %v\n", h.Name, labels, h.Stats.P95)
		fmt.Fprintf(&b, "%s_p99%s %v\n", h.Name, labels, h.Stats.P99)
	}
	return b.String()
}

func formatLabels(tags Tags) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
