package http

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

// snapshotCollector bridges the application collector into a Prometheus
// registry: each scrape takes a snapshot and emits const metrics, so the
// exposition endpoint always reflects current state without double
// bookkeeping.
type snapshotCollector struct {
	source *metrics.Collector
}

func newSnapshotCollector(source *metrics.Collector) *snapshotCollector {
	return &snapshotCollector{source: source}
}

// Describe intentionally sends nothing: the metric set is dynamic, making
// this an unchecked collector.
func (c *snapshotCollector) Describe(chan<- *prometheus.Desc) {}

// Collect emits the current snapshot.
func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snap := c.source.Snapshot()

	for _, s := range snap.Counters {
		keys, vals := labelPairs(s.Tags)
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(s.Name, "", keys, nil),
			prometheus.CounterValue, s.Value, vals...,
		)
	}
	for _, s := range snap.Gauges {
		keys, vals := labelPairs(s.Tags)
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(s.Name, "", keys, nil),
			prometheus.GaugeValue, s.Value, vals...,
		)
	}
	for _, h := range snap.Histograms {
		keys, vals := labelPairs(h.Tags)
		ch <- prometheus.MustNewConstSummary(
			prometheus.NewDesc(h.Name, "", keys, nil),
			uint64(h.Stats.Count), h.Stats.Sum,
			map[float64]float64{
				0.5:  h.Stats.P50,
				0.95: h.Stats.P95,
				0.99: h.Stats.P99,
			},
			vals...,
		)
	}
}

func labelPairs(tags metrics.Tags) (keys []string, vals []string) {
	keys = make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals = make([]string, len(keys))
	for i, k := range keys {
		vals[i] = tags[k]
	}
	return keys, vals
}
