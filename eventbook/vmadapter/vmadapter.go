// Package vmadapter collects eventbook metrics into a VictoriaMetrics metrics.Set, which renders
// them in the Prometheus text format:
//
//	collector := vmadapter.NewMetricsCollector()
//	book, _ := eventbook.NewEventBook("orders", eventbook.WithMetrics(collector))
//	http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
//		collector.WritePrometheus(w)
//	})
package vmadapter

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/project-hadron/discovery-engines/eventbook"
)

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// MetricsCollector records durations as histograms in seconds, counters as counters and values
// as gauges reporting the last recorded value.
type MetricsCollector struct {
	set    *metrics.Set
	values *xsync.MapOf[string, float64]
}

var _ eventbook.ContextualMetricsCollector = (*MetricsCollector)(nil)

// NewMetricsCollector creates a collector on a fresh metrics.Set.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithSet(metrics.NewSet())
}

// NewMetricsCollectorWithSet creates a collector on set, e.g. one registered with metrics.RegisterSet.
func NewMetricsCollectorWithSet(set *metrics.Set) *MetricsCollector {
	return &MetricsCollector{
		set:    set,
		values: xsync.NewMapOf[string, float64](),
	}
}

// Set returns the underlying metrics.Set.
func (c *MetricsCollector) Set() *metrics.Set {
	return c.set
}

// WritePrometheus writes all collected metrics in the Prometheus text format.
func (c *MetricsCollector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

func (c *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	c.set.GetOrCreateHistogram(seriesName(metric, labels)).Update(duration.Seconds())
}

func (c *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	c.set.GetOrCreateCounter(seriesName(metric, labels)).Inc()
}

func (c *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	name := seriesName(metric, labels)
	c.values.Store(name, value)

	c.set.GetOrCreateGauge(name, func() float64 {
		v, _ := c.values.Load(name)
		return v
	})
}

// RecordDurationContext ignores ctx, a metrics.Set has no notion of trace context.
func (c *MetricsCollector) RecordDurationContext(_ context.Context, metric string, duration time.Duration, labels map[string]string) {
	c.RecordDuration(metric, duration, labels)
}

func (c *MetricsCollector) IncrementCounterContext(_ context.Context, metric string, labels map[string]string) {
	c.IncrementCounter(metric, labels)
}

func (c *MetricsCollector) RecordValueContext(_ context.Context, metric string, value float64, labels map[string]string) {
	c.RecordValue(metric, value, labels)
}

// seriesName renders metric{k1="v1",k2="v2"} with the labels sorted by key.
func seriesName(metric string, labels map[string]string) string {
	if len(labels) == 0 {
		return metric
	}

	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(metric)
	b.WriteByte('{')

	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(key)
		b.WriteString(`="`)
		b.WriteString(labelValueEscaper.Replace(labels[key]))
		b.WriteByte('"')
	}

	b.WriteByte('}')

	return b.String()
}
