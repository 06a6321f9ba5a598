package oteladapters

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/project-hadron/discovery-engines/eventbook"
)

// MetricsCollector maps the eventbook metrics onto OpenTelemetry instruments, created on first use:
//   - RecordDuration -> Float64Histogram in seconds
//   - IncrementCounter -> Int64Counter
//   - RecordValue -> Float64Gauge
//
// It is safe for concurrent use by many books.
type MetricsCollector struct {
	meter      metric.Meter
	histograms *xsync.MapOf[string, metric.Float64Histogram]
	counters   *xsync.MapOf[string, metric.Int64Counter]
	gauges     *xsync.MapOf[string, metric.Float64Gauge]
}

// NewMetricsCollector creates a collector on meter, usually taken from the MeterProvider as
// provider.Meter("eventbook").
func NewMetricsCollector(meter metric.Meter) *MetricsCollector {
	return &MetricsCollector{
		meter:      meter,
		histograms: xsync.NewMapOf[string, metric.Float64Histogram](),
		counters:   xsync.NewMapOf[string, metric.Int64Counter](),
		gauges:     xsync.NewMapOf[string, metric.Float64Gauge](),
	}
}

func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	m.RecordDurationContext(context.Background(), metricName, duration, labels)
}

func (m *MetricsCollector) RecordDurationContext(ctx context.Context, metricName string, duration time.Duration, labels map[string]string) {
	if histogram := m.histogram(metricName); histogram != nil {
		histogram.Record(ctx, duration.Seconds(), metric.WithAttributes(toAttributes(labels)...))
	}
}

func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	m.IncrementCounterContext(context.Background(), metricName, labels)
}

func (m *MetricsCollector) IncrementCounterContext(ctx context.Context, metricName string, labels map[string]string) {
	if counter := m.counter(metricName); counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(toAttributes(labels)...))
	}
}

func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	m.RecordValueContext(context.Background(), metricName, value, labels)
}

func (m *MetricsCollector) RecordValueContext(ctx context.Context, metricName string, value float64, labels map[string]string) {
	if gauge := m.gauge(metricName); gauge != nil {
		gauge.Record(ctx, value, metric.WithAttributes(toAttributes(labels)...))
	}
}

func (m *MetricsCollector) histogram(name string) metric.Float64Histogram {
	return instrument(m.histograms, name, func() (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(name, metric.WithDescription(describe(name)), metric.WithUnit("s"))
	})
}

func (m *MetricsCollector) counter(name string) metric.Int64Counter {
	return instrument(m.counters, name, func() (metric.Int64Counter, error) {
		return m.meter.Int64Counter(name, metric.WithDescription(describe(name)))
	})
}

func (m *MetricsCollector) gauge(name string) metric.Float64Gauge {
	return instrument(m.gauges, name, func() (metric.Float64Gauge, error) {
		return m.meter.Float64Gauge(name, metric.WithDescription(describe(name)))
	})
}

// instrument returns the cached instrument of name, creating it at most once. An instrument that
// cannot be created is not cached and the measurement is dropped.
func instrument[T any](cache *xsync.MapOf[string, T], name string, create func() (T, error)) T {
	if cached, ok := cache.Load(name); ok {
		return cached
	}

	var zero T

	created, ok := cache.Compute(name, func(existing T, loaded bool) (T, bool) {
		if loaded {
			return existing, false
		}

		inst, err := create()
		if err != nil {
			return zero, true
		}

		return inst, false
	})
	if !ok {
		return zero
	}

	return created
}

// describe turns eventbook_log_flushes_total into "EventBook log flushes total".
func describe(name string) string {
	words := strings.Split(strings.TrimPrefix(name, "eventbook_"), "_")
	return "EventBook " + strings.Join(words, " ")
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		attrs = append(attrs, attribute.String(key, value))
	}

	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })

	return attrs
}

var (
	_ eventbook.MetricsCollector           = (*MetricsCollector)(nil)
	_ eventbook.ContextualMetricsCollector = (*MetricsCollector)(nil)
)
