package helper

import (
	"maps"
	"sync"
	"time"

	"github.com/project-hadron/discovery-engines/eventbook"
)

type spyMetricKind int

const (
	spyDuration spyMetricKind = iota
	spyCounter
	spyValue
)

// SpyMetricRecord is one captured metrics call. Value holds the recorded value, the duration in
// seconds, or 1 for a counter increment.
type SpyMetricRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
	kind   spyMetricKind
}

// MetricsCollectorSpy captures the calls of an eventbook.MetricsCollector in order.
type MetricsCollectorSpy struct {
	mu      sync.Mutex
	records []SpyMetricRecord
}

var _ eventbook.MetricsCollector = (*MetricsCollectorSpy)(nil)

func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.capture(spyDuration, metric, duration.Seconds(), labels)
}

func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.capture(spyCounter, metric, 1, labels)
}

func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.capture(spyValue, metric, value, labels)
}

func (s *MetricsCollectorSpy) capture(kind spyMetricKind, metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, SpyMetricRecord{Metric: metric, Value: value, Labels: maps.Clone(labels), kind: kind})
}

func (s *MetricsCollectorSpy) matching(kind spyMetricKind, metric string, labels map[string]string) []SpyMetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []SpyMetricRecord

	for _, record := range s.records {
		if record.kind == kind && record.Metric == metric && labelsMatch(record.Labels, labels) {
			found = append(found, record)
		}
	}

	return found
}

// CountDurationRecords counts the durations of metric recorded with at least the given labels.
func (s *MetricsCollectorSpy) CountDurationRecords(metric string, labels map[string]string) int {
	return len(s.matching(spyDuration, metric, labels))
}

// CountCounterRecords counts the increments of metric recorded with at least the given labels.
func (s *MetricsCollectorSpy) CountCounterRecords(metric string, labels map[string]string) int {
	return len(s.matching(spyCounter, metric, labels))
}

// GetValueRecords returns the values recorded for metric, oldest first.
func (s *MetricsCollectorSpy) GetValueRecords(metric string) []SpyMetricRecord {
	return s.matching(spyValue, metric, nil)
}

func (s *MetricsCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
}

// labelsMatch reports whether have contains every pair of want.
func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}

	return true
}
