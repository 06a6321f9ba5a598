package helper

import (
	"context"
	"maps"
	"sync"

	"github.com/project-hadron/discovery-engines/eventbook"
)

// SpySpanContext is the span handed out by TracingCollectorSpy.
type SpySpanContext struct {
	mu       sync.Mutex
	name     string
	start    map[string]string
	status   string
	attrs    map[string]string
	finished bool
}

func (c *SpySpanContext) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = status
}

func (c *SpySpanContext) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attrs == nil {
		c.attrs = make(map[string]string)
	}

	c.attrs[key] = value
}

func (c *SpySpanContext) GetStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// TracingCollectorSpy captures the spans an EventBook starts and finishes.
type TracingCollectorSpy struct {
	mu    sync.Mutex
	spans []*SpySpanContext
}

var _ eventbook.TracingCollector = (*TracingCollectorSpy)(nil)

func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, eventbook.SpanContext) {
	span := &SpySpanContext{name: name, start: maps.Clone(attrs)}

	s.mu.Lock()
	s.spans = append(s.spans, span)
	s.mu.Unlock()

	return ctx, span
}

// FinishSpan ignores spans it did not start.
func (s *TracingCollectorSpy) FinishSpan(spanCtx eventbook.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*SpySpanContext)
	if !ok {
		return
	}

	span.mu.Lock()
	defer span.mu.Unlock()

	span.status = status
	span.finished = true

	if span.attrs == nil {
		span.attrs = make(map[string]string, len(attrs))
	}

	maps.Copy(span.attrs, attrs)
}

// SpanCount returns the number of started spans named name.
func (s *TracingCollectorSpy) SpanCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, span := range s.spans {
		if span.name == name {
			count++
		}
	}

	return count
}

// HasSpanWithStatus reports whether a span named name was started with at least startAttrs and
// finished with status.
func (s *TracingCollectorSpy) HasSpanWithStatus(name, status string, startAttrs map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, span := range s.spans {
		span.mu.Lock()
		match := span.finished && span.name == name && span.status == status && labelsMatch(span.start, startAttrs)
		span.mu.Unlock()

		if match {
			return true
		}
	}

	return false
}
