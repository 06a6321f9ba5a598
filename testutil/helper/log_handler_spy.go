package helper

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

type capturedLog struct {
	level   slog.Level
	message string
	attrs   map[string]slog.Value
}

// LogHandlerSpy is a slog.Handler that keeps every record for assertions. Wrap it with slog.New.
type LogHandlerSpy struct {
	mu     sync.Mutex
	logs   []capturedLog
	mirror slog.Handler
}

// NewLogHandlerSpy creates a spy. With echo set, records are also written to stdout as JSON, which
// helps when debugging a test.
func NewLogHandlerSpy(echo bool) *LogHandlerSpy {
	spy := &LogHandlerSpy{}
	if echo {
		spy.mirror = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	return spy
}

func (s *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	captured := capturedLog{level: record.Level, message: record.Message, attrs: make(map[string]slog.Value, record.NumAttrs())}
	record.Attrs(func(attr slog.Attr) bool {
		captured.attrs[attr.Key] = attr.Value.Resolve()
		return true
	})

	s.mu.Lock()
	s.logs = append(s.logs, captured)
	s.mu.Unlock()

	if s.mirror != nil {
		return s.mirror.Handle(ctx, record)
	}

	return nil
}

func (s *LogHandlerSpy) Enabled(context.Context, slog.Level) bool { return true }

func (s *LogHandlerSpy) WithAttrs([]slog.Attr) slog.Handler { return s }

func (s *LogHandlerSpy) WithGroup(string) slog.Handler { return s }

func (s *LogHandlerSpy) GetRecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.logs)
}

func (s *LogHandlerSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = nil
}

func (s *LogHandlerSpy) HasLog(level slog.Level, message string) bool {
	return s.HasLogWithMessage(level, message).Assert()
}

// SpyLogRecordMatcher narrows down the first record found by HasLogWithMessage.
type SpyLogRecordMatcher struct {
	attrs map[string]slog.Value
	ok    bool
}

func (s *LogHandlerSpy) HasLogWithMessage(level slog.Level, message string) *SpyLogRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, captured := range s.logs {
		if captured.level == level && captured.message == message {
			return &SpyLogRecordMatcher{attrs: captured.attrs, ok: true}
		}
	}

	return &SpyLogRecordMatcher{}
}

// WithAttr requires an attribute key whose value renders as value.
func (m *SpyLogRecordMatcher) WithAttr(key, value string) *SpyLogRecordMatcher {
	if got, found := m.attrs[key]; !found || got.String() != value {
		m.ok = false
	}

	return m
}

// WithDurationMS requires a non-negative numeric duration_ms attribute.
func (m *SpyLogRecordMatcher) WithDurationMS() *SpyLogRecordMatcher {
	got, found := m.attrs["duration_ms"]

	switch {
	case !found:
		m.ok = false
	case got.Kind() == slog.KindFloat64:
		m.ok = m.ok && got.Float64() >= 0
	case got.Kind() == slog.KindInt64:
		m.ok = m.ok && got.Int64() >= 0
	default:
		m.ok = false
	}

	return m
}

func (m *SpyLogRecordMatcher) Assert() bool {
	return m.ok
}
