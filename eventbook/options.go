package eventbook

import (
	"time"
)

// Option defines a functional option for configuring an EventBook.
type Option func(*EventBook) error

// WithCadence sets the snapshot and log thresholds.
func WithCadence(policy CadencePolicy) Option {
	return func(b *EventBook) error {
		if err := policy.Validate(); err != nil {
			return err
		}

		b.cadence = policy

		return nil
	}
}

// WithStateConnector binds the connector that receives state snapshots.
func WithStateConnector(connector Connector) Option {
	return func(b *EventBook) error {
		if connector == nil {
			return ErrNilConnector
		}

		b.stateConnector = connector

		return nil
	}
}

// WithLogConnector binds the connector that receives the events log.
func WithLogConnector(connector Connector) Option {
	return func(b *EventBook) error {
		if connector == nil {
			return ErrNilConnector
		}

		b.logConnector = connector

		return nil
	}
}

// WithLogger sets the logger for the EventBook.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: every applied event with its timing (development use)
// Info level: snapshots, log flushes and replays (production-safe)
// Warn level: non-critical issues like a failed log truncation after a snapshot
// Error level: failures that are returned to the caller.
func WithLogger(logger Logger) Option {
	return func(b *EventBook) error {
		b.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the EventBook.
// It receives the same messages as the Logger together with the caller's context,
// enabling trace/span correlation.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(b *EventBook) error {
		b.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventBook.
// It receives event durations and counts, snapshot and log flush counts, persistence durations and errors.
func WithMetrics(collector MetricsCollector) Option {
	return func(b *EventBook) error {
		b.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventBook.
// Spans are opened for persistence and replay.
func WithTracing(collector TracingCollector) Option {
	return func(b *EventBook) error {
		b.tracingCollector = collector
		return nil
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock Clock) Option {
	return func(b *EventBook) error {
		if clock == nil {
			return ErrNilClock
		}

		b.clock = clock

		return nil
	}
}

// WithPersistTimeout bounds every single connector call.
func WithPersistTimeout(timeout time.Duration) Option {
	return func(b *EventBook) error {
		if timeout <= 0 {
			return ErrNonPositiveTimeout
		}

		b.persistTimeout = timeout

		return nil
	}
}

// WithPersistRetry retries failed connector writes with exponential backoff.
func WithPersistRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(b *EventBook) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		if baseDelay < 0 {
			return ErrNegativeBaseDelay
		}

		b.retryOptions = []RetryOption{WithMaxAttempts(maxAttempts), WithBaseDelay(baseDelay)}

		return nil
	}
}
