package eventbook

import (
	"context"
	"errors"
	"math"
	"time"
)

// logDebugContext logs at debug level to the logger and the contextual logger, whichever are configured.
func (b *EventBook) logDebugContext(ctx context.Context, msg string, args ...any) {
	args = b.withBookAttr(args)

	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}

	if b.contextualLogger != nil {
		b.contextualLogger.DebugContext(ctx, msg, args...)
	}
}

// logInfoContext logs operational information at info level.
func (b *EventBook) logInfoContext(ctx context.Context, msg string, args ...any) {
	args = b.withBookAttr(args)

	if b.logger != nil {
		b.logger.Info(msg, args...)
	}

	if b.contextualLogger != nil {
		b.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

// logWarnContext logs non-critical issues at warn level.
func (b *EventBook) logWarnContext(ctx context.Context, msg string, args ...any) {
	args = b.withBookAttr(args)

	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}

	if b.contextualLogger != nil {
		b.contextualLogger.WarnContext(ctx, msg, args...)
	}
}

// logErrorContext logs error information at the error level.
func (b *EventBook) logErrorContext(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)
	allArgs = b.withBookAttr(allArgs)

	if b.logger != nil {
		b.logger.Error(msg, allArgs...)
	}

	if b.contextualLogger != nil {
		b.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

func (b *EventBook) withBookAttr(args []any) []any {
	return append([]any{logAttrBook, b.name}, args...)
}

// recordEventMetrics records the duration and the count of one event.
func (b *EventBook) recordEventMetrics(ctx context.Context, action Action, duration time.Duration, status string) {
	labels := map[string]string{
		metricLabelBook:   b.name,
		metricLabelAction: action.String(),
		metricLabelStatus: status,
	}

	b.recordDuration(ctx, metricEventDuration, duration, labels)
	b.incrementCounter(ctx, metricEventsTotal, labels)
}

// recordErrorMetrics counts a failed operation by error type.
func (b *EventBook) recordErrorMetrics(ctx context.Context, operation string, err error) {
	b.incrementCounter(ctx, metricErrorsTotal, map[string]string{
		metricLabelBook:      b.name,
		metricLabelOperation: operation,
		metricLabelErrorType: errorType(err),
	})
}

// incrementCounter increments a counter with context if the collector supports it.
func (b *EventBook) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if b.metricsCollector == nil {
		return
	}

	// Use context-aware method if available
	if contextualCollector, ok := b.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metric, labels)
	} else {
		b.metricsCollector.IncrementCounter(metric, labels)
	}
}

// recordDuration records a duration with context if the collector supports it.
func (b *EventBook) recordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if b.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := b.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metric, duration, labels)
	} else {
		b.metricsCollector.RecordDuration(metric, duration, labels)
	}
}

// recordValue records a value with context if the collector supports it.
func (b *EventBook) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if b.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := b.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metric, value, labels)
	} else {
		b.metricsCollector.RecordValue(metric, value, labels)
	}
}

// startTraceSpan starts a tracing span if the tracing collector is configured.
func (b *EventBook) startTraceSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext) {
	if b.tracingCollector != nil {
		return b.tracingCollector.StartSpan(ctx, name, attrs)
	}

	return ctx, nil
}

// finishTraceSpan finishes a tracing span if the tracing collector is configured.
func (b *EventBook) finishTraceSpan(span SpanContext, status string, attrs map[string]string) {
	if b.tracingCollector != nil && span != nil {
		span.SetStatus(status)
		b.tracingCollector.FinishSpan(span, status, attrs)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// errorType extracts a label value for metrics and spans.
func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return errorTypeContextCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return errorTypeContextDeadline
	case errors.Is(err, ErrTypeConflict):
		return errorTypeTypeConflict
	case errors.Is(err, ErrConnection):
		return errorTypeConnection
	case errors.Is(err, ErrNotFound):
		return errorTypeNotFound
	case errors.Is(err, ErrCodec):
		return errorTypeCodec
	case errors.Is(err, ErrValidation):
		return errorTypeValidation
	case errors.Is(err, ErrPersistFailed):
		return errorTypePersist
	case errors.Is(err, ErrLoadFailed):
		return errorTypeLoad
	default:
		return errorTypeOther
	}
}
