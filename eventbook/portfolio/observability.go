package portfolio

import (
	"context"
	"math"
	"time"

	"github.com/project-hadron/discovery-engines/eventbook"
)

const (
	logMsgBookRegistered    = "book registered"
	logMsgRegisterFailed    = "book registration failed"
	logMsgBookStarted       = "book started"
	logMsgStartFailed       = "book start failed"
	logMsgBookRemoved       = "book removed"
	logMsgPortfolioReset    = "portfolio reset"
	logMsgPortfolioRestored = "portfolio restored from contract store"
	logMsgConnectorsBound   = "book connectors bound"
	logMsgBindFailed        = "binding book connectors failed"
	logAttrBook             = "book"
	logAttrKind             = "kind"
	logAttrLevel            = "level"
	logAttrRecovered        = "recovered"
	logAttrRestoredSpecs    = "restored_specs"
	logAttrStateConnector   = "state_connector"
	logAttrLogConnector     = "log_connector"
	logAttrError            = "error"
	logAttrDurationMS       = "duration_ms"
	statusSuccess           = "success"
	statusError             = "error"
	metricBookStartsTotal   = "eventbook_portfolio_starts_total"
	metricActiveBooks       = "eventbook_portfolio_active_books"
	metricLabelKind         = "kind"
	metricLabelStatus       = "status"
)

func (p *Portfolio) logInfoContext(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}

	if p.contextualLogger != nil {
		p.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

func (p *Portfolio) logErrorContext(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if p.logger != nil {
		p.logger.Error(msg, allArgs...)
	}

	if p.contextualLogger != nil {
		p.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

func (p *Portfolio) recordStartMetrics(ctx context.Context, spec eventbook.BookSpec, status string) {
	if p.metricsCollector == nil {
		return
	}

	labels := map[string]string{metricLabelKind: spec.Kind, metricLabelStatus: status}

	if contextualCollector, ok := p.metricsCollector.(eventbook.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricBookStartsTotal, labels)
	} else {
		p.metricsCollector.IncrementCounter(metricBookStartsTotal, labels)
	}
}

func (p *Portfolio) recordActiveBooks(ctx context.Context) {
	if p.metricsCollector == nil {
		return
	}

	value := float64(p.active.Size())

	if contextualCollector, ok := p.metricsCollector.(eventbook.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metricActiveBooks, value, nil)
	} else {
		p.metricsCollector.RecordValue(metricActiveBooks, value, nil)
	}
}

func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
