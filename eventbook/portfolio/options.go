package portfolio

import (
	"errors"

	"github.com/project-hadron/discovery-engines/eventbook"
)

var (
	ErrNilResolver      = errors.New("resolver must not be nil")
	ErrNilContractStore = errors.New("contract store must not be nil")
	ErrNilOpener        = errors.New("connector opener must not be nil")
)

// Option defines a functional option for configuring a Portfolio.
type Option func(*Portfolio) error

// WithResolver replaces the default resolver, to add book kinds.
func WithResolver(resolver *Resolver) Option {
	return func(p *Portfolio) error {
		if resolver == nil {
			return ErrNilResolver
		}

		p.resolver = resolver

		return nil
	}
}

// WithContractStore persists specs and connector bindings, enabling Restore and SetBookConnectors.
func WithContractStore(store eventbook.ContractStore) Option {
	return func(p *Portfolio) error {
		if store == nil {
			return ErrNilContractStore
		}

		p.store = store

		return nil
	}
}

// WithConnectorOpener opens the connector contracts a spec refers to when its book is started.
func WithConnectorOpener(opener eventbook.ConnectorOpener) Option {
	return func(p *Portfolio) error {
		if opener == nil {
			return ErrNilOpener
		}

		p.opener = opener

		return nil
	}
}

// WithLogger sets the logger for the Portfolio. It is handed to every started book as well.
func WithLogger(logger eventbook.Logger) Option {
	return func(p *Portfolio) error {
		p.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Portfolio and its books.
func WithContextualLogger(logger eventbook.ContextualLogger) Option {
	return func(p *Portfolio) error {
		p.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Portfolio and its books.
func WithMetrics(collector eventbook.MetricsCollector) Option {
	return func(p *Portfolio) error {
		p.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector handed to started books.
func WithTracing(collector eventbook.TracingCollector) Option {
	return func(p *Portfolio) error {
		p.tracingCollector = collector
		return nil
	}
}

// WithClock sets the clock handed to started books.
func WithClock(clock eventbook.Clock) Option {
	return func(p *Portfolio) error {
		if clock == nil {
			return eventbook.ErrNilClock
		}

		p.clock = clock

		return nil
	}
}

// WithBookOptions appends options to every book built by the default constructor,
// e.g. eventbook.WithPersistTimeout.
func WithBookOptions(options ...eventbook.Option) Option {
	return func(p *Portfolio) error {
		p.bookOptions = append(p.bookOptions, options...)
		return nil
	}
}
