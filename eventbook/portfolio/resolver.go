package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/project-hadron/discovery-engines/eventbook"
)

var (
	ErrEmptyKind      = errors.New("book kind must not be empty")
	ErrNilConstructor = errors.New("book constructor must not be nil")
	ErrUnknownKind    = errors.New("no constructor registered for book kind")
	ErrKindTaken      = errors.New("book kind is already registered")
)

// Dependencies is what a Constructor receives besides the spec: bound connectors and the
// portfolio's observability, plus extra options for the built-in EventBook.
type Dependencies struct {
	StateConnector   eventbook.Connector
	LogConnector     eventbook.Connector
	Logger           eventbook.Logger
	ContextualLogger eventbook.ContextualLogger
	Metrics          eventbook.MetricsCollector
	Tracing          eventbook.TracingCollector
	Clock            eventbook.Clock
	BookOptions      []eventbook.Option
}

// Constructor builds a book from its spec.
type Constructor func(ctx context.Context, spec eventbook.BookSpec, deps Dependencies) (eventbook.Book, error)

// Resolver maps a BookSpec.Kind to the Constructor that builds it.
// Kinds are registered in code, nothing is looked up by package or type name.
type Resolver struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewResolver returns a Resolver with DefaultKind bound to NewEventBookConstructor.
func NewResolver() *Resolver {
	return &Resolver{
		ctors: map[string]Constructor{eventbook.DefaultKind: NewEventBookConstructor},
	}
}

// Register binds kind to ctor. Every kind can be registered once.
func (r *Resolver) Register(kind string, ctor Constructor) error {
	if strings.TrimSpace(kind) == "" {
		return errors.Join(eventbook.ErrValidation, ErrEmptyKind)
	}

	if ctor == nil {
		return errors.Join(eventbook.ErrValidation, ErrNilConstructor, fmt.Errorf("kind %q", kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ctors[kind]; ok {
		return errors.Join(eventbook.ErrDuplicate, ErrKindTaken, fmt.Errorf("kind %q", kind))
	}

	r.ctors[kind] = ctor

	return nil
}

// Resolve returns the constructor of kind.
func (r *Resolver) Resolve(kind string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, ok := r.ctors[kind]
	if !ok {
		return nil, errors.Join(eventbook.ErrNotFound, ErrUnknownKind, fmt.Errorf("kind %q", kind))
	}

	return ctor, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Resolver) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.ctors))
	for kind := range r.ctors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	return kinds
}

// NewEventBookConstructor builds an *eventbook.EventBook from the spec and the dependencies.
func NewEventBookConstructor(_ context.Context, spec eventbook.BookSpec, deps Dependencies) (eventbook.Book, error) {
	options := []eventbook.Option{eventbook.WithCadence(spec.Cadence)}

	if deps.StateConnector != nil {
		options = append(options, eventbook.WithStateConnector(deps.StateConnector))
	}

	if deps.LogConnector != nil {
		options = append(options, eventbook.WithLogConnector(deps.LogConnector))
	}

	if deps.Logger != nil {
		options = append(options, eventbook.WithLogger(deps.Logger))
	}

	if deps.ContextualLogger != nil {
		options = append(options, eventbook.WithContextualLogger(deps.ContextualLogger))
	}

	if deps.Metrics != nil {
		options = append(options, eventbook.WithMetrics(deps.Metrics))
	}

	if deps.Tracing != nil {
		options = append(options, eventbook.WithTracing(deps.Tracing))
	}

	if deps.Clock != nil {
		options = append(options, eventbook.WithClock(deps.Clock))
	}

	options = append(options, deps.BookOptions...)

	return eventbook.NewEventBook(spec.Name, options...)
}
