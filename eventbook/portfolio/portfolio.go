package portfolio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/project-hadron/discovery-engines/eventbook"
)

var (
	ErrBookActive       = errors.New("book is already active")
	ErrBookNotActive    = errors.New("book is not active")
	ErrBookUnregistered = errors.New("book is not registered")
	ErrNoContractStore  = errors.New("portfolio has no contract store")
	ErrNoOpener         = errors.New("portfolio has no connector opener")
)

// connectorBinder is implemented by books whose connectors can be rebound while active.
type connectorBinder interface {
	SetConnectors(state, log eventbook.Connector)
	DetachConnectors()
}

// Portfolio is the registry of a process's books. Specs are registered first and materialized
// into live books by Start, each book is then reachable by name until it is removed.
//
// Lookups (Get, IsActive and the event pass-throughs) are lock-free. Register, Start, Remove,
// Reset, Restore and SetBookConnectors are serialized so activation decisions are atomic.
type Portfolio struct {
	mu sync.Mutex

	active *xsync.MapOf[string, eventbook.Book]
	specs  map[string]eventbook.BookSpec
	order  []string

	resolver *Resolver
	store    eventbook.ContractStore
	opener   eventbook.ConnectorOpener

	logger           eventbook.Logger
	contextualLogger eventbook.ContextualLogger
	metricsCollector eventbook.MetricsCollector
	tracingCollector eventbook.TracingCollector
	clock            eventbook.Clock
	bookOptions      []eventbook.Option
}

// New creates an empty Portfolio with optional configuration.
func New(options ...Option) (*Portfolio, error) {
	p := &Portfolio{
		active:   xsync.NewMapOf[string, eventbook.Book](),
		specs:    make(map[string]eventbook.BookSpec),
		resolver: NewResolver(),
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, errors.Join(eventbook.ErrValidation, err)
		}
	}

	return p, nil
}

// Register adds spec or replaces the registration of an inactive book of the same name.
// With a contract store the spec list of the spec's level is persisted.
func (p *Portfolio) Register(ctx context.Context, spec eventbook.BookSpec) error {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active.Load(spec.Name); ok {
		return errors.Join(eventbook.ErrDuplicate, ErrBookActive, fmt.Errorf("book %q", spec.Name))
	}

	previous, replaced := p.specs[spec.Name]
	p.putSpec(spec)

	if err := p.persistLevels(ctx, spec.Level, previous.Level); err != nil {
		if replaced {
			p.putSpec(previous)
		} else {
			p.dropSpec(spec.Name)
		}

		p.logErrorContext(ctx, logMsgRegisterFailed, err, logAttrBook, spec.Name)

		return err
	}

	p.logInfoContext(ctx, logMsgBookRegistered,
		logAttrBook, spec.Name,
		logAttrKind, spec.Kind,
		logAttrLevel, spec.Level)

	return nil
}

// Start materializes registered specs into live books: all inactive ones, or only names.
// Active books are left untouched. A failing book does not keep the others from starting,
// all failures are returned joined.
func (p *Portfolio) Start(ctx context.Context, names ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(names) == 0 {
		names = slices.Clone(p.order)
	}

	return p.start(ctx, names)
}

// StartLevel starts every inactive book registered at level.
func (p *Portfolio) StartLevel(ctx context.Context, level string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for _, name := range p.order {
		if p.specs[name].Level == level {
			names = append(names, name)
		}
	}

	return p.start(ctx, names)
}

func (p *Portfolio) start(ctx context.Context, names []string) error {
	var errs []error

	for _, name := range names {
		spec, ok := p.specs[name]
		if !ok {
			errs = append(errs, errors.Join(eventbook.ErrNotFound, ErrBookUnregistered, fmt.Errorf("book %q", name)))
			continue
		}

		if _, ok := p.active.Load(name); ok {
			continue
		}

		start := time.Now()

		book, err := p.build(ctx, spec)
		if err != nil {
			p.logErrorContext(ctx, logMsgStartFailed, err, logAttrBook, name)
			p.recordStartMetrics(ctx, spec, statusError)
			errs = append(errs, err)

			continue
		}

		p.active.Store(name, book)

		p.logInfoContext(ctx, logMsgBookStarted,
			logAttrBook, name,
			logAttrKind, spec.Kind,
			logAttrRecovered, spec.RecoverOnStart,
			logAttrDurationMS, toMilliseconds(time.Since(start)))
		p.recordStartMetrics(ctx, spec, statusSuccess)
	}

	p.recordActiveBooks(ctx)

	return errors.Join(errs...)
}

// build resolves the constructor, opens the bound connectors and optionally replays the book.
func (p *Portfolio) build(ctx context.Context, spec eventbook.BookSpec) (eventbook.Book, error) {
	ctor, err := p.resolver.Resolve(spec.Kind)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("book %q", spec.Name))
	}

	state, err := p.openConnector(ctx, spec.StateConnector)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("book %q state connector", spec.Name))
	}

	log, err := p.openConnector(ctx, spec.LogConnector)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("book %q log connector", spec.Name))
	}

	book, err := ctor(ctx, spec, Dependencies{
		StateConnector:   state,
		LogConnector:     log,
		Logger:           p.logger,
		ContextualLogger: p.contextualLogger,
		Metrics:          p.metricsCollector,
		Tracing:          p.tracingCollector,
		Clock:            p.clock,
		BookOptions:      p.bookOptions,
	})
	if err != nil {
		return nil, err
	}

	if spec.RecoverOnStart {
		if err := book.ResetState(ctx); err != nil {
			return nil, errors.Join(err, fmt.Errorf("recovering book %q", spec.Name))
		}
	}

	return book, nil
}

// openConnector opens the named contract, an empty name means no connector.
func (p *Portfolio) openConnector(ctx context.Context, name string) (eventbook.Connector, error) {
	if name == "" {
		return nil, nil
	}

	if p.store == nil {
		return nil, errors.Join(eventbook.ErrConnection, ErrNoContractStore, fmt.Errorf("connector %q", name))
	}

	if p.opener == nil {
		return nil, errors.Join(eventbook.ErrConnection, ErrNoOpener, fmt.Errorf("connector %q", name))
	}

	contract, err := p.store.GetConnector(ctx, name)
	if err != nil {
		return nil, err
	}

	return p.opener(ctx, contract)
}

// Get returns the active book name.
func (p *Portfolio) Get(name string) (eventbook.Book, error) {
	book, ok := p.active.Load(name)
	if !ok {
		return nil, errors.Join(eventbook.ErrNotFound, ErrBookNotActive, fmt.Errorf("book %q", name))
	}

	return book, nil
}

// Remove deactivates each book, detaches its connectors and deletes its spec together with the
// connector bindings it refers to. Unknown names are reported joined, the rest are still removed.
func (p *Portfolio) Remove(ctx context.Context, names ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	touchedLevels := make(map[string]struct{})

	for _, name := range names {
		spec, registered := p.specs[name]
		book, active := p.active.LoadAndDelete(name)

		if !registered && !active {
			errs = append(errs, errors.Join(eventbook.ErrNotFound, ErrBookUnregistered, fmt.Errorf("book %q", name)))
			continue
		}

		if binder, ok := book.(connectorBinder); active && ok {
			binder.DetachConnectors()
		}

		if registered {
			p.dropSpec(name)
			touchedLevels[spec.Level] = struct{}{}

			if err := p.removeBindings(ctx, spec); err != nil {
				errs = append(errs, err)
			}
		}

		p.logInfoContext(ctx, logMsgBookRemoved, logAttrBook, name)
	}

	for level := range touchedLevels {
		if err := p.persistLevels(ctx, level); err != nil {
			errs = append(errs, err)
		}
	}

	p.recordActiveBooks(ctx)

	return errors.Join(errs...)
}

func (p *Portfolio) removeBindings(ctx context.Context, spec eventbook.BookSpec) error {
	if p.store == nil {
		return nil
	}

	var errs []error

	for _, name := range []string{spec.StateConnector, spec.LogConnector} {
		if name == "" {
			continue
		}

		if err := p.store.RemoveConnector(ctx, name); err != nil && !errors.Is(err, eventbook.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Reset deactivates every book and forgets every registration. Persisted contracts are kept,
// Restore rebuilds the registrations from them.
func (p *Portfolio) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active.Range(func(_ string, book eventbook.Book) bool {
		if binder, ok := book.(connectorBinder); ok {
			binder.DetachConnectors()
		}

		return true
	})

	p.active.Clear()
	p.specs = make(map[string]eventbook.BookSpec)
	p.order = nil

	p.logInfoContext(ctx, logMsgPortfolioReset)
	p.recordActiveBooks(ctx)

	return nil
}

// IsActive reports whether name is a live book.
func (p *Portfolio) IsActive(name string) bool {
	_, ok := p.active.Load(name)
	return ok
}

// ActiveNames returns the names of the live books, sorted.
func (p *Portfolio) ActiveNames() []string {
	names := make([]string, 0, p.active.Size())
	p.active.Range(func(name string, _ eventbook.Book) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	return names
}

// RegisteredNames returns the registered names in registration order.
func (p *Portfolio) RegisteredNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.order)
}

// Spec returns the registered spec of name.
func (p *Portfolio) Spec(name string) (eventbook.BookSpec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	spec, ok := p.specs[name]
	if !ok {
		return eventbook.BookSpec{}, errors.Join(eventbook.ErrNotFound, ErrBookUnregistered, fmt.Errorf("book %q", name))
	}

	return spec, nil
}

// SetBookConnectors stores the state and log connector contracts of a registered book and binds them
// to its spec. A contract without a Kind leaves that side unbound, an empty Name defaults to
// eventbook.StateConnectorName or eventbook.LogConnectorName. An active book is rebound immediately.
func (p *Portfolio) SetBookConnectors(ctx context.Context, name string, state, log eventbook.ConnectorContract) error {
	if p.store == nil {
		return errors.Join(eventbook.ErrConnection, ErrNoContractStore)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	spec, ok := p.specs[name]
	if !ok {
		return errors.Join(eventbook.ErrNotFound, ErrBookUnregistered, fmt.Errorf("book %q", name))
	}

	previous := spec
	bindings := &contractBindings{store: p.store}

	if state.Kind != "" {
		if state.Name == "" {
			state.Name = eventbook.StateConnectorName(name)
		}

		if err := bindings.set(ctx, state); err != nil {
			return p.failBinding(ctx, name, bindings, err)
		}

		spec.StateConnector = state.Name
	}

	if log.Kind != "" {
		if log.Name == "" {
			log.Name = eventbook.LogConnectorName(name)
		}

		if err := bindings.set(ctx, log); err != nil {
			return p.failBinding(ctx, name, bindings, err)
		}

		spec.LogConnector = log.Name
	}

	p.putSpec(spec)

	if err := p.persistLevels(ctx, spec.Level); err != nil {
		p.putSpec(previous)
		return p.failBinding(ctx, name, bindings, err)
	}

	book, active := p.active.Load(name)
	binder, ok := book.(connectorBinder)
	if !active || !ok {
		return nil
	}

	stateConn, err := p.openConnector(ctx, spec.StateConnector)
	if err != nil {
		return err
	}

	logConn, err := p.openConnector(ctx, spec.LogConnector)
	if err != nil {
		return err
	}

	binder.SetConnectors(stateConn, logConn)
	p.logInfoContext(ctx, logMsgConnectorsBound,
		logAttrBook, name,
		logAttrStateConnector, spec.StateConnector,
		logAttrLogConnector, spec.LogConnector)

	return nil
}

func (p *Portfolio) failBinding(ctx context.Context, name string, bindings *contractBindings, err error) error {
	if undoErr := bindings.undo(ctx); undoErr != nil {
		err = errors.Join(err, undoErr)
	}

	p.logErrorContext(ctx, logMsgBindFailed, err, logAttrBook, name)

	return err
}

// contractBindings writes connector contracts and remembers what they replaced, so a failed
// SetBookConnectors leaves the store as it found it.
type contractBindings struct {
	store    eventbook.ContractStore
	replaced []eventbook.ConnectorContract
	existed  []bool
}

func (b *contractBindings) set(ctx context.Context, contract eventbook.ConnectorContract) error {
	old, err := b.store.GetConnector(ctx, contract.Name)
	existed := err == nil

	if err != nil && !errors.Is(err, eventbook.ErrNotFound) {
		return err
	}

	if err := b.store.SetConnector(ctx, contract); err != nil {
		return err
	}

	if !existed {
		old = eventbook.ConnectorContract{Name: contract.Name}
	}

	b.replaced = append(b.replaced, old)
	b.existed = append(b.existed, existed)

	return nil
}

// undo restores the written contracts in reverse order.
func (b *contractBindings) undo(ctx context.Context) error {
	var errs []error

	for i := len(b.replaced) - 1; i >= 0; i-- {
		if b.existed[i] {
			errs = append(errs, b.store.SetConnector(ctx, b.replaced[i]))
		} else {
			errs = append(errs, b.store.RemoveConnector(ctx, b.replaced[i].Name))
		}
	}

	return errors.Join(errs...)
}

// Restore registers every spec persisted in the contract store. Active books keep their
// registration. Books are not started, call Start or StartLevel afterwards.
func (p *Portfolio) Restore(ctx context.Context) error {
	if p.store == nil {
		return errors.Join(eventbook.ErrConnection, ErrNoContractStore)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	levels, err := p.store.Levels(ctx)
	if err != nil {
		return err
	}

	var errs []error
	restored := 0

	for _, level := range levels {
		specs, err := p.store.GetSpecs(ctx, level)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, spec := range specs {
			spec = spec.WithDefaults()
			if err := spec.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}

			if _, ok := p.active.Load(spec.Name); ok {
				continue
			}

			p.putSpec(spec)
			restored++
		}
	}

	p.logInfoContext(ctx, logMsgPortfolioRestored, logAttrRestoredSpecs, restored)

	return errors.Join(errs...)
}

// CurrentState returns the state of the active book name.
func (p *Portfolio) CurrentState(name string) (time.Time, *eventbook.LabeledMatrix, error) {
	book, err := p.Get(name)
	if err != nil {
		return time.Time{}, nil, err
	}

	now, state := book.CurrentState()

	return now, state, nil
}

// AddEvent applies a set event to the active book name.
func (p *Portfolio) AddEvent(ctx context.Context, name string, payload *eventbook.LabeledMatrix) (time.Time, error) {
	book, err := p.Get(name)
	if err != nil {
		return time.Time{}, err
	}

	return book.AddEvent(ctx, payload)
}

// IncrementEvent applies an increment event to the active book name.
func (p *Portfolio) IncrementEvent(ctx context.Context, name string, payload *eventbook.LabeledMatrix) (time.Time, error) {
	book, err := p.Get(name)
	if err != nil {
		return time.Time{}, err
	}

	return book.IncrementEvent(ctx, payload)
}

// DecrementEvent applies a decrement event to the active book name.
func (p *Portfolio) DecrementEvent(ctx context.Context, name string, payload *eventbook.LabeledMatrix) (time.Time, error) {
	book, err := p.Get(name)
	if err != nil {
		return time.Time{}, err
	}

	return book.DecrementEvent(ctx, payload)
}

func (p *Portfolio) putSpec(spec eventbook.BookSpec) {
	if _, ok := p.specs[spec.Name]; !ok {
		p.order = append(p.order, spec.Name)
	}

	p.specs[spec.Name] = spec
}

func (p *Portfolio) dropSpec(name string) {
	delete(p.specs, name)
	p.order = slices.DeleteFunc(p.order, func(n string) bool { return n == name })
}

// persistLevels writes the spec list of each distinct, non-empty level to the contract store.
func (p *Portfolio) persistLevels(ctx context.Context, levels ...string) error {
	if p.store == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(levels))

	for _, level := range levels {
		if level == "" {
			continue
		}

		if _, ok := seen[level]; ok {
			continue
		}
		seen[level] = struct{}{}

		var specs []eventbook.BookSpec
		for _, name := range p.order {
			if p.specs[name].Level == level {
				specs = append(specs, p.specs[name])
			}
		}

		if err := p.store.SetSpecs(ctx, level, specs); err != nil {
			return err
		}
	}

	return nil
}
