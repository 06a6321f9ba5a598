// Package bookconn lets a book act as the connector of another component: Load reads a snapshot of
// the book's current state, Persist feeds a snapshot or a bare matrix into the book as an add event.
package bookconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/project-hadron/discovery-engines/eventbook"
)

var (
	ErrNilSource     = errors.New("book source must not be nil")
	ErrEmptyBookName = errors.New("target book name must not be empty")
)

// Source looks up live books by name. *portfolio.Portfolio satisfies it.
type Source interface {
	Get(name string) (eventbook.Book, error)
}

// Option defines a functional option for configuring a Connector.
type Option func(*Connector) error

// WithResetBeforePersist makes Persist rebuild the book from its own connectors before the
// incoming payload is applied.
func WithResetBeforePersist() Option {
	return func(c *Connector) error {
		c.resetBeforePersist = true
		return nil
	}
}

// WithClock sets the clock that stamps snapshots returned by Load.
func WithClock(clock eventbook.Clock) Option {
	return func(c *Connector) error {
		if clock == nil {
			return eventbook.ErrNilClock
		}

		c.clock = clock

		return nil
	}
}

// Connector targets one book of a Source.
type Connector struct {
	source             Source
	bookName           string
	resetBeforePersist bool
	clock              eventbook.Clock
}

var _ eventbook.Connector = (*Connector)(nil)

func New(source Source, bookName string, options ...Option) (*Connector, error) {
	if source == nil {
		return nil, errors.Join(eventbook.ErrValidation, ErrNilSource)
	}

	if bookName == "" {
		return nil, errors.Join(eventbook.ErrValidation, ErrEmptyBookName)
	}

	c := &Connector{
		source:   source,
		bookName: bookName,
		clock:    eventbook.SystemClock(),
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, errors.Join(eventbook.ErrValidation, err)
		}
	}

	return c, nil
}

// Persist applies payload to the book as an add event. The payload is an encoded snapshot or an
// encoded matrix.
func (c *Connector) Persist(ctx context.Context, payload []byte) error {
	incoming, err := decodePayload(payload)
	if err != nil {
		return err
	}

	book, err := c.source.Get(c.bookName)
	if err != nil {
		return err
	}

	if c.resetBeforePersist {
		if err := book.ResetState(ctx); err != nil {
			return err
		}
	}

	_, err = book.AddEvent(ctx, incoming)

	return err
}

// Load returns an encoded snapshot of the book's current state.
func (c *Connector) Load(_ context.Context) ([]byte, error) {
	book, err := c.source.Get(c.bookName)
	if err != nil {
		return nil, err
	}

	_, state := book.CurrentState()

	snapshot, err := eventbook.BuildSnapshot(c.bookName, c.clock.Now(), time.Time{}, 0, state)
	if err != nil {
		return nil, err
	}

	return eventbook.EncodeSnapshot(snapshot)
}

// Exists reports whether the book is active in the source.
func (c *Connector) Exists(_ context.Context) (bool, error) {
	_, err := c.source.Get(c.bookName)
	if errors.Is(err, eventbook.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func decodePayload(payload []byte) (*eventbook.LabeledMatrix, error) {
	snapshot, snapshotErr := eventbook.DecodeSnapshot(payload)
	if snapshotErr == nil {
		return snapshot.Matrix()
	}

	m, matrixErr := eventbook.DecodeMatrix(payload)
	if matrixErr != nil {
		return nil, errors.Join(eventbook.ErrCodec, fmt.Errorf("payload is neither a snapshot nor a matrix"), snapshotErr, matrixErr)
	}

	return m, nil
}
