// Package memconn provides process-local eventbook connectors. Connectors opened from the same Store
// with the same resource share one payload, so a book started again in the same process finds its
// snapshot and log.
package memconn

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/project-hadron/discovery-engines/eventbook"
)

var ErrEmptyResource = errors.New("memory connector resource must not be empty")

// Store holds payloads by resource name.
type Store struct {
	payloads *xsync.MapOf[string, []byte]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{payloads: xsync.NewMapOf[string, []byte]()}
}

// Connector returns the connector for resource.
func (s *Store) Connector(resource string) (*Connector, error) {
	if resource == "" {
		return nil, errors.Join(eventbook.ErrValidation, ErrEmptyResource)
	}

	return &Connector{store: s, resource: resource}, nil
}

// Resources returns the names of the stored payloads, sorted.
func (s *Store) Resources() []string {
	resources := make([]string, 0, s.payloads.Size())
	s.payloads.Range(func(resource string, _ []byte) bool {
		resources = append(resources, resource)
		return true
	})
	sort.Strings(resources)

	return resources
}

// Delete drops the payload of resource.
func (s *Store) Delete(resource string) {
	s.payloads.Delete(resource)
}

// Connector is an eventbook.Connector over one Store resource.
type Connector struct {
	store    *Store
	resource string
}

var _ eventbook.Connector = (*Connector)(nil)

// Resource returns the resource name.
func (c *Connector) Resource() string {
	return c.resource
}

func (c *Connector) Persist(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.store.payloads.Store(c.resource, append([]byte(nil), payload...))

	return nil
}

func (c *Connector) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, ok := c.store.payloads.Load(c.resource)
	if !ok {
		return nil, errors.Join(eventbook.ErrNotFound, fmt.Errorf("memory resource %q", c.resource))
	}

	return append([]byte(nil), payload...), nil
}

func (c *Connector) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, ok := c.store.payloads.Load(c.resource)

	return ok, nil
}
