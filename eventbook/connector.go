package eventbook

import (
	"context"
	"errors"
	"strings"
)

const (
	stateConnectorPrefix = "state_"
	logConnectorPrefix   = "events_log_"
)

var (
	ErrEmptyConnectorName = errors.New("connector name must not be empty")
	ErrEmptyConnectorKind = errors.New("connector kind must not be empty")
)

// Connector is the persistence boundary of a book. It stores one opaque payload.
// Load returns an error matching ErrNotFound when nothing was persisted yet.
type Connector interface {
	Persist(ctx context.Context, payload []byte) error
	Load(ctx context.Context) ([]byte, error)
	Exists(ctx context.Context) (bool, error)
}

// ConnectorContract is a named, declarative connector binding. Kind selects the implementation,
// Location and Resource are interpreted by it (a directory and file name, a DSN and a row key, ...).
type ConnectorContract struct {
	Name     string            `json:"name" yaml:"name"`
	Kind     string            `json:"kind" yaml:"kind"`
	Location string            `json:"location,omitempty" yaml:"location,omitempty"`
	Resource string            `json:"resource,omitempty" yaml:"resource,omitempty"`
	Options  map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validate checks that the contract can be stored and opened.
func (c ConnectorContract) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.Join(ErrValidation, ErrEmptyConnectorName)
	}

	if strings.TrimSpace(c.Kind) == "" {
		return errors.Join(ErrValidation, ErrEmptyConnectorKind)
	}

	return nil
}

// Option returns the named option or def when it is not set.
func (c ConnectorContract) Option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}

	return def
}

// StateConnectorName is the conventional connector name for a book's state snapshots.
func StateConnectorName(bookName string) string {
	return stateConnectorPrefix + bookName
}

// LogConnectorName is the conventional connector name for a book's events log.
func LogConnectorName(bookName string) string {
	return logConnectorPrefix + bookName
}

// ConnectorOpener turns a stored contract into a live Connector.
type ConnectorOpener func(ctx context.Context, contract ConnectorContract) (Connector, error)

// ContractStore keeps named connector bindings and book specs grouped by level.
// It is the persisted description a Portfolio is rebuilt from.
type ContractStore interface {
	SetConnector(ctx context.Context, contract ConnectorContract) error
	GetConnector(ctx context.Context, name string) (ConnectorContract, error)
	HasConnector(ctx context.Context, name string) (bool, error)
	RemoveConnector(ctx context.Context, name string) error
	SetSpecs(ctx context.Context, level string, specs []BookSpec) error
	GetSpecs(ctx context.Context, level string) ([]BookSpec, error)
	Levels(ctx context.Context) ([]string, error)
}
