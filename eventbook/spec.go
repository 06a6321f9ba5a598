package eventbook

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultKind is the resolver key of the EventBook implementation.
	DefaultKind = "event_book"

	// DefaultLevel groups specs that were registered without a level.
	DefaultLevel = "portfolio"
)

// BookSpec is the typed, persistable description of a book. A Portfolio keeps it until the book is started.
type BookSpec struct {
	Name           string        `json:"name" yaml:"name"`
	Kind           string        `json:"kind,omitempty" yaml:"kind,omitempty"`
	Level          string        `json:"level,omitempty" yaml:"level,omitempty"`
	Cadence        CadencePolicy `json:"cadence" yaml:"cadence"`
	StateConnector string        `json:"state_connector,omitempty" yaml:"state_connector,omitempty"`
	LogConnector   string        `json:"log_connector,omitempty" yaml:"log_connector,omitempty"`
	RecoverOnStart bool          `json:"recover_on_start,omitempty" yaml:"recover_on_start,omitempty"`
}

// WithDefaults fills in Kind and Level.
func (s BookSpec) WithDefaults() BookSpec {
	if s.Kind == "" {
		s.Kind = DefaultKind
	}

	if s.Level == "" {
		s.Level = DefaultLevel
	}

	return s
}

// Validate checks the name and the cadence.
func (s BookSpec) Validate() error {
	if err := ValidateBookName(s.Name); err != nil {
		return err
	}

	if err := s.Cadence.Validate(); err != nil {
		return errors.Join(err, fmt.Errorf("book %q", s.Name))
	}

	return nil
}

// ValidateBookName rejects empty names and names with whitespace or path separators.
// Book names end up in connector names, file names and table keys.
func ValidateBookName(name string) error {
	if name == "" {
		return errors.Join(ErrValidation, ErrEmptyBookName)
	}

	if strings.ContainsAny(name, `/\`) || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return errors.Join(ErrValidation, ErrInvalidBookName, fmt.Errorf("book %q", name))
	}

	return nil
}
