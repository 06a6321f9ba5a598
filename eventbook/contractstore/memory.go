package contractstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/project-hadron/discovery-engines/eventbook"
)

var (
	ErrUnknownConnector = errors.New("connector contract not found")
	ErrEmptyLevel       = errors.New("level must not be empty")
)

var _ eventbook.ContractStore = (*MemoryStore)(nil)

// MemoryStore is a process-local ContractStore.
type MemoryStore struct {
	mu         sync.RWMutex
	connectors map[string]eventbook.ConnectorContract
	levels     map[string][]eventbook.BookSpec
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connectors: make(map[string]eventbook.ConnectorContract),
		levels:     make(map[string][]eventbook.BookSpec),
	}
}

func (s *MemoryStore) SetConnector(_ context.Context, contract eventbook.ConnectorContract) error {
	if err := contract.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectors[contract.Name] = copyContract(contract)

	return nil
}

func (s *MemoryStore) GetConnector(_ context.Context, name string) (eventbook.ConnectorContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.connectors[name]
	if !ok {
		return eventbook.ConnectorContract{}, unknownConnector(name)
	}

	return copyContract(contract), nil
}

func (s *MemoryStore) HasConnector(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.connectors[name]

	return ok, nil
}

func (s *MemoryStore) RemoveConnector(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connectors[name]; !ok {
		return unknownConnector(name)
	}

	delete(s.connectors, name)

	return nil
}

// SetSpecs replaces the spec list of level. An empty list removes the level.
func (s *MemoryStore) SetSpecs(_ context.Context, level string, specs []eventbook.BookSpec) error {
	if level == "" {
		return errors.Join(eventbook.ErrValidation, ErrEmptyLevel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(specs) == 0 {
		delete(s.levels, level)
		return nil
	}

	s.levels[level] = slices.Clone(specs)

	return nil
}

// GetSpecs returns the spec list of level, empty for an unknown level.
func (s *MemoryStore) GetSpecs(_ context.Context, level string) ([]eventbook.BookSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.levels[level]), nil
}

// Levels returns the levels holding specs, sorted.
func (s *MemoryStore) Levels(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.levels), nil
}

func copyContract(contract eventbook.ConnectorContract) eventbook.ConnectorContract {
	if contract.Options != nil {
		contract.Options = maps.Clone(contract.Options)
	}

	return contract
}

func unknownConnector(name string) error {
	return errors.Join(eventbook.ErrNotFound, ErrUnknownConnector, fmt.Errorf("connector %q", name))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}
