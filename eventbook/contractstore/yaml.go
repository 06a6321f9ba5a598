package contractstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/project-hadron/discovery-engines/eventbook"
)

const yamlFileMode = 0o644

var ErrEmptyPath = errors.New("contract file path must not be empty")

var _ eventbook.ContractStore = (*YAMLStore)(nil)

// document is the on-disk layout of a YAMLStore file.
type document struct {
	Connectors map[string]eventbook.ConnectorContract `yaml:"connectors,omitempty"`
	Levels     map[string][]eventbook.BookSpec        `yaml:"levels,omitempty"`
}

// YAMLStore is a ContractStore kept in one YAML file. Every call reads the file and every change
// rewrites it through a temporary file and a rename, so the file is always a complete document.
// A missing file is an empty store.
type YAMLStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewYAMLStore creates a YAMLStore for path on fs.
func NewYAMLStore(fs afero.Fs, path string) (*YAMLStore, error) {
	if path == "" {
		return nil, errors.Join(eventbook.ErrValidation, ErrEmptyPath)
	}

	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &YAMLStore{fs: fs, path: path}, nil
}

// Path returns the file path of the store.
func (s *YAMLStore) Path() string {
	return s.path
}

func (s *YAMLStore) SetConnector(_ context.Context, contract eventbook.ConnectorContract) error {
	if err := contract.Validate(); err != nil {
		return err
	}

	return s.update(func(doc *document) error {
		doc.Connectors[contract.Name] = copyContract(contract)
		return nil
	})
}

func (s *YAMLStore) GetConnector(_ context.Context, name string) (eventbook.ConnectorContract, error) {
	doc, err := s.read()
	if err != nil {
		return eventbook.ConnectorContract{}, err
	}

	contract, ok := doc.Connectors[name]
	if !ok {
		return eventbook.ConnectorContract{}, unknownConnector(name)
	}

	return contract, nil
}

func (s *YAMLStore) HasConnector(_ context.Context, name string) (bool, error) {
	doc, err := s.read()
	if err != nil {
		return false, err
	}

	_, ok := doc.Connectors[name]

	return ok, nil
}

func (s *YAMLStore) RemoveConnector(_ context.Context, name string) error {
	return s.update(func(doc *document) error {
		if _, ok := doc.Connectors[name]; !ok {
			return unknownConnector(name)
		}

		delete(doc.Connectors, name)

		return nil
	})
}

// SetSpecs replaces the spec list of level. An empty list removes the level.
func (s *YAMLStore) SetSpecs(_ context.Context, level string, specs []eventbook.BookSpec) error {
	if level == "" {
		return errors.Join(eventbook.ErrValidation, ErrEmptyLevel)
	}

	return s.update(func(doc *document) error {
		if len(specs) == 0 {
			delete(doc.Levels, level)
			return nil
		}

		doc.Levels[level] = slices.Clone(specs)

		return nil
	})
}

func (s *YAMLStore) GetSpecs(_ context.Context, level string) ([]eventbook.BookSpec, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	return doc.Levels[level], nil
}

func (s *YAMLStore) Levels(_ context.Context) ([]string, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	return sortedKeys(doc.Levels), nil
}

func (s *YAMLStore) read() (document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *YAMLStore) update(mutate func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	if err := mutate(&doc); err != nil {
		return err
	}

	return s.write(doc)
}

func (s *YAMLStore) load() (document, error) {
	doc := document{
		Connectors: make(map[string]eventbook.ConnectorContract),
		Levels:     make(map[string][]eventbook.BookSpec),
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}

	if err != nil {
		return document{}, errors.Join(eventbook.ErrLoadFailed, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return document{}, errors.Join(eventbook.ErrCodec, fmt.Errorf("contract file %s: %w", s.path, err))
	}

	if doc.Connectors == nil {
		doc.Connectors = make(map[string]eventbook.ConnectorContract)
	}

	if doc.Levels == nil {
		doc.Levels = make(map[string][]eventbook.BookSpec)
	}

	return doc, nil
}

func (s *YAMLStore) write(doc document) error {
	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(doc); err != nil {
		return errors.Join(eventbook.ErrCodec, err)
	}

	if err := encoder.Close(); err != nil {
		return errors.Join(eventbook.ErrCodec, err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Join(eventbook.ErrPersistFailed, err)
		}
	}

	tmp := s.path + "." + uuid.NewString() + ".tmp"

	if err := afero.WriteFile(s.fs, tmp, buf.Bytes(), yamlFileMode); err != nil {
		return errors.Join(eventbook.ErrPersistFailed, err)
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.Join(eventbook.ErrPersistFailed, err)
	}

	return nil
}
