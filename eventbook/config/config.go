// Package config reads EVENTBOOK_* settings from the environment and from dotenv files, and turns
// them into book options, a logger, a connector opener and a contract store.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/project-hadron/discovery-engines/eventbook"
	"github.com/project-hadron/discovery-engines/eventbook/connector"
	"github.com/project-hadron/discovery-engines/eventbook/contractstore"
)

const sqliteFileName = "eventbook.db"

var (
	ErrNonPositiveAttempts = errors.New("EVENTBOOK_PERSIST_ATTEMPTS must be positive")
	ErrNonPositiveTimeout  = errors.New("EVENTBOOK_PERSIST_TIMEOUT must be positive")
	ErrUnknownKind         = errors.New("EVENTBOOK_CONNECTOR_KIND is not a known connector kind")
	ErrMissingDSN          = errors.New("EVENTBOOK_POSTGRES_DSN is required for postgres connectors")
)

// DefaultDotenvFiles are read by Load when no files are given. Later files override earlier ones,
// the process environment overrides both.
var DefaultDotenvFiles = []string{".env", ".env.local"}

// Config holds the process-wide defaults of books and their persistence.
type Config struct {
	CountThreshold       int           `env:"EVENTBOOK_COUNT_THRESHOLD"`
	TimeThresholdSeconds int           `env:"EVENTBOOK_TIME_THRESHOLD_SECONDS"`
	LogThreshold         int           `env:"EVENTBOOK_LOG_THRESHOLD"`
	PersistTimeout       time.Duration `env:"EVENTBOOK_PERSIST_TIMEOUT"        envDefault:"30s"`
	PersistAttempts      int           `env:"EVENTBOOK_PERSIST_ATTEMPTS"       envDefault:"1"`
	PersistBaseDelay     time.Duration `env:"EVENTBOOK_PERSIST_BASE_DELAY"     envDefault:"100ms"`
	ConnectorKind        string        `env:"EVENTBOOK_CONNECTOR_KIND"         envDefault:"memory"`
	PersistPath          string        `env:"EVENTBOOK_PERSIST_PATH"           envDefault:"books"`
	ContractPath         string        `env:"EVENTBOOK_CONTRACT_PATH"`
	PostgresDSN          string        `env:"EVENTBOOK_POSTGRES_DSN"`
	PostgresDriver       string        `env:"EVENTBOOK_POSTGRES_DRIVER"        envDefault:"pgx"`
	LogLevel             slog.Level    `env:"EVENTBOOK_LOG_LEVEL"              envDefault:"INFO"`
}

// Load reads dotenvFiles (DefaultDotenvFiles when none are given), overlays the process
// environment and parses the result. Missing dotenv files are skipped.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = DefaultDotenvFiles
	}

	environment := make(map[string]string)

	for _, file := range dotenvFiles {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return Config{}, errors.Join(eventbook.ErrValidation, fmt.Errorf("read %s: %w", file, err))
		}

		maps.Copy(environment, values)
	}

	maps.Copy(environment, env.ToMap(os.Environ()))

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, errors.Join(eventbook.ErrValidation, fmt.Errorf("parse env: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the values Load cannot check by type.
func (c Config) Validate() error {
	if err := c.Cadence().Validate(); err != nil {
		return err
	}

	if c.PersistTimeout <= 0 {
		return errors.Join(eventbook.ErrValidation, ErrNonPositiveTimeout)
	}

	if c.PersistAttempts <= 0 {
		return errors.Join(eventbook.ErrValidation, ErrNonPositiveAttempts)
	}

	switch c.ConnectorKind {
	case connector.KindMemory, connector.KindFile, connector.KindSQLite:
	case connector.KindPostgres:
		if c.PostgresDSN == "" {
			return errors.Join(eventbook.ErrValidation, ErrMissingDSN)
		}
	default:
		return errors.Join(eventbook.ErrValidation, ErrUnknownKind, fmt.Errorf("kind %q", c.ConnectorKind))
	}

	return nil
}

// Cadence returns the default cadence of new books.
func (c Config) Cadence() eventbook.CadencePolicy {
	return eventbook.CadencePolicy{
		CountThreshold:       c.CountThreshold,
		TimeThresholdSeconds: c.TimeThresholdSeconds,
		LogThreshold:         c.LogThreshold,
	}
}

// BookSpec returns a spec for name with the default cadence.
func (c Config) BookSpec(name string) eventbook.BookSpec {
	return eventbook.BookSpec{Name: name, Cadence: c.Cadence()}.WithDefaults()
}

// BookOptions returns the persistence options applied to every book.
func (c Config) BookOptions() []eventbook.Option {
	return []eventbook.Option{
		eventbook.WithPersistTimeout(c.PersistTimeout),
		eventbook.WithPersistRetry(c.PersistAttempts, c.PersistBaseDelay),
	}
}

// NewLogger returns a text logger writing to w at the configured level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}

// NewOpener returns a connector opener whose file connectors live below PersistPath.
func (c Config) NewOpener(options ...connector.Option) (*connector.Opener, error) {
	base := afero.NewBasePathFs(afero.NewOsFs(), c.PersistPath)
	return connector.NewOpener(append([]connector.Option{connector.WithFileSystem(base)}, options...)...)
}

// NewContractStore returns a YAML store at ContractPath, or an in-memory store when it is empty.
func (c Config) NewContractStore() (eventbook.ContractStore, error) {
	if c.ContractPath == "" {
		return contractstore.NewMemoryStore(), nil
	}

	return contractstore.NewYAMLStore(nil, c.ContractPath)
}

// StateContract returns the state connector contract of bookName for the configured kind.
func (c Config) StateContract(bookName string) eventbook.ConnectorContract {
	return c.contract(eventbook.StateConnectorName(bookName))
}

// LogContract returns the events log connector contract of bookName for the configured kind.
func (c Config) LogContract(bookName string) eventbook.ConnectorContract {
	return c.contract(eventbook.LogConnectorName(bookName))
}

func (c Config) contract(name string) eventbook.ConnectorContract {
	contract := eventbook.ConnectorContract{Name: name, Kind: c.ConnectorKind, Resource: name}

	switch c.ConnectorKind {
	case connector.KindFile:
		contract.Location = "/"
		contract.Resource = name + ".json"
	case connector.KindSQLite:
		contract.Location = filepath.Join(c.PersistPath, sqliteFileName)
	case connector.KindPostgres:
		contract.Location = c.PostgresDSN
		contract.Options = map[string]string{connector.OptionDriver: c.PostgresDriver}
	}

	return contract
}
