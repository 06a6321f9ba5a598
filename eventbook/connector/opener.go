// Package connector opens stored ConnectorContracts as live connectors.
//
// Supported kinds and how a contract is interpreted:
//
//	memory    Resource is the key in a shared in-memory store
//	file      Location is a directory, Resource a file name; option stamp=true keeps every version
//	sqlite    Location is a database file (or :memory:), Resource the row key; option table
//	postgres  Location is a DSN, Resource the row key; options table and driver=pgx|sql|sqlx
//
// An empty Resource defaults to the contract name. Database handles are shared per DSN and the
// payload table is created on first use.
package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for driver=sql and driver=sqlx
	"github.com/spf13/afero"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/project-hadron/discovery-engines/eventbook"
	"github.com/project-hadron/discovery-engines/eventbook/connector/fileconn"
	"github.com/project-hadron/discovery-engines/eventbook/connector/memconn"
	"github.com/project-hadron/discovery-engines/eventbook/connector/sqlconn"
)

const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"

	OptionStamp  = "stamp"
	OptionTable  = "table"
	OptionDriver = "driver"

	DriverPGX  = "pgx"
	DriverSQL  = "sql"
	DriverSQLX = "sqlx"

	sqliteDriverName   = "sqlite"
	postgresDriverName = "postgres"

	logMsgConnectorOpened = "connector opened"
	logMsgHandleOpened    = "database handle opened"
	logMsgCloseFailed     = "failed to close database handle"
	logAttrName           = "name"
	logAttrKind           = "kind"
	logAttrResource       = "resource"
	logAttrDriver         = "driver"
	logAttrError          = "error"
)

var (
	ErrUnknownKind    = errors.New("unknown connector kind")
	ErrUnknownDriver  = errors.New("unknown postgres driver")
	ErrEmptyLocation  = errors.New("connector location must not be empty")
	ErrInvalidStamp   = errors.New("stamp option must be a boolean")
	ErrOpenerClosed   = errors.New("connector opener is closed")
	ErrNilFileSystem  = errors.New("file system must not be nil")
	ErrNilMemoryStore = errors.New("memory store must not be nil")
)

// Option defines a functional option for configuring an Opener.
type Option func(*Opener) error

// WithFileSystem sets the file system of file connectors, the OS file system by default.
func WithFileSystem(fs afero.Fs) Option {
	return func(o *Opener) error {
		if fs == nil {
			return ErrNilFileSystem
		}

		o.fs = fs

		return nil
	}
}

// WithMemoryStore sets the store shared by memory connectors.
func WithMemoryStore(store *memconn.Store) Option {
	return func(o *Opener) error {
		if store == nil {
			return ErrNilMemoryStore
		}

		o.mem = store

		return nil
	}
}

// WithClock sets the clock used to stamp file names.
func WithClock(clock eventbook.Clock) Option {
	return func(o *Opener) error {
		if clock == nil {
			return eventbook.ErrNilClock
		}

		o.clock = clock

		return nil
	}
}

// WithLogger sets the logger of the Opener and of the SQL connectors it opens.
func WithLogger(logger eventbook.Logger) Option {
	return func(o *Opener) error {
		o.logger = logger
		return nil
	}
}

// Opener turns ConnectorContracts into connectors. Its Open method is an eventbook.ConnectorOpener.
type Opener struct {
	mu     sync.Mutex
	closed bool

	fs     afero.Fs
	mem    *memconn.Store
	clock  eventbook.Clock
	logger eventbook.Logger

	pools   map[string]*pgxpool.Pool
	sqlDBs  map[string]*sql.DB
	sqlxDBs map[string]*sqlx.DB
	schemas map[string]struct{}
}

// NewOpener creates an Opener with optional configuration.
func NewOpener(options ...Option) (*Opener, error) {
	o := &Opener{
		fs:      afero.NewOsFs(),
		mem:     memconn.NewStore(),
		clock:   eventbook.SystemClock(),
		pools:   make(map[string]*pgxpool.Pool),
		sqlDBs:  make(map[string]*sql.DB),
		sqlxDBs: make(map[string]*sqlx.DB),
		schemas: make(map[string]struct{}),
	}

	for _, option := range options {
		if err := option(o); err != nil {
			return nil, errors.Join(eventbook.ErrValidation, err)
		}
	}

	return o, nil
}

var _ eventbook.ConnectorOpener = (*Opener)(nil).Open

// MemoryStore returns the store shared by memory connectors.
func (o *Opener) MemoryStore() *memconn.Store {
	return o.mem
}

// Open returns a connector for contract.
func (o *Opener) Open(ctx context.Context, contract eventbook.ConnectorContract) (eventbook.Connector, error) {
	if err := contract.Validate(); err != nil {
		return nil, err
	}

	resource := contract.Resource
	if resource == "" {
		resource = contract.Name
	}

	var (
		conn eventbook.Connector
		err  error
	)

	switch contract.Kind {
	case KindMemory:
		conn, err = o.mem.Connector(resource)
	case KindFile:
		conn, err = o.openFile(contract, resource)
	case KindSQLite:
		conn, err = o.openSQLite(ctx, contract, resource)
	case KindPostgres:
		conn, err = o.openPostgres(ctx, contract, resource)
	default:
		return nil, errors.Join(eventbook.ErrConnection, ErrUnknownKind, fmt.Errorf("kind %q of connector %q", contract.Kind, contract.Name))
	}

	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("connector %q", contract.Name))
	}

	if o.logger != nil {
		o.logger.Debug(logMsgConnectorOpened,
			logAttrName, contract.Name,
			logAttrKind, contract.Kind,
			logAttrResource, resource)
	}

	return conn, nil
}

func (o *Opener) openFile(contract eventbook.ConnectorContract, resource string) (eventbook.Connector, error) {
	var options []fileconn.Option

	stamp, err := strconv.ParseBool(contract.Option(OptionStamp, "false"))
	if err != nil {
		return nil, errors.Join(eventbook.ErrValidation, ErrInvalidStamp, err)
	}

	if stamp {
		options = append(options, fileconn.WithStamp(o.clock))
	}

	return fileconn.New(o.fs, contract.Location, resource, options...)
}

func (o *Opener) openSQLite(ctx context.Context, contract eventbook.ConnectorContract, resource string) (eventbook.Connector, error) {
	if contract.Location == "" {
		return nil, errors.Join(eventbook.ErrValidation, ErrEmptyLocation)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, errors.Join(eventbook.ErrConnection, ErrOpenerClosed)
	}

	db, err := o.sqlDB(sqliteDriverName, contract.Location)
	if err != nil {
		return nil, err
	}

	conn, err := sqlconn.NewFromSQLDB(db, resource, o.sqlOptions(contract, sqlconn.DialectSQLite)...)
	if err != nil {
		return nil, err
	}

	return conn, o.ensureSchema(ctx, sqliteDriverName, contract, conn)
}

func (o *Opener) openPostgres(ctx context.Context, contract eventbook.ConnectorContract, resource string) (eventbook.Connector, error) {
	if contract.Location == "" {
		return nil, errors.Join(eventbook.ErrValidation, ErrEmptyLocation)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, errors.Join(eventbook.ErrConnection, ErrOpenerClosed)
	}

	driver := contract.Option(OptionDriver, DriverPGX)
	options := o.sqlOptions(contract, sqlconn.DialectPostgres)

	var (
		conn *sqlconn.Connector
		err  error
	)

	switch driver {
	case DriverPGX:
		pool, poolErr := o.pgxPool(ctx, contract.Location)
		if poolErr != nil {
			return nil, poolErr
		}

		conn, err = sqlconn.NewFromPGXPool(pool, resource, options...)
	case DriverSQL:
		db, dbErr := o.sqlDB(postgresDriverName, contract.Location)
		if dbErr != nil {
			return nil, dbErr
		}

		conn, err = sqlconn.NewFromSQLDB(db, resource, options...)
	case DriverSQLX:
		db, dbErr := o.sqlxDB(contract.Location)
		if dbErr != nil {
			return nil, dbErr
		}

		conn, err = sqlconn.NewFromSQLX(db, resource, options...)
	default:
		return nil, errors.Join(eventbook.ErrValidation, ErrUnknownDriver, fmt.Errorf("driver %q", driver))
	}

	if err != nil {
		return nil, err
	}

	return conn, o.ensureSchema(ctx, driver, contract, conn)
}

func (o *Opener) sqlOptions(contract eventbook.ConnectorContract, dialect string) []sqlconn.Option {
	options := []sqlconn.Option{
		sqlconn.WithDialect(dialect),
		sqlconn.WithTableName(contract.Option(OptionTable, sqlconn.DefaultTableName)),
	}

	if o.logger != nil {
		options = append(options, sqlconn.WithLogger(o.logger))
	}

	return options
}

// ensureSchema creates the table once per database and table. Callers hold o.mu.
func (o *Opener) ensureSchema(ctx context.Context, driver string, contract eventbook.ConnectorContract, conn *sqlconn.Connector) error {
	key := driver + "|" + contract.Location + "|" + contract.Option(OptionTable, sqlconn.DefaultTableName)
	if _, ok := o.schemas[key]; ok {
		return nil
	}

	if err := conn.EnsureSchema(ctx); err != nil {
		return errors.Join(eventbook.ErrConnection, err)
	}

	o.schemas[key] = struct{}{}

	return nil
}

func (o *Opener) pgxPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if pool, ok := o.pools[dsn]; ok {
		return pool, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Join(eventbook.ErrConnection, err)
	}

	o.pools[dsn] = pool
	o.logHandleOpened(DriverPGX)

	return pool, nil
}

func (o *Opener) sqlDB(driverName, dsn string) (*sql.DB, error) {
	key := driverName + "|" + dsn
	if db, ok := o.sqlDBs[key]; ok {
		return db, nil
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Join(eventbook.ErrConnection, err)
	}

	if driverName == sqliteDriverName {
		db.SetMaxOpenConns(1)
	}

	o.sqlDBs[key] = db
	o.logHandleOpened(driverName)

	return db, nil
}

func (o *Opener) sqlxDB(dsn string) (*sqlx.DB, error) {
	if db, ok := o.sqlxDBs[dsn]; ok {
		return db, nil
	}

	db, err := sqlx.Open(postgresDriverName, dsn)
	if err != nil {
		return nil, errors.Join(eventbook.ErrConnection, err)
	}

	o.sqlxDBs[dsn] = db
	o.logHandleOpened(DriverSQLX)

	return db, nil
}

func (o *Opener) logHandleOpened(driver string) {
	if o.logger != nil {
		o.logger.Info(logMsgHandleOpened, logAttrDriver, driver)
	}
}

// Close releases all database handles. Connectors opened before keep their handles but fail.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true

	var errs []error

	for _, pool := range o.pools {
		pool.Close()
	}

	for _, db := range o.sqlDBs {
		errs = append(errs, db.Close())
	}

	for _, db := range o.sqlxDBs {
		errs = append(errs, db.Close())
	}

	clear(o.pools)
	clear(o.sqlDBs)
	clear(o.sqlxDBs)
	clear(o.schemas)

	if err := errors.Join(errs...); err != nil {
		if o.logger != nil {
			o.logger.Warn(logMsgCloseFailed, logAttrError, err.Error())
		}

		return err
	}

	return nil
}
