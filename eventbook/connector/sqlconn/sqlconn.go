package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/project-hadron/discovery-engines/eventbook"
	"github.com/project-hadron/discovery-engines/eventbook/connector/sqlconn/internal/adapters"
)

const (
	// DialectPostgres renders PostgreSQL.
	DialectPostgres = "postgres"
	// DialectSQLite renders SQLite.
	DialectSQLite = "sqlite3"

	// DefaultTableName is the table shared by all connectors unless WithTableName says otherwise.
	DefaultTableName = "eventbook_payloads"

	colResource  = "resource"
	colPayload   = "payload"
	colRevision  = "revision"
	colUpdatedAt = "updated_at"

	logMsgSQLExecuted       = "executed sql for: "
	logMsgDBExecFailed      = "database execution failed"
	logMsgDBQueryFailed     = "database query execution failed"
	logMsgBuildQueryFailed  = "failed to build query"
	logMsgPayloadPersisted  = "payload persisted"
	logAttrError            = "error"
	logAttrQuery            = "query"
	logAttrResource         = "resource"
	logAttrRevision         = "revision"
	logAttrDurationMS       = "duration_ms"
	logAttrPayloadBytes     = "payload_bytes"
	logActionPersist        = "persist"
	logActionLoad           = "load"
	logActionEnsureSchema   = "ensure_schema"
	createTableStatementFmt = `CREATE TABLE IF NOT EXISTS %s (
	resource TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	revision TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`
)

var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrEmptyResource         = errors.New("sql connector resource must not be empty")
	ErrInvalidTableName      = errors.New("table name must be a plain SQL identifier")
	ErrUnknownDialect        = errors.New("unknown sql dialect")
	ErrBuildingQueryFailed   = errors.New("building sql query failed")
	ErrQueryFailed           = errors.New("sql query failed")
	ErrExecFailed            = errors.New("sql statement failed")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Option defines a functional option for configuring a Connector.
type Option func(*Connector) error

// WithTableName sets the table holding the payloads.
func WithTableName(tableName string) Option {
	return func(c *Connector) error {
		if !identifierPattern.MatchString(tableName) {
			return errors.Join(ErrInvalidTableName, fmt.Errorf("table %q", tableName))
		}

		c.tableName = tableName

		return nil
	}
}

// WithDialect selects the SQL dialect, DialectPostgres by default.
func WithDialect(dialect string) Option {
	return func(c *Connector) error {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return errors.Join(ErrUnknownDialect, fmt.Errorf("dialect %q", dialect))
		}

		c.dialect = dialect

		return nil
	}
}

// WithLogger sets the logger for the Connector.
//
// Debug level: SQL statements with execution timing (development use)
// Info level: persisted payload sizes and revisions
// Warn level: non-critical issues like failing to close rows
// Error level: failures that are returned to the caller.
func WithLogger(logger eventbook.Logger) Option {
	return func(c *Connector) error {
		c.logger = logger
		return nil
	}
}

// Connector stores one payload as a row of a SQL table, keyed by resource. Every write stamps
// the row with a fresh revision.
type Connector struct {
	db        adapters.Handle
	dialect   string
	tableName string
	resource  string
	logger    eventbook.Logger
}

var _ eventbook.Connector = (*Connector)(nil)

// NewFromPGXPool creates a PostgreSQL Connector on a pgx pool.
func NewFromPGXPool(db *pgxpool.Pool, resource string, options ...Option) (*Connector, error) {
	if db == nil {
		return nil, errors.Join(eventbook.ErrValidation, ErrNilDatabaseConnection)
	}

	return newConnector(adapters.NewPGXHandle(db), resource, options)
}

// NewFromSQLDB creates a Connector on a sql.DB. Pass WithDialect(DialectSQLite) for SQLite.
func NewFromSQLDB(db *sql.DB, resource string, options ...Option) (*Connector, error) {
	if db == nil {
		return nil, errors.Join(eventbook.ErrValidation, ErrNilDatabaseConnection)
	}

	return newConnector(adapters.NewSQLHandle(db), resource, options)
}

// NewFromSQLX creates a Connector on a sqlx.DB.
func NewFromSQLX(db *sqlx.DB, resource string, options ...Option) (*Connector, error) {
	if db == nil {
		return nil, errors.Join(eventbook.ErrValidation, ErrNilDatabaseConnection)
	}

	return newConnector(adapters.NewSQLXHandle(db), resource, options)
}

func newConnector(db adapters.Handle, resource string, options []Option) (*Connector, error) {
	if resource == "" {
		return nil, errors.Join(eventbook.ErrValidation, ErrEmptyResource)
	}

	c := &Connector{
		db:        db,
		dialect:   DialectPostgres,
		tableName: DefaultTableName,
		resource:  resource,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, errors.Join(eventbook.ErrValidation, err)
		}
	}

	return c, nil
}

// Resource returns the row key of the connector.
func (c *Connector) Resource() string {
	return c.resource
}

// EnsureSchema creates the payload table if it does not exist.
func (c *Connector) EnsureSchema(ctx context.Context) error {
	_, err := c.exec(ctx, fmt.Sprintf(createTableStatementFmt, c.tableName), logActionEnsureSchema)
	return err
}

// Persist updates the resource row, or inserts it when there is none yet.
func (c *Connector) Persist(ctx context.Context, payload []byte) error {
	revision, err := uuid.NewV7()
	if err != nil {
		return err
	}

	record := goqu.Record{
		colPayload:   string(payload),
		colRevision:  revision.String(),
		colUpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	updateQuery, _, err := goqu.Dialect(c.dialect).
		Update(c.tableName).
		Set(record).
		Where(goqu.C(colResource).Eq(c.resource)).
		ToSQL()
	if err != nil {
		return c.buildFailed(err)
	}

	start := time.Now()

	rowsAffected, err := c.exec(ctx, updateQuery, logActionPersist)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		record[colResource] = c.resource

		insertQuery, _, buildErr := goqu.Dialect(c.dialect).
			Insert(c.tableName).
			Rows(record).
			ToSQL()
		if buildErr != nil {
			return c.buildFailed(buildErr)
		}

		if _, err := c.exec(ctx, insertQuery, logActionPersist); err != nil {
			return err
		}
	}

	if c.logger != nil {
		c.logger.Info(logMsgPayloadPersisted,
			logAttrResource, c.resource,
			logAttrRevision, revision.String(),
			logAttrPayloadBytes, len(payload),
			logAttrDurationMS, toMilliseconds(time.Since(start)))
	}

	return nil
}

// Load returns the payload of the resource row.
func (c *Connector) Load(ctx context.Context) ([]byte, error) {
	payload, found, err := c.selectColumn(ctx, colPayload)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, errors.Join(eventbook.ErrNotFound, fmt.Errorf("resource %q in table %s", c.resource, c.tableName))
	}

	return []byte(payload), nil
}

// Exists reports whether the resource row exists.
func (c *Connector) Exists(ctx context.Context) (bool, error) {
	_, found, err := c.selectColumn(ctx, colResource)
	return found, err
}

// Revision returns the revision of the last write.
func (c *Connector) Revision(ctx context.Context) (string, error) {
	revision, found, err := c.selectColumn(ctx, colRevision)
	if err != nil {
		return "", err
	}

	if !found {
		return "", errors.Join(eventbook.ErrNotFound, fmt.Errorf("resource %q in table %s", c.resource, c.tableName))
	}

	return revision, nil
}

func (c *Connector) selectColumn(ctx context.Context, column string) (string, bool, error) {
	query, _, err := goqu.Dialect(c.dialect).
		From(c.tableName).
		Select(column).
		Where(goqu.C(colResource).Eq(c.resource)).
		Limit(1).
		ToSQL()
	if err != nil {
		return "", false, c.buildFailed(err)
	}

	start := time.Now()
	value, found, err := c.db.QueryText(ctx, query)
	c.logQueryWithDuration(query, logActionLoad, time.Since(start))

	if err != nil {
		if c.logger != nil {
			c.logger.Error(logMsgDBQueryFailed, logAttrError, err.Error(), logAttrQuery, query)
		}

		return "", false, errors.Join(ErrQueryFailed, err)
	}

	return value, found, nil
}

func (c *Connector) exec(ctx context.Context, query, action string) (int64, error) {
	start := time.Now()
	rowsAffected, err := c.db.Exec(ctx, query)
	c.logQueryWithDuration(query, action, time.Since(start))

	if err != nil {
		if c.logger != nil {
			c.logger.Error(logMsgDBExecFailed, logAttrError, err.Error(), logAttrQuery, query)
		}

		return 0, errors.Join(ErrExecFailed, err)
	}

	return rowsAffected, nil
}

func (c *Connector) buildFailed(err error) error {
	if c.logger != nil {
		c.logger.Error(logMsgBuildQueryFailed, logAttrError, err.Error())
	}

	return errors.Join(ErrBuildingQueryFailed, err)
}

// logQueryWithDuration logs SQL statements at debug level.
func (c *Connector) logQueryWithDuration(query, action string, duration time.Duration) {
	if c.logger != nil {
		c.logger.Debug(logMsgSQLExecuted+action,
			logAttrResource, c.resource,
			logAttrDurationMS, toMilliseconds(duration),
			logAttrQuery, query)
	}
}

func toMilliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
