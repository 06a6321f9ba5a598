package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
	"github.com/stretchr/testify/require"

	"github.com/project-hadron/discovery-engines/eventbook/connector/sqlconn"
)

// Driver type constants
const (
	typePGXPool = "pgx"
	typeSQLDB   = "sql"
	typeSQLX    = "sqlx"
)

const (
	envDSN    = "EVENTBOOK_POSTGRES_DSN"
	envDriver = "EVENTBOOK_POSTGRES_DRIVER"
)

// Wrapper abstracts over the database handles a sqlconn.Connector can run on.
type Wrapper interface {
	NewConnector(t testing.TB, resource string, options ...sqlconn.Option) *sqlconn.Connector
	Close()
}

// PGXPoolWrapper wraps a pgxpool.Pool
type PGXPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *PGXPoolWrapper) NewConnector(t testing.TB, resource string, options ...sqlconn.Option) *sqlconn.Connector {
	conn, err := sqlconn.NewFromPGXPool(w.pool, resource, options...)
	require.NoError(t, err, "error creating connector in test setup")

	return conn
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps a sql.DB opened with lib/pq
type SQLDBWrapper struct {
	db *sql.DB
}

func (w *SQLDBWrapper) NewConnector(t testing.TB, resource string, options ...sqlconn.Option) *sqlconn.Connector {
	conn, err := sqlconn.NewFromSQLDB(w.db, resource, options...)
	require.NoError(t, err, "error creating connector in test setup")

	return conn
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps a sqlx.DB opened with lib/pq
type SQLXWrapper struct {
	db *sqlx.DB
}

func (w *SQLXWrapper) NewConnector(t testing.TB, resource string, options ...sqlconn.Option) *sqlconn.Connector {
	conn, err := sqlconn.NewFromSQLX(w.db, resource, options...)
	require.NoError(t, err, "error creating connector in test setup")

	return conn
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// CreateWrapperWithTestConfig creates the wrapper selected by EVENTBOOK_POSTGRES_DRIVER for the database at
// EVENTBOOK_POSTGRES_DSN. The test is skipped when no DSN is set.
func CreateWrapperWithTestConfig(t testing.TB) Wrapper {
	dsn := os.Getenv(envDSN)
	if dsn == "" {
		t.Skip(envDSN + " not set")
	}

	driverFromEnv := strings.ToLower(os.Getenv(envDriver))

	switch driverFromEnv {
	case typePGXPool, "":
		pool, err := pgxpool.New(context.Background(), dsn)
		require.NoError(t, err, "error connecting to DB pool in test setup")

		return &PGXPoolWrapper{pool: pool}

	case typeSQLDB:
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err, "error opening DB in test setup")

		return &SQLDBWrapper{db: db}

	case typeSQLX:
		db, err := sqlx.Open("postgres", dsn)
		require.NoError(t, err, "error opening DB in test setup")

		return &SQLXWrapper{db: db}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported driver type from env: %s", driverFromEnv))
	}
}

// CleanUp deletes the rows of the given resources from table
func CleanUp(t testing.TB, wrapper Wrapper, table string, resources ...string) {
	for _, resource := range resources {
		query := fmt.Sprintf("DELETE FROM %s WHERE resource = $1", table)

		var err error

		switch w := wrapper.(type) {
		case *PGXPoolWrapper:
			_, err = w.pool.Exec(context.Background(), query, resource)

		case *SQLDBWrapper:
			_, err = w.db.Exec(query, resource)

		case *SQLXWrapper:
			_, err = w.db.Exec(query, resource)

		default:
			panic(fmt.Sprintf("unsupported wrapper type: %T", w))
		}

		require.NoError(t, err, "error cleaning up table %s", table)
	}
}

// CountRows counts the rows stored for resource in table
func CountRows(t testing.TB, wrapper Wrapper, table, resource string) int {
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE resource = $1", table)

	var cnt int
	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		err = w.pool.QueryRow(context.Background(), query, resource).Scan(&cnt)

	case *SQLDBWrapper:
		err = w.db.QueryRow(query, resource).Scan(&cnt)

	case *SQLXWrapper:
		err = w.db.Get(&cnt, query, resource)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	require.NoError(t, err, "error counting rows in %s", table)

	return cnt
}
