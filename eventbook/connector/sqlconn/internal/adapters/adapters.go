// Package adapters lets the SQL connector run on pgxpool.Pool, sql.DB and sqlx.DB alike.
// Statements arrive fully rendered by goqu, so a handle only runs strings.
package adapters

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

// Handle runs the two kinds of statements the connector issues: a lookup of one text cell and a write.
type Handle interface {
	// QueryText returns the single text cell selected by query. found is false when no row matched.
	QueryText(ctx context.Context, query string) (value string, found bool, err error)
	// Exec runs a write and reports the number of affected rows.
	Exec(ctx context.Context, query string) (rowsAffected int64, err error)
}

type pgxHandle struct {
	pool *pgxpool.Pool
}

func NewPGXHandle(pool *pgxpool.Pool) Handle {
	return pgxHandle{pool: pool}
}

func (h pgxHandle) QueryText(ctx context.Context, query string) (string, bool, error) {
	var value string

	err := h.pool.QueryRow(ctx, query).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}

	return value, err == nil, err
}

func (h pgxHandle) Exec(ctx context.Context, query string) (int64, error) {
	tag, err := h.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// sqlHandle serves sql.DB with any registered driver, e.g. lib/pq or modernc sqlite.
type sqlHandle struct {
	db *sql.DB
}

func NewSQLHandle(db *sql.DB) Handle {
	return sqlHandle{db: db}
}

func (h sqlHandle) QueryText(ctx context.Context, query string) (string, bool, error) {
	var value string

	err := h.db.QueryRowContext(ctx, query).Scan(&value)

	return noRowsAsMissing(value, err)
}

func (h sqlHandle) Exec(ctx context.Context, query string) (int64, error) {
	return rowsAffected(h.db.ExecContext(ctx, query))
}

type sqlxHandle struct {
	db *sqlx.DB
}

func NewSQLXHandle(db *sqlx.DB) Handle {
	return sqlxHandle{db: db}
}

func (h sqlxHandle) QueryText(ctx context.Context, query string) (string, bool, error) {
	var value string

	err := h.db.GetContext(ctx, &value, query)

	return noRowsAsMissing(value, err)
}

func (h sqlxHandle) Exec(ctx context.Context, query string) (int64, error) {
	return rowsAffected(h.db.ExecContext(ctx, query))
}

func noRowsAsMissing(value string, err error) (string, bool, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, err
	default:
		return value, true, nil
	}
}

func rowsAffected(result sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
