// Package postgreswrapper runs sqlconn tests against a real PostgreSQL database through the driver
// named by EVENTBOOK_POSTGRES_DRIVER (pgx, sql or sqlx).
package postgreswrapper
