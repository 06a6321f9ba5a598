// Package sqlconn stores eventbook payloads in a SQL table, one row per resource:
//
//	CREATE TABLE IF NOT EXISTS eventbook_payloads (
//		resource TEXT PRIMARY KEY,
//		payload TEXT NOT NULL,
//		revision TEXT NOT NULL,
//		updated_at TEXT NOT NULL
//	)
//
// Statements are built with goqu for PostgreSQL or SQLite. The connector runs on a pgxpool.Pool,
// a sql.DB (lib/pq, modernc.org/sqlite) or a sqlx.DB through the same adapter interface, so a
// book's state and its events log can live next to the application's own tables.
//
// Usage:
//
//	db, _ := sql.Open("sqlite", "books.db")
//	conn, _ := sqlconn.NewFromSQLDB(db, "state_orders", sqlconn.WithDialect(sqlconn.DialectSQLite))
//	_ = conn.EnsureSchema(ctx)
//	book, _ := eventbook.NewEventBook("orders", eventbook.WithStateConnector(conn))
package sqlconn
