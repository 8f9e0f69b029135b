package db

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the embedded store at path and bootstraps its schema.
// SQLite serialises writers anyway, and ":memory:" databases are private to
// a connection, so the pool is pinned to one connection.
func OpenSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := EnsureSQLiteSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
