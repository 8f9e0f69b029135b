package db

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tracking_sessions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		start_time     TIMESTAMPTZ NOT NULL,
		end_time       TIMESTAMPTZ,
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		storage_mode   TEXT NOT NULL DEFAULT 'incremental',
		min_distance_m DOUBLE PRECISION NOT NULL DEFAULT 10
	)`,
	`CREATE INDEX IF NOT EXISTS tracking_sessions_user_active_idx
		ON tracking_sessions (user_id, is_active)`,
	`CREATE TABLE IF NOT EXISTS tracking_points (
		session_id  TEXT NOT NULL REFERENCES tracking_sessions(id) ON DELETE CASCADE,
		lat         DOUBLE PRECISION NOT NULL,
		lng         DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, recorded_at, lat, lng)
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_areas (
		user_id     TEXT NOT NULL,
		lat         DOUBLE PRECISION NOT NULL,
		lng         DOUBLE PRECISION NOT NULL,
		radius_m    DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, lat, lng)
	)`,
}

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS tracking_sessions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		start_time     INTEGER NOT NULL,
		end_time       INTEGER,
		is_active      INTEGER NOT NULL DEFAULT 1,
		storage_mode   TEXT NOT NULL DEFAULT 'incremental',
		min_distance_m REAL NOT NULL DEFAULT 10
	)`,
	`CREATE INDEX IF NOT EXISTS tracking_sessions_user_active_idx
		ON tracking_sessions (user_id, is_active)`,
	`CREATE TABLE IF NOT EXISTS tracking_points (
		session_id  TEXT NOT NULL REFERENCES tracking_sessions(id) ON DELETE CASCADE,
		lat         REAL NOT NULL,
		lng         REAL NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, recorded_at, lat, lng)
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_areas (
		user_id     TEXT NOT NULL,
		lat         REAL NOT NULL,
		lng         REAL NOT NULL,
		radius_m    REAL NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, lat, lng)
	)`,
}

// EnsurePostgresSchema creates the tracking tables if they are missing.
func EnsurePostgresSchema(ctx context.Context, q Querier) error {
	for _, stmt := range postgresSchema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
	}
	return nil
}

func EnsureSQLiteSchema(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}
	return nil
}
