// Package store persists daily baselines and per-series summaries in
// Postgres, and indoor estimates in ClickHouse.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/sweeney/pm25-relay-sim/internal/config"
)

// Schema is applied by EnsureSchema. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS daily_averages (
		series     TEXT             NOT NULL,
		day        DATE             NOT NULL,
		average    DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
		PRIMARY KEY (series, day)
	)`,
	`CREATE TABLE IF NOT EXISTS event_summaries (
		run_id         UUID             NOT NULL,
		series         TEXT             NOT NULL,
		policy         TEXT             NOT NULL,
		readings       INTEGER          NOT NULL,
		event_count    INTEGER          NOT NULL,
		mean_duration  BIGINT           NOT NULL,
		mean_gap       BIGINT           NOT NULL,
		open_since     TIMESTAMPTZ,
		on_share       DOUBLE PRECISION NOT NULL,
		elevated_share DOUBLE PRECISION NOT NULL,
		error_kind     TEXT             NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ      NOT NULL DEFAULT now(),
		PRIMARY KEY (run_id, series)
	)`,
}

// OpenPostgres opens and pings a Postgres pool.
func OpenPostgres(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
