// Package ledger provides the idempotency ledger for the Turn connector.
//
// This file implements the PostgreSQL-backed ledger.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresLedger implements Ledger.
var _ Ledger = (*PostgresLedger)(nil)

// PostgresLedger is the PostgreSQL-backed idempotency ledger. Atomicity of
// check-and-record rides on the message_id primary key and
// ON CONFLICT DO NOTHING.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new PostgreSQL ledger based on provided options.
func NewPostgresLedger(opts ...Option) (*PostgresLedger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresLedger.NewPostgresLedger: creating Postgres ledger", "DSN_set", cfg.PostgresDSN != "")
	dsn := cfg.PostgresDSN
	if dsn == "" {
		slog.Error("PostgresLedger DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the dedup table exists
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresLedger migrations applied successfully")
	return &PostgresLedger{db: db}, nil
}

// RecordInbound inserts the dedup record if absent. Exactly one concurrent
// caller per message ID sees a row inserted.
func (l *PostgresLedger) RecordInbound(ctx context.Context, messageID, senderID string) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, sender_id, processed_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		messageID, senderID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w: %w", ErrStoreUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w: %w", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Close closes the database connection pool.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
