// Package ledger provides the idempotency ledger for the Turn connector.
//
// This file implements the SQLite-backed ledger.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteLedger implements Ledger.
var _ Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger is the SQLite-backed idempotency ledger. INSERT OR IGNORE on
// the message_id primary key gives the atomic check-and-record guarantee; a
// read-then-write would race under concurrent deliveries.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger creates a new SQLite ledger with the given options. The
// DSN is a file path; its directory is created if missing.
func NewSQLiteLedger(opts ...Option) (*SQLiteLedger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteLedger.NewSQLiteLedger: creating SQLite ledger", "DSN_set", cfg.SQLiteDSN != "")
	dsn := cfg.SQLiteDSN
	if dsn == "" {
		slog.Error("SQLiteLedger DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the dedup table exists
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteLedger migrations applied successfully")
	return &SQLiteLedger{db: db}, nil
}

// RecordInbound inserts the dedup record if absent, atomically.
func (l *SQLiteLedger) RecordInbound(ctx context.Context, messageID, senderID string) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, sender_id, processed_at) VALUES (?, ?, ?)`,
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

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
