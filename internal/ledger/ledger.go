// Package ledger provides the idempotency ledger used to deduplicate inbound
// webhook deliveries.
//
// The ledger is a durable set of already-processed message IDs with atomic
// check-and-record semantics: under concurrent deliveries of the same ID,
// exactly one caller observes fresh. Backends: PostgreSQL, SQLite, an
// in-memory map, and a no-op variant selected when no store is configured
// (deduplication disabled — the system then degrades to possible-duplicate
// processing, a documented trade-off).
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrStoreUnavailable indicates the durable store could not be reached. The
// pipeline treats this as a transient failure of the whole inbound request.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

// Ledger is the idempotency ledger interface.
type Ledger interface {
	// RecordInbound atomically records a message ID the first time it is
	// seen. It returns true if the ID was fresh (this caller owns
	// processing) and false if it was already recorded (duplicate).
	// Store failures wrap ErrStoreUnavailable.
	RecordInbound(ctx context.Context, messageID, senderID string) (bool, error)

	// Close releases any underlying store resources.
	Close() error
}

// Opts holds configuration options for ledger construction.
type Opts struct {
	PostgresDSN string
	SQLiteDSN   string
}

// Option defines a configuration option for ledger construction.
type Option func(*Opts)

// WithPostgresDSN configures a PostgreSQL-backed ledger.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// WithSQLiteDSN configures a SQLite-backed ledger. The DSN is a file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite3" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// New builds a ledger from the provided options. With no DSN configured it
// returns the no-op ledger, disabling deduplication.
func New(opts ...Option) (Ledger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.PostgresDSN != "":
		return NewPostgresLedger(opts...)
	case cfg.SQLiteDSN != "":
		return NewSQLiteLedger(opts...)
	default:
		slog.Warn("ledger.New: no store configured, deduplication disabled")
		return NewNoopLedger(), nil
	}
}

// NoopLedger reports every message as fresh. Used when no durable store is
// configured.
type NoopLedger struct{}

// NewNoopLedger creates a NoopLedger.
func NewNoopLedger() *NoopLedger {
	return &NoopLedger{}
}

// RecordInbound always reports fresh.
func (l *NoopLedger) RecordInbound(ctx context.Context, messageID, senderID string) (bool, error) {
	return true, nil
}

// Close is a no-op.
func (l *NoopLedger) Close() error { return nil }

// MemoryLedger is a process-local ledger. It provides the same atomic
// check-and-record contract as the durable backends but does not survive
// restarts; it backs tests and single-process deployments.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]time.Time)}
}

// RecordInbound records the message ID under the lock; exactly one caller
// per ID observes fresh.
func (l *MemoryLedger) RecordInbound(ctx context.Context, messageID, senderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[messageID]; ok {
		return false, nil
	}
	l.seen[messageID] = time.Now()
	return true, nil
}

// Close is a no-op.
func (l *MemoryLedger) Close() error { return nil }

// Compile-time checks that all backends implement Ledger.
var (
	_ Ledger = (*NoopLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
