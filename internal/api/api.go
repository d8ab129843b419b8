// Package api provides the HTTP surface of the Turn connector.
//
// It exposes the inbound webhook endpoint and a health probe, and owns the
// server lifecycle: wiring the signature verifier, idempotency ledger,
// runtime forwarder, and Turn client into the webhook pipeline, then serving
// until shutdown.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turnhub/turn-connector/internal/ledger"
	"github.com/turnhub/turn-connector/internal/pipeline"
	"github.com/turnhub/turn-connector/internal/runtime"
	"github.com/turnhub/turn-connector/internal/signature"
	"github.com/turnhub/turn-connector/internal/turnapi"
)

// Default server configuration
const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	DefaultShutdownTimeout = 10 * time.Second
	// maxWebhookBodyBytes caps the inbound body read; Turn payloads are small.
	maxWebhookBodyBytes = 1 << 20
)

// Webhook endpoint paths
const (
	WebhookPath = "/webhooks/turn"
	HealthPath  = "/webhooks/turn/health"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	HMACSecret string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithHMACSecret sets the shared secret for webhook signature verification.
// An empty secret disables verification.
func WithHMACSecret(secret string) Option {
	return func(o *Opts) { o.HMACSecret = secret }
}

// Server serves the webhook endpoints backed by a pipeline.
type Server struct {
	addr     string
	pipeline *pipeline.Pipeline
}

// NewServer creates a Server around an assembled pipeline.
func NewServer(p *pipeline.Pipeline, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{addr: addr, pipeline: p}
}

// Handler returns the HTTP routing for the connector endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebhookPath, s.webhookHandler)
	mux.HandleFunc(HealthPath, s.healthHandler)
	return mux
}

// Run assembles the connector modules from their option sets and serves until
// the process receives SIGINT or SIGTERM. It blocks for the lifetime of the
// server and returns the first fatal error.
func Run(turnOpts []turnapi.Option, ledgerOpts []ledger.Option, runtimeOpts []runtime.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.HMACSecret == "" {
		cfg.HMACSecret = os.Getenv("TURN_HMAC_SECRET")
	}

	turnClient, err := turnapi.NewClient(turnOpts...)
	if err != nil {
		return fmt.Errorf("failed to create Turn client: %w", err)
	}

	led, err := ledger.New(ledgerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create idempotency ledger: %w", err)
	}
	defer func() {
		if err := led.Close(); err != nil {
			slog.Warn("Run: failed to close ledger", "error", err)
		}
	}()

	fwd, err := runtime.NewRestForwarder(runtimeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create runtime forwarder: %w", err)
	}

	verifier := signature.NewVerifier(cfg.HMACSecret)
	if !verifier.Enabled() {
		slog.Warn("Run: webhook signature verification disabled", "hmac_secret_set", false)
	}

	srv := NewServer(pipeline.New(verifier, led, fwd, turnClient), apiOpts...)
	return srv.listenAndServe()
}

// listenAndServe runs the HTTP server with signal-driven graceful shutdown.
func (s *Server) listenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.listenAndServe: Turn connector API running", "addr", s.addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.listenAndServe: shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("Server.listenAndServe: shutdown complete")
	return nil
}
