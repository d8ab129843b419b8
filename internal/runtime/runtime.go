// Package runtime is the boundary to the external conversational runtime.
//
// The connector does not own dialogue logic; it forwards verified inbound
// events to a Rasa-style REST webhook and hands the resulting replies back
// to the pipeline.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/turnhub/turn-connector/internal/models"
)

// DefaultTimeout bounds one runtime invocation. Dialogue engines can be
// slow; this is deliberately looser than the Turn client's attempt timeout.
const DefaultTimeout = 30 * time.Second

// Forwarder hands an inbound event to the conversational runtime and
// returns the replies it emitted, in emission order.
type Forwarder interface {
	Forward(ctx context.Context, event models.InboundEvent) ([]models.Reply, error)
}

// Opts holds configuration options for the REST forwarder.
type Opts struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the REST forwarder.
type Option func(*Opts)

// WithURL sets the runtime webhook URL.
func WithURL(u string) Option {
	return func(o *Opts) { o.URL = u }
}

// WithTimeout bounds a single runtime invocation.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient injects the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// RestForwarder posts inbound events to a Rasa-style REST webhook
// (sender/message JSON in, reply array out).
type RestForwarder struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

// Compile-time check that RestForwarder implements Forwarder.
var _ Forwarder = (*RestForwarder)(nil)

// NewRestForwarder creates a REST forwarder from the provided options.
func NewRestForwarder(opts ...Option) (*RestForwarder, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("runtime webhook URL must be provided")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RestForwarder{url: cfg.URL, timeout: timeout, httpClient: httpClient}, nil
}

// Forward posts the event and decodes the reply array. The inbound message
// ID and claim ID ride along as metadata so the runtime can echo claim
// directives back with full context.
func (f *RestForwarder) Forward(ctx context.Context, event models.InboundEvent) ([]models.Reply, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"sender":  event.SenderID,
		"message": event.Body,
		"metadata": map[string]string{
			"message_id": event.MessageID,
			"claim_id":   event.ClaimID,
			"type":       event.Type,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode runtime request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build runtime request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime invocation failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, string(body))
	}

	var replies []models.Reply
	if err := json.NewDecoder(resp.Body).Decode(&replies); err != nil {
		return nil, fmt.Errorf("failed to decode runtime replies: %w", err)
	}
	slog.Debug("RestForwarder.Forward: runtime replied", "messageID", event.MessageID, "replies", len(replies))
	return replies, nil
}

// MockForwarder is a test double recording forwarded events and returning
// canned replies.
type MockForwarder struct {
	Replies []models.Reply
	Err     error
	Events  []models.InboundEvent
}

// Compile-time check that MockForwarder implements Forwarder.
var _ Forwarder = (*MockForwarder)(nil)

func (m *MockForwarder) Forward(ctx context.Context, event models.InboundEvent) ([]models.Reply, error) {
	m.Events = append(m.Events, event)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Replies, nil
}
