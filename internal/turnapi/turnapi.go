// Package turnapi wraps the Turn platform HTTP API for the connector.
//
// It exposes the three outbound operations the pipeline needs — send a
// message, release a conversation claim, and revert (requeue) an inbound
// message for platform-side automation — on top of a shared dispatch path
// with bearer authentication and bounded retries.
package turnapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turnhub/turn-connector/internal/retry"
)

// Turn claim headers. The platform reports the active claim UUID on inbound
// webhook deliveries via X-Turn-Claim; an outbound send that should keep the
// claim held echoes it back via X-Turn-Claim-Extend.
const (
	HeaderClaim       = "X-Turn-Claim"
	HeaderClaimExtend = "X-Turn-Claim-Extend"
)

// DefaultAttemptTimeout bounds a single HTTP attempt.
const DefaultAttemptTimeout = 10 * time.Second

// RequestKind identifies the outbound API operation.
type RequestKind string

const (
	KindSendMessage  RequestKind = "send-message"
	KindReleaseClaim RequestKind = "release-claim"
	KindRevertClaim  RequestKind = "revert-claim"
)

// OutboundRequest is one HTTP call to the Turn platform. It is constructed
// and owned by the client for the duration of a single dispatch and never
// shared across concurrent dispatches. CorrelationID is the inbound message
// ID that triggered the call.
type OutboundRequest struct {
	Kind          RequestKind
	Method        string
	Path          string
	Payload       []byte
	Headers       map[string]string
	CorrelationID string
}

// ClientError is a non-retryable platform rejection (4xx other than 429).
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("turn api client error: status %d: %s", e.StatusCode, e.Body)
}

// ExhaustedError reports that all retry attempts on a transient failure were
// used up. Attempts is the total number of attempts made.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("turn api retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Opts holds configuration options for the Turn API client.
type Opts struct {
	BaseURL        string
	Token          string
	Retries        int
	AttemptTimeout time.Duration
	HTTPClient     *http.Client
	Policy         *retry.Policy
}

// Option defines a configuration option for the Turn API client.
type Option func(*Opts)

// WithBaseURL sets the platform base URL, e.g. https://whatsapp.turn.io.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithToken sets the bearer token credential.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithRetries sets the number of additional attempts on transient failures.
func WithRetries(n int) Option {
	return func(o *Opts) { o.Retries = n }
}

// WithAttemptTimeout bounds each individual HTTP attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Opts) { o.AttemptTimeout = d }
}

// WithHTTPClient injects the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithRetryPolicy overrides the full retry policy. WithRetries still applies
// on top of it.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Opts) { o.Policy = &p }
}

// Client performs authenticated HTTP calls against the Turn platform.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	attemptTimeout time.Duration
	policy         retry.Policy
}

// NewClient creates a Turn API client. Base URL and token fall back to the
// TURN_URL and TURN_TOKEN environment variables; missing credentials are a
// construction error.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("TURN_URL")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TURN_TOKEN")
	}
	slog.Debug("Turn client config loaded",
		"BaseURL_set", cfg.BaseURL != "",
		"Token_set", cfg.Token != "")

	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("turn base URL and token must be provided")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid turn base URL: %w", err)
	}

	policy := retry.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	if cfg.Retries > 0 {
		policy.MaxRetries = cfg.Retries
	}
	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		attemptTimeout: attemptTimeout,
		policy:         policy,
	}, nil
}

// SendMessage delivers a text message to a recipient. A non-empty claimID is
// echoed on the X-Turn-Claim-Extend header so the platform keeps the claim
// held by the bot; this is how the implicit extend directive is enacted.
func (c *Client) SendMessage(ctx context.Context, to, body, claimID, correlationID string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"to":   to,
		"type": "text",
		"text": map[string]string{"body": body},
	})
	if err != nil {
		return fmt.Errorf("failed to encode message payload: %w", err)
	}
	req := OutboundRequest{
		Kind:          KindSendMessage,
		Method:        http.MethodPost,
		Path:          "/v1/messages",
		Payload:       payload,
		CorrelationID: correlationID,
	}
	if claimID != "" {
		req.Headers = map[string]string{HeaderClaimExtend: claimID}
	}
	return c.Dispatch(ctx, req)
}

// ReleaseClaim hands the conversation claim back to the platform.
func (c *Client) ReleaseClaim(ctx context.Context, claimID, correlationID string) error {
	payload, err := json.Marshal(map[string]string{"claim_uuid": claimID})
	if err != nil {
		return fmt.Errorf("failed to encode claim payload: %w", err)
	}
	return c.Dispatch(ctx, OutboundRequest{
		Kind:          KindReleaseClaim,
		Method:        http.MethodDelete,
		Path:          "/v1/claim",
		Payload:       payload,
		CorrelationID: correlationID,
	})
}

// RevertClaim requeues the inbound message identified by messageID for
// platform-side automation. No message is delivered to the end user.
func (c *Client) RevertClaim(ctx context.Context, messageID string) error {
	return c.Dispatch(ctx, OutboundRequest{
		Kind:          KindRevertClaim,
		Method:        http.MethodPost,
		Path:          fmt.Sprintf("/v1/messages/%s/automation", url.PathEscape(messageID)),
		CorrelationID: messageID,
	})
}

// Dispatch performs the request with the configured retry policy. Transient
// failures (connection errors, timeouts, HTTP 5xx and 429) are retried with
// monotonically increasing backoff; other 4xx responses return a ClientError
// immediately. When retries run out an ExhaustedError is returned.
func (c *Client) Dispatch(ctx context.Context, req OutboundRequest) error {
	requestID := uuid.NewString()
	attempts := 0

	err := c.policy.Do(ctx, transientError, func(ctx context.Context) error {
		attempts++
		return c.attempt(ctx, req, requestID, attempts-1)
	})
	if err == nil {
		slog.Debug("Turn dispatch delivered", "kind", req.Kind, "correlationID", req.CorrelationID, "requestID", requestID, "attempts", attempts)
		return nil
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		slog.Warn("Turn dispatch rejected by platform", "kind", req.Kind, "correlationID", req.CorrelationID, "requestID", requestID, "status", clientErr.StatusCode)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	slog.Error("Turn dispatch retries exhausted", "kind", req.Kind, "correlationID", req.CorrelationID, "requestID", requestID, "attempts", attempts, "error", err)
	return &ExhaustedError{Attempts: attempts, Err: err}
}

func (c *Client) attempt(ctx context.Context, req OutboundRequest, requestID string, attempt int) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var body io.Reader
	if len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return &ClientError{StatusCode: 0, Body: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Debug("Turn attempt failed", "kind", req.Kind, "attempt", attempt, "error", err)
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		slog.Debug("Turn attempt got transient status", "kind", req.Kind, "attempt", attempt, "status", resp.StatusCode)
		return fmt.Errorf("turn api returned status %d", resp.StatusCode)
	default:
		return &ClientError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
}

// transientError reports whether an attempt error is worth retrying.
// ClientError is the only permanent category; connection errors, timeouts,
// and transient-status errors all retry.
func transientError(err error) bool {
	var clientErr *ClientError
	return !errors.As(err, &clientErr)
}

// MockClient records outbound calls in program order for tests. It
// implements the same operation surface as Client.
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall

	SendErr    error
	ReleaseErr error
	RevertErr  error
}

// MockCall is one recorded operation.
type MockCall struct {
	Kind          RequestKind
	To            string
	Body          string
	ClaimID       string
	CorrelationID string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to, body, claimID, correlationID string) error {
	m.record(MockCall{Kind: KindSendMessage, To: to, Body: body, ClaimID: claimID, CorrelationID: correlationID})
	return m.SendErr
}

func (m *MockClient) ReleaseClaim(ctx context.Context, claimID, correlationID string) error {
	m.record(MockCall{Kind: KindReleaseClaim, ClaimID: claimID, CorrelationID: correlationID})
	return m.ReleaseErr
}

func (m *MockClient) RevertClaim(ctx context.Context, messageID string) error {
	m.record(MockCall{Kind: KindRevertClaim, CorrelationID: messageID})
	return m.RevertErr
}

func (m *MockClient) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Recorded returns a copy of the calls made so far.
func (m *MockClient) Recorded() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}
