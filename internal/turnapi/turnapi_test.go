package turnapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/turnhub/turn-connector/internal/retry"
)

func fastPolicy(maxRetries int) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = maxRetries
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func newTestClient(t *testing.T, serverURL string, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(
		WithBaseURL(serverURL),
		WithToken("test-token"),
		WithRetryPolicy(fastPolicy(maxRetries)),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestNewClientMissingCredentials(t *testing.T) {
	t.Setenv("TURN_URL", "")
	t.Setenv("TURN_TOKEN", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when base URL and token are missing")
	}
	if _, err := NewClient(WithBaseURL("https://turn.example")); err == nil {
		t.Error("expected error when token is missing")
	}
}

func TestSendMessageRequestShape(t *testing.T) {
	var gotPath, gotMethod, gotAuth, gotExtend, gotRequestID string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotExtend = r.Header.Get(HeaderClaimExtend)
		gotRequestID = r.Header.Get("X-Request-Id")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"messages":[{"id":"abc"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	if err := c.SendMessage(context.Background(), "u1", "hello", "claim-123", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/v1/messages" {
		t.Errorf("expected POST /v1/messages, got %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotExtend != "claim-123" {
		t.Errorf("expected claim extend header claim-123, got %q", gotExtend)
	}
	if gotRequestID == "" {
		t.Error("expected an X-Request-Id header")
	}
	if gotBody["to"] != "u1" {
		t.Errorf("expected to=u1, got %v", gotBody["to"])
	}
	text, _ := gotBody["text"].(map[string]interface{})
	if text["body"] != "hello" {
		t.Errorf("expected text body hello, got %v", text["body"])
	}
}

func TestSendMessageWithoutClaimOmitsExtendHeader(t *testing.T) {
	sawExtend := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderClaimExtend) != "" {
			sawExtend = true
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	if err := c.SendMessage(context.Background(), "u1", "hello", "", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawExtend {
		t.Error("extend header should be absent when no claim id is provided")
	}
}

func TestReleaseClaimRequestShape(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	if err := c.ReleaseClaim(context.Background(), "claim-123", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/claim" {
		t.Errorf("expected DELETE /v1/claim, got %s %s", gotMethod, gotPath)
	}
	if gotBody["claim_uuid"] != "claim-123" {
		t.Errorf("expected claim_uuid claim-123, got %v", gotBody)
	}
}

func TestRevertClaimRequestShape(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	if err := c.RevertClaim(context.Background(), "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/messages/42/automation" {
		t.Errorf("expected POST /v1/messages/42/automation, got %s %s", gotMethod, gotPath)
	}
}

func TestDispatchRetriesTransientThenDelivers(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	if err := c.SendMessage(context.Background(), "u1", "hi", "", "42"); err != nil {
		t.Fatalf("expected delivery after retries, got %v", err)
	}
	if n := attempts.Load(); n != 4 {
		t.Errorf("expected 4 attempts (1 + 3 retries), got %d", n)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	err := c.SendMessage(context.Background(), "u1", "hi", "", "42")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", exhausted.Attempts)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", n)
	}
}

func TestDispatchClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	err := c.SendMessage(context.Background(), "u1", "hi", "", "42")
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if clientErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", clientErr.StatusCode)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("expected zero retries on 400, got %d attempts", n)
	}
}

func TestDispatchRetriesRateLimit(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	if err := c.SendMessage(context.Background(), "u1", "hi", "", "42"); err != nil {
		t.Fatalf("expected 429 to be retried, got %v", err)
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestMockClientRecordsOrder(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	m.SendMessage(ctx, "u1", "bye", "claim-1", "42")
	m.ReleaseClaim(ctx, "claim-1", "42")

	calls := m.Recorded()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Kind != KindSendMessage || calls[1].Kind != KindReleaseClaim {
		t.Errorf("expected send then release, got %v then %v", calls[0].Kind, calls[1].Kind)
	}
}
