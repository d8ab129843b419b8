package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWebhookMessageValidate(t *testing.T) {
	tests := []struct {
		name     string
		msg      WebhookMessage
		expected error
	}{
		{"valid", WebhookMessage{ID: "42", From: "u1"}, nil},
		{"missing id", WebhookMessage{From: "u1"}, ErrMissingMessageID},
		{"missing sender", WebhookMessage{ID: "42"}, ErrMissingSender},
		{"missing both reports id first", WebhookMessage{}, ErrMissingMessageID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.msg.Validate(); !errors.Is(err, tc.expected) {
				t.Errorf("Validate() = %v, expected %v", err, tc.expected)
			}
		})
	}
}

func TestWebhookPayloadDecode(t *testing.T) {
	raw := `{"messages":[{"id":"42","from":"u1","type":"text","text":{"body":"hi"}}],"statuses":[{"id":"41","status":"read"}]}`
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.Messages) != 1 || len(payload.Statuses) != 1 {
		t.Fatalf("unexpected payload shape: %+v", payload)
	}
	if payload.Messages[0].Text.Body != "hi" {
		t.Errorf("expected body hi, got %q", payload.Messages[0].Text.Body)
	}
	if payload.Statuses[0].Status != "read" {
		t.Errorf("expected status read, got %q", payload.Statuses[0].Status)
	}
}

func TestReplyClaimValue(t *testing.T) {
	tests := []struct {
		name     string
		reply    Reply
		expected string
	}{
		{"no annotation", Reply{Text: "hi"}, ""},
		{"top-level claim", Reply{Claim: "release"}, "release"},
		{"claim in custom payload", Reply{Custom: json.RawMessage(`{"claim":"revert"}`)}, "revert"},
		{"top-level wins over custom", Reply{Claim: "release", Custom: json.RawMessage(`{"claim":"revert"}`)}, "release"},
		{"custom without claim key", Reply{Custom: json.RawMessage(`{"buttons":[]}`)}, ""},
		{"malformed custom payload", Reply{Custom: json.RawMessage(`{not json`)}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.reply.ClaimValue(); got != tc.expected {
				t.Errorf("ClaimValue() = %q, expected %q", got, tc.expected)
			}
		})
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	resp := Success(map[string]int{"count": 1})
	if resp.Status != "ok" || resp.Result == nil {
		t.Errorf("unexpected success response: %+v", resp)
	}

	resp = SuccessWithMessage("done", nil)
	if resp.Status != "ok" || resp.Message != "done" {
		t.Errorf("unexpected success-with-message response: %+v", resp)
	}

	resp = Error("boom")
	if resp.Status != "error" || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}
}
