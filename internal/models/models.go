// Package models defines the core data structures for the Turn connector.
//
// It includes types for inbound webhook events, runtime replies, and the
// JSON response envelope shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrMissingMessageID = errors.New("inbound message is missing an id")
	ErrMissingSender    = errors.New("inbound message is missing a sender")
)

// WebhookPayload is the body of an inbound Turn webhook delivery. A single
// delivery may carry message entries, status (receipt) entries, or both.
type WebhookPayload struct {
	Messages []WebhookMessage `json:"messages,omitempty"`
	Statuses []WebhookStatus  `json:"statuses,omitempty"`
}

// WebhookMessage is one inbound message entry from the Turn webhook payload.
type WebhookMessage struct {
	ID   string      `json:"id"`
	From string      `json:"from"`
	Type string      `json:"type,omitempty"`
	Text WebhookText `json:"text,omitempty"`
}

// WebhookText holds the text content of a message entry.
type WebhookText struct {
	Body string `json:"body"`
}

// WebhookStatus is a delivery receipt entry (sent, delivered, read). The
// connector acknowledges these but does not forward them to the runtime.
type WebhookStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Validate checks that a message entry carries the fields the pipeline
// depends on.
func (m WebhookMessage) Validate() error {
	if m.ID == "" {
		return ErrMissingMessageID
	}
	if m.From == "" {
		return ErrMissingSender
	}
	return nil
}

// InboundEvent is one verified, deduplicated webhook message on its way to
// the conversational runtime. MessageID is the deduplication key and the
// anchor for revert-claim calls; ClaimID is the conversation claim UUID from
// the X-Turn-Claim header, threaded explicitly rather than read from ambient
// state.
type InboundEvent struct {
	MessageID  string
	SenderID   string
	Body       string
	Type       string
	ClaimID    string
	RawPayload []byte
	ReceivedAt time.Time
}

// Reply is one outgoing message emitted by the conversational runtime. The
// optional Claim field carries the claim directive literal (extend, release,
// revert); runtimes that emit custom payloads may nest it under Custom
// instead.
type Reply struct {
	RecipientID string          `json:"recipient_id,omitempty"`
	Text        string          `json:"text,omitempty"`
	Claim       string          `json:"claim,omitempty"`
	Custom      json.RawMessage `json:"custom,omitempty"`
}

// ClaimValue returns the raw claim annotation on the reply. The top-level
// field wins; otherwise a "claim" key inside the custom payload is honored.
// Absent annotation returns the empty string.
func (r Reply) ClaimValue() string {
	if r.Claim != "" {
		return r.Claim
	}
	if len(r.Custom) == 0 {
		return ""
	}
	var custom struct {
		Claim string `json:"claim"`
	}
	if err := json.Unmarshal(r.Custom, &custom); err != nil {
		return ""
	}
	return custom.Claim
}

// APIResponse is the standard JSON envelope for connector HTTP responses.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with an optional result.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: "ok", Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
