// Package pipeline orchestrates the inbound webhook flow: verify the
// signature, deduplicate against the idempotency ledger, forward fresh
// messages to the conversational runtime, and dispatch the resulting replies
// to the Turn platform with their claim directives.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/turnhub/turn-connector/internal/claims"
	"github.com/turnhub/turn-connector/internal/ledger"
	"github.com/turnhub/turn-connector/internal/models"
	"github.com/turnhub/turn-connector/internal/runtime"
	"github.com/turnhub/turn-connector/internal/signature"
)

// Outcome is the terminal state of handling one inbound webhook request.
type Outcome string

const (
	// OutcomeAcknowledged: at least one fresh message was processed (or the
	// payload carried only statuses); respond 200.
	OutcomeAcknowledged Outcome = "acknowledged"
	// OutcomeRejected: signature verification failed; respond 401.
	OutcomeRejected Outcome = "rejected"
	// OutcomeDuplicate: every message in the payload was already processed;
	// respond 200 without invoking the runtime.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStoreUnavailable: the ledger could not be reached; respond 503
	// so the platform redelivers.
	OutcomeStoreUnavailable Outcome = "store-unavailable"
	// OutcomeBadPayload: the body was not a parsable webhook payload;
	// respond 400.
	OutcomeBadPayload Outcome = "bad-payload"
)

// TurnClient is the outbound operation surface the pipeline needs from the
// Turn API client.
type TurnClient interface {
	SendMessage(ctx context.Context, to, body, claimID, correlationID string) error
	ReleaseClaim(ctx context.Context, claimID, correlationID string) error
	RevertClaim(ctx context.Context, messageID string) error
}

// Pipeline wires the verifier, ledger, runtime forwarder, and Turn client
// into the per-request state machine. It holds no per-request state; one
// instance serves all concurrent webhook deliveries.
type Pipeline struct {
	verifier *signature.Verifier
	ledger   ledger.Ledger
	runtime  runtime.Forwarder
	turn     TurnClient
}

// New creates a Pipeline.
func New(verifier *signature.Verifier, led ledger.Ledger, fwd runtime.Forwarder, turn TurnClient) *Pipeline {
	return &Pipeline{verifier: verifier, ledger: led, runtime: fwd, turn: turn}
}

// HandleWebhook processes one inbound delivery. rawBody is the unmodified
// request body (signature verification depends on the exact bytes);
// sigHeader and claimID come from the request headers. The context should
// not be tied to the inbound connection: outbound claim work must complete
// even if the webhook connection closes.
func (p *Pipeline) HandleWebhook(ctx context.Context, rawBody []byte, sigHeader, claimID string) Outcome {
	if err := p.verifier.Verify(rawBody, sigHeader); err != nil {
		slog.Warn("Pipeline.HandleWebhook: signature rejected", "error", err)
		return OutcomeRejected
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		slog.Warn("Pipeline.HandleWebhook: failed to decode payload", "error", err)
		return OutcomeBadPayload
	}

	for _, status := range payload.Statuses {
		slog.Debug("Pipeline.HandleWebhook: status receipt acknowledged", "messageID", status.ID, "status", status.Status)
	}

	freshCount := 0
	duplicateCount := 0
	for _, msg := range payload.Messages {
		if err := msg.Validate(); err != nil {
			slog.Warn("Pipeline.HandleWebhook: skipping malformed message entry", "error", err, "messageID", msg.ID)
			continue
		}

		fresh, err := p.ledger.RecordInbound(ctx, msg.ID, msg.From)
		if err != nil {
			// Abort before invoking the runtime: processing without a
			// recorded dedup entry would allow unrecorded duplicates.
			slog.Error("Pipeline.HandleWebhook: ledger unavailable", "error", err, "messageID", msg.ID)
			return OutcomeStoreUnavailable
		}
		if !fresh {
			slog.Info("Pipeline.HandleWebhook: duplicate delivery skipped", "messageID", msg.ID, "from", msg.From)
			duplicateCount++
			continue
		}
		freshCount++

		event := models.InboundEvent{
			MessageID:  msg.ID,
			SenderID:   msg.From,
			Body:       msg.Text.Body,
			Type:       msg.Type,
			ClaimID:    claimID,
			RawPayload: rawBody,
			ReceivedAt: time.Now(),
		}
		p.processEvent(ctx, event)
	}

	if freshCount == 0 && duplicateCount > 0 {
		return OutcomeDuplicate
	}
	return OutcomeAcknowledged
}

// processEvent forwards one fresh event to the runtime and dispatches the
// replies. Runtime and outbound failures are reported, never propagated: the
// platform redelivering the inbound event would not fix an outbound failure.
func (p *Pipeline) processEvent(ctx context.Context, event models.InboundEvent) {
	replies, err := p.runtime.Forward(ctx, event)
	if err != nil {
		slog.Error("Pipeline.processEvent: runtime invocation failed", "error", err, "messageID", event.MessageID)
		return
	}
	slog.Debug("Pipeline.processEvent: dispatching replies", "messageID", event.MessageID, "count", len(replies))

	for _, reply := range replies {
		p.dispatchReply(ctx, event, reply)
	}
}

// dispatchReply enacts one reply's claim directive. Calls within one
// directive are strictly ordered: the message send must complete before its
// paired claim release, and a failed send aborts only that directive's
// follow-up call.
func (p *Pipeline) dispatchReply(ctx context.Context, event models.InboundEvent, reply models.Reply) {
	directive := claims.Resolve(reply.ClaimValue())
	to := reply.RecipientID
	if to == "" {
		to = event.SenderID
	}

	switch directive {
	case claims.DirectiveRevert:
		// The reply body is intentionally not delivered; the inbound
		// message is requeued for platform-side handling instead.
		if err := p.turn.RevertClaim(ctx, event.MessageID); err != nil {
			slog.Error("Pipeline.dispatchReply: revert failed", "error", err, "messageID", event.MessageID)
		}

	case claims.DirectiveRelease:
		if reply.Text != "" {
			if err := p.turn.SendMessage(ctx, to, reply.Text, "", event.MessageID); err != nil {
				slog.Error("Pipeline.dispatchReply: send failed, skipping release", "error", err, "messageID", event.MessageID)
				return
			}
		}
		if event.ClaimID == "" {
			slog.Warn("Pipeline.dispatchReply: release requested but no claim id on inbound event", "messageID", event.MessageID)
			return
		}
		if err := p.turn.ReleaseClaim(ctx, event.ClaimID, event.MessageID); err != nil {
			slog.Error("Pipeline.dispatchReply: release failed", "error", err, "messageID", event.MessageID)
		}

	default: // extend
		if reply.Text == "" {
			slog.Debug("Pipeline.dispatchReply: empty reply body, nothing to send", "messageID", event.MessageID)
			return
		}
		if err := p.turn.SendMessage(ctx, to, reply.Text, event.ClaimID, event.MessageID); err != nil {
			slog.Error("Pipeline.dispatchReply: send failed", "error", err, "messageID", event.MessageID)
		}
	}
}
