// Package api provides HTTP handlers for the Turn connector endpoints.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/turnhub/turn-connector/internal/models"
	"github.com/turnhub/turn-connector/internal/pipeline"
	"github.com/turnhub/turn-connector/internal/signature"
	"github.com/turnhub/turn-connector/internal/turnapi"
)

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing webhook delivery", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// The raw bytes are needed unmodified: the signature is computed over the
	// body exactly as delivered.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read request body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	sigHeader := r.Header.Get(signature.Header)
	claimID := r.Header.Get(turnapi.HeaderClaim)

	// Detach from the inbound connection: claim work triggered by this
	// delivery must complete even if the caller hangs up.
	outcome := s.pipeline.HandleWebhook(context.WithoutCancel(r.Context()), rawBody, sigHeader, claimID)

	switch outcome {
	case pipeline.OutcomeRejected:
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid webhook signature"))
	case pipeline.OutcomeBadPayload:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook payload"))
	case pipeline.OutcomeStoreUnavailable:
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Idempotency store unavailable, retry delivery"))
	case pipeline.OutcomeDuplicate:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Duplicate delivery ignored", nil))
	default:
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
