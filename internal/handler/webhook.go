package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/middleware"
	"github.com/capitalize-ai/ai-pipeline/internal/webhook"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Signature"

// WebhookAdapter handles one delivery.
type WebhookAdapter interface {
	Handle(ctx context.Context, integrationID string, rawBody []byte, signatureHeader string) (*webhook.Response, error)
}

// WebhookHandler exposes the adapter over HTTP.
type WebhookHandler struct {
	adapter WebhookAdapter
	logger  *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(adapter WebhookAdapter, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{adapter: adapter, logger: log.Component("webhook-http")}
}

// Handle handles POST /integrations/webhook/{integrationId}
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationId")
	if err := middleware.ValidateIntegrationID(integrationID); err != nil {
		writeError(w, http.StatusNotFound, webhook.ErrIntegrationNotFound.Error())
		return
	}

	// The signature covers these exact bytes.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	resp, err := h.adapter.Handle(r.Context(), integrationID, body, r.Header.Get(SignatureHeader))
	if err != nil {
		status := webhook.StatusCode(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("webhook delivery failed", zap.String("integration_id", integrationID), zap.Error(err))
			writeError(w, status, "internal server error")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp.Body)
}
