package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/middleware"
	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/internal/store"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

// IdentityReader loads identities.
type IdentityReader interface {
	GetIdentity(ctx context.Context, identityID string) (*model.Identity, error)
}

// QuotaReporter builds the caller-facing quota view.
type QuotaReporter interface {
	Snapshot(ctx context.Context, identity *model.Identity) (model.QuotaSnapshot, error)
}

// QuotaHandler reports usage counters.
type QuotaHandler struct {
	identities IdentityReader
	ledger     QuotaReporter
	logger     *logger.Logger
}

// NewQuotaHandler creates a quota handler.
func NewQuotaHandler(identities IdentityReader, ledger QuotaReporter, log *logger.Logger) *QuotaHandler {
	return &QuotaHandler{identities: identities, ledger: ledger, logger: log.Component("api")}
}

// Get handles GET /api/v1/quota
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID := middleware.GetIdentityID(ctx)

	identity, err := h.identities.GetIdentity(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load identity", zap.String("identity_id", identityID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load quota")
		return
	}

	snap, err := h.ledger.Snapshot(ctx, identity)
	if err != nil {
		h.logger.Error("failed to read quota", zap.String("identity_id", identityID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load quota")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
