package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/middleware"
	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/internal/service"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

// RequestService is the lifecycle surface the API uses.
type RequestService interface {
	ResolveTool(ctx context.Context, slug string) (*model.Tool, error)
	Submit(ctx context.Context, identityID, toolID, input string, source model.RequestSource) (*model.AIRequest, error)
	Get(ctx context.Context, identityID, requestID string) (*model.AIRequest, error)
}

// EventReader reads a request's lifecycle history.
type EventReader interface {
	GetRequestEvents(ctx context.Context, identityID, requestID string, limit int) ([]model.RequestEvent, uint64, error)
}

// CreateRequestBody is the body of POST /api/v1/tools/{toolSlug}/requests.
type CreateRequestBody struct {
	Input string `json:"input"`
}

// FailedRequestResponse is returned when generation failed.
type FailedRequestResponse struct {
	Error   string           `json:"error"`
	Request *model.AIRequest `json:"request"`
}

// RequestsHandler handles the synchronous request API.
type RequestsHandler struct {
	service  RequestService
	events   EventReader
	maxInput int
	logger   *logger.Logger
}

// NewRequestsHandler creates a requests handler. events may be nil.
func NewRequestsHandler(svc RequestService, events EventReader, maxInput int, log *logger.Logger) *RequestsHandler {
	return &RequestsHandler{
		service:  svc,
		events:   events,
		maxInput: maxInput,
		logger:   log.Component("api"),
	}
}

// Create handles POST /api/v1/tools/{toolSlug}/requests
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID := middleware.GetIdentityID(ctx)
	slug := chi.URLParam(r, "toolSlug")

	if err := middleware.ValidateToolSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body CreateRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Input is truncated to maxInput runes later; reject only absurd sizes.
	if err := middleware.ValidateInput(body.Input, 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tool, err := h.service.ResolveTool(ctx, slug)
	if errors.Is(err, service.ErrToolNotFound) {
		writeError(w, http.StatusNotFound, "tool not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to resolve tool", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve tool")
		return
	}

	req, err := h.service.Submit(ctx, identityID, tool.ID, body.Input, model.SourceAPI)
	if err != nil {
		h.writeSubmitError(w, req, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

func (h *RequestsHandler) writeSubmitError(w http.ResponseWriter, req *model.AIRequest, err error) {
	var genErr *service.GenerationError
	switch {
	case errors.Is(err, service.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "daily request limit reached")
	case errors.Is(err, service.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &genErr):
		status := http.StatusBadGateway
		if genErr.Kind == model.ErrorKindTimeout {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, FailedRequestResponse{
			Error:   "generation " + string(genErr.Kind),
			Request: req,
		})
	default:
		h.logger.Error("failed to submit request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process request")
	}
}

// Get handles GET /api/v1/requests/{id}
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Events handles GET /api/v1/requests/{id}/events
func (h *RequestsHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	req, ok := h.lookup(w, r)
	if !ok {
		return
	}

	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	events, last, err := h.events.GetRequestEvents(r.Context(), req.IdentityID, req.ID, limit)
	if err != nil {
		h.logger.Error("failed to read request events", zap.String("request_id", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	writeJSON(w, http.StatusOK, model.ListRequestEventsResponse{
		Events:       events,
		LastSequence: last,
	})
}

func (h *RequestsHandler) lookup(w http.ResponseWriter, r *http.Request) (*model.AIRequest, bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := middleware.ValidateRequestID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	req, err := h.service.Get(ctx, middleware.GetIdentityID(ctx), id)
	if errors.Is(err, service.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get request", zap.String("request_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get request")
		return nil, false
	}
	return req, true
}
