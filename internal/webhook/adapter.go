// Package webhook translates third-party webhook deliveries into AI
// requests and answers each platform in its own response format.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/internal/service"
	"github.com/capitalize-ai/ai-pipeline/internal/store"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
	"github.com/capitalize-ai/ai-pipeline/pkg/metrics"
)

// LimitMessage replaces generated content when the owner is out of quota.
const LimitMessage = "Daily request limit reached. Please try again tomorrow or upgrade your plan."

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrIntegrationInactive = errors.New("integration is not active")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrUnsupportedAction   = errors.New("unsupported webhook action")
	ErrGenerationFailed    = errors.New("webhook generation failed")
)

// IntegrationStore resolves integrations and records their counters.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id string) (*model.Integration, error)
	RecordIntegrationUse(ctx context.Context, id string, at time.Time) error
	RecordIntegrationError(ctx context.Context, id, message string) error
}

// Runner admits and processes a request on behalf of an identity.
type Runner interface {
	Submit(ctx context.Context, identityID, toolID, input string, source model.RequestSource) (*model.AIRequest, error)
}

// Response is a platform-shaped JSON body to return with 200.
type Response struct {
	Body any
}

// Options configures an Adapter.
type Options struct {
	// RequireSignature rejects unsigned deliveries to integrations with a secret.
	RequireSignature bool
}

type normalizer func(ctx context.Context, in *model.Integration, body []byte) (any, error)

// Adapter handles inbound webhook deliveries.
type Adapter struct {
	store       IntegrationStore
	runner      Runner
	opts        Options
	normalizers map[model.IntegrationType]normalizer
	logger      *logger.Logger
	now         func() time.Time
}

// NewAdapter creates a webhook adapter.
func NewAdapter(st IntegrationStore, runner Runner, opts Options, log *logger.Logger) *Adapter {
	a := &Adapter{
		store:  st,
		runner: runner,
		opts:   opts,
		logger: log.Component("webhook"),
		now:    time.Now,
	}
	a.normalizers = map[model.IntegrationType]normalizer{
		model.IntegrationSlack:   a.handleSlack,
		model.IntegrationDiscord: a.handleDiscord,
		model.IntegrationChrome:  a.handleChrome,
		model.IntegrationZapier:  a.handleGeneric,
		model.IntegrationCustom:  a.handleGeneric,
	}
	return a
}

// Handle runs one delivery through resolution, status and signature gates,
// usage accounting and per-type dispatch. rawBody must be the exact bytes
// received.
func (a *Adapter) Handle(ctx context.Context, integrationID string, rawBody []byte, signatureHeader string) (*Response, error) {
	in, err := a.store.GetIntegration(ctx, integrationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve integration: %w", err)
	}

	outcome := "ok"
	defer func() { metrics.RecordWebhook(string(in.Type), outcome) }()

	if in.Status != model.IntegrationActive {
		outcome = "inactive"
		return nil, ErrIntegrationInactive
	}

	if in.WebhookSecret != "" {
		switch {
		case signatureHeader != "":
			if !VerifySignature(in.WebhookSecret, rawBody, signatureHeader) {
				outcome = "bad_signature"
				return nil, ErrInvalidSignature
			}
		case a.opts.RequireSignature:
			outcome = "bad_signature"
			return nil, ErrInvalidSignature
		}
	}

	if err := a.store.RecordIntegrationUse(context.WithoutCancel(ctx), in.ID, a.now().UTC()); err != nil {
		outcome = "error"
		return nil, fmt.Errorf("failed to record integration use: %w", err)
	}

	handle, ok := a.normalizers[in.Type]
	if !ok {
		outcome = "unsupported"
		return nil, fmt.Errorf("%w: integration type %s", ErrUnsupportedAction, in.Type)
	}

	body, err := handle(ctx, in, rawBody)
	if err != nil {
		switch {
		case errors.Is(err, ErrGenerationFailed):
			outcome = "error"
		case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrUnsupportedAction):
			outcome = "rejected"
		default:
			outcome = "error"
		}
		return nil, err
	}

	return &Response{Body: body}, nil
}

// forwardResult is the outcome of sending text into the lifecycle.
type forwardResult struct {
	Output    string
	RequestID string
	Limited   bool
}

// Content is the generated text, or LimitMessage when quota was denied.
func (r forwardResult) Content() string {
	if r.Limited {
		return LimitMessage
	}
	return r.Output
}

func (a *Adapter) forward(ctx context.Context, in *model.Integration, input string) (forwardResult, error) {
	req, err := a.runner.Submit(ctx, in.OwnerIdentityID, model.IntegrationToolID(in.Type), input, model.SourceWebhook)
	switch {
	case err == nil:
		return forwardResult{Output: req.Output, RequestID: req.ID}, nil
	case errors.Is(err, service.ErrQuotaExceeded):
		a.logger.Info("webhook owner over quota",
			zap.String("integration_id", in.ID),
			zap.String("identity_id", in.OwnerIdentityID),
		)
		return forwardResult{Limited: true}, nil
	case errors.Is(err, service.ErrEmptyInput):
		return forwardResult{}, fmt.Errorf("%w: empty input", ErrMalformedPayload)
	}

	if recErr := a.store.RecordIntegrationError(context.WithoutCancel(ctx), in.ID, err.Error()); recErr != nil {
		a.logger.Error("failed to record integration error",
			zap.String("integration_id", in.ID),
			zap.Error(recErr),
		)
	}
	a.logger.Warn("webhook generation failed",
		zap.String("integration_id", in.ID),
		zap.String("type", string(in.Type)),
		zap.Error(err),
	)
	return forwardResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// StatusCode maps an adapter error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrIntegrationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrIntegrationInactive),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrUnsupportedAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
