// Package service implements the request lifecycle: admission, persistence,
// generation, and terminal bookkeeping for every AI request regardless of
// where it came from.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/llm"
	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/internal/quota"
	"github.com/capitalize-ai/ai-pipeline/internal/store"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
	"github.com/capitalize-ai/ai-pipeline/pkg/metrics"
	"github.com/capitalize-ai/ai-pipeline/pkg/tracing"
)

const publishTimeout = 5 * time.Second

// Store is the persistence the lifecycle needs.
type Store interface {
	CreateRequest(ctx context.Context, req *model.AIRequest) error
	GetRequest(ctx context.Context, id string) (*model.AIRequest, error)
	TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, u model.RequestUpdate) error
	GetTool(ctx context.Context, id string) (*model.Tool, error)
	GetToolBySlug(ctx context.Context, slug string) (*model.Tool, error)
}

// Admitter decides whether an identity may start another request.
type Admitter interface {
	TryConsume(ctx context.Context, identityID string) (quota.Decision, error)
}

// EventPublisher receives lifecycle events. Publishing is best effort.
type EventPublisher interface {
	PublishRequestEvent(ctx context.Context, event *model.RequestEvent) (uint64, error)
}

// ChunkFunc receives generated fragments in order.
type ChunkFunc func(chunk string) error

// Options tunes generation.
type Options struct {
	Model             string
	MaxTokens         int
	GenerationTimeout time.Duration
	MaxInputChars     int
}

// RequestService owns the AIRequest state machine.
type RequestService struct {
	store  Store
	ledger Admitter
	llm    llm.Client
	events EventPublisher
	opts   Options
	tracer trace.Tracer
	logger *logger.Logger
	now    func() time.Time
}

// NewRequestService creates a request service. generator and events may be
// nil: without a generator every request fails as unavailable, and without
// events nothing is published.
func NewRequestService(st Store, ledger Admitter, generator llm.Client, events EventPublisher, opts Options, log *logger.Logger) *RequestService {
	return &RequestService{
		store:  st,
		ledger: ledger,
		llm:    generator,
		events: events,
		opts:   opts,
		tracer: tracing.Tracer(),
		logger: log.Component("lifecycle"),
		now:    time.Now,
	}
}

// ResolveTool returns the active tool for slug.
func (s *RequestService) ResolveTool(ctx context.Context, slug string) (*model.Tool, error) {
	tool, err := s.store.GetToolBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrToolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tool: %w", err)
	}
	if !tool.Active {
		return nil, ErrToolNotFound
	}
	return tool, nil
}

// Get returns a request owned by identityID.
func (s *RequestService) Get(ctx context.Context, identityID, requestID string) (*model.AIRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if req.IdentityID != identityID {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

// Create persists a PENDING request with sanitized input.
func (s *RequestService) Create(ctx context.Context, identityID, toolID, input string, source model.RequestSource) (*model.AIRequest, error) {
	input = model.SanitizeInput(input, s.opts.MaxInputChars)
	if input == "" {
		return nil, ErrEmptyInput
	}

	req := &model.AIRequest{
		ID:         uuid.Must(uuid.NewV7()).String(),
		IdentityID: identityID,
		ToolID:     toolID,
		Source:     source,
		Input:      input,
		Status:     model.StatusPending,
		CreatedAt:  s.now().UTC(),
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.publish(ctx, model.EventTypeCreated, req)
	return req, nil
}

// Process runs generation for a PENDING request and records the outcome.
// A *GenerationError is returned alongside the FAILED request.
func (s *RequestService) Process(ctx context.Context, req *model.AIRequest) (*model.AIRequest, error) {
	return s.process(ctx, req, nil)
}

// ProcessStream is Process using the streaming generation call. onChunk
// receives every fragment in order before the request is completed.
func (s *RequestService) ProcessStream(ctx context.Context, req *model.AIRequest, onChunk ChunkFunc) (*model.AIRequest, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	return s.process(ctx, req, onChunk)
}

// Submit admits, creates, and processes a request in one call.
func (s *RequestService) Submit(ctx context.Context, identityID, toolID, input string, source model.RequestSource) (*model.AIRequest, error) {
	if err := s.admit(ctx, identityID, input); err != nil {
		return nil, err
	}

	req, err := s.Create(ctx, identityID, toolID, input, source)
	if err != nil {
		return nil, err
	}

	return s.Process(ctx, req)
}

// SubmitStream admits, creates, and stream-processes a request. onCreated,
// when set, sees the PENDING request before generation starts.
func (s *RequestService) SubmitStream(ctx context.Context, identityID, toolID, input string, source model.RequestSource, onCreated func(*model.AIRequest), onChunk ChunkFunc) (*model.AIRequest, error) {
	if err := s.admit(ctx, identityID, input); err != nil {
		return nil, err
	}

	req, err := s.Create(ctx, identityID, toolID, input, source)
	if err != nil {
		return nil, err
	}
	if onCreated != nil {
		onCreated(req)
	}

	return s.ProcessStream(ctx, req, onChunk)
}

func (s *RequestService) admit(ctx context.Context, identityID, input string) error {
	if model.SanitizeInput(input, s.opts.MaxInputChars) == "" {
		return ErrEmptyInput
	}

	decision, err := s.ledger.TryConsume(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to check quota: %w", err)
	}
	if decision != quota.Allowed {
		return ErrQuotaExceeded
	}
	return nil
}

func (s *RequestService) process(ctx context.Context, req *model.AIRequest, onChunk ChunkFunc) (*model.AIRequest, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.process", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.source", string(req.Source)),
		attribute.Bool("request.stream", onChunk != nil),
	))
	defer span.End()

	// Terminal writes must land even if the caller goes away.
	persistCtx := context.WithoutCancel(ctx)

	if err := s.store.TransitionRequest(persistCtx, req.ID, model.StatusPending, model.StatusProcessing, model.RequestUpdate{}); err != nil {
		span.RecordError(err)
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to start processing: %w", err)
		}
		// A request that could not start still has to end terminal.
		return s.fail(persistCtx, span, req, model.StatusPending, model.ErrorKindStore,
			fmt.Errorf("failed to start processing: %w", err), 0)
	}
	req.Apply(model.StatusProcessing, model.RequestUpdate{})

	if s.llm == nil {
		return s.fail(persistCtx, span, req, model.StatusProcessing, model.ErrorKindUnavailable, errNoGenerator, 0)
	}

	genCtx := ctx
	if s.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.opts.GenerationTimeout)
		defer cancel()
	}

	completion := llm.PromptRequest(s.opts.Model, s.systemPrompt(ctx, req.ToolID), req.Input)
	completion.MaxTokens = s.opts.MaxTokens

	start := time.Now()
	var resp *llm.CompletionResponse
	var err error
	if onChunk == nil {
		resp, err = s.llm.Complete(genCtx, completion)
	} else {
		resp, err = s.llm.CompleteStream(genCtx, completion, func(token string, _ int) error {
			return onChunk(token)
		})
	}
	elapsed := time.Since(start)

	if err != nil {
		return s.fail(persistCtx, span, req, model.StatusProcessing, classify(ctx, genCtx, err), err, elapsed)
	}

	completedAt := s.now().UTC()
	update := model.RequestUpdate{
		Output: resp.Content,
		TokenUsage: model.TokenUsage{
			Prompt:     resp.TokensIn,
			Completion: resp.TokensOut,
			Total:      resp.TotalTokens(),
		},
		ProcessingTimeMs: elapsed.Milliseconds(),
		CompletedAt:      &completedAt,
	}
	if err := s.store.TransitionRequest(persistCtx, req.ID, model.StatusProcessing, model.StatusCompleted, update); err != nil {
		span.RecordError(err)
		return s.fail(persistCtx, span, req, model.StatusProcessing, model.ErrorKindStore,
			fmt.Errorf("failed to complete request: %w", err), elapsed)
	}
	req.Apply(model.StatusCompleted, update)

	metrics.RecordAIRequest(string(req.Source), string(model.StatusCompleted), elapsed.Seconds())
	metrics.RecordTokens(s.llm.Name(), resp.TokensIn, resp.TokensOut)
	span.SetAttributes(attribute.Int("llm.tokens.total", update.TokenUsage.Total))

	s.logger.Info("request completed",
		zap.String("request_id", req.ID),
		zap.String("identity_id", req.IdentityID),
		zap.String("source", string(req.Source)),
		zap.Duration("latency", elapsed),
		zap.Int("tokens", update.TokenUsage.Total),
	)

	s.publish(persistCtx, model.EventTypeCompleted, req)
	return req, nil
}

// fail moves req from its current status to FAILED.
func (s *RequestService) fail(ctx context.Context, span trace.Span, req *model.AIRequest, from model.RequestStatus, kind model.ErrorKind, cause error, elapsed time.Duration) (*model.AIRequest, error) {
	completedAt := s.now().UTC()
	update := model.RequestUpdate{
		Error:            cause.Error(),
		ErrorKind:        kind,
		ProcessingTimeMs: elapsed.Milliseconds(),
		CompletedAt:      &completedAt,
	}
	if err := s.store.TransitionRequest(ctx, req.ID, from, model.StatusFailed, update); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}
	req.Apply(model.StatusFailed, update)

	span.RecordError(cause)
	span.SetStatus(codes.Error, string(kind))
	metrics.RecordAIRequest(string(req.Source), string(model.StatusFailed), elapsed.Seconds())

	s.logger.Warn("request failed",
		zap.String("request_id", req.ID),
		zap.String("identity_id", req.IdentityID),
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)

	s.publish(ctx, model.EventTypeFailed, req)
	return req, &GenerationError{Kind: kind, RequestID: req.ID, Err: cause}
}

func (s *RequestService) systemPrompt(ctx context.Context, toolID string) string {
	tool, err := s.store.GetTool(ctx, toolID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load tool", zap.String("tool_id", toolID), zap.Error(err))
		}
		return ""
	}
	return tool.SystemPrompt
}

func (s *RequestService) publish(ctx context.Context, eventType model.EventType, req *model.AIRequest) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := &model.RequestEvent{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       eventType,
		RequestID:  req.ID,
		IdentityID: req.IdentityID,
		ToolID:     req.ToolID,
		Source:     req.Source,
		Status:     req.Status,
		Error:      req.Error,
		ErrorKind:  req.ErrorKind,
		CreatedAt:  s.now().UTC(),
	}
	if _, err := s.events.PublishRequestEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish request event",
			zap.String("request_id", req.ID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}

// classify maps a generation error to its kind. Caller cancellation wins
// over the generation deadline.
func classify(callerCtx, genCtx context.Context, err error) model.ErrorKind {
	switch {
	case callerCtx.Err() != nil:
		return model.ErrorKindCancelled
	case errors.Is(genCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return model.ErrorKindCancelled
	default:
		return model.ErrorKindProvider
	}
}
