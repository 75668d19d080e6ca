package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/internal/service"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
	"github.com/capitalize-ai/ai-pipeline/pkg/metrics"
)

// Stream error codes sent in ai:stream:error.
const (
	CodeStreamActive     = "stream_active"
	CodeQuotaExceeded    = "quota_exceeded"
	CodeGenerationFailed = "generation_failed"
	CodeToolNotFound     = "tool_not_found"
	CodeInvalidPayload   = "invalid_payload"
	CodeCancelled        = "cancelled"
)

// Runner resolves tools and runs streaming requests.
type Runner interface {
	ResolveTool(ctx context.Context, slug string) (*model.Tool, error)
	SubmitStream(ctx context.Context, identityID, toolID, input string, source model.RequestSource, onCreated func(*model.AIRequest), onChunk service.ChunkFunc) (*model.AIRequest, error)
}

// Streamer runs streaming sessions for connections.
type Streamer struct {
	runner Runner
	delay  time.Duration
	logger *logger.Logger
}

// NewStreamer creates a streamer. delay paces consecutive chunks.
func NewStreamer(runner Runner, delay time.Duration, log *logger.Logger) *Streamer {
	return &Streamer{
		runner: runner,
		delay:  delay,
		logger: log.Component("stream"),
	}
}

// Start begins a session on c for p.ConversationID. The session runs in its
// own goroutine and is cancelled when c closes or the client cancels it.
// The returned channel is closed when the session ends.
func (s *Streamer) Start(c *Conn, p model.StreamStartPayload) <-chan struct{} {
	done := make(chan struct{})

	if p.ConversationID == "" || p.ToolSlug == "" || strings.TrimSpace(p.Input) == "" {
		s.fail(c, p.ConversationID, CodeInvalidPayload, "conversationId, toolSlug and input are required")
		close(done)
		return done
	}

	ctx, ok := c.beginStream(p.ConversationID)
	if !ok {
		s.fail(c, p.ConversationID, CodeStreamActive, "a stream is already active for this conversation")
		close(done)
		return done
	}

	go func() {
		defer close(done)
		defer c.endStream(p.ConversationID)
		s.run(ctx, c, p)
	}()
	return done
}

func (s *Streamer) run(ctx context.Context, c *Conn, p model.StreamStartPayload) {
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	state := model.StreamStreaming
	defer func() { metrics.StreamSessionsTotal.WithLabelValues(string(state)).Inc() }()

	log := s.logger.With(
		zap.String("identity_id", c.IdentityID),
		zap.String("conversation_id", p.ConversationID),
	)

	tool, err := s.runner.ResolveTool(ctx, p.ToolSlug)
	if err != nil {
		state = model.StreamFailed
		if errors.Is(err, service.ErrToolNotFound) {
			s.fail(c, p.ConversationID, CodeToolNotFound, "unknown tool "+p.ToolSlug)
			return
		}
		log.Error("failed to resolve tool", zap.Error(err))
		s.fail(c, p.ConversationID, CodeGenerationFailed, "generation failed")
		return
	}

	var full strings.Builder
	index := 0

	onCreated := func(req *model.AIRequest) {
		_ = c.Send(mustEnvelope(model.EventStreamStarted, model.StreamStartedEvent{
			ConversationID: p.ConversationID,
			RequestID:      req.ID,
		}))
	}

	onChunk := func(chunk string) error {
		if index > 0 && s.delay > 0 {
			timer := time.NewTimer(s.delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err := c.Send(mustEnvelope(model.EventStreamChunk, model.StreamChunkEvent{
			ConversationID: p.ConversationID,
			Chunk:          chunk,
			Index:          index,
		}))
		if err != nil {
			return err
		}
		full.WriteString(chunk)
		index++
		metrics.StreamChunksTotal.Inc()
		return nil
	}

	req, err := s.runner.SubmitStream(ctx, c.IdentityID, tool.ID, p.Input, model.SourceRealtime, onCreated, onChunk)
	switch {
	case err == nil:
		state = model.StreamCompleted
		_ = c.Send(mustEnvelope(model.EventStreamComplete, model.StreamCompleteEvent{
			ConversationID: p.ConversationID,
			FullResponse:   full.String(),
			RequestID:      req.ID,
		}))
		log.Debug("stream completed", zap.Int("chunks", index))

	case errors.Is(err, service.ErrQuotaExceeded):
		state = model.StreamFailed
		s.fail(c, p.ConversationID, CodeQuotaExceeded, "daily request limit reached")

	case errors.Is(err, service.ErrEmptyInput):
		state = model.StreamFailed
		s.fail(c, p.ConversationID, CodeInvalidPayload, "input is empty")

	case ctx.Err() != nil:
		state = model.StreamCancelled
		s.fail(c, p.ConversationID, CodeCancelled, "stream cancelled")
		log.Debug("stream cancelled", zap.Int("chunks", index))

	default:
		state = model.StreamFailed
		log.Warn("stream generation failed", zap.Error(err))
		s.fail(c, p.ConversationID, CodeGenerationFailed, "generation failed")
	}
}

// Cancel stops the active stream for conversationID on c.
func (s *Streamer) Cancel(c *Conn, conversationID string) bool {
	return c.cancelStream(conversationID)
}

// fail reports a stream error to the owner without waiting on a full buffer.
func (s *Streamer) fail(c *Conn, conversationID, code, message string) {
	c.TrySend(mustEnvelope(model.EventStreamError, model.StreamErrorEvent{
		ConversationID: conversationID,
		Code:           code,
		Message:        message,
	}))
}
