package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

const (
	// StreamName is the name of the request lifecycle stream.
	StreamName = "AI_REQUESTS"

	// SubjectPrefix is the prefix for all request subjects.
	SubjectPrefix = "aireq"
)

// JetStream is the subset of jetstream.JetStream used by StreamManager.
type JetStream interface {
	Stream(ctx context.Context, stream string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	js JetStream
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{js: client.JetStream()}
}

// EnsureStream ensures the request stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "AI request lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a request event. Dots in ids would
// split subject tokens, so they are replaced.
func EventSubject(identityID, requestID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, token(identityID), token(requestID), eventSuffix(eventType))
}

// RequestFilter returns the filter subject for all events of one request.
func RequestFilter(identityID, requestID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(identityID), token(requestID))
}

func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func eventSuffix(t model.EventType) string {
	return strings.TrimPrefix(string(t), "request.")
}

// PublishRequestEvent publishes a lifecycle event to JetStream.
func (m *StreamManager) PublishRequestEvent(ctx context.Context, event *model.RequestEvent) (uint64, error) {
	subject := EventSubject(event.IdentityID, event.RequestID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// GetRequestEvents retrieves the lifecycle events of a request, oldest first.
func (m *StreamManager) GetRequestEvents(ctx context.Context, identityID, requestID string, limit int) ([]model.RequestEvent, uint64, error) {
	if limit <= 0 {
		limit = 10
	}

	consumer, err := m.js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     RequestFilter(identityID, requestID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := make([]model.RequestEvent, 0, limit)
	var lastSequence uint64

	for msg := range batch.Messages() {
		var event model.RequestEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, fmt.Errorf("batch error: %w", err)
	}

	return events, lastSequence, nil
}
