package model

import (
	"encoding/json"
	"time"
)

// Real-time event names, client to server.
const (
	EventStreamStart       = "ai:stream:start"
	EventStreamCancel      = "ai:stream:cancel"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
)

// Real-time event names, server to client.
const (
	EventStreamStarted  = "ai:stream:started"
	EventStreamChunk    = "ai:stream:chunk"
	EventStreamComplete = "ai:stream:complete"
	EventStreamError    = "ai:stream:error"
	EventTypingUpdate   = "typing:update"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventError          = "error"
)

// Envelope is the wire frame for every real-time message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a frame.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Connection is a registry entry for one live transport session.
type Connection struct {
	SocketID    string    `json:"socket_id"`
	IdentityID  string    `json:"identity_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// StreamState is the state of a streaming session.
type StreamState string

const (
	StreamStreaming StreamState = "STREAMING"
	StreamCompleted StreamState = "COMPLETED"
	StreamCancelled StreamState = "CANCELLED"
	StreamFailed    StreamState = "FAILED"
)

// StreamStartPayload is the body of ai:stream:start.
type StreamStartPayload struct {
	ToolSlug       string `json:"toolSlug"`
	Input          string `json:"input"`
	ConversationID string `json:"conversationId"`
}

// ConversationPayload carries a conversation id for join/leave/typing/cancel.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// StreamStartedEvent is the body of ai:stream:started.
type StreamStartedEvent struct {
	ConversationID string `json:"conversationId"`
	RequestID      string `json:"requestId,omitempty"`
}

// StreamChunkEvent is the body of ai:stream:chunk.
type StreamChunkEvent struct {
	ConversationID string `json:"conversationId"`
	Chunk          string `json:"chunk"`
	Index          int    `json:"index"`
}

// StreamCompleteEvent is the body of ai:stream:complete.
type StreamCompleteEvent struct {
	ConversationID string `json:"conversationId"`
	FullResponse   string `json:"fullResponse"`
	RequestID      string `json:"requestId,omitempty"`
}

// StreamErrorEvent is the body of ai:stream:error.
type StreamErrorEvent struct {
	ConversationID string `json:"conversationId"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// TypingUpdateEvent is the body of typing:update.
type TypingUpdateEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// PresenceEvent is the body of user:online and user:offline.
type PresenceEvent struct {
	UserID string `json:"userId"`
}

// ErrorEvent represents a protocol-level error sent to a client.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
