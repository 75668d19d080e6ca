package model

import (
	"time"
)

// EventType represents the type of request lifecycle event.
type EventType string

const (
	EventTypeCreated   EventType = "request.created"
	EventTypeCompleted EventType = "request.completed"
	EventTypeFailed    EventType = "request.failed"
)

// RequestEvent is a lifecycle fact about an AIRequest, published to the
// event log for decoupled consumers.
type RequestEvent struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	RequestID  string        `json:"request_id"`
	IdentityID string        `json:"identity_id"`
	ToolID     string        `json:"tool_id"`
	Source     RequestSource `json:"source"`
	Status     RequestStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Sequence   uint64        `json:"sequence,omitempty"`
}

// ListRequestEventsResponse is the response for a request's event history.
type ListRequestEventsResponse struct {
	Events       []RequestEvent `json:"events"`
	LastSequence uint64         `json:"last_sequence"`
}
