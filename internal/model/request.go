package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// RequestStatus is the lifecycle state of an AIRequest.
type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusFailed     RequestStatus = "FAILED"
)

// Terminal reports whether no further transition is permitted.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// PENDING -> FAILED covers requests whose processing could not start.
func CanTransition(from, to RequestStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// RequestSource identifies which path created a request.
type RequestSource string

const (
	SourceAPI      RequestSource = "api"
	SourceWebhook  RequestSource = "webhook"
	SourceRealtime RequestSource = "realtime"
)

// ErrorKind classifies a generation failure.
type ErrorKind string

const (
	ErrorKindProvider    ErrorKind = "provider"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindCancelled   ErrorKind = "cancelled"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindStore       ErrorKind = "store"
)

// TokenUsage is the token accounting reported by the generation collaborator.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// AIRequest is one unit of generation work and its outcome.
type AIRequest struct {
	ID               string        `json:"id"`
	IdentityID       string        `json:"identity_id"`
	ToolID           string        `json:"tool_id"`
	Source           RequestSource `json:"source"`
	Input            string        `json:"input"`
	Output           string        `json:"output,omitempty"`
	Status           RequestStatus `json:"status"`
	TokenUsage       TokenUsage    `json:"token_usage"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Error            string        `json:"error,omitempty"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// RequestUpdate carries the fields written alongside a status transition.
type RequestUpdate struct {
	Output           string
	TokenUsage       TokenUsage
	ProcessingTimeMs int64
	Error            string
	ErrorKind        ErrorKind
	CompletedAt      *time.Time
}

// Apply copies a transition's fields onto the in-memory request.
func (r *AIRequest) Apply(to RequestStatus, u RequestUpdate) {
	r.Status = to
	if u.Output != "" {
		r.Output = u.Output
	}
	if u.TokenUsage != (TokenUsage{}) {
		r.TokenUsage = u.TokenUsage
	}
	if u.ProcessingTimeMs != 0 {
		r.ProcessingTimeMs = u.ProcessingTimeMs
	}
	if u.Error != "" {
		r.Error = u.Error
		r.ErrorKind = u.ErrorKind
	}
	if u.CompletedAt != nil {
		r.CompletedAt = u.CompletedAt
	}
}

// SanitizeInput strips NUL bytes and invalid UTF-8, trims surrounding
// whitespace, and truncates to maxChars runes (0 disables truncation).
func SanitizeInput(input string, maxChars int) string {
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	if maxChars > 0 && utf8.RuneCountInString(input) > maxChars {
		runes := []rune(input)
		input = string(runes[:maxChars])
	}
	return input
}
