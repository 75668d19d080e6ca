package service

import (
	"errors"
	"fmt"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

var (
	// ErrQuotaExceeded is returned when the ledger denies admission.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrToolNotFound is returned when a tool slug does not resolve to an active tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrRequestNotFound is returned when a request does not exist for the caller.
	ErrRequestNotFound = errors.New("request not found")

	// ErrEmptyInput is returned when input is empty after sanitizing.
	ErrEmptyInput = errors.New("input is empty")

	errNoGenerator = errors.New("no generation provider configured")
)

// GenerationError reports a request that ended FAILED because generation
// did not succeed. The request itself is already terminal when this is
// returned.
type GenerationError struct {
	Kind      model.ErrorKind
	RequestID string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s for request %s: %v", e.Kind, e.RequestID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a generation timeout.
func IsTimeout(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Kind == model.ErrorKindTimeout
}
