package middleware

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	toolSlugPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
	integrationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// ValidateInput validates request input before sanitizing.
func ValidateInput(input string, maxBytes int) error {
	if strings.TrimSpace(input) == "" {
		return errors.New("input cannot be empty")
	}
	if maxBytes > 0 && len(input) > maxBytes {
		return errors.New("input exceeds maximum length")
	}
	if !utf8.ValidString(input) {
		return errors.New("input must be valid UTF-8")
	}
	return nil
}

// ValidateToolSlug validates a tool slug.
func ValidateToolSlug(slug string) error {
	if !toolSlugPattern.MatchString(slug) {
		return errors.New("invalid tool slug")
	}
	return nil
}

// ValidateRequestID validates an AI request ID.
func ValidateRequestID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid request ID format")
	}
	return nil
}

// ValidateIntegrationID validates a webhook integration id.
func ValidateIntegrationID(id string) error {
	if !integrationIDPattern.MatchString(id) {
		return errors.New("invalid integration ID format")
	}
	return nil
}
