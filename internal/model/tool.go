package model

import (
	"time"
)

// Tool is a configured AI tool addressed by slug.
type Tool struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// IntegrationToolID is the tool id recorded for webhook-originated requests.
func IntegrationToolID(t IntegrationType) string {
	return "integration:" + string(t)
}
