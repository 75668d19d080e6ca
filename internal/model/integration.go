package model

import (
	"time"
)

// IntegrationType is the external protocol an integration speaks.
type IntegrationType string

const (
	IntegrationSlack   IntegrationType = "SLACK"
	IntegrationDiscord IntegrationType = "DISCORD"
	IntegrationChrome  IntegrationType = "CHROME"
	IntegrationZapier  IntegrationType = "ZAPIER"
	IntegrationCustom  IntegrationType = "CUSTOM"
)

// IntegrationStatus is the operational state of an integration.
type IntegrationStatus string

const (
	IntegrationPending  IntegrationStatus = "PENDING"
	IntegrationActive   IntegrationStatus = "ACTIVE"
	IntegrationInactive IntegrationStatus = "INACTIVE"
	IntegrationError    IntegrationStatus = "ERROR"
)

// Integration is an identity-owned webhook entry point.
type Integration struct {
	ID              string            `json:"id"`
	Type            IntegrationType   `json:"type"`
	OwnerIdentityID string            `json:"owner_identity_id"`
	Status          IntegrationStatus `json:"status"`
	WebhookSecret   string            `json:"-"`
	WebhookURL      string            `json:"webhook_url,omitempty"`
	UsageCount      int64             `json:"usage_count"`
	ErrorCount      int64             `json:"error_count"`
	LastUsed        *time.Time        `json:"last_used,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
