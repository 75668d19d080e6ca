package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// CreateIntegration inserts an integration.
func (s *SQLStore) CreateIntegration(ctx context.Context, in *model.Integration) error {
	query := `
		INSERT INTO integrations (
			id, type, owner_identity_id, status, webhook_secret, webhook_url,
			usage_count, error_count, last_used, last_error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		in.ID,
		string(in.Type),
		in.OwnerIdentityID,
		string(in.Status),
		in.WebhookSecret,
		in.WebhookURL,
		in.UsageCount,
		in.ErrorCount,
		nullMillis(in.LastUsed),
		in.LastError,
		toMillis(in.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting integration: %w", err)
	}
	return nil
}

// GetIntegration reads an integration by its webhook id.
func (s *SQLStore) GetIntegration(ctx context.Context, id string) (*model.Integration, error) {
	query := `
		SELECT id, type, owner_identity_id, status, webhook_secret, webhook_url,
		       usage_count, error_count, last_used, last_error, created_at
		FROM integrations
		WHERE id = ?
	`

	var (
		in        model.Integration
		typ       string
		status    string
		lastUsed  sql.NullInt64
		createdAt int64
	)
	err := s.queryRow(ctx, query, id).Scan(
		&in.ID,
		&typ,
		&in.OwnerIdentityID,
		&status,
		&in.WebhookSecret,
		&in.WebhookURL,
		&in.UsageCount,
		&in.ErrorCount,
		&lastUsed,
		&in.LastError,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying integration: %w", err)
	}

	in.Type = model.IntegrationType(typ)
	in.Status = model.IntegrationStatus(status)
	in.LastUsed = timePtr(lastUsed)
	in.CreatedAt = fromMillis(createdAt)
	return &in, nil
}

// RecordIntegrationUse increments usage_count and stamps last_used.
func (s *SQLStore) RecordIntegrationUse(ctx context.Context, id string, at time.Time) error {
	result, err := s.exec(ctx,
		`UPDATE integrations SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`,
		at.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("recording integration use: %w", err)
	}
	return requireOneRow(result)
}

// RecordIntegrationError increments error_count and stores the message.
func (s *SQLStore) RecordIntegrationError(ctx context.Context, id, message string) error {
	result, err := s.exec(ctx,
		`UPDATE integrations SET error_count = error_count + 1, last_error = ? WHERE id = ?`,
		message, id,
	)
	if err != nil {
		return fmt.Errorf("recording integration error: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
