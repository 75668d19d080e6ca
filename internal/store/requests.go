package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// CreateRequest inserts a new AI request.
func (s *SQLStore) CreateRequest(ctx context.Context, req *model.AIRequest) error {
	query := `
		INSERT INTO ai_requests (id, identity_id, tool_id, source, input, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		req.ID,
		req.IdentityID,
		req.ToolID,
		string(req.Source),
		req.Input,
		string(req.Status),
		toMillis(req.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}
	return nil
}

// GetRequest reads an AI request by id.
func (s *SQLStore) GetRequest(ctx context.Context, id string) (*model.AIRequest, error) {
	query := `
		SELECT id, identity_id, tool_id, source, input, output, status,
		       prompt_tokens, completion_tokens, total_tokens, processing_time_ms,
		       error, error_kind, created_at, completed_at
		FROM ai_requests
		WHERE id = ?
	`

	var (
		req         model.AIRequest
		source      string
		status      string
		errorKind   string
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := s.queryRow(ctx, query, id).Scan(
		&req.ID,
		&req.IdentityID,
		&req.ToolID,
		&source,
		&req.Input,
		&req.Output,
		&status,
		&req.TokenUsage.Prompt,
		&req.TokenUsage.Completion,
		&req.TokenUsage.Total,
		&req.ProcessingTimeMs,
		&req.Error,
		&errorKind,
		&createdAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying request: %w", err)
	}

	req.Source = model.RequestSource(source)
	req.Status = model.RequestStatus(status)
	req.ErrorKind = model.ErrorKind(errorKind)
	req.CreatedAt = fromMillis(createdAt)
	req.CompletedAt = timePtr(completedAt)
	return &req, nil
}

// TransitionRequest moves a request from one status to the next and writes
// the accompanying fields. The update is conditional on the current status,
// so a terminal request can never be rewritten. Returns ErrInvalidTransition
// when the step is illegal or the stored status is no longer from.
func (s *SQLStore) TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, u model.RequestUpdate) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE ai_requests SET
			status = ?, output = ?, prompt_tokens = ?, completion_tokens = ?, total_tokens = ?,
			processing_time_ms = ?, error = ?, error_kind = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.exec(ctx, query,
		string(to),
		u.Output,
		u.TokenUsage.Prompt,
		u.TokenUsage.Completion,
		u.TokenUsage.Total,
		u.ProcessingTimeMs,
		u.Error,
		string(u.ErrorKind),
		nullMillis(u.CompletedAt),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("updating request status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	ok, err := s.exists(ctx, "ai_requests", id)
	if err != nil {
		return fmt.Errorf("checking request: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return fmt.Errorf("%w: request %s is not %s", ErrInvalidTransition, id, from)
}
