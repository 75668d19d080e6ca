package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// CreateTool inserts a tool definition.
func (s *SQLStore) CreateTool(ctx context.Context, tool *model.Tool) error {
	query := `
		INSERT INTO tools (id, slug, name, system_prompt, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query, tool.ID, tool.Slug, tool.Name, tool.SystemPrompt, tool.Active, toMillis(tool.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting tool: %w", err)
	}
	return nil
}

// GetTool reads a tool by id.
func (s *SQLStore) GetTool(ctx context.Context, id string) (*model.Tool, error) {
	return s.getTool(ctx, "id", id)
}

// GetToolBySlug reads a tool by its public slug.
func (s *SQLStore) GetToolBySlug(ctx context.Context, slug string) (*model.Tool, error) {
	return s.getTool(ctx, "slug", slug)
}

func (s *SQLStore) getTool(ctx context.Context, column, value string) (*model.Tool, error) {
	query := `SELECT id, slug, name, system_prompt, active, created_at FROM tools WHERE ` + column + ` = ?`

	var (
		tool      model.Tool
		createdAt int64
	)
	err := s.queryRow(ctx, query, value).Scan(&tool.ID, &tool.Slug, &tool.Name, &tool.SystemPrompt, &tool.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tool: %w", err)
	}
	tool.CreatedAt = fromMillis(createdAt)
	return &tool, nil
}
