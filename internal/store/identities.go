package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// CreateIdentity inserts an identity with zeroed counters unless set.
func (s *SQLStore) CreateIdentity(ctx context.Context, id *model.Identity) error {
	query := `
		INSERT INTO identities (
			id, daily_request_count, daily_limit, monthly_request_count, monthly_limit,
			total_request_count, last_request_day, last_request_month, last_request_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.exec(ctx, query,
		id.ID,
		id.DailyRequestCount,
		id.DailyLimit,
		id.MonthlyRequestCount,
		id.MonthlyLimit,
		id.TotalRequestCount,
		model.DayKey(id.LastRequestDate),
		model.MonthKey(id.LastRequestDate),
		toMillis(id.LastRequestDate),
	)
	if err != nil {
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// GetIdentity reads an identity's counters and limits.
func (s *SQLStore) GetIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	query := `
		SELECT id, daily_request_count, daily_limit, monthly_request_count, monthly_limit,
		       total_request_count, last_request_at
		FROM identities
		WHERE id = ?
	`

	var (
		id     model.Identity
		lastAt int64
	)
	err := s.queryRow(ctx, query, identityID).Scan(
		&id.ID,
		&id.DailyRequestCount,
		&id.DailyLimit,
		&id.MonthlyRequestCount,
		&id.MonthlyLimit,
		&id.TotalRequestCount,
		&lastAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	id.LastRequestDate = fromMillis(lastAt)
	return &id, nil
}

// ConsumeQuota atomically admits one request for the identity. The single
// UPDATE increments daily, monthly and total counters and stamps the request
// date only when the day's count (after rollover) is below daily_limit and
// the month's count is below monthly_limit (0 = unlimited). It reports
// whether the row was updated; ErrNotFound when the identity does not exist.
func (s *SQLStore) ConsumeQuota(ctx context.Context, identityID string, now time.Time) (bool, error) {
	day, month := model.DayKey(now), model.MonthKey(now)

	query := `
		UPDATE identities SET
			daily_request_count   = CASE WHEN last_request_day = ? THEN daily_request_count + 1 ELSE 1 END,
			monthly_request_count = CASE WHEN last_request_month = ? THEN monthly_request_count + 1 ELSE 1 END,
			total_request_count   = total_request_count + 1,
			last_request_day      = ?,
			last_request_month    = ?,
			last_request_at       = ?
		WHERE id = ?
		  AND (CASE WHEN last_request_day = ? THEN daily_request_count ELSE 0 END) < daily_limit
		  AND (monthly_limit = 0
		       OR (CASE WHEN last_request_month = ? THEN monthly_request_count ELSE 0 END) < monthly_limit)
	`

	result, err := s.exec(ctx, query, day, month, day, month, toMillis(now), identityID, day, month)
	if err != nil {
		return false, fmt.Errorf("consuming quota: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Zero rows: either denied or unknown. The lookup only classifies; it
	// never feeds the admission decision.
	ok, err := s.exists(ctx, "identities", identityID)
	if err != nil {
		return false, fmt.Errorf("checking identity: %w", err)
	}
	if !ok {
		return false, ErrNotFound
	}
	return false, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
