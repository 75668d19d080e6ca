package store

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), DriverSQLite, path, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x", logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2", pg.rebind("UPDATE t SET a = ? WHERE id = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "SELECT ? FROM t", lite.rebind("SELECT ? FROM t"))
}

func TestStore_ConsumeQuota_StopsAtLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateIdentity(ctx, &model.Identity{ID: "user-1", DailyLimit: 3}))

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ok, err := s.ConsumeQuota(ctx, "user-1", now)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i)
	}

	ok, err := s.ConsumeQuota(ctx, "user-1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := s.GetIdentity(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, id.DailyRequestCount)
	assert.Equal(t, int64(3), id.TotalRequestCount)
	assert.Equal(t, "2026-05-01", model.DayKey(id.LastRequestDate))
}

func TestStore_ConsumeQuota_DayRollover(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateIdentity(ctx, &model.Identity{ID: "user-1", DailyLimit: 1}))

	day1 := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)
	ok, err := s.ConsumeQuota(ctx, "user-1", day1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ConsumeQuota(ctx, "user-1", day1)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.ConsumeQuota(ctx, "user-1", day1.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	id, err := s.GetIdentity(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, id.DailyRequestCount)
	assert.Equal(t, int64(2), id.TotalRequestCount)
}

func TestStore_ConsumeQuota_MonthlyLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateIdentity(ctx, &model.Identity{ID: "user-1", DailyLimit: 10, MonthlyLimit: 2}))

	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for day := 0; day < 2; day++ {
		ok, err := s.ConsumeQuota(ctx, "user-1", start.AddDate(0, 0, day))
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := s.ConsumeQuota(ctx, "user-1", start.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.False(t, ok, "monthly ceiling applies across days")

	ok, err = s.ConsumeQuota(ctx, "user-1", start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, ok, "new month resets")
}

func TestStore_ConsumeQuota_UnknownIdentity(t *testing.T) {
	s := setupTestStore(t)

	ok, err := s.ConsumeQuota(context.Background(), "ghost", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)
}

func TestStore_ConsumeQuota_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	const limit, callers = 5, 40
	require.NoError(t, s.CreateIdentity(ctx, &model.Identity{ID: "user-1", DailyLimit: limit}))

	now := time.Now().UTC()
	var admitted atomic.Int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			ok, err := s.ConsumeQuota(ctx, "user-1", now)
			if ok {
				admitted.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(limit), admitted.Load())
	id, err := s.GetIdentity(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, limit, id.DailyRequestCount)
}

func TestStore_TransitionRequest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	req := &model.AIRequest{
		ID:         "req-1",
		IdentityID: "user-1",
		ToolID:     "tool-1",
		Source:     model.SourceAPI,
		Input:      "hello",
		Status:     model.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	require.NoError(t, s.TransitionRequest(ctx, "req-1", model.StatusPending, model.StatusProcessing, model.RequestUpdate{}))

	done := time.Now().UTC()
	require.NoError(t, s.TransitionRequest(ctx, "req-1", model.StatusProcessing, model.StatusCompleted, model.RequestUpdate{
		Output:           "world",
		TokenUsage:       model.TokenUsage{Prompt: 3, Completion: 4, Total: 7},
		ProcessingTimeMs: 12,
		CompletedAt:      &done,
	}))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "world", got.Output)
	assert.Equal(t, 7, got.TokenUsage.Total)
	assert.Equal(t, int64(12), got.ProcessingTimeMs)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done.UnixMilli(), got.CompletedAt.UnixMilli())

	// Terminal is final.
	err = s.TransitionRequest(ctx, "req-1", model.StatusProcessing, model.StatusFailed, model.RequestUpdate{Error: "late"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = s.TransitionRequest(ctx, "req-1", model.StatusCompleted, model.StatusProcessing, model.RequestUpdate{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err = s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestStore_TransitionRequest_FailedNeverCompletes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, &model.AIRequest{
		ID: "req-2", IdentityID: "u", ToolID: "t", Source: model.SourceWebhook,
		Input: "x", Status: model.StatusPending, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.TransitionRequest(ctx, "req-2", model.StatusPending, model.StatusProcessing, model.RequestUpdate{}))
	require.NoError(t, s.TransitionRequest(ctx, "req-2", model.StatusProcessing, model.StatusFailed, model.RequestUpdate{
		Error: "boom", ErrorKind: model.ErrorKindProvider,
	}))

	err := s.TransitionRequest(ctx, "req-2", model.StatusProcessing, model.StatusCompleted, model.RequestUpdate{Output: "ok"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.GetRequest(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, model.ErrorKindProvider, got.ErrorKind)
}

func TestStore_TransitionRequest_Unknown(t *testing.T) {
	s := setupTestStore(t)
	err := s.TransitionRequest(context.Background(), "nope", model.StatusPending, model.StatusProcessing, model.RequestUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_IntegrationCounters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateIntegration(ctx, &model.Integration{
		ID:              "int-1",
		Type:            model.IntegrationSlack,
		OwnerIdentityID: "user-1",
		Status:          model.IntegrationActive,
		WebhookSecret:   "s3cret",
		CreatedAt:       time.Now().UTC(),
	}))

	at := time.Now().UTC()
	require.NoError(t, s.RecordIntegrationUse(ctx, "int-1", at))
	require.NoError(t, s.RecordIntegrationUse(ctx, "int-1", at))
	require.NoError(t, s.RecordIntegrationError(ctx, "int-1", "provider down"))

	got, err := s.GetIntegration(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
	assert.Equal(t, int64(1), got.ErrorCount)
	assert.Equal(t, "provider down", got.LastError)
	assert.Equal(t, "s3cret", got.WebhookSecret)
	require.NotNil(t, got.LastUsed)
	assert.Equal(t, at.UnixMilli(), got.LastUsed.UnixMilli())

	assert.ErrorIs(t, s.RecordIntegrationUse(ctx, "missing", at), ErrNotFound)
	_, err = s.GetIntegration(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Tools(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTool(ctx, &model.Tool{
		ID: "tool-1", Slug: "summarizer", Name: "Summarizer",
		SystemPrompt: "Summarize.", Active: true, CreatedAt: time.Now(),
	}))

	bySlug, err := s.GetToolBySlug(ctx, "summarizer")
	require.NoError(t, err)
	assert.Equal(t, "tool-1", bySlug.ID)
	assert.True(t, bySlug.Active)

	byID, err := s.GetTool(ctx, "tool-1")
	require.NoError(t, err)
	assert.Equal(t, "Summarize.", byID.SystemPrompt)

	_, err = s.GetToolBySlug(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
