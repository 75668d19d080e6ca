package model

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []RequestStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]RequestStatus]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusPending, StatusFailed}:       true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]RequestStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRequestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxChars int
		want     string
	}{
		{"trims whitespace", "  hello \n", 100, "hello"},
		{"strips NUL", "he\x00llo", 100, "hello"},
		{"strips invalid utf8", "ok\xffok", 100, "okok"},
		{"truncates by rune", "héllo wörld", 5, "héllo"},
		{"zero disables truncation", strings.Repeat("a", 50), 0, strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeInput(tt.input, tt.maxChars)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestIdentitySnapshot_RollsOver(t *testing.T) {
	yesterday := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	id := &Identity{
		ID:                  "id-1",
		DailyRequestCount:   7,
		DailyLimit:          10,
		MonthlyRequestCount: 40,
		TotalRequestCount:   99,
		LastRequestDate:     yesterday,
	}

	same := id.Snapshot(yesterday.Add(30 * time.Minute))
	assert.Equal(t, 7, same.DailyUsed)
	assert.Equal(t, 3, same.DailyRemaining)
	assert.Equal(t, 40, same.MonthlyUsed)

	next := id.Snapshot(yesterday.Add(2 * time.Hour))
	assert.Equal(t, 0, next.DailyUsed)
	assert.Equal(t, 10, next.DailyRemaining)
	assert.Equal(t, 0, next.MonthlyUsed)
	assert.Equal(t, int64(99), next.TotalRequests)
}
