// Package model defines data structures for the AI request pipeline.
package model

import (
	"time"
)

// Identity is a tenant/user whose usage counters gate admission.
type Identity struct {
	ID                  string    `json:"id"`
	DailyRequestCount   int       `json:"daily_request_count"`
	DailyLimit          int       `json:"daily_limit"`
	MonthlyRequestCount int       `json:"monthly_request_count"`
	MonthlyLimit        int       `json:"monthly_limit"` // 0 means unlimited
	TotalRequestCount   int64     `json:"total_request_count"`
	LastRequestDate     time.Time `json:"last_request_date,omitempty"`
}

// QuotaSnapshot is the caller-facing view of an identity's counters.
type QuotaSnapshot struct {
	IdentityID     string `json:"identity_id"`
	DailyUsed      int    `json:"daily_used"`
	DailyLimit     int    `json:"daily_limit"`
	DailyRemaining int    `json:"daily_remaining"`
	MonthlyUsed    int    `json:"monthly_used"`
	MonthlyLimit   int    `json:"monthly_limit"`
	TotalRequests  int64  `json:"total_requests"`
}

// Snapshot returns the counters as of now, applying day and month rollover
// the same way the ledger does.
func (i *Identity) Snapshot(now time.Time) QuotaSnapshot {
	daily, monthly := i.DailyRequestCount, i.MonthlyRequestCount
	if DayKey(i.LastRequestDate) != DayKey(now) {
		daily = 0
	}
	if MonthKey(i.LastRequestDate) != MonthKey(now) {
		monthly = 0
	}
	remaining := i.DailyLimit - daily
	if remaining < 0 {
		remaining = 0
	}
	return QuotaSnapshot{
		IdentityID:     i.ID,
		DailyUsed:      daily,
		DailyLimit:     i.DailyLimit,
		DailyRemaining: remaining,
		MonthlyUsed:    monthly,
		MonthlyLimit:   i.MonthlyLimit,
		TotalRequests:  i.TotalRequestCount,
	}
}

// DayKey is the UTC calendar day a counter belongs to.
func DayKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// MonthKey is the UTC calendar month a counter belongs to.
func MonthKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01")
}
