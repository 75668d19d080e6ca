// Package quota implements per-identity admission control. Every decision is
// a single atomic check-and-increment performed by the backing store.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
	"github.com/capitalize-ai/ai-pipeline/pkg/metrics"
)

// Decision is the outcome of an admission attempt.
type Decision int

// Admission outcomes.
const (
	// Denied means a ceiling was reached and nothing was consumed.
	Denied Decision = iota
	// Allowed means one slot was consumed.
	Allowed
)

// String returns the metric label for d.
func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Counter is a store that can admit one request atomically. Implementations
// must perform the limit check and the increment as one operation.
type Counter interface {
	ConsumeQuota(ctx context.Context, identityID string, now time.Time) (bool, error)
}

// Ledger gates work on per-identity usage ceilings.
type Ledger struct {
	counter Counter
	backend string
	now     func() time.Time
	logger  *logger.Logger
}

// NewLedger creates a ledger over counter. backend labels metrics and logs.
func NewLedger(counter Counter, backend string, log *logger.Logger) *Ledger {
	return &Ledger{
		counter: counter,
		backend: backend,
		now:     time.Now,
		logger:  log.Component("quota"),
	}
}

// TryConsume admits one request for identityID or denies it. Unknown
// identities and store failures are errors, not denials.
func (l *Ledger) TryConsume(ctx context.Context, identityID string) (Decision, error) {
	ok, err := l.counter.ConsumeQuota(ctx, identityID, l.now().UTC())
	if err != nil {
		metrics.RecordQuotaDecision(l.backend, "error")
		return Denied, fmt.Errorf("failed to consume quota: %w", err)
	}

	decision := Denied
	if ok {
		decision = Allowed
	}
	metrics.RecordQuotaDecision(l.backend, decision.String())

	l.logger.Debug("quota decision",
		zap.String("identity_id", identityID),
		zap.String("decision", decision.String()),
	)
	return decision, nil
}

// usageReader is implemented by counters that own the live counter values.
type usageReader interface {
	Usage(ctx context.Context, identityID string, now time.Time) (daily, monthly int, total int64, err error)
}

// Snapshot returns the identity's counters as the ledger sees them. When the
// counters live outside the identity record, the live values are overlaid.
func (l *Ledger) Snapshot(ctx context.Context, identity *model.Identity) (model.QuotaSnapshot, error) {
	now := l.now().UTC()
	snap := identity.Snapshot(now)

	ur, ok := l.counter.(usageReader)
	if !ok {
		return snap, nil
	}
	daily, monthly, total, err := ur.Usage(ctx, identity.ID, now)
	if err != nil {
		return snap, fmt.Errorf("failed to read usage: %w", err)
	}
	snap.DailyUsed, snap.MonthlyUsed, snap.TotalRequests = daily, monthly, total
	snap.DailyRemaining = identity.DailyLimit - daily
	if snap.DailyRemaining < 0 {
		snap.DailyRemaining = 0
	}
	return snap, nil
}
