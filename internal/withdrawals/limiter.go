package withdrawals

import (
	"context"
	"time"

	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/metrics"
)

// Limits are rolling-window caps in minor units.
type Limits struct {
	Daily   int64
	Weekly  int64
	Monthly int64
}

// Check is the headroom per window. When Allowed it already excludes the
// requested amount.
type Check struct {
	Allowed          bool  `json:"allowed"`
	RemainingDaily   int64 `json:"remaining_daily"`
	RemainingWeekly  int64 `json:"remaining_weekly"`
	RemainingMonthly int64 `json:"remaining_monthly"`
}

// Limiter enforces Limits against a user's recent requests. Limits apply at
// creation time only.
type Limiter struct {
	repo    Repository
	limits  Limits
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLimiter constructs a limiter.
func NewLimiter(repo Repository, limits Limits, m *metrics.Metrics) *Limiter {
	return &Limiter{repo: repo, limits: limits, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

type window struct {
	name  Window
	span  time.Duration
	limit int64
}

func (l *Limiter) windows() []window {
	return []window{
		{WindowDaily, 24 * time.Hour, l.limits.Daily},
		{WindowWeekly, 7 * 24 * time.Hour, l.limits.Weekly},
		{WindowMonthly, 30 * 24 * time.Hour, l.limits.Monthly},
	}
}

// Check reports whether amount fits every window. A zero amount just reports
// the current headroom.
func (l *Limiter) Check(ctx context.Context, userID string, amount int64) (Check, error) {
	if amount < 0 {
		return Check{}, ledger.Invalid("amount", "must not be negative")
	}
	now := l.now()
	res := Check{Allowed: true}
	var exceeded *LimitExceededError

	for _, w := range l.windows() {
		used, err := l.repo.SumSince(ctx, userID, now.Add(-w.span))
		if err != nil {
			return Check{}, err
		}
		remaining := w.limit - used - amount
		if remaining < 0 {
			res.Allowed = false
			if exceeded == nil {
				exceeded = &LimitExceededError{Window: w.name, Cap: w.limit, Used: used, Requested: amount}
			}
		}
		headroom := w.limit - used
		if headroom < 0 {
			headroom = 0
		}
		switch w.name {
		case WindowDaily:
			res.RemainingDaily = headroom
		case WindowWeekly:
			res.RemainingWeekly = headroom
		case WindowMonthly:
			res.RemainingMonthly = headroom
		}
	}

	if exceeded != nil {
		exceeded.Remaining = res
		l.metrics.LimitRejected(string(exceeded.Window))
		return res, exceeded
	}
	res.RemainingDaily -= amount
	res.RemainingWeekly -= amount
	res.RemainingMonthly -= amount
	return res, nil
}
