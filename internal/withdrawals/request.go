package withdrawals

import (
	"errors"
	"fmt"
	"time"
)

// Status is the payout lifecycle of a withdrawal request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Method is the payout rail a member asked for.
type Method string

const (
	MethodMobileMoney Method = "mobile_money"
	MethodBank        Method = "bank_transfer"
)

func (m Method) valid() bool {
	return m == MethodMobileMoney || m == MethodBank
}

var (
	// ErrNotFound is returned when a withdrawal id cannot be resolved.
	ErrNotFound = errors.New("withdrawal not found")
	// ErrNotPending rejects a settlement move on a request that already closed.
	ErrNotPending = errors.New("withdrawal is not pending")
	// ErrDuplicate signals that (user, idempotency key) already has a request.
	ErrDuplicate = errors.New("duplicate withdrawal request")
)

// Request is one withdrawal. Amount is debited from the wallet up front;
// NetAmount is what the payout rail sends out.
type Request struct {
	ID              string
	UserID          string
	WalletID        string
	Amount          int64
	Fee             int64
	NetAmount       int64
	Method          Method
	Destination     string
	Status          Status
	IdempotencyKey  string
	LedgerReference string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Window names a rolling limit period.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// LimitExceededError reports the first rolling window a request would overrun.
type LimitExceededError struct {
	Window    Window
	Cap       int64
	Used      int64
	Requested int64
	Remaining Check
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s withdrawal limit exceeded: cap %d, used %d, requested %d", e.Window, e.Cap, e.Used, e.Requested)
}

func (e *LimitExceededError) Kind() string { return "limit_exceeded" }

func (e *LimitExceededError) Fields() map[string]any {
	return map[string]any{
		"window":            string(e.Window),
		"cap":               e.Cap,
		"used":              e.Used,
		"requested":         e.Requested,
		"remaining_daily":   e.Remaining.RemainingDaily,
		"remaining_weekly":  e.Remaining.RemainingWeekly,
		"remaining_monthly": e.Remaining.RemainingMonthly,
	}
}
