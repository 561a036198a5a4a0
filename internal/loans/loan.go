package loans

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is a loan lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusDefaulted Status = "defaulted"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusActive},
	StatusActive:   {StatusCompleted, StatusDefaulted},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrLoanNotFound is returned when a loan id cannot be resolved.
	ErrLoanNotFound = errors.New("loan not found")
	// ErrUnauthorized is returned when an operation needs an elevated caller.
	ErrUnauthorized = errors.New("elevated authorization required")
	// ErrDuplicateRepayment signals a repayment reference already applied.
	ErrDuplicateRepayment = errors.New("duplicate repayment reference")
)

// InvalidLoanStateError rejects an operation the loan's state does not allow.
type InvalidLoanStateError struct {
	LoanID    string
	State     Status
	Operation string
}

func (e *InvalidLoanStateError) Error() string {
	return fmt.Sprintf("loan %s: cannot %s while %s", e.LoanID, e.Operation, e.State)
}

func (e *InvalidLoanStateError) Kind() string { return "invalid_loan_state" }

func (e *InvalidLoanStateError) Fields() map[string]any {
	return map[string]any{"loan_id": e.LoanID, "state": string(e.State), "operation": e.Operation}
}

// Authorization is the capability a caller presents for privileged moves.
// Establishing it is the caller's job.
type Authorization struct {
	ActorID  string
	Elevated bool
}

// Installment is one period of the repayment schedule.
type Installment struct {
	Month            int       `json:"month"`
	DueDate          time.Time `json:"due_date"`
	Principal        int64     `json:"principal"`
	Interest         int64     `json:"interest"`
	Payment          int64     `json:"payment"`
	RemainingBalance int64     `json:"remaining_balance"`
	Paid             bool      `json:"paid"`
}

// Loan is a chama loan to one member. Wallets are referenced by owner id.
type Loan struct {
	ID              string
	ChamaID         string
	BorrowerID      string
	Principal       int64
	AnnualRate      decimal.Decimal
	TermMonths      int
	TotalRepayable  int64
	Outstanding     int64
	AmountRepaid    int64
	Status          Status
	ApprovedBy      string
	RejectionReason string
	DisbursementRef string
	Schedule        []Installment
	CreatedAt       time.Time
	ApprovedAt      *time.Time
	DisbursedAt     *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// Repayment records one applied repayment, keyed by (LoanID, Reference).
type Repayment struct {
	LoanID    string
	Reference string
	Amount    int64
	CreatedAt time.Time
}

// markPaid flags installments covered by AmountRepaid, in order.
func (l *Loan) markPaid() {
	var cumulative int64
	for i := range l.Schedule {
		cumulative += l.Schedule[i].Payment
		l.Schedule[i].Paid = cumulative <= l.AmountRepaid
	}
}

// NextDue returns the first unpaid installment.
func (l Loan) NextDue() (Installment, bool) {
	for _, inst := range l.Schedule {
		if !inst.Paid {
			return inst, true
		}
	}
	return Installment{}, false
}

func (l Loan) clone() Loan {
	l.Schedule = append([]Installment(nil), l.Schedule...)
	return l
}
