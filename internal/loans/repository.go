package loans

import (
	"context"
	"sort"
	"sync"
)

// Repository persists loans, their schedules and applied repayments.
type Repository interface {
	Create(ctx context.Context, loan Loan) error
	Get(ctx context.Context, id string) (Loan, error)
	Update(ctx context.Context, loan Loan) error
	ListByBorrower(ctx context.Context, borrowerID string) ([]Loan, error)
	// RecordRepayment stores the repayment and the updated loan together.
	// A reused reference yields ErrDuplicateRepayment and changes nothing.
	RecordRepayment(ctx context.Context, loan Loan, repayment Repayment) error
	Repayment(ctx context.Context, loanID, reference string) (Repayment, bool, error)
}

type repaymentKey struct {
	loanID    string
	reference string
}

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu         sync.RWMutex
	loans      map[string]Loan
	repayments map[repaymentKey]Repayment
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		loans:      make(map[string]Loan),
		repayments: make(map[repaymentKey]Repayment),
	}
}

func (r *MemoryRepository) Create(_ context.Context, loan Loan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loans[loan.ID] = loan.clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loan, ok := r.loans[id]
	if !ok {
		return Loan{}, ErrLoanNotFound
	}
	return loan.clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, loan Loan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loans[loan.ID]; !ok {
		return ErrLoanNotFound
	}
	r.loans[loan.ID] = loan.clone()
	return nil
}

func (r *MemoryRepository) ListByBorrower(_ context.Context, borrowerID string) ([]Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Loan
	for _, loan := range r.loans {
		if loan.BorrowerID == borrowerID {
			out = append(out, loan.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) RecordRepayment(_ context.Context, loan Loan, repayment Repayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repaymentKey{loanID: repayment.LoanID, reference: repayment.Reference}
	if _, ok := r.repayments[key]; ok {
		return ErrDuplicateRepayment
	}
	if _, ok := r.loans[loan.ID]; !ok {
		return ErrLoanNotFound
	}
	r.repayments[key] = repayment
	r.loans[loan.ID] = loan.clone()
	return nil
}

func (r *MemoryRepository) Repayment(_ context.Context, loanID, reference string) (Repayment, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.repayments[repaymentKey{loanID: loanID, reference: reference}]
	return rep, ok, nil
}
