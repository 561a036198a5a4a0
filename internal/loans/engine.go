package loans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/retry"
)

const maxTermMonths = 360

// Engine runs the loan state machine and its ledger postings.
type Engine struct {
	repo     Repository
	store    ledger.Store
	events   *notification.Emitter
	retrier  *retry.Retrier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	currency string
	now      func() time.Time

	// one writer per loan inside this process
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine constructs a loan engine.
func NewEngine(repo Repository, store ledger.Store, events *notification.Emitter, logger *slog.Logger, m *metrics.Metrics, currency string) *Engine {
	logger = logging.Component(logger, "loans")
	return &Engine{
		repo:     repo,
		store:    store,
		events:   events,
		retrier:  retry.New(retry.DefaultConfig(ledger.IsRetryable), logger),
		logger:   logger,
		metrics:  m,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lock(loanID string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[loanID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[loanID] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// ApplyInput describes a loan application.
type ApplyInput struct {
	ChamaID    string
	BorrowerID string
	Principal  int64
	AnnualRate decimal.Decimal
	TermMonths int
}

// Apply records a pending loan with a preview schedule.
func (e *Engine) Apply(ctx context.Context, input ApplyInput) (Loan, error) {
	switch {
	case strings.TrimSpace(input.ChamaID) == "":
		return Loan{}, ledger.Invalid("chama_id", "is required")
	case strings.TrimSpace(input.BorrowerID) == "":
		return Loan{}, ledger.Invalid("borrower_id", "is required")
	case input.Principal <= 0:
		return Loan{}, ledger.Invalid("principal", "must be positive")
	case input.TermMonths <= 0 || input.TermMonths > maxTermMonths:
		return Loan{}, ledger.Invalid("term_months", fmt.Sprintf("must be between 1 and %d", maxTermMonths))
	case input.AnnualRate.IsNegative():
		return Loan{}, ledger.Invalid("annual_rate", "must not be negative")
	}

	now := e.now()
	schedule, err := Amortize(input.Principal, input.AnnualRate, input.TermMonths, now)
	if err != nil {
		return Loan{}, ledger.Invalid("principal", err.Error())
	}
	loan := Loan{
		ID:             uuid.NewString(),
		ChamaID:        input.ChamaID,
		BorrowerID:     input.BorrowerID,
		Principal:      input.Principal,
		AnnualRate:     input.AnnualRate,
		TermMonths:     input.TermMonths,
		TotalRepayable: TotalPayable(schedule),
		Status:         StatusPending,
		Schedule:       schedule,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.repo.Create(ctx, loan); err != nil {
		return Loan{}, fmt.Errorf("create loan: %w", err)
	}
	e.logger.Info("loan applied", "loan_id", loan.ID, "borrower", loan.BorrowerID, "principal", loan.Principal)
	return loan, nil
}

// Get returns a loan by id.
func (e *Engine) Get(ctx context.Context, id string) (Loan, error) {
	return e.repo.Get(ctx, id)
}

// ListByBorrower returns a member's loans, oldest first.
func (e *Engine) ListByBorrower(ctx context.Context, borrowerID string) ([]Loan, error) {
	return e.repo.ListByBorrower(ctx, borrowerID)
}

// Approve moves a pending loan to approved. The caller must be elevated.
func (e *Engine) Approve(ctx context.Context, loanID string, auth Authorization) (Loan, error) {
	if !auth.Elevated {
		return Loan{}, ErrUnauthorized
	}
	return e.transition(ctx, loanID, StatusApproved, "approve", func(l *Loan, now time.Time) {
		l.ApprovedBy = auth.ActorID
		l.ApprovedAt = &now
	})
}

// Reject closes a pending loan. The caller must be elevated.
func (e *Engine) Reject(ctx context.Context, loanID string, auth Authorization, reason string) (Loan, error) {
	if !auth.Elevated {
		return Loan{}, ErrUnauthorized
	}
	return e.transition(ctx, loanID, StatusRejected, "reject", func(l *Loan, _ time.Time) {
		l.RejectionReason = reason
	})
}

// MarkDefaulted records an external default determination on an active loan.
func (e *Engine) MarkDefaulted(ctx context.Context, loanID string, auth Authorization) (Loan, error) {
	if !auth.Elevated {
		return Loan{}, ErrUnauthorized
	}
	return e.transition(ctx, loanID, StatusDefaulted, "default", nil)
}

func (e *Engine) transition(ctx context.Context, loanID string, to Status, op string, mutate func(*Loan, time.Time)) (Loan, error) {
	defer e.lock(loanID)()

	loan, err := e.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if !CanTransition(loan.Status, to) {
		return Loan{}, &InvalidLoanStateError{LoanID: loanID, State: loan.Status, Operation: op}
	}
	now := e.now()
	loan.Status = to
	loan.UpdatedAt = now
	if mutate != nil {
		mutate(&loan, now)
	}
	if err := e.repo.Update(ctx, loan); err != nil {
		return Loan{}, fmt.Errorf("%s loan: %w", op, err)
	}
	e.logger.Info("loan transitioned", "loan_id", loanID, "status", to)
	return loan, nil
}

// Disburse pays an approved loan out of the chama pooled wallet into the
// borrower's personal wallet and starts the repayment schedule.
func (e *Engine) Disburse(ctx context.Context, loanID, authorizedBy string) (loan Loan, err error) {
	defer func() { e.metrics.Posting("loan_disbursement", err) }()
	if strings.TrimSpace(authorizedBy) == "" {
		return Loan{}, ErrUnauthorized
	}
	defer e.lock(loanID)()

	loan, err = e.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if loan.Status != StatusApproved {
		return Loan{}, &InvalidLoanStateError{LoanID: loanID, State: loan.Status, Operation: "disburse"}
	}

	pool, err := e.store.WalletByOwner(ctx, loan.ChamaID, ledger.KindChama)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return Loan{}, &ledger.InsufficientFundsError{Balance: 0, Requested: loan.Principal}
	}
	if err != nil {
		return Loan{}, err
	}
	borrower, err := e.store.EnsureWallet(ctx, loan.BorrowerID, ledger.KindPersonal, e.walletCurrency(pool))
	if err != nil {
		return Loan{}, err
	}

	ref := "loan:" + loan.ID + ":disbursement"
	var posted ledger.TransferResult
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		var terr error
		posted, terr = e.store.Transfer(ctx, ledger.TransferRequest{
			FromWalletID:   pool.ID,
			ToWalletID:     borrower.ID,
			Amount:         loan.Principal,
			IdempotencyKey: ref,
			OutType:        ledger.TypeLoanDisbursement,
			InType:         ledger.TypeLoanDisbursement,
			Description:    "loan " + loan.ID + " disbursed by " + authorizedBy,
		})
		return terr
	})
	if err != nil {
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return Loan{}, err
		}
		return Loan{}, fmt.Errorf("disburse loan: %w", err)
	}

	now := e.now()
	schedule, err := Amortize(loan.Principal, loan.AnnualRate, loan.TermMonths, now)
	if err != nil {
		return Loan{}, err
	}
	loan.Schedule = schedule
	loan.TotalRepayable = TotalPayable(schedule)
	loan.Outstanding = loan.TotalRepayable
	loan.Status = StatusActive
	loan.DisbursementRef = ref
	loan.DisbursedAt = &now
	loan.UpdatedAt = now
	if err := e.repo.Update(ctx, loan); err != nil {
		// the transfer is idempotent on ref, so retrying the disbursement heals this
		return Loan{}, fmt.Errorf("record disbursement: %w", err)
	}

	e.logger.Info("loan disbursed", "loan_id", loan.ID, "principal", loan.Principal, "authorized_by", authorizedBy)
	e.events.Emit(ctx, notification.Event{
		Type:        notification.TypeLoanDisbursement,
		UserID:      loan.BorrowerID,
		WalletID:    borrower.ID,
		Amount:      posted.Credit.Amount,
		NewBalance:  posted.ToBalance,
		ReferenceID: ref,
	})
	return loan, nil
}

// RepayInput describes one repayment. Reference makes the call idempotent;
// ExternalReference marks funds collected outside the borrower's wallet
// (e.g. a mobile-money payment) that go straight to the pool.
type RepayInput struct {
	LoanID            string
	Amount            int64
	Reference         string
	ExternalReference string
}

// RepayResult reports the loan after a repayment.
type RepayResult struct {
	Loan     Loan
	Applied  int64
	Replayed bool
}

// Repay credits the chama pool and decrements the outstanding balance,
// completing the loan when nothing remains.
func (e *Engine) Repay(ctx context.Context, input RepayInput) (res RepayResult, err error) {
	defer func() { e.metrics.Posting("loan_repayment", err) }()
	if input.Amount <= 0 {
		return RepayResult{}, ledger.Invalid("amount", "must be positive")
	}
	if input.Reference == "" {
		input.Reference = input.ExternalReference
	}
	if input.Reference == "" {
		input.Reference = uuid.NewString()
	}
	defer e.lock(input.LoanID)()

	loan, err := e.repo.Get(ctx, input.LoanID)
	if err != nil {
		return RepayResult{}, err
	}
	if prior, ok, err := e.repo.Repayment(ctx, loan.ID, input.Reference); err != nil {
		return RepayResult{}, err
	} else if ok {
		return RepayResult{Loan: loan, Applied: prior.Amount, Replayed: true}, nil
	}
	if loan.Status != StatusActive {
		return RepayResult{}, &InvalidLoanStateError{LoanID: loan.ID, State: loan.Status, Operation: "repay"}
	}
	if input.Amount > loan.Outstanding {
		return RepayResult{}, ledger.Invalid("amount", fmt.Sprintf("exceeds outstanding balance %d", loan.Outstanding))
	}

	pool, err := e.store.EnsureWallet(ctx, loan.ChamaID, ledger.KindChama, e.currency)
	if err != nil {
		return RepayResult{}, err
	}

	ref := "loan:" + loan.ID + ":repayment:" + input.Reference
	var event notification.Event
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		if input.ExternalReference != "" {
			posting, perr := e.store.Credit(ctx, pool.ID, input.Amount, ledger.Entry{
				Type:        ledger.TypeLoanRepayment,
				ReferenceID: ref,
				Description: "external repayment " + input.ExternalReference,
			})
			event = notification.Event{WalletID: pool.ID, Amount: posting.Transaction.Amount, NewBalance: posting.Balance}
			return perr
		}
		borrower, werr := e.store.WalletByOwner(ctx, loan.BorrowerID, ledger.KindPersonal)
		if errors.Is(werr, ledger.ErrWalletNotFound) {
			return &ledger.InsufficientFundsError{Balance: 0, Requested: input.Amount}
		}
		if werr != nil {
			return werr
		}
		posted, terr := e.store.Transfer(ctx, ledger.TransferRequest{
			FromWalletID:   borrower.ID,
			ToWalletID:     pool.ID,
			Amount:         input.Amount,
			IdempotencyKey: ref,
			OutType:        ledger.TypeLoanRepayment,
			InType:         ledger.TypeLoanRepayment,
			Description:    "repayment of loan " + loan.ID,
		})
		event = notification.Event{WalletID: borrower.ID, Amount: posted.Debit.Amount, NewBalance: posted.FromBalance}
		return terr
	})
	if err != nil {
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return RepayResult{}, err
		}
		return RepayResult{}, fmt.Errorf("repay loan: %w", err)
	}

	now := e.now()
	loan.Outstanding -= input.Amount
	loan.AmountRepaid += input.Amount
	loan.markPaid()
	loan.UpdatedAt = now
	if loan.Outstanding <= 0 {
		loan.Outstanding = 0
		loan.Status = StatusCompleted
		loan.CompletedAt = &now
	}
	err = e.repo.RecordRepayment(ctx, loan, Repayment{LoanID: loan.ID, Reference: input.Reference, Amount: input.Amount, CreatedAt: now})
	if err != nil {
		return RepayResult{}, fmt.Errorf("record repayment: %w", err)
	}

	e.logger.Info("loan repayment applied", "loan_id", loan.ID, "amount", input.Amount, "outstanding", loan.Outstanding, "status", loan.Status)
	event.Type = notification.TypeLoanRepayment
	event.UserID = loan.BorrowerID
	event.ReferenceID = ref
	e.events.Emit(ctx, event)
	return RepayResult{Loan: loan, Applied: input.Amount}, nil
}

func (e *Engine) walletCurrency(w ledger.Wallet) string {
	if w.Currency != "" {
		return w.Currency
	}
	return e.currency
}
