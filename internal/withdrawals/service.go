package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chama-pay/chama_ledger/internal/fees"
	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/retry"
	"github.com/chama-pay/chama_ledger/internal/wallet"
)

// Service takes withdrawal requests and settles their payouts.
type Service struct {
	repo    Repository
	store   ledger.Store
	wallets *wallet.Service
	fees    *fees.Calculator
	limiter *Limiter
	events  *notification.Emitter
	retrier *retry.Retrier
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// limit check and debit run under one per-user lock
	usersMu sync.Mutex
	users   map[string]*sync.Mutex
}

// NewService constructs a withdrawal service.
func NewService(repo Repository, store ledger.Store, wallets *wallet.Service, calc *fees.Calculator, limiter *Limiter, events *notification.Emitter, logger *slog.Logger, m *metrics.Metrics) *Service {
	logger = logging.Component(logger, "withdrawals")
	return &Service{
		repo:    repo,
		store:   store,
		wallets: wallets,
		fees:    calc,
		limiter: limiter,
		events:  events,
		retrier: retry.New(retry.DefaultConfig(ledger.IsRetryable), logger),
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		users:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockUser(userID string) func() {
	s.usersMu.Lock()
	mu, ok := s.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.users[userID] = mu
	}
	s.usersMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// RequestInput captures a withdrawal from one of the caller's wallets.
type RequestInput struct {
	UserID         string
	WalletID       string
	Amount         int64
	Method         Method
	Destination    string
	IdempotencyKey string
}

// Result is a request plus the wallet balance after the debit.
type Result struct {
	Request  Request
	Balance  int64
	Limits   Check
	Replayed bool
}

// Request validates, applies the limits, prices and debits a withdrawal and
// leaves it pending for the payout rail.
func (s *Service) Request(ctx context.Context, input RequestInput) (res Result, err error) {
	defer func() { s.metrics.Posting("withdrawal", err) }()
	switch {
	case input.Amount <= 0:
		return Result{}, ledger.Invalid("amount", "must be positive")
	case !input.Method.valid():
		return Result{}, ledger.Invalid("method", "must be mobile_money or bank_transfer")
	case strings.TrimSpace(input.Destination) == "":
		return Result{}, ledger.Invalid("destination", "is required")
	case input.IdempotencyKey == "":
		// the debit is replayable only under a caller-held key
		return Result{}, ledger.Invalid("idempotency_key", "is required")
	}
	defer s.lockUser(input.UserID)()

	if prior, ok, err := s.repo.ByIdempotencyKey(ctx, input.UserID, input.IdempotencyKey); err != nil {
		return Result{}, err
	} else if ok {
		w, err := s.store.Wallet(ctx, prior.WalletID)
		if err != nil {
			return Result{}, err
		}
		return Result{Request: prior, Balance: w.Balance, Replayed: true}, nil
	}

	w, err := s.wallets.Owned(ctx, input.WalletID, input.UserID)
	if err != nil {
		return Result{}, err
	}

	schedule, err := s.fees.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	quote := s.fees.Quote(schedule, fees.TypeWithdrawal, input.Amount)
	if input.Amount <= quote.Fee {
		return Result{}, ledger.Invalid("amount", fmt.Sprintf("must exceed the withdrawal fee %d", quote.Fee))
	}

	check, err := s.limiter.Check(ctx, input.UserID, input.Amount)
	if err != nil {
		var limitErr *LimitExceededError
		if errors.As(err, &limitErr) {
			s.logger.Info("withdrawal over limit", "user_id", input.UserID, "window", limitErr.Window, "amount", input.Amount)
		}
		return Result{}, err
	}

	now := s.now()
	req := Request{
		ID:              uuid.NewString(),
		UserID:          input.UserID,
		WalletID:        w.ID,
		Amount:          input.Amount,
		Fee:             quote.Fee,
		NetAmount:       input.Amount - quote.Fee,
		Method:          input.Method,
		Destination:     input.Destination,
		Status:          StatusPending,
		IdempotencyKey:  input.IdempotencyKey,
		LedgerReference: "withdrawal:" + input.UserID + ":" + input.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var posting ledger.Posting
	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		var perr error
		posting, perr = s.store.Debit(ctx, w.ID, req.Amount, ledger.Entry{
			Type:        ledger.TypeWithdrawal,
			ReferenceID: req.LedgerReference,
			Description: fmt.Sprintf("%s withdrawal to %s", req.Method, req.Destination),
			Fee:         req.Fee,
		})
		return perr
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.repo.Create(ctx, req); err != nil {
		// the debit is keyed by LedgerReference, so a retry with the same key replays it
		return Result{}, fmt.Errorf("store withdrawal: %w", err)
	}

	s.logger.Info("withdrawal requested", "withdrawal_id", req.ID, "user_id", req.UserID, "amount", req.Amount, "fee", req.Fee)
	s.events.Emit(ctx, notification.Event{
		Type:        notification.TypeWithdrawal,
		UserID:      req.UserID,
		WalletID:    req.WalletID,
		Amount:      req.Amount,
		Fee:         req.Fee,
		NewBalance:  posting.Balance,
		ReferenceID: req.LedgerReference,
	})
	return Result{Request: req, Balance: posting.Balance, Limits: check}, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

// Limits reports the caller's current headroom.
func (s *Service) Limits(ctx context.Context, userID string) (Check, error) {
	return s.limiter.Check(ctx, userID, 0)
}

// Complete marks a payout as delivered. Completing a completed request is a no-op.
func (s *Service) Complete(ctx context.Context, id string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	defer s.lockUser(req.UserID)()
	if req, err = s.repo.Get(ctx, id); err != nil {
		return Request{}, err
	}
	switch req.Status {
	case StatusCompleted:
		return req, nil
	case StatusPending:
	default:
		return Request{}, ErrNotPending
	}

	now := s.now()
	req.Status = StatusCompleted
	req.CompletedAt = &now
	req.UpdatedAt = now
	if err := s.repo.Update(ctx, req); err != nil {
		return Request{}, err
	}
	s.logger.Info("withdrawal completed", "withdrawal_id", req.ID)
	return req, nil
}

// Fail closes a pending request whose payout was rejected and refunds the wallet.
func (s *Service) Fail(ctx context.Context, id, reason string) (Request, error) {
	return s.close(ctx, id, StatusFailed, reason)
}

// Cancel withdraws a pending request before payout and refunds the wallet.
func (s *Service) Cancel(ctx context.Context, id, reason string) (Request, error) {
	return s.close(ctx, id, StatusCancelled, reason)
}

func (s *Service) close(ctx context.Context, id string, to Status, reason string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	defer s.lockUser(req.UserID)()
	if req, err = s.repo.Get(ctx, id); err != nil {
		return Request{}, err
	}
	if req.Status == to {
		return req, nil
	}
	if req.Status != StatusPending {
		return Request{}, ErrNotPending
	}

	// the completed debit stays; a reversal row offsets it
	ref := req.LedgerReference + ":reversal"
	var posting ledger.Posting
	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		var perr error
		posting, perr = s.store.Credit(ctx, req.WalletID, req.Amount, ledger.Entry{
			Type:        ledger.TypeReversal,
			ReferenceID: ref,
			Description: fmt.Sprintf("withdrawal %s %s", req.ID, to),
		})
		return perr
	})
	if err != nil {
		return Request{}, fmt.Errorf("reverse withdrawal: %w", err)
	}

	now := s.now()
	req.Status = to
	req.FailureReason = reason
	req.UpdatedAt = now
	if err := s.repo.Update(ctx, req); err != nil {
		return Request{}, err
	}

	s.logger.Info("withdrawal reversed", "withdrawal_id", req.ID, "status", to, "reason", reason)
	s.events.Emit(ctx, notification.Event{
		Type:        notification.TypeWithdrawalReversed,
		UserID:      req.UserID,
		WalletID:    req.WalletID,
		Amount:      req.Amount,
		NewBalance:  posting.Balance,
		ReferenceID: ref,
	})
	return req, nil
}
