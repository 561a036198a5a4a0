package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/retry"
)

// Settlement is a payment gateway's final word on an inbound payment.
type Settlement struct {
	ExternalReference string        `json:"external_reference"`
	UserID            string        `json:"user_id"`
	Amount            int64         `json:"amount"`
	Status            ledger.Status `json:"status"`
}

// Result reports the ledger row a settlement resolved to.
type Result struct {
	TransactionID string
	WalletID      string
	Status        ledger.Status
	Amount        int64
	Balance       int64
	Replayed      bool
	SettledAt     time.Time
}

// DepositInput starts a gateway-collected top-up that settles later.
type DepositInput struct {
	UserID            string
	Amount            int64
	ExternalReference string
	Description       string
}

// Service applies inbound payment settlements to member wallets.
type Service struct {
	store    ledger.Store
	events   *notification.Emitter
	retrier  *retry.Retrier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	currency string
}

// NewService constructs a settlement service.
func NewService(store ledger.Store, events *notification.Emitter, logger *slog.Logger, m *metrics.Metrics, currency string) *Service {
	logger = logging.Component(logger, "settlement")
	return &Service{
		store:    store,
		events:   events,
		retrier:  retry.New(retry.DefaultConfig(ledger.IsRetryable), logger),
		logger:   logger,
		metrics:  m,
		currency: currency,
	}
}

func reference(external string) string {
	return "deposit:" + external
}

// InitiateDeposit records a pending deposit for the user's personal wallet.
// Repeating it with the same external reference returns the existing row.
func (s *Service) InitiateDeposit(ctx context.Context, input DepositInput) (ledger.Transaction, error) {
	switch {
	case strings.TrimSpace(input.UserID) == "":
		return ledger.Transaction{}, ledger.Invalid("user_id", "is required")
	case strings.TrimSpace(input.ExternalReference) == "":
		return ledger.Transaction{}, ledger.Invalid("external_reference", "is required")
	case input.Amount <= 0:
		return ledger.Transaction{}, ledger.Invalid("amount", "must be positive")
	}

	w, err := s.store.EnsureWallet(ctx, input.UserID, ledger.KindPersonal, s.currency)
	if err != nil {
		return ledger.Transaction{}, err
	}
	desc := input.Description
	if desc == "" {
		desc = "deposit " + input.ExternalReference
	}
	tx, err := s.store.RecordPending(ctx, w.ID, input.Amount, ledger.Entry{
		Type:        ledger.TypeDeposit,
		ReferenceID: reference(input.ExternalReference),
		Description: desc,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.logger.Info("deposit initiated", "wallet_id", w.ID, "external_reference", input.ExternalReference, "amount", input.Amount)
	return tx, nil
}

// OnPaymentSettled resolves a settlement exactly once per external reference.
// A pending deposit with that reference is settled to the reported status.
// Without one, a completed settlement credits the user's personal wallet,
// which is created on first credit, and a failed one is acknowledged as a
// no-op. Redelivery returns the first outcome with Replayed set.
func (s *Service) OnPaymentSettled(ctx context.Context, in Settlement) (res Result, err error) {
	defer func() { s.metrics.Posting("settlement", err) }()
	if strings.TrimSpace(in.ExternalReference) == "" {
		return Result{}, ledger.Invalid("external_reference", "is required")
	}
	switch in.Status {
	case ledger.StatusCompleted, ledger.StatusFailed, ledger.StatusCancelled:
	default:
		return Result{}, ledger.Invalid("status", "must be completed, failed or cancelled")
	}
	ref := reference(in.ExternalReference)

	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		var aerr error
		res, aerr = s.apply(ctx, ref, in)
		return aerr
	})
	if err != nil {
		return Result{}, err
	}
	if res.Replayed {
		s.logger.Info("settlement replayed", "external_reference", in.ExternalReference, "status", res.Status)
		return res, nil
	}

	s.logger.Info("settlement applied", "external_reference", in.ExternalReference, "status", res.Status, "wallet_id", res.WalletID)
	if res.Status == ledger.StatusCompleted {
		owner := in.UserID
		if w, err := s.store.Wallet(ctx, res.WalletID); err == nil {
			owner = w.OwnerID
		}
		s.events.Emit(ctx, notification.Event{
			Type:        notification.TypeDeposit,
			UserID:      owner,
			WalletID:    res.WalletID,
			Amount:      res.Amount,
			NewBalance:  res.Balance,
			ReferenceID: ref,
		})
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, ref string, in Settlement) (Result, error) {
	rows, err := s.store.FindByReference(ctx, ref)
	if err != nil {
		return Result{}, err
	}

	var pending, completed, closed *ledger.Transaction
	for i := range rows {
		switch rows[i].Status {
		case ledger.StatusPending:
			pending = &rows[i]
		case ledger.StatusCompleted:
			completed = &rows[i]
		default:
			closed = &rows[i]
		}
	}

	switch {
	case completed != nil:
		return s.replay(ctx, *completed)
	case pending != nil:
		if in.Amount > 0 && in.Amount != pending.Amount {
			return Result{}, ledger.Invalid("amount", fmt.Sprintf("does not match pending deposit of %d", pending.Amount))
		}
		posting, err := s.store.Settle(ctx, ref, in.Status)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			// lost a race with another delivery or the expiry sweep
			return Result{}, &ledger.ConflictError{Op: "settle " + ref, Cause: err}
		}
		if err != nil {
			return Result{}, err
		}
		return fromPosting(posting), nil
	case in.Status != ledger.StatusCompleted:
		if closed != nil {
			return s.replay(ctx, *closed)
		}
		return Result{Status: in.Status, SettledAt: time.Now().UTC()}, nil
	}

	// money arrived without a pending row, or after the pending row expired
	if strings.TrimSpace(in.UserID) == "" {
		return Result{}, ledger.Invalid("user_id", "is required without a pending deposit")
	}
	if in.Amount <= 0 {
		return Result{}, ledger.Invalid("amount", "must be positive")
	}
	w, err := s.store.EnsureWallet(ctx, in.UserID, ledger.KindPersonal, s.currency)
	if err != nil {
		return Result{}, err
	}
	posting, err := s.store.Credit(ctx, w.ID, in.Amount, ledger.Entry{
		Type:        ledger.TypeDeposit,
		ReferenceID: ref,
		Description: "settled deposit " + in.ExternalReference,
	})
	if err != nil {
		return Result{}, err
	}
	return fromPosting(posting), nil
}

func (s *Service) replay(ctx context.Context, tx ledger.Transaction) (Result, error) {
	w, err := s.store.Wallet(ctx, tx.WalletID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Balance:       w.Balance,
		Replayed:      true,
		SettledAt:     tx.UpdatedAt,
	}, nil
}

func fromPosting(p ledger.Posting) Result {
	return Result{
		TransactionID: p.Transaction.ID,
		WalletID:      p.Transaction.WalletID,
		Status:        p.Transaction.Status,
		Amount:        p.Transaction.Amount,
		Balance:       p.Balance,
		Replayed:      p.Replayed,
		SettledAt:     p.Transaction.UpdatedAt,
	}
}
