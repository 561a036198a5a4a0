package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chama-pay/chama_ledger/internal/fees"
	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/retry"
)

// Engine moves money between member wallets.
type Engine struct {
	store   ledger.Store
	fees    *fees.Calculator
	events  *notification.Emitter
	retrier *retry.Retrier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine constructs a transfer engine.
func NewEngine(store ledger.Store, calc *fees.Calculator, events *notification.Emitter, logger *slog.Logger, m *metrics.Metrics) *Engine {
	logger = logging.Component(logger, "transfer")
	return &Engine{
		store:   store,
		fees:    calc,
		events:  events,
		retrier: retry.New(retry.DefaultConfig(ledger.IsRetryable), logger),
		logger:  logger,
		metrics: m,
	}
}

// Input captures a peer-to-peer transfer between personal wallets.
type Input struct {
	SenderID       string
	RecipientID    string
	Amount         int64
	Description    string
	IdempotencyKey string
}

// Result describes the ledger outcome of a transfer.
type Result struct {
	TransactionID     string
	ReferenceID       string
	NetAmount         int64
	Fee               int64
	RecipientCredited int64
	SenderBalance     int64
	Replayed          bool
	CompletedAt       time.Time
}

// Transfer debits the sender amount+fee and credits the recipient amount in
// one atomic posting. The fee comes from the send_money rule of a fresh
// schedule snapshot and is not credited to any wallet.
func (e *Engine) Transfer(ctx context.Context, input Input) (res Result, err error) {
	defer func() { e.metrics.Posting("transfer", err) }()

	input.SenderID = strings.TrimSpace(input.SenderID)
	input.RecipientID = strings.TrimSpace(input.RecipientID)
	if input.Amount <= 0 {
		return Result{}, ledger.Invalid("amount", "must be positive")
	}
	if input.SenderID == "" {
		return Result{}, ledger.Invalid("sender_id", "is required")
	}
	if input.RecipientID == "" {
		return Result{}, ledger.Invalid("recipient_id", "is required")
	}
	if input.SenderID == input.RecipientID {
		return Result{}, ledger.Invalid("recipient_id", "cannot transfer to yourself")
	}

	from, err := e.store.WalletByOwner(ctx, input.SenderID, ledger.KindPersonal)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return Result{}, &ledger.InsufficientFundsError{Balance: 0, Requested: input.Amount}
	}
	if err != nil {
		return Result{}, err
	}
	to, err := e.store.WalletByOwner(ctx, input.RecipientID, ledger.KindPersonal)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return Result{}, ledger.Invalid("recipient_id", "does not resolve to a wallet")
	}
	if err != nil {
		return Result{}, err
	}

	schedule, err := e.fees.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	quote := e.fees.Quote(schedule, fees.TypeSendMoney, input.Amount)

	if input.IdempotencyKey == "" {
		input.IdempotencyKey = uuid.NewString()
	}
	req := ledger.TransferRequest{
		FromWalletID:   from.ID,
		ToWalletID:     to.ID,
		Amount:         input.Amount,
		Fee:            quote.Fee,
		IdempotencyKey: input.IdempotencyKey,
		OutType:        ledger.TypeTransferOut,
		InType:         ledger.TypeTransferIn,
		Description:    input.Description,
	}

	var posted ledger.TransferResult
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		var terr error
		posted, terr = e.store.Transfer(ctx, req)
		return terr
	})
	if err != nil {
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			e.logger.Info("transfer rejected", "sender", input.SenderID, "balance", insufficient.Balance, "requested", insufficient.Requested)
			return Result{}, err
		}
		return Result{}, fmt.Errorf("transfer: %w", err)
	}

	res = Result{
		TransactionID:     posted.Debit.ID,
		ReferenceID:       input.IdempotencyKey,
		NetAmount:         input.Amount,
		Fee:               -posted.Debit.Amount - posted.Credit.Amount,
		RecipientCredited: posted.Credit.Amount,
		SenderBalance:     posted.FromBalance,
		Replayed:          posted.Replayed,
		CompletedAt:       posted.Debit.CreatedAt,
	}
	if posted.Replayed {
		return res, nil
	}

	e.events.Emit(ctx,
		notification.Event{
			Type:        notification.TypeTransferOut,
			UserID:      input.SenderID,
			WalletID:    from.ID,
			Amount:      posted.Debit.Amount,
			Fee:         posted.Debit.Fee,
			NewBalance:  posted.FromBalance,
			ReferenceID: input.IdempotencyKey,
		},
		notification.Event{
			Type:        notification.TypeTransferIn,
			UserID:      input.RecipientID,
			WalletID:    to.ID,
			Amount:      posted.Credit.Amount,
			NewBalance:  posted.ToBalance,
			ReferenceID: input.IdempotencyKey,
		},
	)
	return res, nil
}

// ContributeInput moves a member's savings into a chama pooled wallet.
type ContributeInput struct {
	MemberID       string
	ChamaID        string
	Amount         int64
	IdempotencyKey string
}

// Contribute transfers from the member's personal wallet to the chama's
// pooled wallet, creating the pooled wallet on first use. Contributions carry
// no fee.
func (e *Engine) Contribute(ctx context.Context, input ContributeInput) (res Result, err error) {
	defer func() { e.metrics.Posting("contribution", err) }()

	if input.Amount <= 0 {
		return Result{}, ledger.Invalid("amount", "must be positive")
	}
	if strings.TrimSpace(input.MemberID) == "" {
		return Result{}, ledger.Invalid("member_id", "is required")
	}
	if strings.TrimSpace(input.ChamaID) == "" {
		return Result{}, ledger.Invalid("chama_id", "is required")
	}

	from, err := e.store.WalletByOwner(ctx, input.MemberID, ledger.KindPersonal)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return Result{}, &ledger.InsufficientFundsError{Balance: 0, Requested: input.Amount}
	}
	if err != nil {
		return Result{}, err
	}
	pool, err := e.store.EnsureWallet(ctx, input.ChamaID, ledger.KindChama, from.Currency)
	if err != nil {
		return Result{}, err
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = uuid.NewString()
	}

	var posted ledger.TransferResult
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		var terr error
		posted, terr = e.store.Transfer(ctx, ledger.TransferRequest{
			FromWalletID:   from.ID,
			ToWalletID:     pool.ID,
			Amount:         input.Amount,
			IdempotencyKey: input.IdempotencyKey,
			OutType:        ledger.TypeChamaContribution,
			InType:         ledger.TypeChamaContribution,
			Description:    "contribution to " + input.ChamaID,
		})
		return terr
	})
	if err != nil {
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("contribute: %w", err)
	}

	res = Result{
		TransactionID:     posted.Debit.ID,
		ReferenceID:       input.IdempotencyKey,
		NetAmount:         input.Amount,
		RecipientCredited: posted.Credit.Amount,
		SenderBalance:     posted.FromBalance,
		Replayed:          posted.Replayed,
		CompletedAt:       posted.Debit.CreatedAt,
	}
	if !posted.Replayed {
		e.events.Emit(ctx, notification.Event{
			Type:        string(ledger.TypeChamaContribution),
			UserID:      input.MemberID,
			WalletID:    from.ID,
			Amount:      posted.Debit.Amount,
			NewBalance:  posted.FromBalance,
			ReferenceID: input.IdempotencyKey,
		})
	}
	return res, nil
}
