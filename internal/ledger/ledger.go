package ledger

import (
	"context"
	"math"
	"time"
)

// Kind distinguishes the wallets a single owner may hold.
type Kind string

const (
	KindPersonal     Kind = "personal"
	KindChama        Kind = "chama"
	KindMerryGoRound Kind = "merry_go_round"
)

// Valid reports whether k is a known wallet kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPersonal, KindChama, KindMerryGoRound:
		return true
	}
	return false
}

// TxType classifies a ledger row.
type TxType string

const (
	TypeDeposit           TxType = "deposit"
	TypeWithdrawal        TxType = "withdrawal"
	TypeTransferIn        TxType = "transfer_in"
	TypeTransferOut       TxType = "transfer_out"
	TypeChamaContribution TxType = "chama_contribution"
	TypeLoanDisbursement  TxType = "loan_disbursement"
	TypeLoanRepayment     TxType = "loan_repayment"
	TypeFee               TxType = "fee"
	// TypeReversal offsets an earlier completed row, e.g. a failed payout.
	TypeReversal TxType = "reversal"
)

// Status is the lifecycle state of a ledger row. Only completed rows count
// towards a balance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Wallet is a non-negative balance in a single currency owned by
// (OwnerID, Kind).
type Wallet struct {
	ID        string
	OwnerID   string
	Kind      Kind
	Currency  string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an append-only ledger row. Amount is signed: credits are
// positive, debits negative. BalanceAfter is the wallet balance immediately
// after the row was applied (zero while pending).
type Transaction struct {
	ID           string
	WalletID     string
	Type         TxType
	Amount       int64
	Fee          int64
	BalanceAfter int64
	Status       Status
	ReferenceID  string
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Entry describes the row a credit or debit appends.
type Entry struct {
	Type        TxType
	ReferenceID string
	Description string
	Fee         int64
}

// Posting captures the outcome of a single-wallet mutation. Replayed is set
// when the reference had already been applied and nothing changed.
type Posting struct {
	Transaction Transaction
	Balance     int64
	Replayed    bool
}

// TransferRequest moves Amount to the destination while debiting Amount+Fee
// from the source.
type TransferRequest struct {
	FromWalletID   string
	ToWalletID     string
	Amount         int64
	Fee            int64
	IdempotencyKey string
	OutType        TxType
	InType         TxType
	Description    string
}

// TransferResult captures both rows of a transfer.
type TransferResult struct {
	Debit       Transaction
	Credit      Transaction
	FromBalance int64
	ToBalance   int64
	Replayed    bool
}

// Filter narrows a statement query. Zero values mean "no constraint".
type Filter struct {
	Status Status
	Types  []TxType
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Reconciliation reports a balance check against the transaction log.
type Reconciliation struct {
	WalletID    string
	Stored      int64
	Computed    int64
	Discrepancy int64
	Corrected   bool
	CheckedAt   time.Time
}

// Store defines the contract implemented by ledger backends. Mutations on the
// same wallet are linearized; multi-wallet operations lock wallets in
// ascending id order.
type Store interface {
	EnsureWallet(ctx context.Context, ownerID string, kind Kind, currency string) (Wallet, error)
	Wallet(ctx context.Context, id string) (Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string, kind Kind) (Wallet, error)
	ListWallets(ctx context.Context) ([]Wallet, error)

	Credit(ctx context.Context, walletID string, amount int64, entry Entry) (Posting, error)
	Debit(ctx context.Context, walletID string, amount int64, entry Entry) (Posting, error)
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)

	RecordPending(ctx context.Context, walletID string, amount int64, entry Entry) (Transaction, error)
	Settle(ctx context.Context, referenceID string, status Status) (Posting, error)
	ExpirePending(ctx context.Context, before time.Time) ([]Transaction, error)

	Transactions(ctx context.Context, walletID string, filter Filter) ([]Transaction, error)
	FindByReference(ctx context.Context, referenceID string) ([]Transaction, error)

	Reconcile(ctx context.Context, walletID string, epsilon int64) (Reconciliation, error)
}

// AtomicTransfer performs a peer-to-peer transfer: the source is debited
// amount+fee as transfer_out and the destination credited amount as
// transfer_in, or nothing happens.
func AtomicTransfer(ctx context.Context, s Store, fromWalletID, toWalletID string, amount, fee int64, idempotencyKey string) (TransferResult, error) {
	return s.Transfer(ctx, TransferRequest{
		FromWalletID:   fromWalletID,
		ToWalletID:     toWalletID,
		Amount:         amount,
		Fee:            fee,
		IdempotencyKey: idempotencyKey,
		OutType:        TypeTransferOut,
		InType:         TypeTransferIn,
	})
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return Invalid("amount", "must be positive")
	}
	return nil
}

func validateTransfer(req *TransferRequest) error {
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	if req.Fee < 0 {
		return Invalid("fee", "must not be negative")
	}
	if req.Amount > math.MaxInt64-req.Fee {
		return Invalid("amount", "amount plus fee exceeds the representable range")
	}
	if req.FromWalletID == "" || req.ToWalletID == "" {
		return Invalid("wallet_id", "source and destination are required")
	}
	if req.FromWalletID == req.ToWalletID {
		return Invalid("wallet_id", "source and destination must differ")
	}
	if req.IdempotencyKey == "" {
		return Invalid("idempotency_key", "is required")
	}
	if req.OutType == "" {
		req.OutType = TypeTransferOut
	}
	if req.InType == "" {
		req.InType = TypeTransferIn
	}
	return nil
}

// checkCredit rejects a positive delta that would push balance past MaxInt64.
func checkCredit(balance, delta int64) error {
	if delta > 0 && balance > math.MaxInt64-delta {
		return Invalid("amount", "credit would overflow the wallet balance")
	}
	return nil
}

func validateSettleStatus(status Status) error {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return nil
	}
	return Invalid("status", "must be completed, failed or cancelled")
}

func matches(tx Transaction, f Filter) bool {
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if tx.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && tx.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !tx.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
