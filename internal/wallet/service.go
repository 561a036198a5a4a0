package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/money"
)

// ErrNotOwner indicates the caller does not own the wallet.
var ErrNotOwner = errors.New("not owner of wallet")

// Service exposes wallet operations backed by the ledger store.
type Service struct {
	store    ledger.Store
	currency string
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, currency string) *Service {
	if currency == "" {
		currency = "KES"
	}
	return &Service{store: store, currency: currency}
}

// OpenInput captures data required to open a wallet.
type OpenInput struct {
	OwnerID  string
	Kind     ledger.Kind
	Currency string
}

// Open returns the owner's wallet of the requested kind, creating it if
// needed. Opening twice is harmless.
func (s *Service) Open(ctx context.Context, input OpenInput) (ledger.Wallet, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return ledger.Wallet{}, ledger.Invalid("owner_id", "is required")
	}
	if input.Kind == "" {
		input.Kind = ledger.KindPersonal
	}
	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return ledger.Wallet{}, ledger.Invalid("currency", "only "+s.currency+" wallets are supported")
	}
	return s.store.EnsureWallet(ctx, input.OwnerID, input.Kind, currency)
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return s.store.Wallet(ctx, id)
}

// GetByOwner resolves the owner's wallet of the given kind.
func (s *Service) GetByOwner(ctx context.Context, ownerID string, kind ledger.Kind) (ledger.Wallet, error) {
	return s.store.WalletByOwner(ctx, ownerID, kind)
}

// Owned fetches a wallet and checks it belongs to callerID. An empty caller
// skips the check.
func (s *Service) Owned(ctx context.Context, id, callerID string) (ledger.Wallet, error) {
	w, err := s.store.Wallet(ctx, id)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if callerID != "" && w.OwnerID != callerID {
		return ledger.Wallet{}, ErrNotOwner
	}
	return w, nil
}

// Balance returns the cached ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id, callerID string) (Balance, error) {
	w, err := s.Owned(ctx, id, callerID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		WalletID:  w.ID,
		OwnerID:   w.OwnerID,
		Kind:      w.Kind,
		Currency:  w.Currency,
		Amount:    w.Balance,
		Formatted: money.Format(w.Balance, w.Currency),
		AsOf:      time.Now().UTC(),
	}, nil
}

// Statement lists the wallet's ledger rows, newest first.
func (s *Service) Statement(ctx context.Context, id, callerID string, filter ledger.Filter) ([]ledger.Transaction, error) {
	if _, err := s.Owned(ctx, id, callerID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.store.Transactions(ctx, id, filter)
}
