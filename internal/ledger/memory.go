package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ownerKey struct {
	owner string
	kind  Kind
}

// MemoryStore is a concurrency-safe in-memory ledger useful for unit tests and
// local development. Wallet locks serialize mutations per wallet; mu guards
// the maps themselves.
type MemoryStore struct {
	mu       sync.RWMutex
	wallets  map[string]*Wallet
	owners   map[ownerKey]string
	txs      []Transaction
	byWallet map[string][]int
	byRef    map[string][]int

	locks       *walletLocks
	lockTimeout time.Duration
	now         func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithLockTimeout bounds how long a mutation waits for wallet locks.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.lockTimeout = d }
}

// WithClock overrides the time source, mainly for pending-expiry tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		wallets:     make(map[string]*Wallet),
		owners:      make(map[ownerKey]string),
		byWallet:    make(map[string][]int),
		byRef:       make(map[string][]int),
		locks:       newWalletLocks(),
		lockTimeout: 5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) EnsureWallet(_ context.Context, ownerID string, kind Kind, currency string) (Wallet, error) {
	if ownerID == "" {
		return Wallet{}, Invalid("owner_id", "is required")
	}
	if !kind.Valid() {
		return Wallet{}, Invalid("kind", "unknown wallet kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey{owner: ownerID, kind: kind}
	if id, ok := s.owners[key]; ok {
		return *s.wallets[id], nil
	}
	now := s.now()
	w := &Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      kind,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[w.ID] = w
	s.owners[key] = w.ID
	return *w, nil
}

func (s *MemoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

func (s *MemoryStore) WalletByOwner(_ context.Context, ownerID string, kind Kind) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[ownerKey{owner: ownerID, kind: kind}]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *s.wallets[id], nil
}

func (s *MemoryStore) ListWallets(_ context.Context) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Credit(ctx context.Context, walletID string, amount int64, entry Entry) (Posting, error) {
	return s.post(ctx, walletID, amount, entry, TypeDeposit)
}

func (s *MemoryStore) Debit(ctx context.Context, walletID string, amount int64, entry Entry) (Posting, error) {
	return s.post(ctx, walletID, -amount, entry, TypeWithdrawal)
}

func (s *MemoryStore) post(ctx context.Context, walletID string, delta int64, entry Entry, defaultType TxType) (Posting, error) {
	if err := validateAmount(abs(delta)); err != nil {
		return Posting{}, err
	}
	if entry.Type == "" {
		entry.Type = defaultType
	}

	release, err := s.locks.acquire(ctx, s.lockTimeout, walletID)
	if err != nil {
		return Posting{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletID]
	if !ok {
		return Posting{}, ErrWalletNotFound
	}
	if prior, ok := s.findLocked(walletID, entry.ReferenceID, entry.Type, StatusCompleted); ok {
		return Posting{Transaction: prior, Balance: w.Balance, Replayed: true}, nil
	}
	if delta < 0 && w.Balance < -delta {
		return Posting{}, &InsufficientFundsError{WalletID: walletID, Balance: w.Balance, Requested: -delta}
	}
	if err := checkCredit(w.Balance, delta); err != nil {
		return Posting{}, err
	}

	tx := s.applyLocked(w, delta, entry)
	return Posting{Transaction: tx, Balance: w.Balance}, nil
}

func (s *MemoryStore) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := validateTransfer(&req); err != nil {
		return TransferResult{}, err
	}

	release, err := s.locks.acquire(ctx, s.lockTimeout, req.FromWalletID, req.ToWalletID)
	if err != nil {
		return TransferResult{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.wallets[req.FromWalletID]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}
	to, ok := s.wallets[req.ToWalletID]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}

	if debit, ok := s.findLocked(from.ID, req.IdempotencyKey, req.OutType, StatusCompleted); ok {
		credit, _ := s.findLocked(to.ID, req.IdempotencyKey, req.InType, StatusCompleted)
		return TransferResult{Debit: debit, Credit: credit, FromBalance: from.Balance, ToBalance: to.Balance, Replayed: true}, nil
	}

	total := req.Amount + req.Fee
	if from.Balance < total {
		return TransferResult{}, &InsufficientFundsError{WalletID: from.ID, Balance: from.Balance, Requested: total}
	}
	if err := checkCredit(to.Balance, req.Amount); err != nil {
		return TransferResult{}, err
	}

	debit := s.applyLocked(from, -total, Entry{Type: req.OutType, ReferenceID: req.IdempotencyKey, Description: req.Description, Fee: req.Fee})
	credit := s.applyLocked(to, req.Amount, Entry{Type: req.InType, ReferenceID: req.IdempotencyKey, Description: req.Description})

	return TransferResult{Debit: debit, Credit: credit, FromBalance: from.Balance, ToBalance: to.Balance}, nil
}

func (s *MemoryStore) RecordPending(ctx context.Context, walletID string, amount int64, entry Entry) (Transaction, error) {
	if amount == 0 {
		return Transaction{}, Invalid("amount", "must not be zero")
	}
	if entry.ReferenceID == "" {
		return Transaction{}, Invalid("reference_id", "is required for pending rows")
	}
	if entry.Type == "" {
		entry.Type = TypeDeposit
	}

	release, err := s.locks.acquire(ctx, s.lockTimeout, walletID)
	if err != nil {
		return Transaction{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[walletID]; !ok {
		return Transaction{}, ErrWalletNotFound
	}
	for _, status := range []Status{StatusPending, StatusCompleted} {
		if prior, ok := s.findLocked(walletID, entry.ReferenceID, entry.Type, status); ok {
			return prior, nil
		}
	}

	now := s.now()
	tx := Transaction{
		ID:          uuid.NewString(),
		WalletID:    walletID,
		Type:        entry.Type,
		Amount:      amount,
		Fee:         entry.Fee,
		Status:      StatusPending,
		ReferenceID: entry.ReferenceID,
		Description: entry.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.appendLocked(tx)
	return tx, nil
}

func (s *MemoryStore) Settle(ctx context.Context, referenceID string, status Status) (Posting, error) {
	if err := validateSettleStatus(status); err != nil {
		return Posting{}, err
	}

	walletID, err := s.walletForReference(referenceID)
	if err != nil {
		return Posting{}, err
	}

	release, err := s.locks.acquire(ctx, s.lockTimeout, walletID)
	if err != nil {
		return Posting{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.wallets[walletID]
	idx := -1
	for _, i := range s.byRef[referenceID] {
		tx := s.txs[i]
		if tx.WalletID != walletID {
			continue
		}
		if tx.Status == StatusCompleted {
			return Posting{Transaction: tx, Balance: w.Balance, Replayed: true}, nil
		}
		if tx.Status == StatusPending {
			idx = i
		}
	}
	if idx < 0 {
		return Posting{}, ErrTransactionNotFound
	}

	tx := s.txs[idx]
	now := s.now()
	if status == StatusCompleted {
		if tx.Amount < 0 && w.Balance < -tx.Amount {
			return Posting{}, &InsufficientFundsError{WalletID: w.ID, Balance: w.Balance, Requested: -tx.Amount}
		}
		if err := checkCredit(w.Balance, tx.Amount); err != nil {
			return Posting{}, err
		}
		w.Balance += tx.Amount
		w.UpdatedAt = now
		tx.BalanceAfter = w.Balance
	}
	tx.Status = status
	tx.UpdatedAt = now
	s.txs[idx] = tx
	return Posting{Transaction: tx, Balance: w.Balance}, nil
}

func (s *MemoryStore) ExpirePending(_ context.Context, before time.Time) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Transaction
	now := s.now()
	for i, tx := range s.txs {
		if tx.Status != StatusPending || !tx.CreatedAt.Before(before) {
			continue
		}
		tx.Status = StatusFailed
		tx.UpdatedAt = now
		s.txs[i] = tx
		expired = append(expired, tx)
	}
	return expired, nil
}

func (s *MemoryStore) Transactions(_ context.Context, walletID string, filter Filter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.wallets[walletID]; !ok {
		return nil, ErrWalletNotFound
	}
	var out []Transaction
	idxs := s.byWallet[walletID]
	for i := len(idxs) - 1; i >= 0; i-- {
		tx := s.txs[idxs[i]]
		if !matches(tx, filter) {
			continue
		}
		out = append(out, tx)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByReference(_ context.Context, referenceID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, i := range s.byRef[referenceID] {
		out = append(out, s.txs[i])
	}
	return out, nil
}

func (s *MemoryStore) Reconcile(ctx context.Context, walletID string, epsilon int64) (Reconciliation, error) {
	release, err := s.locks.acquire(ctx, s.lockTimeout, walletID)
	if err != nil {
		return Reconciliation{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletID]
	if !ok {
		return Reconciliation{}, ErrWalletNotFound
	}
	var computed int64
	for _, i := range s.byWallet[walletID] {
		if tx := s.txs[i]; tx.Status == StatusCompleted {
			computed += tx.Amount
		}
	}

	rec := Reconciliation{
		WalletID:    walletID,
		Stored:      w.Balance,
		Computed:    computed,
		Discrepancy: w.Balance - computed,
		CheckedAt:   s.now(),
	}
	if abs(rec.Discrepancy) > epsilon {
		w.Balance = computed
		w.UpdatedAt = rec.CheckedAt
		rec.Corrected = true
	}
	return rec, nil
}

func (s *MemoryStore) walletForReference(referenceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, i := range s.byRef[referenceID] {
		if st := s.txs[i].Status; st == StatusPending || st == StatusCompleted {
			return s.txs[i].WalletID, nil
		}
	}
	return "", ErrTransactionNotFound
}

// findLocked requires s.mu.
func (s *MemoryStore) findLocked(walletID, referenceID string, typ TxType, status Status) (Transaction, bool) {
	if referenceID == "" {
		return Transaction{}, false
	}
	for _, i := range s.byRef[referenceID] {
		tx := s.txs[i]
		if tx.WalletID == walletID && tx.Type == typ && tx.Status == status {
			return tx, true
		}
	}
	return Transaction{}, false
}

// applyLocked requires the wallet lock and s.mu.
func (s *MemoryStore) applyLocked(w *Wallet, delta int64, entry Entry) Transaction {
	now := s.now()
	w.Balance += delta
	w.UpdatedAt = now
	tx := Transaction{
		ID:           uuid.NewString(),
		WalletID:     w.ID,
		Type:         entry.Type,
		Amount:       delta,
		Fee:          entry.Fee,
		BalanceAfter: w.Balance,
		Status:       StatusCompleted,
		ReferenceID:  entry.ReferenceID,
		Description:  entry.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.appendLocked(tx)
	return tx
}

func (s *MemoryStore) appendLocked(tx Transaction) {
	idx := len(s.txs)
	s.txs = append(s.txs, tx)
	s.byWallet[tx.WalletID] = append(s.byWallet[tx.WalletID], idx)
	if tx.ReferenceID != "" {
		s.byRef[tx.ReferenceID] = append(s.byRef[tx.ReferenceID], idx)
	}
}
