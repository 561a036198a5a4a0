package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPair(t *testing.T, s *MemoryStore, fromBalance, toBalance int64) (Wallet, Wallet) {
	t.Helper()
	ctx := context.Background()
	from, err := Seed(ctx, s, "alice", KindPersonal, fromBalance)
	require.NoError(t, err)
	to, err := Seed(ctx, s, "bob", KindPersonal, toBalance)
	require.NoError(t, err)
	return from, to
}

func TestTransferMovesAmountAndFee(t *testing.T) {
	s := NewMemoryStore()
	from, to := seedPair(t, s, 1200, 0)

	res, err := AtomicTransfer(context.Background(), s, from.ID, to.ID, 1000, 10, "tx-1")
	require.NoError(t, err)

	assert.Equal(t, int64(190), res.FromBalance)
	assert.Equal(t, int64(1000), res.ToBalance)
	assert.Equal(t, int64(-1010), res.Debit.Amount)
	assert.Equal(t, int64(10), res.Debit.Fee)
	assert.Equal(t, TypeTransferOut, res.Debit.Type)
	assert.Equal(t, int64(1000), res.Credit.Amount)
	assert.Equal(t, TypeTransferIn, res.Credit.Type)
	assert.Equal(t, "tx-1", res.Credit.ReferenceID)
}

func TestTransferInsufficientFundsLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	from, to := seedPair(t, s, 500, 0)
	ctx := context.Background()

	_, err := AtomicTransfer(ctx, s, from.ID, to.ID, 500, 10, "tx-short")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(500), insufficient.Balance)
	assert.Equal(t, int64(510), insufficient.Requested)

	rows, err := s.FindByReference(ctx, "tx-short")
	require.NoError(t, err)
	assert.Empty(t, rows)

	w, _ := s.Wallet(ctx, from.ID)
	assert.Equal(t, int64(500), w.Balance)
}

func TestTransferReplayIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	from, to := seedPair(t, s, 5000, 0)
	ctx := context.Background()

	first, err := AtomicTransfer(ctx, s, from.ID, to.ID, 1000, 10, "same-key")
	require.NoError(t, err)
	second, err := AtomicTransfer(ctx, s, from.ID, to.ID, 1000, 10, "same-key")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Debit.ID, second.Debit.ID)
	assert.Equal(t, first.Credit.ID, second.Credit.ID)

	rows, _ := s.FindByReference(ctx, "same-key")
	assert.Len(t, rows, 2)

	w, _ := s.Wallet(ctx, from.ID)
	assert.Equal(t, int64(3990), w.Balance)
}

func TestTransferValidation(t *testing.T) {
	s := NewMemoryStore()
	from, to := seedPair(t, s, 100, 0)
	ctx := context.Background()

	cases := []struct {
		name string
		req  TransferRequest
	}{
		{"zero amount", TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: 0, IdempotencyKey: "k"}},
		{"negative fee", TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: 1, Fee: -1, IdempotencyKey: "k"}},
		{"same wallet", TransferRequest{FromWalletID: from.ID, ToWalletID: from.ID, Amount: 1, IdempotencyKey: "k"}},
		{"missing key", TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Transfer(ctx, tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	if _, err := AtomicTransfer(ctx, s, from.ID, "missing", 10, 0, "k2"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestTransferRejectsAmountPlusFeeOverflow(t *testing.T) {
	s := NewMemoryStore()
	from, to := seedPair(t, s, 0, 0)
	ctx := context.Background()

	_, err := AtomicTransfer(ctx, s, from.ID, to.ID, math.MaxInt64-5, 100, "wrap")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)

	for _, id := range []string{from.ID, to.ID} {
		w, _ := s.Wallet(ctx, id)
		assert.Zero(t, w.Balance)
	}
	rows, _ := s.FindByReference(ctx, "wrap")
	assert.Empty(t, rows)
}

func TestCreditsNeverOverflowBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	from, to := seedPair(t, s, 1_000, math.MaxInt64-500)

	_, err := s.Credit(ctx, to.ID, 501, Entry{ReferenceID: "big-credit"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = AtomicTransfer(ctx, s, from.ID, to.ID, 600, 0, "big-transfer")
	require.ErrorAs(t, err, &verr)
	w, _ := s.Wallet(ctx, from.ID)
	assert.Equal(t, int64(1_000), w.Balance)

	_, err = s.RecordPending(ctx, to.ID, 700, Entry{ReferenceID: "big-pending"})
	require.NoError(t, err)
	_, err = s.Settle(ctx, "big-pending", StatusCompleted)
	require.ErrorAs(t, err, &verr)

	pending, _ := s.Transactions(ctx, to.ID, Filter{Status: StatusPending})
	assert.Len(t, pending, 1)
	w, _ = s.Wallet(ctx, to.ID)
	assert.Equal(t, int64(math.MaxInt64-500), w.Balance)

	posting, err := s.Credit(ctx, to.ID, 500, Entry{ReferenceID: "exact"})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), posting.Balance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w, err := Seed(ctx, s, "alice", KindPersonal, 1000)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	for _, ref := range []string{"debit-a", "debit-b"} {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			if _, err := s.Debit(ctx, w.ID, 700, Entry{Type: TypeWithdrawal, ReferenceID: ref}); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}(ref)
	}
	wg.Wait()

	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrInsufficientFunds))

	got, _ := s.Wallet(ctx, w.ID)
	assert.Equal(t, int64(300), got.Balance)
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := Seed(ctx, s, "a", KindPersonal, 10_000)
	b, _ := Seed(ctx, s, "b", KindPersonal, 10_000)
	c, _ := Seed(ctx, s, "c", KindPersonal, 10_000)
	ids := []string{a.ID, b.ID, c.ID}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		fees int64
	)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := ids[i%3], ids[(i+1)%3]
			res, err := AtomicTransfer(ctx, s, from, to, 250, 5, fmt.Sprintf("p-%d", i))
			if err == nil && !res.Replayed {
				mu.Lock()
				fees += res.Debit.Fee
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, id := range ids {
		w, _ := s.Wallet(ctx, id)
		assert.GreaterOrEqual(t, w.Balance, int64(0))
		total += w.Balance
	}
	assert.Equal(t, int64(30_000), total+fees)
}

func TestCreditReplayDoesNotDoubleApply(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w, _ := s.EnsureWallet(ctx, "alice", KindPersonal, "KES")

	first, err := s.Credit(ctx, w.ID, 500, Entry{ReferenceID: "mpesa-1"})
	require.NoError(t, err)
	second, err := s.Credit(ctx, w.ID, 500, Entry{ReferenceID: "mpesa-1"})
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, int64(500), second.Balance)
	assert.Equal(t, TypeDeposit, first.Transaction.Type)
}

func TestEnsureWalletIsKeyedByOwnerAndKind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	personal, err := s.EnsureWallet(ctx, "alice", KindPersonal, "KES")
	require.NoError(t, err)
	again, err := s.EnsureWallet(ctx, "alice", KindPersonal, "KES")
	require.NoError(t, err)
	chama, err := s.EnsureWallet(ctx, "alice", KindChama, "KES")
	require.NoError(t, err)

	assert.Equal(t, personal.ID, again.ID)
	assert.NotEqual(t, personal.ID, chama.ID)

	_, err = s.EnsureWallet(ctx, "alice", Kind("savings"), "KES")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	wallets, _ := s.ListWallets(ctx)
	assert.Len(t, wallets, 2)
}

func TestPendingSettlement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w, _ := s.EnsureWallet(ctx, "alice", KindPersonal, "KES")

	pending, err := s.RecordPending(ctx, w.ID, 2500, Entry{Type: TypeDeposit, ReferenceID: "ext-9"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)

	dup, err := s.RecordPending(ctx, w.ID, 2500, Entry{Type: TypeDeposit, ReferenceID: "ext-9"})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, dup.ID)

	got, _ := s.Wallet(ctx, w.ID)
	assert.Zero(t, got.Balance)

	posting, err := s.Settle(ctx, "ext-9", StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), posting.Balance)
	assert.Equal(t, StatusCompleted, posting.Transaction.Status)

	again, err := s.Settle(ctx, "ext-9", StatusCompleted)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(2500), again.Balance)

	_, err = s.Settle(ctx, "unknown", StatusCompleted)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSettleFailedLeavesBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w, _ := s.EnsureWallet(ctx, "alice", KindPersonal, "KES")

	_, err := s.RecordPending(ctx, w.ID, 900, Entry{ReferenceID: "ext-fail"})
	require.NoError(t, err)
	posting, err := s.Settle(ctx, "ext-fail", StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, posting.Transaction.Status)
	assert.Zero(t, posting.Balance)

	_, err = s.Settle(ctx, "ext-fail", StatusCompleted)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestExpirePending(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	w, _ := s.EnsureWallet(ctx, "alice", KindPersonal, "KES")

	_, err := s.RecordPending(ctx, w.ID, 100, Entry{ReferenceID: "old"})
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = s.RecordPending(ctx, w.ID, 100, Entry{ReferenceID: "fresh"})
	require.NoError(t, err)

	expired, err := s.ExpirePending(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ReferenceID)
	assert.Equal(t, StatusFailed, expired[0].Status)

	pending, _ := s.Transactions(ctx, w.ID, Filter{Status: StatusPending})
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].ReferenceID)
}

func TestTransactionsNewestFirstWithLimit(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()
	w, _ := s.EnsureWallet(ctx, "alice", KindPersonal, "KES")
	for _, ref := range []string{"d1", "d2", "d3"} {
		_, err := s.Credit(ctx, w.ID, 100, Entry{ReferenceID: ref})
		require.NoError(t, err)
	}
	_, err := s.Debit(ctx, w.ID, 50, Entry{ReferenceID: "w1"})
	require.NoError(t, err)

	rows, err := s.Transactions(ctx, w.ID, Filter{Types: []TxType{TypeDeposit}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "d3", rows[0].ReferenceID)
	assert.Equal(t, "d2", rows[1].ReferenceID)

	_, err = s.Transactions(ctx, "missing", Filter{})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w, err := Seed(ctx, s, "alice", KindPersonal, 1000)
	require.NoError(t, err)

	clean, err := s.Reconcile(ctx, w.ID, 0)
	require.NoError(t, err)
	assert.False(t, clean.Corrected)
	assert.Zero(t, clean.Discrepancy)

	OverrideBalance(s, w.ID, 1300)

	within, err := s.Reconcile(ctx, w.ID, 500)
	require.NoError(t, err)
	assert.False(t, within.Corrected)
	assert.Equal(t, int64(300), within.Discrepancy)

	fixed, err := s.Reconcile(ctx, w.ID, 50)
	require.NoError(t, err)
	assert.True(t, fixed.Corrected)
	assert.Equal(t, int64(1300), fixed.Stored)
	assert.Equal(t, int64(1000), fixed.Computed)

	second, err := s.Reconcile(ctx, w.ID, 50)
	require.NoError(t, err)
	assert.False(t, second.Corrected)
	assert.Zero(t, second.Discrepancy)
}

func TestLockTimeoutReturnsConflict(t *testing.T) {
	s := NewMemoryStore(WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()
	w, _ := Seed(ctx, s, "alice", KindPersonal, 1000)

	release, err := s.locks.acquire(ctx, time.Second, w.ID)
	require.NoError(t, err)
	defer release()

	_, err = s.Debit(ctx, w.ID, 10, Entry{ReferenceID: "blocked"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "concurrency_conflict", conflict.Kind())
}
