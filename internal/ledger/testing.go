package ledger

import "context"

// Seed opens a wallet for the owner and funds it through a regular deposit so
// the transaction log stays reconcilable. Intended for tests and local setup.
func Seed(ctx context.Context, s Store, ownerID string, kind Kind, amount int64) (Wallet, error) {
	w, err := s.EnsureWallet(ctx, ownerID, kind, "KES")
	if err != nil {
		return Wallet{}, err
	}
	if amount <= 0 {
		return w, nil
	}
	posting, err := s.Credit(ctx, w.ID, amount, Entry{Type: TypeDeposit, ReferenceID: "seed:" + w.ID, Description: "opening balance"})
	if err != nil {
		return Wallet{}, err
	}
	w.Balance = posting.Balance
	return w, nil
}

// OverrideBalance writes a cached balance directly, bypassing the log. It
// exists to simulate drift in reconciliation tests.
func OverrideBalance(s *MemoryStore, walletID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[walletID]; ok {
		w.Balance = balance
	}
}
