package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	walletColumns = `id, owner_id, kind, currency, balance, created_at, updated_at`
	txColumns     = `id, wallet_id, type, amount, fee, balance_after, status, reference_id, description, created_at, updated_at`
)

// PostgresStore persists wallets and the append-only transaction log in
// PostgreSQL. Wallet rows are locked with SELECT ... FOR UPDATE in ascending
// id order; the cached balance column is updated in the same transaction as
// the row that explains it.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed ledger implementation.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// EnsureWallet returns the owner's wallet of the given kind, creating it on first use.
func (s *PostgresStore) EnsureWallet(ctx context.Context, ownerID string, kind Kind, currency string) (Wallet, error) {
	if ownerID == "" {
		return Wallet{}, Invalid("owner_id", "is required")
	}
	if !kind.Valid() {
		return Wallet{}, Invalid("kind", "unknown wallet kind")
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, kind, currency, balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, $5, $5)
        ON CONFLICT (owner_id, kind) DO NOTHING`, uuid.New(), ownerID, string(kind), currency, now)
	if err != nil {
		return Wallet{}, mapPgError("ensure wallet", err)
	}
	return s.WalletByOwner(ctx, ownerID, kind)
}

// Wallet fetches a wallet by id.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
}

// WalletByOwner fetches the wallet keyed by (owner, kind).
func (s *PostgresStore) WalletByOwner(ctx context.Context, ownerID string, kind Kind) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND kind = $2`, ownerID, string(kind)))
}

// ListWallets returns every wallet ordered by id.
func (s *PostgresStore) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Credit adds amount to the wallet and appends a completed row.
func (s *PostgresStore) Credit(ctx context.Context, walletID string, amount int64, entry Entry) (Posting, error) {
	if entry.Type == "" {
		entry.Type = TypeDeposit
	}
	return s.post(ctx, walletID, amount, entry)
}

// Debit removes amount from the wallet, failing without change when the balance is short.
func (s *PostgresStore) Debit(ctx context.Context, walletID string, amount int64, entry Entry) (Posting, error) {
	if entry.Type == "" {
		entry.Type = TypeWithdrawal
	}
	return s.post(ctx, walletID, -amount, entry)
}

func (s *PostgresStore) post(ctx context.Context, walletID string, delta int64, entry Entry) (Posting, error) {
	if err := validateAmount(abs(delta)); err != nil {
		return Posting{}, err
	}

	var posting Posting
	err := s.inTx(ctx, "post", func(tx pgx.Tx) error {
		wallets, err := lockWallets(ctx, tx, walletID)
		if err != nil {
			return err
		}
		w := wallets[walletID]

		if prior, ok, err := findRow(ctx, tx, w.ID, entry.ReferenceID, entry.Type, StatusCompleted); err != nil {
			return err
		} else if ok {
			posting = Posting{Transaction: prior, Balance: w.Balance, Replayed: true}
			return nil
		}

		if delta < 0 && w.Balance < -delta {
			return &InsufficientFundsError{WalletID: w.ID, Balance: w.Balance, Requested: -delta}
		}

		row, err := applyRow(ctx, tx, w, delta, entry)
		if err != nil {
			return err
		}
		posting = Posting{Transaction: row, Balance: row.BalanceAfter}
		return nil
	})
	return posting, err
}

// Transfer records a balanced two-row posting between wallets.
func (s *PostgresStore) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := validateTransfer(&req); err != nil {
		return TransferResult{}, err
	}

	var res TransferResult
	err := s.inTx(ctx, "transfer", func(tx pgx.Tx) error {
		wallets, err := lockWallets(ctx, tx, req.FromWalletID, req.ToWalletID)
		if err != nil {
			return err
		}
		from, to := wallets[req.FromWalletID], wallets[req.ToWalletID]

		if debit, ok, err := findRow(ctx, tx, from.ID, req.IdempotencyKey, req.OutType, StatusCompleted); err != nil {
			return err
		} else if ok {
			credit, _, err := findRow(ctx, tx, to.ID, req.IdempotencyKey, req.InType, StatusCompleted)
			if err != nil {
				return err
			}
			res = TransferResult{Debit: debit, Credit: credit, FromBalance: from.Balance, ToBalance: to.Balance, Replayed: true}
			return nil
		}

		total := req.Amount + req.Fee
		if from.Balance < total {
			return &InsufficientFundsError{WalletID: from.ID, Balance: from.Balance, Requested: total}
		}

		debit, err := applyRow(ctx, tx, from, -total, Entry{Type: req.OutType, ReferenceID: req.IdempotencyKey, Description: req.Description, Fee: req.Fee})
		if err != nil {
			return err
		}
		credit, err := applyRow(ctx, tx, to, req.Amount, Entry{Type: req.InType, ReferenceID: req.IdempotencyKey, Description: req.Description})
		if err != nil {
			return err
		}
		res = TransferResult{Debit: debit, Credit: credit, FromBalance: debit.BalanceAfter, ToBalance: credit.BalanceAfter}
		return nil
	})
	return res, err
}

// RecordPending appends a pending row that does not affect the balance.
func (s *PostgresStore) RecordPending(ctx context.Context, walletID string, amount int64, entry Entry) (Transaction, error) {
	if amount == 0 {
		return Transaction{}, Invalid("amount", "must not be zero")
	}
	if entry.ReferenceID == "" {
		return Transaction{}, Invalid("reference_id", "is required for pending rows")
	}
	if entry.Type == "" {
		entry.Type = TypeDeposit
	}

	var out Transaction
	err := s.inTx(ctx, "record pending", func(tx pgx.Tx) error {
		wallets, err := lockWallets(ctx, tx, walletID)
		if err != nil {
			return err
		}
		w := wallets[walletID]
		for _, status := range []Status{StatusPending, StatusCompleted} {
			prior, ok, err := findRow(ctx, tx, w.ID, entry.ReferenceID, entry.Type, status)
			if err != nil {
				return err
			}
			if ok {
				out = prior
				return nil
			}
		}
		now := time.Now().UTC()
		out = Transaction{
			ID:          uuid.NewString(),
			WalletID:    w.ID,
			Type:        entry.Type,
			Amount:      amount,
			Fee:         entry.Fee,
			Status:      StatusPending,
			ReferenceID: entry.ReferenceID,
			Description: entry.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return insertRow(ctx, tx, out)
	})
	return out, err
}

// Settle resolves the pending row carrying referenceID.
func (s *PostgresStore) Settle(ctx context.Context, referenceID string, status Status) (Posting, error) {
	if err := validateSettleStatus(status); err != nil {
		return Posting{}, err
	}

	var posting Posting
	err := s.inTx(ctx, "settle", func(tx pgx.Tx) error {
		var walletID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT wallet_id FROM transactions
            WHERE reference_id = $1 AND status IN ('pending', 'completed')
            ORDER BY created_at LIMIT 1`, referenceID).Scan(&walletID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}

		wallets, err := lockWallets(ctx, tx, walletID.String())
		if err != nil {
			return err
		}
		w := wallets[walletID.String()]

		// Row locks keep ExpirePending off the candidates until commit.
		rows, err := tx.Query(ctx, `SELECT `+txColumns+` FROM transactions
            WHERE reference_id = $1 AND wallet_id = $2 AND status IN ('pending', 'completed')
            ORDER BY created_at
            FOR UPDATE`, referenceID, walletID)
		if err != nil {
			return err
		}
		candidates, err := collectRows(rows)
		if err != nil {
			return err
		}

		var pending *Transaction
		for i := range candidates {
			if candidates[i].Status == StatusCompleted {
				posting = Posting{Transaction: candidates[i], Balance: w.Balance, Replayed: true}
				return nil
			}
			pending = &candidates[i]
		}
		if pending == nil {
			return ErrTransactionNotFound
		}

		now := time.Now().UTC()
		row := *pending
		row.Status = status
		row.UpdatedAt = now
		if status == StatusCompleted {
			if row.Amount < 0 && w.Balance < -row.Amount {
				return &InsufficientFundsError{WalletID: w.ID, Balance: w.Balance, Requested: -row.Amount}
			}
			if err := checkCredit(w.Balance, row.Amount); err != nil {
				return err
			}
			w.Balance += row.Amount
			row.BalanceAfter = w.Balance
			if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`, w.Balance, now, walletID); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE transactions SET status = $1, balance_after = $2, updated_at = $3
            WHERE id = $4 AND status = 'pending'`, string(row.Status), row.BalanceAfter, now, uuid.MustParse(row.ID))
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return &ConflictError{Op: "settle", Cause: fmt.Errorf("pending row %s changed state", row.ID)}
		}
		posting = Posting{Transaction: row, Balance: w.Balance}
		return nil
	})
	return posting, err
}

// ExpirePending fails every pending row created before the cutoff. Rows a
// concurrent Settle holds are skipped and left for the next sweep.
func (s *PostgresStore) ExpirePending(ctx context.Context, before time.Time) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `UPDATE transactions SET status = 'failed', updated_at = now()
        WHERE status = 'pending' AND id IN (
            SELECT id FROM transactions
            WHERE status = 'pending' AND created_at < $1
            FOR UPDATE SKIP LOCKED)
        RETURNING `+txColumns, before.UTC())
	if err != nil {
		return nil, mapPgError("expire pending", err)
	}
	return collectRows(rows)
}

// Transactions lists a wallet's rows, newest first.
func (s *PostgresStore) Transactions(ctx context.Context, walletID string, filter Filter) ([]Transaction, error) {
	if _, err := s.Wallet(ctx, walletID); err != nil {
		return nil, err
	}

	var (
		conds = []string{"wallet_id = $1"}
		args  = []any{uuid.MustParse(walletID)}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		conds = append(conds, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until.UTC())
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// FindByReference returns every row sharing a reference id.
func (s *PostgresStore) FindByReference(ctx context.Context, referenceID string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference_id = $1 ORDER BY created_at`, referenceID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// Reconcile recomputes the balance from completed rows under the wallet lock.
func (s *PostgresStore) Reconcile(ctx context.Context, walletID string, epsilon int64) (Reconciliation, error) {
	var rec Reconciliation
	err := s.inTx(ctx, "reconcile", func(tx pgx.Tx) error {
		wallets, err := lockWallets(ctx, tx, walletID)
		if err != nil {
			return err
		}
		w := wallets[walletID]

		var computed int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
            WHERE wallet_id = $1 AND status = 'completed'`, uuid.MustParse(w.ID)).Scan(&computed); err != nil {
			return err
		}

		rec = Reconciliation{
			WalletID:    w.ID,
			Stored:      w.Balance,
			Computed:    computed,
			Discrepancy: w.Balance - computed,
			CheckedAt:   time.Now().UTC(),
		}
		if abs(rec.Discrepancy) <= epsilon {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`, computed, rec.CheckedAt, uuid.MustParse(w.ID)); err != nil {
			return err
		}
		rec.Corrected = true
		return nil
	})
	return rec, err
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgError(op, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return mapPgError(op, err)
		}
	}
	if err := fn(tx); err != nil {
		return mapPgError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(op, err)
	}
	return nil
}

func lockWallets(ctx context.Context, tx pgx.Tx, ids ...string) (map[string]*Wallet, error) {
	const query = `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	out := make(map[string]*Wallet, len(ids))
	for _, id := range sortedUnique(ids) {
		walletID, err := uuid.Parse(id)
		if err != nil {
			return nil, ErrWalletNotFound
		}
		w, err := scanWallet(tx.QueryRow(ctx, query, walletID))
		if err != nil {
			return nil, err
		}
		out[id] = &w
	}
	return out, nil
}

func findRow(ctx context.Context, tx pgx.Tx, walletID, referenceID string, typ TxType, status Status) (Transaction, bool, error) {
	if referenceID == "" {
		return Transaction{}, false, nil
	}
	row := tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions
        WHERE wallet_id = $1 AND reference_id = $2 AND type = $3 AND status = $4
        LIMIT 1`, uuid.MustParse(walletID), referenceID, string(typ), string(status))
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

func applyRow(ctx context.Context, tx pgx.Tx, w *Wallet, delta int64, entry Entry) (Transaction, error) {
	if err := checkCredit(w.Balance, delta); err != nil {
		return Transaction{}, err
	}
	now := time.Now().UTC()
	w.Balance += delta
	w.UpdatedAt = now
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`, w.Balance, now, uuid.MustParse(w.ID)); err != nil {
		return Transaction{}, err
	}
	row := Transaction{
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
	return row, insertRow(ctx, tx, row)
}

func insertRow(ctx context.Context, tx pgx.Tx, t Transaction) error {
	_, err := tx.Exec(ctx, `INSERT INTO transactions (`+txColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.MustParse(t.ID), uuid.MustParse(t.WalletID), string(t.Type), t.Amount, t.Fee, t.BalanceAfter,
		string(t.Status), t.ReferenceID, t.Description, t.CreatedAt, t.UpdatedAt)
	return err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w        Wallet
		id       uuid.UUID
		kind     string
		currency string
	)
	if err := row.Scan(&id, &w.OwnerID, &kind, &currency, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.Kind = Kind(kind)
	w.Currency = currency
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t            Transaction
		id, walletID uuid.UUID
		typ, status  string
	)
	if err := row.Scan(&id, &walletID, &typ, &t.Amount, &t.Fee, &t.BalanceAfter, &status,
		&t.ReferenceID, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.ID = id.String()
	t.WalletID = walletID.String()
	t.Type = TxType(typ)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func collectRows(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// mapPgError turns lock, serialization and uniqueness failures into
// retryable conflicts. Domain errors pass through untouched.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return &ConflictError{Op: op, Cause: err}
		}
	}
	return err
}
