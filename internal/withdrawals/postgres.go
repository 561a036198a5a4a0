package withdrawals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const requestColumns = `id, user_id, wallet_id, amount, fee, net_amount, method, destination, status,
    idempotency_key, ledger_reference, failure_reason, created_at, updated_at, completed_at`

// PostgresRepository stores requests in the withdrawal_requests table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	_, err := r.db.Exec(ctx, `INSERT INTO withdrawal_requests (`+requestColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		uuid.MustParse(req.ID), req.UserID, uuid.MustParse(req.WalletID), req.Amount, req.Fee, req.NetAmount,
		string(req.Method), req.Destination, string(req.Status), req.IdempotencyKey, req.LedgerReference,
		req.FailureReason, req.CreatedAt, req.UpdatedAt, req.CompletedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Request, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return Request{}, ErrNotFound
	}
	return scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1`, reqID))
}

func (r *PostgresRepository) ByIdempotencyKey(ctx context.Context, userID, key string) (Request, bool, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM withdrawal_requests
        WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if errors.Is(err, ErrNotFound) {
		return Request{}, false, nil
	}
	if err != nil {
		return Request{}, false, err
	}
	return req, true, nil
}

func (r *PostgresRepository) Update(ctx context.Context, req Request) error {
	tag, err := r.db.Exec(ctx, `UPDATE withdrawal_requests
        SET status = $2, failure_reason = $3, updated_at = $4, completed_at = $5
        WHERE id = $1`,
		uuid.MustParse(req.ID), string(req.Status), req.FailureReason, req.UpdatedAt, req.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
        WHERE user_id = $1 AND created_at >= $2 AND status IN ('pending', 'completed')`, userID, since).Scan(&total)
	return total, err
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req            Request
		id, walletID   uuid.UUID
		method, status string
	)
	err := row.Scan(&id, &req.UserID, &walletID, &req.Amount, &req.Fee, &req.NetAmount, &method, &req.Destination,
		&status, &req.IdempotencyKey, &req.LedgerReference, &req.FailureReason, &req.CreatedAt, &req.UpdatedAt,
		&req.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	req.ID = id.String()
	req.WalletID = walletID.String()
	req.Method = Method(method)
	req.Status = Status(status)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return req, nil
}
