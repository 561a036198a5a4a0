package loans

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const loanColumns = `id, chama_id, borrower_id, principal, annual_rate::text, term_months, total_repayable,
    outstanding, amount_repaid, status, approved_by, rejection_reason, disbursement_ref,
    created_at, approved_at, disbursed_at, completed_at, updated_at`

// PostgresRepository persists loans in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed loan repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, loan Loan) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	id, err := uuid.Parse(loan.ID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO loans (id, chama_id, borrower_id, principal, annual_rate, term_months,
            total_repayable, outstanding, amount_repaid, status, approved_by, rejection_reason, disbursement_ref,
            created_at, approved_at, disbursed_at, completed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		id, loan.ChamaID, loan.BorrowerID, loan.Principal, loan.AnnualRate.String(), loan.TermMonths,
		loan.TotalRepayable, loan.Outstanding, loan.AmountRepaid, string(loan.Status), loan.ApprovedBy,
		loan.RejectionReason, loan.DisbursementRef, loan.CreatedAt, loan.ApprovedAt, loan.DisbursedAt,
		loan.CompletedAt, loan.UpdatedAt)
	if err != nil {
		return err
	}
	if err := writeSchedule(ctx, tx, id, loan.Schedule); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Loan, error) {
	loanID, err := uuid.Parse(id)
	if err != nil {
		return Loan{}, ErrLoanNotFound
	}
	loan, err := scanLoan(r.db.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID))
	if err != nil {
		return Loan{}, err
	}
	if loan.Schedule, err = readSchedule(ctx, r.db, loanID); err != nil {
		return Loan{}, err
	}
	return loan, nil
}

func (r *PostgresRepository) Update(ctx context.Context, loan Loan) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := updateLoan(ctx, tx, loan); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ListByBorrower(ctx context.Context, borrowerID string) ([]Loan, error) {
	rows, err := r.db.Query(ctx, `SELECT `+loanColumns+` FROM loans WHERE borrower_id = $1 ORDER BY created_at`, borrowerID)
	if err != nil {
		return nil, err
	}
	var out []Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, loan)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Schedule, err = readSchedule(ctx, r.db, uuid.MustParse(out[i].ID)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PostgresRepository) RecordRepayment(ctx context.Context, loan Loan, repayment Repayment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO loan_repayments (loan_id, reference, amount, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.MustParse(repayment.LoanID), repayment.Reference, repayment.Amount, repayment.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRepayment
		}
		return err
	}
	if err := updateLoan(ctx, tx, loan); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Repayment(ctx context.Context, loanID, reference string) (Repayment, bool, error) {
	id, err := uuid.Parse(loanID)
	if err != nil {
		return Repayment{}, false, nil
	}
	rep := Repayment{LoanID: loanID, Reference: reference}
	err = r.db.QueryRow(ctx, `SELECT amount, created_at FROM loan_repayments WHERE loan_id = $1 AND reference = $2`, id, reference).
		Scan(&rep.Amount, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Repayment{}, false, nil
	}
	if err != nil {
		return Repayment{}, false, err
	}
	return rep, true, nil
}

func updateLoan(ctx context.Context, tx pgx.Tx, loan Loan) error {
	id := uuid.MustParse(loan.ID)
	tag, err := tx.Exec(ctx, `UPDATE loans SET total_repayable = $2, outstanding = $3, amount_repaid = $4, status = $5,
            approved_by = $6, rejection_reason = $7, disbursement_ref = $8, approved_at = $9, disbursed_at = $10,
            completed_at = $11, updated_at = $12
        WHERE id = $1`,
		id, loan.TotalRepayable, loan.Outstanding, loan.AmountRepaid, string(loan.Status), loan.ApprovedBy,
		loan.RejectionReason, loan.DisbursementRef, loan.ApprovedAt, loan.DisbursedAt, loan.CompletedAt, loan.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLoanNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM loan_installments WHERE loan_id = $1`, id); err != nil {
		return err
	}
	return writeSchedule(ctx, tx, id, loan.Schedule)
}

func writeSchedule(ctx context.Context, tx pgx.Tx, loanID uuid.UUID, schedule []Installment) error {
	if len(schedule) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, inst := range schedule {
		batch.Queue(`INSERT INTO loan_installments (loan_id, month, due_date, principal, interest, payment, remaining_balance, paid)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			loanID, inst.Month, inst.DueDate, inst.Principal, inst.Interest, inst.Payment, inst.RemainingBalance, inst.Paid)
	}
	return tx.SendBatch(ctx, batch).Close()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func readSchedule(ctx context.Context, q querier, loanID uuid.UUID) ([]Installment, error) {
	rows, err := q.Query(ctx, `SELECT month, due_date, principal, interest, payment, remaining_balance, paid
        FROM loan_installments WHERE loan_id = $1 ORDER BY month`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Installment
	for rows.Next() {
		var inst Installment
		if err := rows.Scan(&inst.Month, &inst.DueDate, &inst.Principal, &inst.Interest, &inst.Payment, &inst.RemainingBalance, &inst.Paid); err != nil {
			return nil, err
		}
		inst.DueDate = inst.DueDate.UTC()
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanLoan(row pgx.Row) (Loan, error) {
	var (
		loan   Loan
		id     uuid.UUID
		rate   string
		status string
	)
	err := row.Scan(&id, &loan.ChamaID, &loan.BorrowerID, &loan.Principal, &rate, &loan.TermMonths,
		&loan.TotalRepayable, &loan.Outstanding, &loan.AmountRepaid, &status, &loan.ApprovedBy,
		&loan.RejectionReason, &loan.DisbursementRef, &loan.CreatedAt, &loan.ApprovedAt, &loan.DisbursedAt,
		&loan.CompletedAt, &loan.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Loan{}, ErrLoanNotFound
	}
	if err != nil {
		return Loan{}, err
	}
	loan.ID = id.String()
	loan.Status = Status(status)
	if loan.AnnualRate, err = decimal.NewFromString(rate); err != nil {
		return Loan{}, err
	}
	loan.CreatedAt = loan.CreatedAt.UTC()
	loan.UpdatedAt = loan.UpdatedAt.UTC()
	for _, ts := range []*time.Time{loan.ApprovedAt, loan.DisbursedAt, loan.CompletedAt} {
		if ts != nil {
			*ts = ts.UTC()
		}
	}
	return loan, nil
}
