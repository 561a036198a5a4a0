package fees

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresSource reads active rules from the fee_configurations table.
type PostgresSource struct {
	db *pgxpool.Pool
}

// NewPostgresSource constructs a Postgres-backed fee source.
func NewPostgresSource(db *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Rules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.Query(ctx, `SELECT transaction_type, kind, minimum_fee, maximum_fee, rate::text, tiers
        FROM fee_configurations
        WHERE active
        ORDER BY transaction_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var (
			r     Rule
			kind  string
			rate  string
			tiers []byte
		)
		if err := rows.Scan(&r.TransactionType, &kind, &r.MinimumFee, &r.MaximumFee, &rate, &tiers); err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		if r.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("fee rule %s: rate: %w", r.TransactionType, err)
		}
		if len(tiers) > 0 {
			if err := json.Unmarshal(tiers, &r.Tiers); err != nil {
				return nil, fmt.Errorf("fee rule %s: tiers: %w", r.TransactionType, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert stores or replaces the rule for its transaction type. Changes apply
// to snapshots taken afterwards.
func (s *PostgresSource) Upsert(ctx context.Context, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	tiers, err := json.Marshal(r.Tiers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO fee_configurations (transaction_type, kind, minimum_fee, maximum_fee, rate, tiers, active, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, TRUE, now())
        ON CONFLICT (transaction_type) DO UPDATE SET
            kind = EXCLUDED.kind,
            minimum_fee = EXCLUDED.minimum_fee,
            maximum_fee = EXCLUDED.maximum_fee,
            rate = EXCLUDED.rate,
            tiers = EXCLUDED.tiers,
            active = TRUE,
            updated_at = now()`,
		r.TransactionType, string(r.Kind), r.MinimumFee, r.MaximumFee, r.Rate.String(), tiers)
	return err
}
