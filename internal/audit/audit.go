// Package audit records administrative corrections alongside the ledger.
package audit

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActionBalanceCorrected marks a reconciliation overwrite of a cached balance.
const ActionBalanceCorrected = "balance_corrected"

// Entry is one audit log line.
type Entry struct {
	ID        string         `json:"id"`
	WalletID  string         `json:"wallet_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// Repository appends and lists audit entries.
type Repository interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	ForWallet(ctx context.Context, walletID string, limit int) ([]Entry, error)
}

func stamp(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	return e
}

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(_ context.Context, e Entry) (Entry, error) {
	e = stamp(e)
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return e, nil
}

// ForWallet returns newest entries first.
func (r *MemoryRepository) ForWallet(_ context.Context, walletID string, limit int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PostgresRepository writes to audit_logs.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e Entry) (Entry, error) {
	e = stamp(e)
	details, err := json.Marshal(e.Details)
	if err != nil {
		return Entry{}, err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO audit_logs (id, wallet_id, action, details, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.MustParse(e.ID), e.WalletID, e.Action, details, e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *PostgresRepository) ForWallet(ctx context.Context, walletID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT id, wallet_id, action, details, created_at FROM audit_logs
        WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			id      uuid.UUID
			details []byte
		)
		if err := rows.Scan(&id, &e.WalletID, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.CreatedAt = e.CreatedAt.UTC()
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
