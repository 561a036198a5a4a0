package withdrawals

import (
	"context"
	"sync"
	"time"
)

// Repository persists withdrawal requests.
type Repository interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, error)
	ByIdempotencyKey(ctx context.Context, userID, key string) (Request, bool, error)
	Update(ctx context.Context, req Request) error
	// SumSince totals pending and completed amounts created at or after since.
	SumSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

type idemKey struct {
	userID string
	key    string
}

// MemoryRepository keeps requests in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]Request
	byKey map[idemKey]string
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[string]Request),
		byKey: make(map[idemKey]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := idemKey{userID: req.UserID, key: req.IdempotencyKey}
	if _, ok := r.byKey[k]; ok {
		return ErrDuplicate
	}
	r.byID[req.ID] = req
	r.byKey[k] = req.ID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *MemoryRepository) ByIdempotencyKey(_ context.Context, userID, key string) (Request, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[idemKey{userID: userID, key: key}]
	if !ok {
		return Request{}, false, nil
	}
	return r.byID[id], true, nil
}

func (r *MemoryRepository) Update(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[req.ID]; !ok {
		return ErrNotFound
	}
	r.byID[req.ID] = req
	return nil
}

func (r *MemoryRepository) SumSince(_ context.Context, userID string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, req := range r.byID {
		if req.UserID != userID || req.CreatedAt.Before(since) {
			continue
		}
		if req.Status == StatusPending || req.Status == StatusCompleted {
			total += req.Amount
		}
	}
	return total, nil
}
