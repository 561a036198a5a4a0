package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// walletLocks hands out one single-slot channel per wallet so acquisition can
// be abandoned when the context ends.
type walletLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newWalletLocks() *walletLocks {
	return &walletLocks{slots: make(map[string]chan struct{})}
}

func (l *walletLocks) slot(id string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// acquire locks every id in ascending order, waiting at most timeout overall.
// The returned release func must be called exactly once.
func (l *walletLocks) acquire(ctx context.Context, timeout time.Duration, ids ...string) (func(), error) {
	ordered := sortedUnique(ids)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	held := make([]chan struct{}, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ordered {
		ch := l.slot(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, &ConflictError{Op: "lock wallet " + id, Cause: ctx.Err()}
		}
	}
	return release, nil
}

func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
