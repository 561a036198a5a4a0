package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func fastConfig(retryable func(error) bool) Config {
	cfg := DefaultConfig(retryable)
	cfg.BaseDelay = time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	r := New(fastConfig(func(err error) bool { return errors.Is(err, errBusy) }), nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	r := New(fastConfig(func(err error) bool { return errors.Is(err, errBusy) }), nil)
	permanent := errors.New("insufficient funds")

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDoWrapsLastErrorWhenExhausted(t *testing.T) {
	r := New(fastConfig(nil), nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 4, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	r := New(fastConfig(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func(context.Context) error {
		t.Fatal("fn must not run with a cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayCapped(t *testing.T) {
	r := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}, nil)
	assert.Equal(t, 100*time.Millisecond, r.delay(0))
	assert.Equal(t, 200*time.Millisecond, r.delay(1))
	assert.Equal(t, 300*time.Millisecond, r.delay(5))
}
