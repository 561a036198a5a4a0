package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/chama-pay/chama_ledger/internal/logging"
)

// Func is an operation that may be attempted more than once.
type Func func(ctx context.Context) error

// Config holds retry configuration.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
}

// DefaultConfig retries up to three times starting at 25ms. Ledger lock
// conflicts clear quickly so delays stay short.
func DefaultConfig(retryable func(error) bool) Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  25 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		Retryable:  retryable,
	}
}

// Retrier runs a Func with exponential backoff.
type Retrier struct {
	config Config
	logger *slog.Logger
}

// New creates a retrier. A nil logger discards output.
func New(config Config, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Retryable == nil {
		config.Retryable = func(error) bool { return true }
	}
	return &Retrier{config: config, logger: logger}
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// context ends, or attempts run out. The last error is wrapped.
func (r *Retrier) Do(ctx context.Context, fn Func) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("operation succeeded after retry", "attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !r.config.Retryable(err) {
			return err
		}
		if attempt == r.config.MaxRetries {
			break
		}

		delay := r.delay(attempt)
		r.logger.Debug("operation failed, retrying", "error", err, "attempt", attempt+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logger.Warn("operation failed after all retries", "error", lastErr, "attempts", r.config.MaxRetries+1)
	return fmt.Errorf("retry limit exceeded after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt))
	if max := float64(r.config.MaxDelay); max > 0 && d > max {
		d = max
	}
	if r.config.Jitter {
		d += d * 0.1 * rand.Float64()
	}
	return time.Duration(d)
}
