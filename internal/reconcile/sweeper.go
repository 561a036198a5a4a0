package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
)

// SweeperConfig controls the periodic pass.
type SweeperConfig struct {
	Interval       time.Duration
	PendingTimeout time.Duration
	Concurrency    int
}

// Report summarises one sweep.
type Report struct {
	Checked   int
	Corrected int
	Failed    int
	Expired   int
}

// Sweeper fails stale pending rows and reconciles every wallet on a ticker.
type Sweeper struct {
	service *Service
	store   ledger.Store
	cfg     SweeperConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper constructs a sweeper.
func NewSweeper(service *Service, store ledger.Store, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Sweeper{
		service: service,
		store:   store,
		cfg:     cfg,
		logger:  logging.Component(logger, "sweeper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.cfg.Interval)
	for {
		select {
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			s.logger.Info("sweep finished",
				"checked", report.Checked,
				"corrected", report.Corrected,
				"failed", report.Failed,
				"expired", report.Expired,
			)
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		}
	}
}

// Sweep runs one pass. A wallet that fails to reconcile is logged and
// counted; only cancellation or a listing failure aborts the pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	if s.cfg.PendingTimeout > 0 {
		expired, err := s.store.ExpirePending(ctx, s.now().Add(-s.cfg.PendingTimeout))
		if err != nil {
			return report, err
		}
		for _, tx := range expired {
			s.logger.Warn("pending transaction timed out", "transaction_id", tx.ID, "reference_id", tx.ReferenceID, "wallet_id", tx.WalletID)
		}
		report.Expired = len(expired)
	}

	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return report, err
	}

	var corrected, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, w := range wallets {
		id := w.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := s.service.Reconcile(gctx, id)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.logger.Error("reconcile wallet failed", "wallet_id", id, "error", err)
				return nil
			}
			if rec.Corrected {
				atomic.AddInt64(&corrected, 1)
			}
			return nil
		})
	}
	err = g.Wait()
	report.Checked = len(wallets)
	report.Corrected = int(corrected)
	report.Failed = int(failed)
	return report, err
}
