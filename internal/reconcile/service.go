package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chama-pay/chama_ledger/internal/audit"
	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/notification"
)

// Service checks cached wallet balances against the transaction log and
// trusts the log when they disagree by more than epsilon.
type Service struct {
	store   ledger.Store
	audit   audit.Repository
	events  *notification.Emitter
	epsilon int64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewService constructs a reconciliation service. epsilon is in minor units.
func NewService(store ledger.Store, auditRepo audit.Repository, events *notification.Emitter, epsilon int64, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		audit:   auditRepo,
		events:  events,
		epsilon: epsilon,
		logger:  logging.Component(logger, "reconcile"),
		metrics: m,
	}
}

// Reconcile returns the (possibly corrected) balance report for one wallet.
// Running it again without new postings changes nothing.
func (s *Service) Reconcile(ctx context.Context, walletID string) (ledger.Reconciliation, error) {
	rec, err := s.store.Reconcile(ctx, walletID, s.epsilon)
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	if !rec.Corrected {
		return rec, nil
	}

	s.metrics.Correction()
	s.logger.Warn("wallet balance corrected",
		"wallet_id", walletID,
		"previous", rec.Stored,
		"corrected", rec.Computed,
		"discrepancy", rec.Discrepancy,
	)
	_, err = s.audit.Append(ctx, audit.Entry{
		WalletID: walletID,
		Action:   audit.ActionBalanceCorrected,
		Details: map[string]any{
			"previous_balance": rec.Stored,
			"new_balance":      rec.Computed,
			"discrepancy":      rec.Discrepancy,
		},
		CreatedAt: rec.CheckedAt,
	})
	if err != nil {
		return rec, fmt.Errorf("audit correction of %s: %w", walletID, err)
	}

	owner := ""
	if w, err := s.store.Wallet(ctx, walletID); err == nil {
		owner = w.OwnerID
	}
	s.events.Emit(ctx, notification.Event{
		Type:        notification.TypeBalanceCorrected,
		UserID:      owner,
		WalletID:    walletID,
		Amount:      rec.Computed - rec.Stored,
		NewBalance:  rec.Computed,
		ReferenceID: "reconcile:" + walletID + ":" + rec.CheckedAt.Format("20060102T150405Z"),
	})
	return rec, nil
}
