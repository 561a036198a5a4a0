package routes

import (
	"github.com/chama-pay/chama_ledger/internal/audit"
	"github.com/chama-pay/chama_ledger/internal/fees"
	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/loans"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/reconcile"
	"github.com/chama-pay/chama_ledger/internal/settlement"
	"github.com/chama-pay/chama_ledger/internal/transfer"
	"github.com/chama-pay/chama_ledger/internal/wallet"
	"github.com/chama-pay/chama_ledger/internal/withdrawals"
)

// Services holds the wired domain services. Background workers in main reach
// the sweeper and settlement service through it.
type Services struct {
	Store       ledger.Store
	Audit       audit.Repository
	Fees        *fees.Calculator
	FeeRules    fees.RuleStore
	Events      *notification.Emitter
	Wallets     *wallet.Service
	Transfers   *transfer.Engine
	Loans       *loans.Engine
	Withdrawals *withdrawals.Service
	Reconciler  *reconcile.Service
	Sweeper     *reconcile.Sweeper
	Settlement  *settlement.Service
}

// NewServices selects Postgres-backed repositories when a pool is present and
// in-memory ones otherwise.
func NewServices(d Deps) *Services {
	cfg := d.Cfg

	var (
		store       ledger.Store
		auditRepo   audit.Repository
		loanRepo    loans.Repository
		requestRepo withdrawals.Repository
		feeSource   fees.RuleStore
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB, cfg.Ledger.LockTimeout)
		auditRepo = audit.NewPostgresRepository(d.DB)
		loanRepo = loans.NewPostgresRepository(d.DB)
		requestRepo = withdrawals.NewPostgresRepository(d.DB)
		feeSource = fees.NewPostgresSource(d.DB)
	} else {
		store = ledger.NewMemoryStore(ledger.WithLockTimeout(cfg.Ledger.LockTimeout))
		auditRepo = audit.NewMemoryRepository()
		loanRepo = loans.NewMemoryRepository()
		requestRepo = withdrawals.NewMemoryRepository()
		feeSource = fees.NewMemorySource(nil)
	}
	if d.Cache != nil && cfg.Fees.CacheTTL > 0 {
		feeSource = fees.NewCachedSource(feeSource, d.Cache, cfg.Fees.CacheTTL, d.Logger)
	}

	publisher := d.Publisher
	if publisher == nil {
		publisher = notification.NewLoggerPublisher(d.Logger)
	}
	events := notification.NewEmitter(publisher, d.Logger, d.Metrics)
	calc := fees.NewCalculator(feeSource, d.Logger, d.Metrics)
	wallets := wallet.NewService(store, cfg.Currency)
	limiter := withdrawals.NewLimiter(requestRepo, withdrawals.Limits{
		Daily:   cfg.Withdrawal.DailyLimit,
		Weekly:  cfg.Withdrawal.WeeklyLimit,
		Monthly: cfg.Withdrawal.MonthlyLimit,
	}, d.Metrics)
	reconciler := reconcile.NewService(store, auditRepo, events, cfg.Ledger.ReconcileEpsilon, d.Logger, d.Metrics)

	return &Services{
		Store:       store,
		Audit:       auditRepo,
		Fees:        calc,
		FeeRules:    feeSource,
		Events:      events,
		Wallets:     wallets,
		Transfers:   transfer.NewEngine(store, calc, events, d.Logger, d.Metrics),
		Loans:       loans.NewEngine(loanRepo, store, events, d.Logger, d.Metrics, cfg.Currency),
		Withdrawals: withdrawals.NewService(requestRepo, store, wallets, calc, limiter, events, d.Logger, d.Metrics),
		Reconciler:  reconciler,
		Sweeper: reconcile.NewSweeper(reconciler, store, reconcile.SweeperConfig{
			Interval:       cfg.Ledger.ReconcileInterval,
			PendingTimeout: cfg.Ledger.PendingTimeout,
			Concurrency:    cfg.Ledger.ReconcileConcurrency,
		}, d.Logger),
		Settlement: settlement.NewService(store, events, d.Logger, d.Metrics, cfg.Currency),
	}
}
