package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chama-pay/chama_ledger/internal/config"
	"github.com/chama-pay/chama_ledger/internal/fees"
	"github.com/chama-pay/chama_ledger/internal/loans"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/middleware"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/reconcile"
	"github.com/chama-pay/chama_ledger/internal/settlement"
	"github.com/chama-pay/chama_ledger/internal/transfer"
	"github.com/chama-pay/chama_ledger/internal/wallet"
	"github.com/chama-pay/chama_ledger/internal/withdrawals"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Publisher notification.Publisher
}

// Setup configures middlewares and all application routes and returns the
// services behind them.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	svc := NewServices(d)

	RegisterHealthRoutes(app, d)
	if d.Metrics != nil {
		app.Get("/metrics", d.Metrics.Handler())
	}

	// Gateway callbacks authenticate with their own key and carry no member.
	RegisterWebhookRoutes(app, settlement.NewHandler(svc.Settlement), d.Cfg.WebhookKeyHash)

	api := app.Group("/api/v1", middleware.Caller(), middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("request_id").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	withdrawalHandler := withdrawals.NewHandler(svc.Withdrawals)
	loanHandler := loans.NewHandler(svc.Loans)
	feeHandler := fees.NewHandler(svc.Fees, svc.FeeRules)

	RegisterWalletRoutes(api, wallet.NewHandler(svc.Wallets))
	RegisterTransferRoutes(api, transfer.NewHandler(svc.Transfers))
	RegisterFeeRoutes(api, feeHandler)
	RegisterDepositRoutes(api, settlement.NewHandler(svc.Settlement))
	RegisterWithdrawalRoutes(api, withdrawalHandler,
		middleware.RateLimit(d.Cache, "withdrawal", d.Cfg.Withdrawal.RequestsPerHour, time.Hour))
	RegisterLoanRoutes(api, loanHandler)

	admin := api.Group("/admin", middleware.RequireKey(middleware.AdminKeyHeader, d.Cfg.AdminKeyHash))
	RegisterAdminRoutes(admin, AdminHandlers{
		Withdrawals: withdrawalHandler,
		Loans:       loanHandler,
		Reconcile:   reconcile.NewHandler(svc.Reconciler, svc.Audit),
		Fees:        feeHandler,
	})

	return svc, nil
}
