package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/fees"
	"github.com/chama-pay/chama_ledger/internal/loans"
	"github.com/chama-pay/chama_ledger/internal/middleware"
	"github.com/chama-pay/chama_ledger/internal/reconcile"
	"github.com/chama-pay/chama_ledger/internal/settlement"
	"github.com/chama-pay/chama_ledger/internal/withdrawals"
)

// AdminHandlers groups the handlers exposed to back-office callers.
type AdminHandlers struct {
	Withdrawals *withdrawals.Handler
	Loans       *loans.Handler
	Reconcile   *reconcile.Handler
	Fees        *fees.Handler
}

// RegisterAdminRoutes wires elevated endpoints. r must already enforce the
// admin key.
func RegisterAdminRoutes(r fiber.Router, h AdminHandlers) {
	r.Post("/withdrawals/:withdrawalId/complete", h.Withdrawals.Complete)
	r.Post("/withdrawals/:withdrawalId/fail", h.Withdrawals.Fail)

	r.Post("/loans/:loanId/approve", h.Loans.Approve)
	r.Post("/loans/:loanId/reject", h.Loans.Reject)
	r.Post("/loans/:loanId/disburse", h.Loans.Disburse)
	r.Post("/loans/:loanId/default", h.Loans.MarkDefaulted)
	r.Post("/loans/:loanId/repayments", h.Loans.Repay)

	r.Post("/wallets/:walletId/reconcile", h.Reconcile.Reconcile)
	r.Get("/wallets/:walletId/audit", h.Reconcile.AuditLog)

	r.Get("/fees", h.Fees.Rules)
	r.Put("/fees/:transactionType", h.Fees.Upsert)
}

// RegisterWebhookRoutes wires payment gateway callbacks behind the webhook key.
func RegisterWebhookRoutes(r fiber.Router, h *settlement.Handler, keyHash string) {
	r.Post("/webhooks/payments", middleware.RequireKey(middleware.WebhookKeyHeader, keyHash), h.Webhook)
}
