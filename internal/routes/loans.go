package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/loans"
)

// RegisterLoanRoutes wires borrower-facing loan endpoints.
func RegisterLoanRoutes(r fiber.Router, h *loans.Handler) {
	r.Post("/loans", h.Apply)
	r.Get("/loans", h.Mine)
	r.Get("/loans/:loanId", h.Get)
	r.Post("/loans/:loanId/repayments", h.Repay)
}
