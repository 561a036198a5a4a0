package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/withdrawals"
)

// RegisterWithdrawalRoutes wires member withdrawal endpoints. rateLimiter
// guards request creation only.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawals.Handler, rateLimiter fiber.Handler) {
	if rateLimiter != nil {
		r.Post("/withdrawals", rateLimiter, h.Request)
	} else {
		r.Post("/withdrawals", h.Request)
	}
	r.Get("/withdrawals/limits", h.Limits)
	r.Get("/withdrawals/:withdrawalId", h.Get)
	r.Post("/withdrawals/:withdrawalId/cancel", h.Cancel)
}
