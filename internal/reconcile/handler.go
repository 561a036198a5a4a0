package reconcile

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/audit"
	"github.com/chama-pay/chama_ledger/internal/httperr"
)

// Handler exposes on-demand reconciliation for back-office callers.
type Handler struct {
	service *Service
	audit   audit.Repository
}

func NewHandler(service *Service, auditRepo audit.Repository) *Handler {
	return &Handler{service: service, audit: auditRepo}
}

// Reconcile checks one wallet and returns the report.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	rec, err := h.service.Reconcile(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":         rec.WalletID,
		"stored_balance":    rec.Stored,
		"computed_balance":  rec.Computed,
		"discrepancy":       rec.Discrepancy,
		"corrected":         rec.Corrected,
		"corrected_balance": rec.Computed,
		"checked_at":        rec.CheckedAt,
	})
}

// AuditLog lists corrections recorded for a wallet.
func (h *Handler) AuditLog(c *fiber.Ctx) error {
	entries, err := h.audit.ForWallet(c.UserContext(), c.Params("walletId"), c.QueryInt("limit", 50))
	if err != nil {
		return httperr.Write(c, err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet_id": c.Params("walletId"), "entries": entries})
}
