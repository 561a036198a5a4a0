package settlement

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/ledger"
)

// Handler exposes the payment webhook and deposit initiation.
type Handler struct {
	service *Service
}

// NewHandler constructs a settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type depositRequest struct {
	Amount            int64  `json:"amount"`
	ExternalReference string `json:"external_reference"`
	Description       string `json:"description"`
}

type settlementResponse struct {
	TransactionID string    `json:"transaction_id,omitempty"`
	WalletID      string    `json:"wallet_id,omitempty"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	WalletBalance int64     `json:"wallet_balance"`
	Replayed      bool      `json:"replayed"`
	SettledAt     time.Time `json:"settled_at"`
}

// Webhook applies a gateway settlement callback. Redelivery answers 200 with
// the original outcome.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	var in Settlement
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.OnPaymentSettled(c.UserContext(), in)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.Status(http.StatusOK).JSON(settlementResponse{
		TransactionID: res.TransactionID,
		WalletID:      res.WalletID,
		Status:        string(res.Status),
		Amount:        res.Amount,
		WalletBalance: res.Balance,
		Replayed:      res.Replayed,
		SettledAt:     res.SettledAt,
	})
}

// InitiateDeposit records a pending top-up for the caller.
func (h *Handler) InitiateDeposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	if req.ExternalReference == "" {
		req.ExternalReference = c.Get("Idempotency-Key")
	}

	tx, err := h.service.InitiateDeposit(c.UserContext(), DepositInput{
		UserID:            uid,
		Amount:            req.Amount,
		ExternalReference: req.ExternalReference,
		Description:       req.Description,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return httperr.Write(c, err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"transaction_id": tx.ID,
		"wallet_id":      tx.WalletID,
		"status":         tx.Status,
		"amount":         tx.Amount,
		"reference_id":   tx.ReferenceID,
		"created_at":     tx.CreatedAt,
	})
}
