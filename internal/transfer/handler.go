package transfer

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/httperr"
)

// Handler exposes transfer endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a transfer handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type transferRequest struct {
	RecipientID string `json:"recipient_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type contributionRequest struct {
	Amount int64 `json:"amount"`
}

// Transfer processes a member-to-member transfer for the caller.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.engine.Transfer(c.UserContext(), Input{
		SenderID:       uid,
		RecipientID:    req.RecipientID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.Status(statusFor(res)).JSON(render(res))
}

// Contribute moves funds from the caller into a chama pooled wallet.
func (h *Handler) Contribute(c *fiber.Ctx) error {
	var req contributionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.engine.Contribute(c.UserContext(), ContributeInput{
		MemberID:       uid,
		ChamaID:        c.Params("chamaId"),
		Amount:         req.Amount,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.Status(statusFor(res)).JSON(render(res))
}

func statusFor(res Result) int {
	if res.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func render(res Result) fiber.Map {
	return fiber.Map{
		"transaction_id":     res.TransactionID,
		"reference_id":       res.ReferenceID,
		"net_amount":         res.NetAmount,
		"fee":                res.Fee,
		"recipient_credited": res.RecipientCredited,
		"sender_balance":     res.SenderBalance,
		"replayed":           res.Replayed,
		"completed_at":       res.CompletedAt,
	}
}
