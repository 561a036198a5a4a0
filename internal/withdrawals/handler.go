package withdrawals

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/wallet"
)

// Handler exposes withdrawal endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type requestBody struct {
	WalletID    string `json:"wallet_id"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

type requestResponse struct {
	ID            string     `json:"id"`
	WalletID      string     `json:"wallet_id"`
	Amount        int64      `json:"amount"`
	Fee           int64      `json:"fee"`
	NetAmount     int64      `json:"net_amount"`
	Method        string     `json:"method"`
	Destination   string     `json:"destination"`
	Status        string     `json:"status"`
	Reference     string     `json:"reference_id"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Request debits the caller's wallet and queues a payout.
func (h *Handler) Request(c *fiber.Ctx) error {
	var body requestBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.service.Request(c.UserContext(), RequestInput{
		UserID:         uid,
		WalletID:       body.WalletID,
		Amount:         body.Amount,
		Method:         Method(body.Method),
		Destination:    body.Destination,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return h.fail(c, err)
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"withdrawal":     toResponse(res.Request),
		"wallet_balance": res.Balance,
		"limits":         res.Limits,
		"replayed":       res.Replayed,
	})
}

// Limits returns the caller's remaining rolling-window headroom.
func (h *Handler) Limits(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	check, err := h.service.Limits(c.UserContext(), uid)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(check)
}

// Get returns a request owned by the caller; elevated callers see any.
func (h *Handler) Get(c *fiber.Ctx) error {
	req, err := h.owned(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(req))
}

func (h *Handler) Complete(c *fiber.Ctx) error {
	req, err := h.service.Complete(c.UserContext(), c.Params("withdrawalId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(req))
}

func (h *Handler) Fail(c *fiber.Ctx) error {
	var body reasonBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	req, err := h.service.Fail(c.UserContext(), c.Params("withdrawalId"), body.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(req))
}

// Cancel is open to the request owner as well as elevated callers.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	var body reasonBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	if _, err := h.owned(c); err != nil {
		return h.fail(c, err)
	}
	req, err := h.service.Cancel(c.UserContext(), c.Params("withdrawalId"), body.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(req))
}

func (h *Handler) owned(c *fiber.Ctx) (Request, error) {
	req, err := h.service.Get(c.UserContext(), c.Params("withdrawalId"))
	if err != nil {
		return Request{}, err
	}
	uid, _ := c.Locals("user_id").(string)
	elevated, _ := c.Locals("elevated").(bool)
	if !elevated && req.UserID != uid {
		return Request{}, wallet.ErrNotOwner
	}
	return req, nil
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrDuplicate):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, wallet.ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	}
	return httperr.Write(c, err)
}

func toResponse(r Request) requestResponse {
	return requestResponse{
		ID:            r.ID,
		WalletID:      r.WalletID,
		Amount:        r.Amount,
		Fee:           r.Fee,
		NetAmount:     r.NetAmount,
		Method:        string(r.Method),
		Destination:   r.Destination,
		Status:        string(r.Status),
		Reference:     r.LedgerReference,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
}
