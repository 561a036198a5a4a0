package wallet

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	Kind     string `json:"kind"`
	Currency string `json:"currency"`
	// OwnerID lets a chama operator open the pooled wallet for a group.
	OwnerID string `json:"owner_id"`
}

type walletResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Kind      string    `json:"kind"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	Fee          int64     `json:"fee"`
	BalanceAfter int64     `json:"balance_after"`
	Status       string    `json:"status"`
	ReferenceID  string    `json:"reference_id"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open provisions a wallet for the caller.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	owner, _ := c.Locals("user_id").(string)
	kind := ledger.Kind(req.Kind)
	if kind != "" && kind != ledger.KindPersonal && req.OwnerID != "" {
		owner = req.OwnerID
	}

	w, err := h.service.Open(c.UserContext(), OpenInput{OwnerID: owner, Kind: kind, Currency: req.Currency})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	caller, _ := c.Locals("user_id").(string)
	balance, err := h.service.Balance(c.UserContext(), c.Params("walletId"), caller)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balance.WalletID,
		"kind":      balance.Kind,
		"currency":  balance.Currency,
		"balance":   balance.Amount,
		"display":   balance.Formatted,
		"timestamp": balance.AsOf,
	})
}

// Transactions returns the wallet statement. Query parameters: status, type
// (comma separated), since, until (RFC3339), limit.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	filter := ledger.Filter{
		Status: ledger.Status(c.Query("status")),
		Limit:  c.QueryInt("limit", 50),
	}
	if types := c.Query("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, ledger.TxType(strings.TrimSpace(t)))
		}
	}
	for param, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httperr.Write(c, ledger.Invalid(param, "must be RFC3339"))
		}
		*dst = ts
	}

	caller, _ := c.Locals("user_id").(string)
	rows, err := h.service.Statement(c.UserContext(), c.Params("walletId"), caller, filter)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]transactionResponse, 0, len(rows))
	for _, tx := range rows {
		out = append(out, transactionResponse{
			ID:           tx.ID,
			Type:         string(tx.Type),
			Amount:       tx.Amount,
			Fee:          tx.Fee,
			BalanceAfter: tx.BalanceAfter,
			Status:       string(tx.Status),
			ReferenceID:  tx.ReferenceID,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet_id": c.Params("walletId"), "transactions": out})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, ErrNotOwner) {
		return fiber.NewError(http.StatusForbidden, "not owner of wallet")
	}
	return httperr.Write(c, err)
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Kind:      string(w.Kind),
		Currency:  w.Currency,
		Balance:   w.Balance,
		CreatedAt: w.CreatedAt,
	}
}
