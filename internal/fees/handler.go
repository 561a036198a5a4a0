package fees

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/ledger"
)

// Handler exposes fee previews and schedule administration.
type Handler struct {
	calc  *Calculator
	rules Writer
}

// NewHandler constructs a fee handler. A nil writer disables Upsert.
func NewHandler(calc *Calculator, rules Writer) *Handler {
	return &Handler{calc: calc, rules: rules}
}

// Breakdown quotes the fee for ?amount= on the named transaction type. A
// type with no configured rule answers 200 with configuration_gap set.
func (h *Handler) Breakdown(c *fiber.Ctx) error {
	amount := int64(c.QueryInt("amount", 0))
	b, err := h.calc.Breakdown(c.UserContext(), c.Params("transactionType"), amount)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.Status(http.StatusOK).JSON(b)
}

// Rules lists the schedule currently in force.
func (h *Handler) Rules(c *fiber.Ctx) error {
	schedule, err := h.calc.Snapshot(c.UserContext())
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"rules":     schedule.Rules(),
		"loaded_at": schedule.LoadedAt(),
	})
}

// Upsert replaces the rule for the transaction type in the path. Operations
// already holding a snapshot keep the old rule.
func (h *Handler) Upsert(c *fiber.Ctx) error {
	if h.rules == nil {
		return fiber.NewError(http.StatusNotImplemented, "fee rules are read-only")
	}
	var rule Rule
	if err := c.BodyParser(&rule); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rule.TransactionType = c.Params("transactionType")
	if err := rule.Validate(); err != nil {
		return httperr.Write(c, ledger.Invalid("rule", err.Error()))
	}
	if err := h.rules.Upsert(c.UserContext(), rule); err != nil {
		return httperr.Write(c, err)
	}
	return c.Status(http.StatusOK).JSON(rule)
}
