package loans

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/ledger"
)

// Handler exposes loan endpoints. Privileged routes rely on the
// "elevated" local set by the admin key middleware.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a loan handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type applyRequest struct {
	ChamaID    string          `json:"chama_id"`
	Principal  int64           `json:"principal"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
	TermMonths int             `json:"term_months"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type repayRequest struct {
	Amount            int64  `json:"amount"`
	ExternalReference string `json:"external_reference"`
}

type loanResponse struct {
	ID              string        `json:"id"`
	ChamaID         string        `json:"chama_id"`
	BorrowerID      string        `json:"borrower_id"`
	Principal       int64         `json:"principal"`
	AnnualRate      string        `json:"annual_rate"`
	TermMonths      int           `json:"term_months"`
	TotalRepayable  int64         `json:"total_repayable"`
	Outstanding     int64         `json:"outstanding"`
	AmountRepaid    int64         `json:"amount_repaid"`
	Status          string        `json:"status"`
	ApprovedBy      string        `json:"approved_by,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	Schedule        []Installment `json:"schedule"`
	CreatedAt       time.Time     `json:"created_at"`
	DisbursedAt     *time.Time    `json:"disbursed_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Apply files a loan application for the caller.
func (h *Handler) Apply(c *fiber.Ctx) error {
	var req applyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	loan, err := h.engine.Apply(c.UserContext(), ApplyInput{
		ChamaID:    req.ChamaID,
		BorrowerID: uid,
		Principal:  req.Principal,
		AnnualRate: req.AnnualRate,
		TermMonths: req.TermMonths,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(loan))
}

// Get returns one loan. Borrowers see their own loans; elevated callers see any.
func (h *Handler) Get(c *fiber.Ctx) error {
	loan, err := h.engine.Get(c.UserContext(), c.Params("loanId"))
	if err != nil {
		return h.fail(c, err)
	}
	auth := authorization(c)
	if !auth.Elevated && loan.BorrowerID != auth.ActorID {
		return fiber.NewError(http.StatusForbidden, "not borrower of loan")
	}
	return c.Status(http.StatusOK).JSON(toResponse(loan))
}

// Mine lists the caller's loans.
func (h *Handler) Mine(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	loans, err := h.engine.ListByBorrower(c.UserContext(), uid)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, toResponse(l))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"loans": out})
}

func (h *Handler) Approve(c *fiber.Ctx) error {
	loan, err := h.engine.Approve(c.UserContext(), c.Params("loanId"), authorization(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(loan))
}

func (h *Handler) Reject(c *fiber.Ctx) error {
	var req rejectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	loan, err := h.engine.Reject(c.UserContext(), c.Params("loanId"), authorization(c), req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(loan))
}

func (h *Handler) Disburse(c *fiber.Ctx) error {
	auth := authorization(c)
	if !auth.Elevated {
		return h.fail(c, ErrUnauthorized)
	}
	loan, err := h.engine.Disburse(c.UserContext(), c.Params("loanId"), auth.ActorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(loan))
}

func (h *Handler) MarkDefaulted(c *fiber.Ctx) error {
	loan, err := h.engine.MarkDefaulted(c.UserContext(), c.Params("loanId"), authorization(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(loan))
}

// Repay applies a repayment from the caller's wallet, or records an external
// one when external_reference is present.
func (h *Handler) Repay(c *fiber.Ctx) error {
	var req repayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ctx := c.UserContext()
	loanID := c.Params("loanId")
	auth := authorization(c)
	if !auth.Elevated {
		loan, err := h.engine.Get(ctx, loanID)
		if err != nil {
			return h.fail(c, err)
		}
		if loan.BorrowerID != auth.ActorID {
			return fiber.NewError(http.StatusForbidden, "not borrower of loan")
		}
	}

	res, err := h.engine.Repay(ctx, RepayInput{
		LoanID:            loanID,
		Amount:            req.Amount,
		Reference:         c.Get("Idempotency-Key"),
		ExternalReference: req.ExternalReference,
	})
	if err != nil {
		return h.fail(c, err)
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"loan":     toResponse(res.Loan),
		"applied":  res.Applied,
		"replayed": res.Replayed,
	})
}

func authorization(c *fiber.Ctx) Authorization {
	uid, _ := c.Locals("user_id").(string)
	elevated, _ := c.Locals("elevated").(bool)
	return Authorization{ActorID: uid, Elevated: elevated}
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrLoanNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrDuplicateRepayment):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return httperr.Write(c, err)
}

func toResponse(l Loan) loanResponse {
	schedule := l.Schedule
	if schedule == nil {
		schedule = []Installment{}
	}
	return loanResponse{
		ID:              l.ID,
		ChamaID:         l.ChamaID,
		BorrowerID:      l.BorrowerID,
		Principal:       l.Principal,
		AnnualRate:      l.AnnualRate.String(),
		TermMonths:      l.TermMonths,
		TotalRepayable:  l.TotalRepayable,
		Outstanding:     l.Outstanding,
		AmountRepaid:    l.AmountRepaid,
		Status:          string(l.Status),
		ApprovedBy:      l.ApprovedBy,
		RejectionReason: l.RejectionReason,
		Schedule:        schedule,
		CreatedAt:       l.CreatedAt,
		DisbursedAt:     l.DisbursedAt,
		CompletedAt:     l.CompletedAt,
	}
}
