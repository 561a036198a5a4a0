// Package httperr renders domain errors as JSON responses. Domain packages
// never import it; they expose Kind and Fields on their error types instead.
package httperr

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/ledger"
)

// Kinded is implemented by every typed domain error.
type Kinded interface {
	error
	Kind() string
	Fields() map[string]any
}

var statusByKind = map[string]int{
	"validation":           http.StatusBadRequest,
	"insufficient_funds":   http.StatusUnprocessableEntity,
	"invalid_loan_state":   http.StatusConflict,
	"limit_exceeded":       http.StatusUnprocessableEntity,
	"concurrency_conflict": http.StatusConflict,
	"configuration_gap":    http.StatusOK,
}

// Status returns the HTTP status for err.
func Status(err error) int {
	var kinded Kinded
	if errors.As(err, &kinded) {
		if status, ok := statusByKind[kinded.Kind()]; ok {
			return status
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if errors.Is(err, ledger.ErrWalletNotFound) || errors.Is(err, ledger.ErrTransactionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Write sends err as {"error": kind, "message": ..., "details": {...}}.
func Write(c *fiber.Ctx, err error) error {
	status := Status(err)
	body := fiber.Map{"message": err.Error()}

	var kinded Kinded
	switch {
	case errors.As(err, &kinded):
		body["error"] = kinded.Kind()
		body["details"] = kinded.Fields()
	case status == http.StatusNotFound:
		body["error"] = "not_found"
	case status == http.StatusInternalServerError:
		body["error"] = "internal"
		body["message"] = "internal server error"
	default:
		body["error"] = http.StatusText(status)
	}
	return c.Status(status).JSON(body)
}

// Handler is a fiber ErrorHandler rendering every unhandled error as JSON.
func Handler(c *fiber.Ctx, err error) error {
	return Write(c, err)
}
