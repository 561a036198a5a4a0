package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chama-pay/chama_ledger/internal/ledger"
)

func render(t *testing.T, err error) (int, map[string]any) {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: Handler})
	app.Get("/", func(c *fiber.Ctx) error { return err })

	resp, rerr := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, rerr)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestWriteTypedErrors(t *testing.T) {
	status, body := render(t, fmt.Errorf("transfer: %w", &ledger.InsufficientFundsError{WalletID: "w1", Balance: 190, Requested: 1010}))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_funds", body["error"])
	details := body["details"].(map[string]any)
	assert.Equal(t, float64(190), details["balance"])

	status, body = render(t, ledger.Invalid("amount", "must be positive"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["error"])

	status, body = render(t, &ledger.ConflictError{Op: "transfer"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, true, body["details"].(map[string]any)["retryable"])
}

func TestWriteSentinelsAndUnknown(t *testing.T) {
	status, body := render(t, ledger.ErrWalletNotFound)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	status, body = render(t, fiber.NewError(http.StatusForbidden, "nope"))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "nope", body["message"])

	status, body = render(t, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", body["message"])
}
