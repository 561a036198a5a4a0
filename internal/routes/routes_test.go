package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/chama-pay/chama_ledger/internal/config"
	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/ledger"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/middleware"
)

const (
	adminKey   = "admin-secret"
	webhookKey = "hook-secret"
)

type call struct {
	method  string
	path    string
	user    string
	key     string
	body    any
	headers map[string]string
}

type harness struct {
	t   *testing.T
	app *fiber.App
	svc *Services
}

func hash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	cfg := config.Config{
		AppEnv:         "test",
		Currency:       "KES",
		IdempotencyTTL: time.Hour,
		AdminKeyHash:   hash(t, adminKey),
		WebhookKeyHash: hash(t, webhookKey),
		Withdrawal: config.Withdrawal{
			DailyLimit:      7_000_000,
			WeeklyLimit:     35_000_000,
			MonthlyLimit:    100_000_000,
			RequestsPerHour: 10,
		},
		Ledger: config.Ledger{
			LockTimeout:          time.Second,
			PendingTimeout:       30 * time.Minute,
			ReconcileInterval:    time.Hour,
			ReconcileEpsilon:     50,
			ReconcileConcurrency: 2,
		},
		Fees: config.Fees{CacheTTL: time.Minute},
	}

	app := fiber.New(fiber.Config{ErrorHandler: httperr.Handler})
	svc, err := Setup(app, Deps{Cfg: cfg, Cache: cache, Logger: logging.Discard(), Metrics: metrics.New()})
	require.NoError(t, err)
	return &harness{t: t, app: app, svc: svc}
}

func (h *harness) do(c call) (*http.Response, map[string]any) {
	h.t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(h.t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	var payload map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.Unmarshal(raw, &payload))
	}
	return resp, payload
}

func (h *harness) deposit(user, ref string, amount int64) {
	h.t.Helper()
	resp, _ := h.do(call{
		method:  http.MethodPost,
		path:    "/webhooks/payments",
		body:    map[string]any{"external_reference": ref, "user_id": user, "amount": amount, "status": "completed"},
		headers: map[string]string{middleware.WebhookKeyHeader: webhookKey},
	})
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
}

func TestWebhookRequiresKey(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(call{
		method: http.MethodPost,
		path:   "/webhooks/payments",
		body:   map[string]any{"external_reference": "MP-0", "user_id": "alice", "amount": 100, "status": "completed"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(call{
		method:  http.MethodPost,
		path:    "/webhooks/payments",
		body:    map[string]any{"external_reference": "MP-0", "user_id": "alice", "amount": 100, "status": "completed"},
		headers: map[string]string{middleware.WebhookKeyHeader: "wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMemberRoutesRequireCallerAndIdempotencyKey(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(call{method: http.MethodPost, path: "/api/v1/wallets", key: "w-1", body: map[string]any{}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, payload := h.do(call{method: http.MethodPost, path: "/api/v1/wallets", user: "bob", body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, payload["message"], "Idempotency-Key")
}

func TestTransferFlowOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.deposit("alice", "MP-1", 1_000_000)

	resp, _ := h.do(call{method: http.MethodPost, path: "/api/v1/wallets", user: "bob", key: "open-bob", body: map[string]any{}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, quote := h.do(call{method: http.MethodGet, path: "/api/v1/fees/send_money?amount=100000", user: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1_000), quote["fee"])
	assert.Equal(t, float64(101_000), quote["total_debit"])

	transfer := call{
		method: http.MethodPost,
		path:   "/api/v1/transfers",
		user:   "alice",
		key:    "tx-1",
		body:   map[string]any{"recipient_id": "bob", "amount": 100_000},
	}
	resp, first := h.do(transfer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1_000), first["fee"])
	assert.Equal(t, float64(899_000), first["sender_balance"])

	resp, second := h.do(transfer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, first["transaction_id"], second["transaction_id"])

	alice, err := h.svc.Wallets.GetByOwner(context.Background(), "alice", ledger.KindPersonal)
	require.NoError(t, err)
	assert.Equal(t, int64(899_000), alice.Balance)

	resp, statement := h.do(call{method: http.MethodGet, path: "/api/v1/wallets/" + alice.ID + "/transactions", user: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, statement["transactions"], 2)

	resp, _ = h.do(call{method: http.MethodGet, path: "/api/v1/wallets/" + alice.ID + "/balance", user: "bob"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWithdrawalAndAdminRoutes(t *testing.T) {
	h := newHarness(t)
	h.deposit("carol", "MP-2", 200_000)
	carol, err := h.svc.Wallets.GetByOwner(context.Background(), "carol", ledger.KindPersonal)
	require.NoError(t, err)

	resp, payload := h.do(call{
		method: http.MethodPost,
		path:   "/api/v1/withdrawals",
		user:   "carol",
		key:    "wd-1",
		body: map[string]any{
			"wallet_id":   carol.ID,
			"amount":      50_000,
			"method":      "mobile_money",
			"destination": "+254700000001",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	withdrawal := payload["withdrawal"].(map[string]any)
	assert.Equal(t, float64(1_500), withdrawal["fee"])
	assert.Equal(t, float64(150_000), payload["wallet_balance"])
	id := withdrawal["id"].(string)

	resp, _ = h.do(call{method: http.MethodPost, path: "/api/v1/admin/withdrawals/" + id + "/fail", user: "ops", key: "fail-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, failed := h.do(call{
		method:  http.MethodPost,
		path:    "/api/v1/admin/withdrawals/" + id + "/fail",
		user:    "ops",
		key:     "fail-2",
		body:    map[string]any{"reason": "payout rejected"},
		headers: map[string]string{middleware.AdminKeyHeader: adminKey},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", failed["status"])

	resp, balance := h.do(call{method: http.MethodGet, path: "/api/v1/wallets/" + carol.ID + "/balance", user: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(200_000), balance["balance"])

	resp, rec := h.do(call{
		method:  http.MethodPost,
		path:    "/api/v1/admin/wallets/" + carol.ID + "/reconcile",
		user:    "ops",
		key:     "rec-1",
		headers: map[string]string{middleware.AdminKeyHeader: adminKey},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, rec["corrected"])
	assert.Equal(t, float64(200_000), rec["computed_balance"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp, payload := h.do(call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := payload["status"].(map[string]any)
	assert.Equal(t, "memory", status["postgres"])
	assert.Equal(t, "ok", status["redis"])

	h.deposit("dave", "MP-3", 1_000)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res, err := h.app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(res.Body)
	assert.Contains(t, string(raw), `ledger_postings_total{operation="settlement"`)
}

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	_, err := Setup(fiber.New(), Deps{Cfg: config.Config{AppEnv: "production"}, Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestAdminFeeRuleUpdateAppliesToNextQuote(t *testing.T) {
	h := newHarness(t)
	admin := map[string]string{middleware.AdminKeyHeader: adminKey}

	resp, _ := h.do(call{
		method:  http.MethodPut,
		path:    "/api/v1/admin/fees/send_money",
		user:    "ops",
		key:     "fee-1",
		body:    map[string]any{"kind": "fixed", "minimum_fee": 2_500, "rate": "0"},
		headers: admin,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, quote := h.do(call{method: http.MethodGet, path: "/api/v1/fees/send_money?amount=100000", user: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2_500), quote["fee"])

	resp, payload := h.do(call{
		method:  http.MethodPut,
		path:    "/api/v1/admin/fees/send_money",
		user:    "ops",
		key:     "fee-2",
		body:    map[string]any{"kind": "surge"},
		headers: admin,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", payload["error"])

	resp, gap := h.do(call{method: http.MethodGet, path: "/api/v1/fees/airtime?amount=5000", user: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, gap["configuration_gap"])
	assert.Equal(t, float64(0), gap["fee"])
}
