package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/httperr"
	"github.com/chama-pay/chama_ledger/internal/ledger"
)

func TestServiceOpenAndBalance(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store, "KES")
	ctx := context.Background()

	w, err := svc.Open(ctx, OpenInput{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("open wallet: %v", err)
	}
	if w.Kind != ledger.KindPersonal || w.Currency != "KES" {
		t.Fatalf("unexpected wallet %+v", w)
	}

	again, err := svc.Open(ctx, OpenInput{OwnerID: "alice", Kind: ledger.KindPersonal})
	if err != nil || again.ID != w.ID {
		t.Fatalf("expected same wallet, got %+v err %v", again, err)
	}

	if _, err := store.Credit(ctx, w.ID, 250_050, ledger.Entry{ReferenceID: "dep-1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	balance, err := svc.Balance(ctx, w.ID, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 250_050 || balance.Formatted != "KES 2,500.50" {
		t.Fatalf("unexpected balance %+v", balance)
	}

	if _, err := svc.Balance(ctx, w.ID, "mallory"); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestServiceOpenValidation(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore(), "KES")
	ctx := context.Background()

	if _, err := svc.Open(ctx, OpenInput{OwnerID: " "}); err == nil {
		t.Fatalf("expected owner validation error")
	}
	if _, err := svc.Open(ctx, OpenInput{OwnerID: "alice", Currency: "usd"}); err == nil {
		t.Fatalf("expected currency validation error")
	}
}

func TestStatementDefaultsLimit(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store, "")
	ctx := context.Background()
	w, _ := svc.Open(ctx, OpenInput{OwnerID: "alice"})
	for i := 0; i < 60; i++ {
		if _, err := store.Credit(ctx, w.ID, 10, ledger.Entry{}); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}

	rows, err := svc.Statement(ctx, w.ID, "alice", ledger.Filter{})
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(rows) != 50 {
		t.Fatalf("expected 50 rows, got %d", len(rows))
	}
}

func newTestApp(svc *Service) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httperr.Handler})
	h := NewHandler(svc)
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User-ID"))
		return c.Next()
	})
	app.Post("/wallets", h.Open)
	app.Get("/wallets/:walletId/balance", h.Balance)
	app.Get("/wallets/:walletId/transactions", h.Transactions)
	return app
}

func TestHandlerOpenBalanceAndStatement(t *testing.T) {
	store := ledger.NewMemoryStore()
	app := newTestApp(NewService(store, "KES"))

	req := httptest.NewRequest(http.MethodPost, "/wallets", strings.NewReader(`{"kind":"personal"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-User-ID", "alice")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.StatusCode)
	}
	var opened walletResponse
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if _, err := store.Credit(context.Background(), opened.ID, 500, ledger.Entry{ReferenceID: "d1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/wallets/"+opened.ID+"/balance", nil)
	req.Header.Set("X-User-ID", "alice")
	resp, _ = app.Test(req)
	var balance map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&balance)
	if balance["balance"] != float64(500) {
		t.Fatalf("unexpected balance body %v", balance)
	}

	req = httptest.NewRequest(http.MethodGet, "/wallets/"+opened.ID+"/transactions?type=deposit&limit=5", nil)
	req.Header.Set("X-User-ID", "alice")
	resp, _ = app.Test(req)
	var statement struct {
		Transactions []transactionResponse `json:"transactions"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&statement)
	if len(statement.Transactions) != 1 || statement.Transactions[0].ReferenceID != "d1" {
		t.Fatalf("unexpected statement %+v", statement)
	}

	req = httptest.NewRequest(http.MethodGet, "/wallets/"+opened.ID+"/balance", nil)
	req.Header.Set("X-User-ID", "mallory")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/wallets/unknown/balance", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/wallets/"+opened.ID+"/transactions?since=yesterday", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}
}
