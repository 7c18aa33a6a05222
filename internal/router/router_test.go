package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/microtask/backend/internal/auth"
	"github.com/microtask/backend/internal/handlers"
	"github.com/microtask/backend/internal/ledger"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository/memory"
	"github.com/microtask/backend/internal/submissions"
	"github.com/microtask/backend/internal/tasks"
	"github.com/microtask/backend/internal/validation"
	"github.com/microtask/backend/internal/withdrawals"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T) (*testAPI, string) {
	t.Helper()
	repos := memory.New().Repositories()
	led := ledger.NewService(repos.DB, repos.Accounts, repos.Credits, nil)
	engine := tasks.NewEngine(repos, led, nil, nil)
	authSvc := auth.NewService(repos, led, "test-secret", 0, nil)
	v := validation.MustNewValidator()

	if _, err := authSvc.EnsureAdmin(context.Background(), "admin@example.com", "admin-password"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}

	h := New(Deps{
		Auth:        auth.NewHandler(authSvc, v, nil),
		Tasks:       &handlers.TaskHandler{Tasks: engine, Validator: v},
		Submissions: &handlers.SubmissionHandler{Submissions: submissions.NewService(repos, engine, nil), Validator: v},
		Withdrawals: &handlers.WithdrawalHandler{Withdrawals: withdrawals.NewService(repos, led, withdrawals.DefaultCoinsPerUnit, nil), Validator: v},
		Ledger:      &handlers.LedgerHandler{Ledger: led, Validator: v},
		Verifier:    authSvc,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	api := &testAPI{t: t, srv: srv}
	return api, api.login("admin@example.com", "admin-password")
}

// do sends body as JSON and decodes the response into out when out is non-nil.
func (a *testAPI) do(method, path, token string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		a.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			a.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (a *testAPI) register(email string, role models.Role) string {
	a.t.Helper()
	code := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": "password123", "display_name": email, "role": string(role),
	}, nil)
	if code != http.StatusCreated {
		a.t.Fatalf("register %s: status %d", email, code)
	}
	return a.login(email, "password123")
}

func (a *testAPI) login(email, password string) string {
	a.t.Helper()
	var resp auth.LoginResponse
	if code := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password}, &resp); code != http.StatusOK {
		a.t.Fatalf("login %s: status %d", email, code)
	}
	return resp.Token
}

func (a *testAPI) balance(token string) int64 {
	a.t.Helper()
	var acc auth.AccountResponse
	if code := a.do(http.MethodGet, "/api/v1/account/me", token, nil, &acc); code != http.StatusOK {
		a.t.Fatalf("me: status %d", code)
	}
	return acc.CoinBalance
}

func expect(t *testing.T, what string, got, want int) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: expected %d, got %d", what, want, got)
	}
}

// =====================================================================
// Tests
// =====================================================================

func TestMarketplaceFlow(t *testing.T) {
	api, admin := newTestAPI(t)
	buyer := api.register("buyer@example.com", models.RoleBuyer)
	w1 := api.register("w1@example.com", models.RoleWorker)
	w2 := api.register("w2@example.com", models.RoleWorker)

	if got := api.balance(buyer); got != 50 {
		t.Fatalf("buyer starting balance: expected 50, got %d", got)
	}

	var task models.Task
	expect(t, "create task", api.do(http.MethodPost, "/api/v1/tasks", buyer, map[string]any{
		"title": "Label photos", "detail": "Tag every cat", "required_workers": 2, "payable_amount": 10,
	}, &task), http.StatusCreated)
	if got := api.balance(buyer); got != 30 {
		t.Fatalf("buyer after escrow: expected 30, got %d", got)
	}

	var s1, s2 models.Submission
	taskPath := fmt.Sprintf("/api/v1/tasks/%s", task.ID)
	expect(t, "w1 submit", api.do(http.MethodPost, taskPath+"/submissions", w1, map[string]string{"content": "proof 1"}, &s1), http.StatusCreated)
	expect(t, "w1 duplicate", api.do(http.MethodPost, taskPath+"/submissions", w1, map[string]string{"content": "again"}, nil), http.StatusConflict)
	expect(t, "w2 submit", api.do(http.MethodPost, taskPath+"/submissions", w2, map[string]string{"content": "proof 2"}, &s2), http.StatusCreated)

	var queue []models.Submission
	expect(t, "review queue", api.do(http.MethodGet, "/api/v1/buyer/review-queue", buyer, nil, &queue), http.StatusOK)
	if len(queue) != 2 {
		t.Fatalf("expected 2 pending submissions, got %d", len(queue))
	}

	expect(t, "approve s1", api.do(http.MethodPost, "/api/v1/submissions/"+s1.ID.String()+"/approve", buyer, nil, nil), http.StatusOK)
	expect(t, "approve s1 again", api.do(http.MethodPost, "/api/v1/submissions/"+s1.ID.String()+"/approve", buyer, nil, nil), http.StatusConflict)
	expect(t, "reject s2", api.do(http.MethodPost, "/api/v1/submissions/"+s2.ID.String()+"/reject", buyer, nil, nil), http.StatusOK)
	if got := api.balance(w1); got != 20 {
		t.Fatalf("w1 after approval: expected 20, got %d", got)
	}

	expect(t, "cancel", api.do(http.MethodPost, taskPath+"/cancel", buyer, nil, nil), http.StatusOK)
	expect(t, "cancel again", api.do(http.MethodPost, taskPath+"/cancel", buyer, nil, nil), http.StatusConflict)
	// The rejection reopened the approved slot too, so both slots are refunded.
	if got := api.balance(buyer); got != 50 {
		t.Fatalf("buyer after cancel: expected 50, got %d", got)
	}

	expect(t, "overdraw request", api.do(http.MethodPost, "/api/v1/withdrawals", w1, map[string]any{
		"coin_amount": 25, "payment_method": "bank", "account_ref": "NL91",
	}, nil), http.StatusPaymentRequired)

	var wr models.WithdrawalRequest
	expect(t, "request", api.do(http.MethodPost, "/api/v1/withdrawals", w1, map[string]any{
		"coin_amount": 20, "payment_method": "bank", "account_ref": "NL91",
	}, &wr), http.StatusCreated)

	var pending []models.WithdrawalRequest
	expect(t, "admin list", api.do(http.MethodGet, "/api/v1/admin/withdrawals", admin, nil, &pending), http.StatusOK)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending withdrawal, got %d", len(pending))
	}

	settlePath := "/api/v1/admin/withdrawals/" + wr.ID.String() + "/settle"
	expect(t, "settle", api.do(http.MethodPost, settlePath, admin, map[string]string{"confirmation": "TX-1"}, nil), http.StatusOK)
	expect(t, "settle again", api.do(http.MethodPost, settlePath, admin, map[string]string{"confirmation": "TX-2"}, nil), http.StatusConflict)
	if got := api.balance(w1); got != 0 {
		t.Fatalf("w1 after settlement: expected 0, got %d", got)
	}

	var payments []models.PaymentRecord
	expect(t, "payments", api.do(http.MethodGet, "/api/v1/worker/payments", w1, nil, &payments), http.StatusOK)
	if len(payments) != 1 || payments[0].CoinAmount != 20 {
		t.Fatalf("expected one 20-coin payment, got %+v", payments)
	}

	var entries []models.CreditLedger
	expect(t, "ledger", api.do(http.MethodGet, "/api/v1/credit-ledger", w1, nil, &entries), http.StatusOK)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	if sum != 0 {
		t.Fatalf("ledger entries should sum to the balance 0, got %d", sum)
	}
}

func TestRoleGuards(t *testing.T) {
	api, admin := newTestAPI(t)
	worker := api.register("w@example.com", models.RoleWorker)
	buyer := api.register("b@example.com", models.RoleBuyer)
	taskBody := map[string]any{"title": "t", "detail": "d", "required_workers": 1, "payable_amount": 1}

	expect(t, "anonymous", api.do(http.MethodGet, "/api/v1/tasks", "", nil, nil), http.StatusUnauthorized)
	expect(t, "bad token", api.do(http.MethodGet, "/api/v1/tasks", "garbage", nil, nil), http.StatusUnauthorized)
	expect(t, "worker creates task", api.do(http.MethodPost, "/api/v1/tasks", worker, taskBody, nil), http.StatusForbidden)
	expect(t, "buyer withdraws", api.do(http.MethodPost, "/api/v1/withdrawals", buyer, map[string]any{
		"coin_amount": 1, "payment_method": "bank", "account_ref": "x",
	}, nil), http.StatusForbidden)
	expect(t, "buyer lists admin queue", api.do(http.MethodGet, "/api/v1/admin/withdrawals", buyer, nil, nil), http.StatusForbidden)
	expect(t, "admin lists queue", api.do(http.MethodGet, "/api/v1/admin/withdrawals", admin, nil, nil), http.StatusOK)
	expect(t, "register as admin", api.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "x@example.com", "password": "password123", "display_name": "x", "role": "admin",
	}, nil), http.StatusUnprocessableEntity)
	expect(t, "duplicate email", api.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "W@example.com", "password": "password123", "display_name": "w", "role": "worker",
	}, nil), http.StatusConflict)
	expect(t, "wrong password", api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "w@example.com", "password": "nope",
	}, nil), http.StatusUnauthorized)
}

func TestAdminTransfer(t *testing.T) {
	api, admin := newTestAPI(t)
	buyer := api.register("b@example.com", models.RoleBuyer)
	worker := api.register("w@example.com", models.RoleWorker)

	var b, w auth.AccountResponse
	api.do(http.MethodGet, "/api/v1/account/me", buyer, nil, &b)
	api.do(http.MethodGet, "/api/v1/account/me", worker, nil, &w)

	expect(t, "transfer", api.do(http.MethodPost, "/api/v1/admin/transfers", admin, map[string]any{
		"from": b.ID, "to": w.ID, "amount": 15,
	}, nil), http.StatusOK)
	expect(t, "overdraw transfer", api.do(http.MethodPost, "/api/v1/admin/transfers", admin, map[string]any{
		"from": b.ID, "to": w.ID, "amount": 500,
	}, nil), http.StatusPaymentRequired)

	if got := api.balance(buyer); got != 35 {
		t.Fatalf("buyer: expected 35, got %d", got)
	}
	if got := api.balance(worker); got != 25 {
		t.Fatalf("worker: expected 25, got %d", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	api, _ := newTestAPI(t)
	expect(t, "healthz", api.do(http.MethodGet, "/healthz", "", nil, nil), http.StatusOK)
	expect(t, "metrics", api.do(http.MethodGet, "/metrics", "", nil, nil), http.StatusOK)
	expect(t, "unknown route", api.do(http.MethodGet, "/api/v1/nope", "", nil, nil), http.StatusNotFound)
}
