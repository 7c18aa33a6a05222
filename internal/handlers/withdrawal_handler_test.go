package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/withdrawals"
)

type mockWithdrawalService struct {
	settleErr error
	settled   []uuid.UUID
	payout    withdrawals.Payout
}

func (m *mockWithdrawalService) RequestWithdrawal(_ context.Context, workerID uuid.UUID, coins int64, p withdrawals.Payout) (*models.WithdrawalRequest, error) {
	m.payout = p
	return &models.WithdrawalRequest{ID: uuid.New(), WorkerID: workerID, CoinAmount: coins, Status: models.WithdrawalPending}, nil
}

func (m *mockWithdrawalService) Settle(_ context.Context, _, id uuid.UUID, confirmation string) (*models.PaymentRecord, error) {
	if m.settleErr != nil {
		return nil, m.settleErr
	}
	m.settled = append(m.settled, id)
	return &models.PaymentRecord{ID: uuid.New(), WithdrawalID: id, Confirmation: confirmation}, nil
}

func (m *mockWithdrawalService) Reject(_ context.Context, _, id uuid.UUID, reason string) (*models.WithdrawalRequest, error) {
	return &models.WithdrawalRequest{ID: id, Status: models.WithdrawalRejected, RejectReason: reason}, nil
}

func (m *mockWithdrawalService) ListPending(context.Context) ([]*models.WithdrawalRequest, error) {
	return nil, nil
}

func (m *mockWithdrawalService) ListByWorker(context.Context, uuid.UUID) ([]*models.WithdrawalRequest, error) {
	return nil, nil
}

func (m *mockWithdrawalService) PaymentsByWorker(context.Context, uuid.UUID) ([]*models.PaymentRecord, error) {
	return nil, nil
}

func newTestWithdrawalHandler(t *testing.T) (*WithdrawalHandler, *mockWithdrawalService) {
	t.Helper()
	svc := &mockWithdrawalService{}
	return &WithdrawalHandler{Withdrawals: svc, Validator: newTestValidator(t), Logger: slog.Default()}, svc
}

func TestSettle_AlreadyResolvedIsConflict(t *testing.T) {
	h, svc := newTestWithdrawalHandler(t)
	id := uuid.New()
	vars := map[string]string{"id": id.String()}

	req := asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"confirmation":"TX-1"}`)), uuid.New(), models.RoleAdmin, vars)
	rec := httptest.NewRecorder()
	h.Settle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	svc.settleErr = apperr.ErrAlreadyResolved
	req = asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"confirmation":"TX-1"}`)), uuid.New(), models.RoleAdmin, vars)
	rec = httptest.NewRecorder()
	h.Settle(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if len(svc.settled) != 1 {
		t.Errorf("expected one settlement, got %d", len(svc.settled))
	}
}

func TestRequestWithdrawal_PassesPayout(t *testing.T) {
	h, svc := newTestWithdrawalHandler(t)

	body := `{"coin_amount":40,"payment_method":"bank_transfer","account_ref":"NL91ABNA0417164300"}`
	req := asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), uuid.New(), models.RoleWorker, nil)
	rec := httptest.NewRecorder()
	h.Request(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.payout.Method != "bank_transfer" || svc.payout.AccountRef != "NL91ABNA0417164300" {
		t.Errorf("payout not passed through: %+v", svc.payout)
	}
}

func TestRequestWithdrawal_InvalidBody(t *testing.T) {
	h, svc := newTestWithdrawalHandler(t)

	body := `{"coin_amount":0,"payment_method":"bank_transfer","account_ref":"x"}`
	req := asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), uuid.New(), models.RoleWorker, nil)
	rec := httptest.NewRecorder()
	h.Request(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.payout.Method != "" {
		t.Error("service should not be called on invalid payload")
	}
}

func TestRejectWithdrawal_BadID(t *testing.T) {
	h, _ := newTestWithdrawalHandler(t)

	req := asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"dup"}`)), uuid.New(), models.RoleAdmin, map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()
	h.Reject(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}
