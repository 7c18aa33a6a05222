package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/microtask/backend/internal/httpjson"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/validation"
	"github.com/microtask/backend/internal/withdrawals"
)

// WithdrawalService is implemented by *withdrawals.Service.
type WithdrawalService interface {
	RequestWithdrawal(ctx context.Context, workerID uuid.UUID, coins int64, payout withdrawals.Payout) (*models.WithdrawalRequest, error)
	Settle(ctx context.Context, adminID, withdrawalID uuid.UUID, confirmation string) (*models.PaymentRecord, error)
	Reject(ctx context.Context, adminID, withdrawalID uuid.UUID, reason string) (*models.WithdrawalRequest, error)
	ListPending(ctx context.Context) ([]*models.WithdrawalRequest, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.WithdrawalRequest, error)
	PaymentsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.PaymentRecord, error)
}

type WithdrawalHandler struct {
	Withdrawals WithdrawalService
	Validator   *validation.Validator
	Logger      *slog.Logger
}

type withdrawalRequest struct {
	CoinAmount    int64  `json:"coin_amount"`
	PaymentMethod string `json:"payment_method"`
	AccountRef    string `json:"account_ref"`
}

type settleRequest struct {
	Confirmation string `json:"confirmation"`
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

// POST /withdrawals
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := h.Validator.Decode(r, validation.Withdrawal, &req); err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	wr, err := h.Withdrawals.RequestWithdrawal(r.Context(), caller.AccountID, req.CoinAmount, withdrawals.Payout{
		Method:     req.PaymentMethod,
		AccountRef: req.AccountRef,
	})
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, wr)
}

// GET /withdrawals
func (h *WithdrawalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Withdrawals.ListByWorker(r.Context(), caller.AccountID)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// GET /worker/payments
func (h *WithdrawalHandler) Payments(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Withdrawals.PaymentsByWorker(r.Context(), caller.AccountID)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// GET /admin/withdrawals
func (h *WithdrawalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	list, err := h.Withdrawals.ListPending(r.Context())
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// POST /admin/withdrawals/{id}/settle
func (h *WithdrawalHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	var req settleRequest
	if err := h.Validator.Decode(r, validation.Settle, &req); err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	p, err := h.Withdrawals.Settle(r.Context(), caller.AccountID, id, req.Confirmation)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, p)
}

// POST /admin/withdrawals/{id}/reject
func (h *WithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	var req rejectWithdrawalRequest
	if err := h.Validator.Decode(r, validation.RejectWithdrawal, &req); err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	wr, err := h.Withdrawals.Reject(r.Context(), caller.AccountID, id, req.Reason)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, wr)
}
