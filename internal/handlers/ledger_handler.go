package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/httpjson"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/validation"
)

// LedgerService is implemented by *ledger.Service.
type LedgerService interface {
	Entries(ctx context.Context, accountID uuid.UUID) ([]*models.CreditLedger, error)
	Transfer(ctx context.Context, from, to uuid.UUID, amount int64) error
}

type LedgerHandler struct {
	Ledger    LedgerService
	Validator *validation.Validator
	Logger    *slog.Logger
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// GET /credit-ledger
func (h *LedgerHandler) Entries(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Ledger.Entries(r.Context(), caller.AccountID)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// POST /admin/transfers
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := h.Validator.Decode(r, validation.Transfer, &req); err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	from, err := uuid.Parse(req.From)
	if err != nil {
		httpjson.Error(w, h.Logger, apperr.Validation("invalid from %q", req.From))
		return
	}
	to, err := uuid.Parse(req.To)
	if err != nil {
		httpjson.Error(w, h.Logger, apperr.Validation("invalid to %q", req.To))
		return
	}
	if err := h.Ledger.Transfer(r.Context(), from, to, req.Amount); err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"from": from, "to": to, "amount": req.Amount})
}
