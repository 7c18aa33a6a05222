package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/microtask/backend/internal/httpjson"
	"github.com/microtask/backend/internal/middleware"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/validation"
)

// Request/response structs use snake_case JSON.

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AccountResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	CoinBalance int64  `json:"coin_balance"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type Handler struct {
	svc       Service
	validator *validation.Validator
	log       *slog.Logger
}

func NewHandler(svc Service, validator *validation.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

// POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.validator.Decode(r, validation.Register, &req); err != nil {
		httpjson.Error(w, h.log, err)
		return
	}
	acc, err := h.svc.Register(r.Context(), req.Email, req.Password, req.DisplayName, models.Role(req.Role))
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			httpjson.Fail(w, http.StatusConflict, "duplicate_email", err.Error())
			return
		}
		httpjson.Error(w, h.log, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, accountToResponse(acc))
}

// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.validator.Decode(r, validation.Login, &req); err != nil {
		httpjson.Error(w, h.log, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpjson.Fail(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		httpjson.Error(w, h.log, err)
		return
	}
	httpjson.Write(w, http.StatusOK, LoginResponse{Token: token})
}

// GET /api/v1/account/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		httpjson.Fail(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	acc, err := h.svc.Me(r.Context(), id.AccountID)
	if err != nil {
		httpjson.Error(w, h.log, err)
		return
	}
	httpjson.Write(w, http.StatusOK, accountToResponse(acc))
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:          a.ID.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        string(a.Role),
		CoinBalance: a.CoinBalance,
	}
}
