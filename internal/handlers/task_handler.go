package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/httpjson"
	"github.com/microtask/backend/internal/middleware"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/tasks"
	"github.com/microtask/backend/internal/validation"
)

// TaskService is the task lifecycle surface the handler needs. Implemented by *tasks.Engine.
type TaskService interface {
	CreateTask(ctx context.Context, buyerID uuid.UUID, p tasks.CreateParams) (*models.Task, error)
	CancelTask(ctx context.Context, buyerID, taskID uuid.UUID) (*models.Task, error)
	GetTask(ctx context.Context, viewerID, taskID uuid.UUID) (*models.Task, error)
	ListOpen(ctx context.Context) ([]*models.Task, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Task, error)
}

// TaskHandler serves /tasks and /buyer/tasks.
type TaskHandler struct {
	Tasks     TaskService
	Validator *validation.Validator
	Logger    *slog.Logger
}

type createTaskRequest struct {
	Title              string     `json:"title"`
	Detail             string     `json:"detail"`
	RequiredWorkers    int        `json:"required_workers"`
	PayableAmount      int64      `json:"payable_amount"`
	CompletionDeadline *time.Time `json:"completion_deadline"`
	SubmissionInfo     string     `json:"submission_info"`
}

// CreateTask handles POST /tasks. The escrow is locked in the same transaction
// as the insert, so a 402 means nothing was created.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := h.Validator.Decode(r, validation.CreateTask, &req); err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	task, err := h.Tasks.CreateTask(r.Context(), caller.AccountID, tasks.CreateParams{
		Title:              req.Title,
		Detail:             req.Detail,
		RequiredWorkers:    req.RequiredWorkers,
		PayableAmount:      req.PayableAmount,
		CompletionDeadline: req.CompletionDeadline,
		SubmissionInfo:     req.SubmissionInfo,
	})
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, task)
}

// GET /tasks
func (h *TaskHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	list, err := h.Tasks.ListOpen(r.Context())
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// GET /tasks/{id}. Submissions are included only for the owning buyer.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	task, err := h.Tasks.GetTask(r.Context(), caller.AccountID, id)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, task)
}

// POST /tasks/{id}/cancel
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	task, err := h.Tasks.CancelTask(r.Context(), caller.AccountID, id)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, task)
}

// GET /buyer/tasks
func (h *TaskHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Tasks.ListByBuyer(r.Context(), caller.AccountID)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// identity returns the authenticated caller or writes 401.
func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		httpjson.Fail(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	}
	return id, ok
}

// pathID parses the named UUID route variable.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}
