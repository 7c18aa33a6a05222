package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/microtask/backend/internal/httpjson"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/validation"
)

// SubmissionService is implemented by *submissions.Service.
type SubmissionService interface {
	Submit(ctx context.Context, workerID, taskID uuid.UUID, content string) (*models.Submission, error)
	ReviewQueue(ctx context.Context, buyerID uuid.UUID) ([]*models.Submission, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Submission, error)
	Approve(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error)
	Reject(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error)
}

type SubmissionHandler struct {
	Submissions SubmissionService
	Validator   *validation.Validator
	Logger      *slog.Logger
}

type submitRequest struct {
	Content string `json:"content"`
}

// POST /tasks/{id}/submissions
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	taskID, err := pathID(r, "id")
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	var req submitRequest
	if err := h.Validator.Decode(r, validation.Submit, &req); err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	sub, err := h.Submissions.Submit(r.Context(), caller.AccountID, taskID, req.Content)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, sub)
}

// GET /buyer/review-queue
func (h *SubmissionHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Submissions.ReviewQueue(r.Context(), caller.AccountID)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// GET /worker/submissions
func (h *SubmissionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	list, err := h.Submissions.ListByWorker(r.Context(), caller.AccountID)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

// POST /submissions/{id}/approve
func (h *SubmissionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Submissions.Approve)
}

// POST /submissions/{id}/reject
func (h *SubmissionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Submissions.Reject)
}

func (h *SubmissionHandler) review(w http.ResponseWriter, r *http.Request, decide func(context.Context, uuid.UUID, uuid.UUID) (*models.Submission, error)) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	sub, err := decide(r.Context(), caller.AccountID, id)
	if err != nil {
		httpjson.Error(w, h.Logger, err)
		return
	}
	httpjson.Write(w, http.StatusOK, sub)
}
