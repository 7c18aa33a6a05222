package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
)

type mockSubmissionService struct {
	submitErr error
	content   string
	reviewed  map[uuid.UUID]models.SubmissionStatus
	queue     []*models.Submission
}

func newMockSubmissionService() *mockSubmissionService {
	return &mockSubmissionService{reviewed: make(map[uuid.UUID]models.SubmissionStatus)}
}

func (m *mockSubmissionService) Submit(_ context.Context, workerID, taskID uuid.UUID, content string) (*models.Submission, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.content = content
	return &models.Submission{ID: uuid.New(), TaskID: taskID, WorkerID: workerID, Content: content, Status: models.SubmissionPending}, nil
}

func (m *mockSubmissionService) ReviewQueue(context.Context, uuid.UUID) ([]*models.Submission, error) {
	return m.queue, nil
}

func (m *mockSubmissionService) ListByWorker(context.Context, uuid.UUID) ([]*models.Submission, error) {
	return nil, nil
}

func (m *mockSubmissionService) decide(id uuid.UUID, status models.SubmissionStatus) (*models.Submission, error) {
	if _, done := m.reviewed[id]; done {
		return nil, fmt.Errorf("submission %s: %w", id, apperr.ErrAlreadyResolved)
	}
	m.reviewed[id] = status
	return &models.Submission{ID: id, Status: status}, nil
}

func (m *mockSubmissionService) Approve(_ context.Context, _, id uuid.UUID) (*models.Submission, error) {
	return m.decide(id, models.SubmissionApproved)
}

func (m *mockSubmissionService) Reject(_ context.Context, _, id uuid.UUID) (*models.Submission, error) {
	return m.decide(id, models.SubmissionRejected)
}

func newTestSubmissionHandler(t *testing.T) (*SubmissionHandler, *mockSubmissionService) {
	t.Helper()
	svc := newMockSubmissionService()
	return &SubmissionHandler{Submissions: svc, Validator: newTestValidator(t), Logger: slog.Default()}, svc
}

func TestSubmit(t *testing.T) {
	h, svc := newTestSubmissionHandler(t)
	taskID := uuid.New()
	vars := map[string]string{"id": taskID.String()}

	req := asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"https://proof.example/1"}`)), uuid.New(), models.RoleWorker, vars)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sub models.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sub.TaskID != taskID || svc.content != "https://proof.example/1" {
		t.Errorf("unexpected submission %+v", sub)
	}

	svc.submitErr = fmt.Errorf("task: %w", apperr.ErrDuplicateSubmission)
	req = asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"again"}`)), uuid.New(), models.RoleWorker, vars)
	rec = httptest.NewRecorder()
	h.Submit(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rec.Code)
	}
}

func TestSubmit_InvalidInput(t *testing.T) {
	h, svc := newTestSubmissionHandler(t)

	cases := []struct {
		name string
		id   string
		body string
	}{
		{"bad task id", "nope", `{"content":"x"}`},
		{"missing content", uuid.NewString(), `{}`},
		{"unknown field", uuid.NewString(), `{"content":"x","score":5}`},
	}
	for _, tc := range cases {
		req := asCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)), uuid.New(), models.RoleWorker, map[string]string{"id": tc.id})
		rec := httptest.NewRecorder()
		h.Submit(rec, req)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", tc.name, rec.Code)
		}
	}
	if svc.content != "" {
		t.Error("service should not be called on invalid input")
	}
}

func TestReview_ApproveThenReject(t *testing.T) {
	h, svc := newTestSubmissionHandler(t)
	id := uuid.New()
	vars := map[string]string{"id": id.String()}
	buyer := uuid.New()

	rec := httptest.NewRecorder()
	h.Approve(rec, asCaller(httptest.NewRequest(http.MethodPost, "/", nil), buyer, models.RoleBuyer, vars))
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.reviewed[id] != models.SubmissionApproved {
		t.Errorf("expected approved, got %q", svc.reviewed[id])
	}

	rec = httptest.NewRecorder()
	h.Reject(rec, asCaller(httptest.NewRequest(http.MethodPost, "/", nil), buyer, models.RoleBuyer, vars))
	if rec.Code != http.StatusConflict {
		t.Fatalf("reject after approve: expected 409, got %d", rec.Code)
	}
	if kind := decodeError(t, rec).Kind; kind != "already_resolved" {
		t.Errorf("expected kind already_resolved, got %q", kind)
	}
}

func TestReviewQueue(t *testing.T) {
	h, svc := newTestSubmissionHandler(t)
	svc.queue = []*models.Submission{{ID: uuid.New(), Status: models.SubmissionPending}}

	rec := httptest.NewRecorder()
	h.ReviewQueue(rec, asCaller(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), models.RoleBuyer, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var queue []models.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &queue); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(queue) != 1 {
		t.Errorf("expected 1 submission, got %d", len(queue))
	}

	rec = httptest.NewRecorder()
	h.ReviewQueue(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}
}
