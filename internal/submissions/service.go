// Package submissions records worker submissions and exposes the buyer
// review queue. Review decisions are delegated to the task engine.
package submissions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/metrics"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository"
)

type TaskLocker interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
}

type SubmissionRepo interface {
	Create(ctx context.Context, tx pgx.Tx, s *models.Submission) error
	HasActive(ctx context.Context, tx pgx.Tx, taskID, workerID uuid.UUID) (bool, error)
	ListPendingByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Submission, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Submission, error)
}

// Reviewer applies approve/reject decisions. Implemented by *tasks.Engine.
type Reviewer interface {
	ApproveSubmission(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error)
	RejectSubmission(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error)
}

type Service struct {
	DB          repository.TxBeginner
	Tasks       TaskLocker
	Submissions SubmissionRepo
	Reviewer    Reviewer
	Now         func() time.Time
	Logger      *slog.Logger
}

func NewService(store *repository.Store, reviewer Reviewer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{DB: store.DB, Tasks: store.Tasks, Submissions: store.Submissions, Reviewer: reviewer, Now: time.Now, Logger: logger}
}

// Submit records a pending submission. The task row is locked so the open
// and slot checks cannot race a concurrent close.
func (s *Service) Submit(ctx context.Context, workerID, taskID uuid.UUID, content string) (*models.Submission, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("content is required")
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.BuyerID == workerID {
		return nil, fmt.Errorf("task %s: buyer cannot submit to own task: %w", taskID, apperr.ErrForbidden)
	}
	if task.Status != models.TaskStatusOpen || task.RemainingSlots == 0 {
		return nil, fmt.Errorf("task %s is %s with %d open slots: %w", taskID, task.Status, task.RemainingSlots, apperr.ErrInvalidState)
	}
	if task.PastDeadline(s.Now()) {
		return nil, fmt.Errorf("task %s: completion deadline has passed: %w", taskID, apperr.ErrInvalidState)
	}
	active, err := s.Submissions.HasActive(ctx, tx, taskID, workerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("task %s: %w", taskID, apperr.ErrDuplicateSubmission)
	}

	sub := &models.Submission{
		ID:       uuid.New(),
		TaskID:   taskID,
		WorkerID: workerID,
		BuyerID:  task.BuyerID,
		Content:  content,
		Status:   models.SubmissionPending,
	}
	if err := s.Submissions.Create(ctx, tx, sub); err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, fmt.Errorf("task %s: %w", taskID, apperr.ErrDuplicateSubmission)
		}
		return nil, apperr.Storage(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}

	metrics.TaskEvents.WithLabelValues("submitted").Inc()
	s.Logger.Info("submission recorded", "submission_id", sub.ID, "task_id", taskID, "worker_id", workerID)
	return sub, nil
}

// ReviewQueue lists every pending submission across the buyer's tasks.
func (s *Service) ReviewQueue(ctx context.Context, buyerID uuid.UUID) ([]*models.Submission, error) {
	return s.Submissions.ListPendingByBuyer(ctx, buyerID)
}

func (s *Service) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Submission, error) {
	return s.Submissions.ListByWorker(ctx, workerID)
}

func (s *Service) Approve(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error) {
	return s.Reviewer.ApproveSubmission(ctx, buyerID, submissionID)
}

func (s *Service) Reject(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error) {
	return s.Reviewer.RejectSubmission(ctx, buyerID, submissionID)
}
