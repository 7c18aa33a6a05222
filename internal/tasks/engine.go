// Package tasks implements the task lifecycle: escrow at creation, slot
// accounting on review, and refunds on cancellation or expiry.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/metrics"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository"
)

// ScheduleExpiryTxFunc enqueues the deadline job within the given transaction.
// Provided by main using river.Client.InsertTx.
type ScheduleExpiryTxFunc func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error

type TaskRepo interface {
	Create(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateState(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.TaskStatus, remaining int) error
	ListOpen(ctx context.Context) ([]*models.Task, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Task, error)
}

type SubmissionRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Submission, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.SubmissionStatus, reviewedAt time.Time) error
	RejectPendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reviewedAt time.Time) (int64, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Submission, error)
}

// Ledger is the subset of ledger.Service the engine moves coins with.
type Ledger interface {
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, entry models.EntryType, ref uuid.UUID) (int64, error)
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, entry models.EntryType, ref uuid.UUID) (int64, error)
}

type Engine struct {
	DB             repository.TxBeginner
	Tasks          TaskRepo
	Submissions    SubmissionRepo
	Ledger         Ledger
	ScheduleExpiry ScheduleExpiryTxFunc
	Now            func() time.Time
	Logger         *slog.Logger
}

// NewEngine wires an Engine over store. scheduleExpiry may be nil, in which
// case deadlines are stored but never enforced.
func NewEngine(store *repository.Store, ledger Ledger, scheduleExpiry ScheduleExpiryTxFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		DB:             store.DB,
		Tasks:          store.Tasks,
		Submissions:    store.Submissions,
		Ledger:         ledger,
		ScheduleExpiry: scheduleExpiry,
		Now:            time.Now,
		Logger:         logger,
	}
}

// MaxRequiredWorkers bounds required_workers well inside the INTEGER column.
const MaxRequiredWorkers = 10000

type CreateParams struct {
	Title              string
	Detail             string
	RequiredWorkers    int
	PayableAmount      int64
	CompletionDeadline *time.Time
	SubmissionInfo     string
}

func (p CreateParams) validate(now time.Time) error {
	if strings.TrimSpace(p.Title) == "" {
		return apperr.Validation("title is required")
	}
	if strings.TrimSpace(p.Detail) == "" {
		return apperr.Validation("detail is required")
	}
	if p.RequiredWorkers <= 0 {
		return apperr.Validation("required_workers must be > 0")
	}
	if p.RequiredWorkers > MaxRequiredWorkers {
		return apperr.Validation("required_workers must be <= %d", MaxRequiredWorkers)
	}
	if p.PayableAmount <= 0 {
		return apperr.Validation("payable_amount must be > 0")
	}
	if p.PayableAmount > math.MaxInt64/int64(p.RequiredWorkers) {
		return apperr.Validation("escrow of %d x %d overflows", p.RequiredWorkers, p.PayableAmount)
	}
	if p.CompletionDeadline != nil && !p.CompletionDeadline.After(now) {
		return apperr.Validation("completion_deadline must be in the future")
	}
	return nil
}

// CreateTask debits the full escrow from the buyer and inserts the task in
// one transaction. No task exists without its escrow and vice versa.
func (e *Engine) CreateTask(ctx context.Context, buyerID uuid.UUID, p CreateParams) (*models.Task, error) {
	if err := p.validate(e.Now()); err != nil {
		return nil, err
	}
	escrow := int64(p.RequiredWorkers) * p.PayableAmount
	task := &models.Task{
		ID:                 uuid.New(),
		BuyerID:            buyerID,
		Title:              strings.TrimSpace(p.Title),
		Detail:             strings.TrimSpace(p.Detail),
		RequiredWorkers:    p.RequiredWorkers,
		RemainingSlots:     p.RequiredWorkers,
		PayableAmount:      p.PayableAmount,
		CompletionDeadline: p.CompletionDeadline,
		SubmissionInfo:     p.SubmissionInfo,
		Status:             models.TaskStatusOpen,
	}

	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	if _, err := e.Ledger.Debit(ctx, tx, buyerID, escrow, models.EntryEscrowLock, task.ID); err != nil {
		return nil, err
	}
	if err := e.Tasks.Create(ctx, tx, task); err != nil {
		e.Logger.Error("insert task failed, escrow rolled back", "buyer_id", buyerID, "escrow", escrow, "error", err)
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if task.CompletionDeadline != nil && e.ScheduleExpiry != nil {
		if err := e.ScheduleExpiry(ctx, tx, task.ID, *task.CompletionDeadline); err != nil {
			return nil, fmt.Errorf("schedule expiry: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}

	metrics.TaskEvents.WithLabelValues("created").Inc()
	metrics.CoinsMoved.WithLabelValues(string(models.EntryEscrowLock)).Add(float64(escrow))
	e.Logger.Info("task created", "task_id", task.ID, "buyer_id", buyerID, "escrow", escrow)
	return task, nil
}

// review locks the task then the submission and checks the shared guards.
// Lock order is always task before submission.
func (e *Engine) review(ctx context.Context, tx pgx.Tx, buyerID, submissionID uuid.UUID, next models.SubmissionStatus) (*models.Task, *models.Submission, error) {
	peek, err := e.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	task, err := e.Tasks.GetByIDForUpdate(ctx, tx, peek.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if task.BuyerID != buyerID {
		return nil, nil, fmt.Errorf("submission %s: %w", submissionID, apperr.ErrForbidden)
	}
	sub, err := e.Submissions.GetByIDForUpdate(ctx, tx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	if !sub.Status.CanTransitionTo(next) {
		return nil, nil, fmt.Errorf("submission %s is %s: %w", submissionID, sub.Status, apperr.ErrAlreadyResolved)
	}
	if task.Status != models.TaskStatusOpen {
		return nil, nil, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, apperr.ErrInvalidState)
	}
	// Expiry may not have run yet; the deadline alone closes review.
	if task.PastDeadline(e.Now()) {
		return nil, nil, fmt.Errorf("task %s: completion deadline has passed: %w", task.ID, apperr.ErrInvalidState)
	}
	return task, sub, nil
}

// ApproveSubmission pays the worker, fills one slot and closes the task once
// no slots remain. Approving twice fails with ErrAlreadyResolved.
func (e *Engine) ApproveSubmission(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error) {
	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	task, sub, err := e.review(ctx, tx, buyerID, submissionID, models.SubmissionApproved)
	if err != nil {
		return nil, err
	}
	if task.RemainingSlots == 0 {
		return nil, fmt.Errorf("task %s has no open slots: %w", task.ID, apperr.ErrInvalidState)
	}
	now := e.Now()
	remaining := task.RemainingSlots - 1
	status := models.TaskStatusOpen
	if remaining == 0 {
		status = models.TaskStatusClosed
	}

	if err := e.Submissions.UpdateStatus(ctx, tx, sub.ID, models.SubmissionApproved, now); err != nil {
		return nil, err
	}
	if _, err := e.Ledger.Credit(ctx, tx, sub.WorkerID, task.PayableAmount, models.EntryTaskEarning, sub.ID); err != nil {
		return nil, err
	}
	if err := e.Tasks.UpdateState(ctx, tx, task.ID, status, remaining); err != nil {
		return nil, err
	}
	if status == models.TaskStatusClosed {
		if _, err := e.Submissions.RejectPendingByTask(ctx, tx, task.ID, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}

	metrics.TaskEvents.WithLabelValues("approved").Inc()
	metrics.CoinsMoved.WithLabelValues(string(models.EntryTaskEarning)).Add(float64(task.PayableAmount))
	if status == models.TaskStatusClosed {
		metrics.TaskEvents.WithLabelValues("closed").Inc()
	}
	e.Logger.Info("submission approved", "submission_id", sub.ID, "task_id", task.ID, "worker_id", sub.WorkerID, "remaining_slots", remaining)

	sub.Status, sub.ReviewedAt = models.SubmissionApproved, &now
	return sub, nil
}

// RejectSubmission marks the submission rejected and reopens a slot, never
// beyond the task's original required worker count. No coins move.
func (e *Engine) RejectSubmission(ctx context.Context, buyerID, submissionID uuid.UUID) (*models.Submission, error) {
	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	task, sub, err := e.review(ctx, tx, buyerID, submissionID, models.SubmissionRejected)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	remaining := min(task.RemainingSlots+1, task.RequiredWorkers)

	if err := e.Submissions.UpdateStatus(ctx, tx, sub.ID, models.SubmissionRejected, now); err != nil {
		return nil, err
	}
	if err := e.Tasks.UpdateState(ctx, tx, task.ID, task.Status, remaining); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}

	metrics.TaskEvents.WithLabelValues("rejected").Inc()
	e.Logger.Info("submission rejected", "submission_id", sub.ID, "task_id", task.ID, "remaining_slots", remaining)

	sub.Status, sub.ReviewedAt = models.SubmissionRejected, &now
	return sub, nil
}

// CancelTask refunds the buyer for every unfilled slot and cancels the task.
func (e *Engine) CancelTask(ctx context.Context, buyerID, taskID uuid.UUID) (*models.Task, error) {
	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	task, err := e.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.BuyerID != buyerID {
		return nil, fmt.Errorf("task %s: %w", taskID, apperr.ErrForbidden)
	}
	if !task.Status.CanTransitionTo(models.TaskStatusCancelled) {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, apperr.ErrInvalidState)
	}
	refund, err := e.release(ctx, tx, task, models.TaskStatusCancelled)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}

	metrics.TaskEvents.WithLabelValues("cancelled").Inc()
	metrics.CoinsMoved.WithLabelValues(string(models.EntryEscrowRefund)).Add(float64(refund))
	e.Logger.Info("task cancelled", "task_id", taskID, "buyer_id", buyerID, "refund", refund)
	return task, nil
}

// ExpireTask is run by the deadline job. An open task is closed and its
// unfilled escrow refunded; a task that already left open is left alone.
func (e *Engine) ExpireTask(ctx context.Context, taskID uuid.UUID) error {
	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	task, err := e.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusOpen {
		e.Logger.Info("expiry skipped", "task_id", taskID, "status", task.Status)
		return nil
	}
	refund, err := e.release(ctx, tx, task, models.TaskStatusClosed)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage(err)
	}

	metrics.TaskEvents.WithLabelValues("expired").Inc()
	metrics.CoinsMoved.WithLabelValues(string(models.EntryEscrowRefund)).Add(float64(refund))
	e.Logger.Info("task expired", "task_id", taskID, "refund", refund)
	return nil
}

// release refunds the unfilled escrow, moves task to a terminal status and
// rejects whatever is still pending. It mutates task to the stored state.
func (e *Engine) release(ctx context.Context, tx pgx.Tx, task *models.Task, status models.TaskStatus) (int64, error) {
	refund := task.Escrow()
	if refund > 0 {
		if _, err := e.Ledger.Credit(ctx, tx, task.BuyerID, refund, models.EntryEscrowRefund, task.ID); err != nil {
			return 0, err
		}
	}
	if err := e.Tasks.UpdateState(ctx, tx, task.ID, status, 0); err != nil {
		return 0, err
	}
	if _, err := e.Submissions.RejectPendingByTask(ctx, tx, task.ID, e.Now()); err != nil {
		return 0, err
	}
	task.Status, task.RemainingSlots = status, 0
	return refund, nil
}

// GetTask returns the task; its owner also receives the submissions.
func (e *Engine) GetTask(ctx context.Context, viewerID, taskID uuid.UUID) (*models.Task, error) {
	task, err := e.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.BuyerID == viewerID {
		subs, err := e.Submissions.ListByTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		task.Submissions = subs
	}
	return task, nil
}

func (e *Engine) ListOpen(ctx context.Context) ([]*models.Task, error) {
	return e.Tasks.ListOpen(ctx)
}

func (e *Engine) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Task, error) {
	return e.Tasks.ListByBuyer(ctx, buyerID)
}
