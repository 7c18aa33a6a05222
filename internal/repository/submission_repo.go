package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
)

const submissionColumns = `id, task_id, worker_id, buyer_id, content, status, created_at, reviewed_at`

type SubmissionRepo struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepo(pool *pgxpool.Pool) *SubmissionRepo {
	return &SubmissionRepo{pool: pool}
}

// Create inserts s. The partial unique index on (task_id, worker_id) rejects a
// second non-rejected submission with a unique violation.
func (r *SubmissionRepo) Create(ctx context.Context, tx pgx.Tx, s *models.Submission) error {
	return tx.QueryRow(ctx, `
		INSERT INTO submissions (id, task_id, worker_id, buyer_id, content, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, s.ID, s.TaskID, s.WorkerID, s.BuyerID, s.Content, string(s.Status)).Scan(&s.CreatedAt)
}

func (r *SubmissionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", id, apperr.Storage(err))
	}
	return s, nil
}

func (r *SubmissionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Submission, error) {
	s, err := scanSubmission(tx.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", id, apperr.Storage(err))
	}
	return s, nil
}

func (r *SubmissionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.SubmissionStatus, reviewedAt time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE submissions SET status = $2, reviewed_at = $3 WHERE id = $1`, id, string(status), reviewedAt)
	return apperr.Storage(err)
}

// HasActive reports whether the worker already holds a pending or approved submission on the task.
func (r *SubmissionRepo) HasActive(ctx context.Context, tx pgx.Tx, taskID, workerID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM submissions WHERE task_id = $1 AND worker_id = $2 AND status <> 'rejected')
	`, taskID, workerID).Scan(&exists)
	return exists, apperr.Storage(err)
}

// RejectPendingByTask rejects every pending submission on a task that is leaving the open state.
func (r *SubmissionRepo) RejectPendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reviewedAt time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE submissions SET status = 'rejected', reviewed_at = $2 WHERE task_id = $1 AND status = 'pending'
	`, taskID, reviewedAt)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return tag.RowsAffected(), nil
}

func (r *SubmissionRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Submission, error) {
	return r.list(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id = $1 ORDER BY created_at`, taskID)
}

func (r *SubmissionRepo) ListPendingByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Submission, error) {
	return r.list(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE buyer_id = $1 AND status = 'pending' ORDER BY created_at`, buyerID)
}

func (r *SubmissionRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Submission, error) {
	return r.list(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE worker_id = $1 ORDER BY created_at DESC`, workerID)
}

func (r *SubmissionRepo) list(ctx context.Context, query string, args ...any) ([]*models.Submission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()
	var list []*models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, apperr.Storage(rows.Err())
}

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var s models.Submission
	var status string
	if err := row.Scan(&s.ID, &s.TaskID, &s.WorkerID, &s.BuyerID, &s.Content, &status, &s.CreatedAt, &s.ReviewedAt); err != nil {
		return nil, err
	}
	s.Status = models.SubmissionStatus(status)
	return &s, nil
}
