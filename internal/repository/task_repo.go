package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
)

const taskColumns = `id, buyer_id, title, detail, required_workers, remaining_slots, payable_amount, completion_deadline, submission_info, status, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Create(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO tasks (id, buyer_id, title, detail, required_workers, remaining_slots, payable_amount, completion_deadline, submission_info, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, t.ID, t.BuyerID, t.Title, t.Detail, t.RequiredWorkers, t.RemainingSlots, t.PayableAmount, t.CompletionDeadline, t.SubmissionInfo, string(t.Status)).Scan(&t.CreatedAt, &t.UpdatedAt)
	return apperr.Storage(err)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, apperr.Storage(err))
	}
	return t, nil
}

// GetByIDForUpdate locks the task row so slot changes serialize per task.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, apperr.Storage(err))
	}
	return t, nil
}

func (r *TaskRepo) UpdateState(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.TaskStatus, remaining int) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $2, remaining_slots = $3, updated_at = now() WHERE id = $1
	`, id, string(status), remaining)
	return apperr.Storage(err)
}

func (r *TaskRepo) ListOpen(ctx context.Context) ([]*models.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = 'open' AND remaining_slots > 0 ORDER BY created_at DESC`)
}

func (r *TaskRepo) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, apperr.Storage(rows.Err())
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var status string
	if err := row.Scan(&t.ID, &t.BuyerID, &t.Title, &t.Detail, &t.RequiredWorkers, &t.RemainingSlots, &t.PayableAmount, &t.CompletionDeadline, &t.SubmissionInfo, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	return &t, nil
}
