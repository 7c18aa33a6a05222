package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/microtask/backend/internal/apperr"
)

// ExpireTaskArgs is enqueued in the task's create transaction and scheduled
// for its completion deadline.
type ExpireTaskArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (ExpireTaskArgs) Kind() string { return "expire_task" }

// Expirer closes a task whose deadline has passed. Implemented by *tasks.Engine.
type Expirer interface {
	ExpireTask(ctx context.Context, taskID uuid.UUID) error
}

type ExpireTaskWorker struct {
	river.WorkerDefaults[ExpireTaskArgs]
	expirer Expirer
	log     *slog.Logger
}

func NewExpireTaskWorker(e Expirer, log *slog.Logger) *ExpireTaskWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpireTaskWorker{expirer: e, log: log}
}

func (w *ExpireTaskWorker) Work(ctx context.Context, job *river.Job[ExpireTaskArgs]) error {
	return expire(ctx, w.expirer, w.log, job.Args.TaskID)
}

// expire runs one expiry. A task that no longer exists is not retried.
func expire(ctx context.Context, e Expirer, log *slog.Logger, taskID uuid.UUID) error {
	err := e.ExpireTask(ctx, taskID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		log.Warn("expiry for unknown task dropped", "task_id", taskID)
		return nil
	}
	return fmt.Errorf("expire task %s: %w", taskID, err)
}
