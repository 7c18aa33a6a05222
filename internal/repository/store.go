package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/microtask/backend/internal/models"
)

// TxBeginner abstracts transaction creation so services don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type AccountStore interface {
	Create(ctx context.Context, tx pgx.Tx, a *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error)
}

type CreditStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditLedger, error)
}

type TaskStore interface {
	Create(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateState(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.TaskStatus, remaining int) error
	ListOpen(ctx context.Context) ([]*models.Task, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Task, error)
}

type SubmissionStore interface {
	Create(ctx context.Context, tx pgx.Tx, s *models.Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Submission, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.SubmissionStatus, reviewedAt time.Time) error
	HasActive(ctx context.Context, tx pgx.Tx, taskID, workerID uuid.UUID) (bool, error)
	RejectPendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reviewedAt time.Time) (int64, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Submission, error)
	ListPendingByBuyer(ctx context.Context, buyerID uuid.UUID) ([]*models.Submission, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Submission, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, w *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WithdrawalRequest, error)
	Resolve(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error
	ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.WithdrawalRequest, error)
}

type PaymentStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.PaymentRecord) error
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.PaymentRecord, error)
}

// Store is the storage context handed to every service at construction.
type Store struct {
	DB          TxBeginner
	Accounts    AccountStore
	Credits     CreditStore
	Tasks       TaskStore
	Submissions SubmissionStore
	Withdrawals WithdrawalStore
	Payments    PaymentStore
}

// NewPostgres builds a Store backed by pool.
func NewPostgres(pool *pgxpool.Pool) *Store {
	return &Store{
		DB:          pool,
		Accounts:    NewAccountRepo(pool),
		Credits:     NewCreditRepo(pool),
		Tasks:       NewTaskRepo(pool),
		Submissions: NewSubmissionRepo(pool),
		Withdrawals: NewWithdrawalRepo(pool),
		Payments:    NewPaymentRepo(pool),
	}
}
