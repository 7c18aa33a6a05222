package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
)

// Numeric columns travel as text so decimal values keep their exact scale.
const withdrawalColumns = `id, worker_id, coin_amount, monetary_amount::text, payment_method, account_ref, status, reject_reason, requested_at, resolved_at`

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

func (r *WithdrawalRepo) Create(ctx context.Context, w *models.WithdrawalRequest) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (id, worker_id, coin_amount, monetary_amount, payment_method, account_ref, status)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7)
		RETURNING requested_at
	`, w.ID, w.WorkerID, w.CoinAmount, w.MonetaryAmount.String(), w.PaymentMethod, w.AccountRef, string(w.Status)).Scan(&w.RequestedAt)
	return apperr.Storage(err)
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", id, apperr.Storage(err))
	}
	return w, nil
}

// GetByIDForUpdate locks the request row so settlement cannot run twice concurrently.
func (r *WithdrawalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", id, apperr.Storage(err))
	}
	return w, nil
}

// Resolve persists the status, reason and resolution time carried by w.
func (r *WithdrawalRepo) Resolve(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error {
	_, err := tx.Exec(ctx, `
		UPDATE withdrawal_requests SET status = $2, reject_reason = $3, resolved_at = $4 WHERE id = $1
	`, w.ID, string(w.Status), w.RejectReason, w.ResolvedAt)
	return apperr.Storage(err)
}

func (r *WithdrawalRepo) ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE status = $1 ORDER BY requested_at`, string(status))
}

func (r *WithdrawalRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE worker_id = $1 ORDER BY requested_at DESC`, workerID)
}

func (r *WithdrawalRepo) list(ctx context.Context, query string, args ...any) ([]*models.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()
	var list []*models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, apperr.Storage(rows.Err())
}

func scanWithdrawal(row pgx.Row) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	var amount, status string
	if err := row.Scan(&w.ID, &w.WorkerID, &w.CoinAmount, &amount, &w.PaymentMethod, &w.AccountRef, &status, &w.RejectReason, &w.RequestedAt, &w.ResolvedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: monetary_amount %q: %w", w.ID, amount, err)
	}
	w.MonetaryAmount = d
	w.Status = models.WithdrawalStatus(status)
	return &w, nil
}
