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

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// CreateTx inserts an immutable payment record. withdrawal_id is unique, so a
// second record for the same request fails with a unique violation.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.PaymentRecord) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payment_records (id, withdrawal_id, worker_id, coin_amount, amount, payment_method, account_ref, confirmation)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
		RETURNING settled_at
	`, p.ID, p.WithdrawalID, p.WorkerID, p.CoinAmount, p.Amount.String(), p.PaymentMethod, p.AccountRef, p.Confirmation).Scan(&p.SettledAt)
}

func (r *PaymentRepo) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, withdrawal_id, worker_id, coin_amount, amount::text, payment_method, account_ref, confirmation, settled_at
		FROM payment_records WHERE worker_id = $1 ORDER BY settled_at DESC
	`, workerID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()
	var list []*models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		var amount string
		if err := rows.Scan(&p.ID, &p.WithdrawalID, &p.WorkerID, &p.CoinAmount, &amount, &p.PaymentMethod, &p.AccountRef, &p.Confirmation, &p.SettledAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("payment %s: amount %q: %w", p.ID, amount, err)
		}
		list = append(list, &p)
	}
	return list, apperr.Storage(rows.Err())
}
