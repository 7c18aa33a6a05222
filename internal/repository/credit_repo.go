package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
)

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, account_id, reference_id, entry_type, amount, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, c.AccountID, c.ReferenceID, string(c.EntryType), c.Amount, c.BalanceAfter).Scan(&c.CreatedAt)
	return apperr.Storage(err)
}

func (r *CreditRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditLedger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, reference_id, entry_type, amount, balance_after, created_at
		FROM credit_ledger WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()
	var list []*models.CreditLedger
	for rows.Next() {
		var c models.CreditLedger
		var entryType string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.ReferenceID, &entryType, &c.Amount, &c.BalanceAfter, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.EntryType = models.EntryType(entryType)
		list = append(list, &c)
	}
	return list, apperr.Storage(rows.Err())
}
