// Package ledger owns coin balances. Every balance movement goes through
// Debit or Credit and leaves a credit_ledger row in the same transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository"
)

// AccountRepo is the minimal account repository interface for balance changes.
type AccountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error)
}

// CreditRepo is the minimal credit ledger interface.
type CreditRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditLedger, error)
}

type Service struct {
	DB       repository.TxBeginner
	Accounts AccountRepo
	Credits  CreditRepo
	Logger   *slog.Logger
}

func NewService(db repository.TxBeginner, accounts AccountRepo, credits CreditRepo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{DB: db, Accounts: accounts, Credits: credits, Logger: logger}
}

// Debit removes amount from the account inside tx. The storage layer applies
// it as a conditional update, so a concurrent debit can never overdraw.
func (s *Service) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, entry models.EntryType, ref uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, apperr.Validation("debit amount must be positive, got %d", amount)
	}
	balance, err := s.Accounts.DeductCredits(ctx, tx, accountID, amount)
	if err != nil {
		return 0, err
	}
	if err := s.record(ctx, tx, accountID, -amount, balance, entry, ref); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds amount to the account inside tx.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, entry models.EntryType, ref uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, apperr.Validation("credit amount must be positive, got %d", amount)
	}
	balance, err := s.Accounts.AddCredits(ctx, tx, accountID, amount)
	if err != nil {
		return 0, err
	}
	if err := s.record(ctx, tx, accountID, amount, balance, entry, ref); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount, balance int64, entry models.EntryType, ref uuid.UUID) error {
	c := &models.CreditLedger{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    entry,
		Amount:       amount,
		BalanceAfter: balance,
	}
	if ref != uuid.Nil {
		c.ReferenceID = &ref
	}
	if err := s.Credits.CreateTx(ctx, tx, c); err != nil {
		return fmt.Errorf("record %s for %s: %w", entry, accountID, err)
	}
	return nil
}

// Transfer moves amount between two accounts in its own transaction. Both
// rows are locked in UUID order first. If the credit leg fails the whole
// transaction rolls back, which returns the debited coins to from.
func (s *Service) Transfer(ctx context.Context, from, to uuid.UUID, amount int64) error {
	if from == to {
		return apperr.Validation("cannot transfer to the same account")
	}
	if amount <= 0 {
		return apperr.Validation("transfer amount must be positive, got %d", amount)
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	ids := []uuid.UUID{from, to}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if _, err := s.Accounts.GetByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
	}

	ref := uuid.New()
	if _, err := s.Debit(ctx, tx, from, amount, models.EntryTransferOut, ref); err != nil {
		return err
	}
	if _, err := s.Credit(ctx, tx, to, amount, models.EntryTransferIn, ref); err != nil {
		s.Logger.Error("transfer credit failed, rolling back debit", "from", from, "to", to, "amount", amount, "error", err)
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("transfer credit: %w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage(err)
	}
	s.Logger.Info("transfer committed", "from", from, "to", to, "amount", amount, "reference_id", ref)
	return nil
}

func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	acc, err := s.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.CoinBalance, nil
}

func (s *Service) Entries(ctx context.Context, accountID uuid.UUID) ([]*models.CreditLedger, error) {
	return s.Credits.ListByAccountID(ctx, accountID)
}
