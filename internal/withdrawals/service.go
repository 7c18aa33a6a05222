// Package withdrawals turns worker coin balances into payout requests and
// settles them into payment records.
package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/metrics"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository"
)

// DefaultCoinsPerUnit is the conversion rate used when none is configured.
var DefaultCoinsPerUnit = decimal.NewFromInt(20)

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type WithdrawalRepo interface {
	Create(ctx context.Context, w *models.WithdrawalRequest) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WithdrawalRequest, error)
	Resolve(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error
	ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error)
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.WithdrawalRequest, error)
}

type PaymentRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.PaymentRecord) error
	ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.PaymentRecord, error)
}

type Debiter interface {
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, entry models.EntryType, ref uuid.UUID) (int64, error)
}

type Service struct {
	DB           repository.TxBeginner
	Accounts     AccountReader
	Withdrawals  WithdrawalRepo
	Payments     PaymentRepo
	Ledger       Debiter
	CoinsPerUnit decimal.Decimal
	Now          func() time.Time
	Logger       *slog.Logger
}

func NewService(store *repository.Store, ledger Debiter, coinsPerUnit decimal.Decimal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if !coinsPerUnit.IsPositive() {
		coinsPerUnit = DefaultCoinsPerUnit
	}
	return &Service{
		DB:           store.DB,
		Accounts:     store.Accounts,
		Withdrawals:  store.Withdrawals,
		Payments:     store.Payments,
		Ledger:       ledger,
		CoinsPerUnit: coinsPerUnit,
		Now:          time.Now,
		Logger:       logger,
	}
}

// Payout says where settled money goes.
type Payout struct {
	Method     string
	AccountRef string
}

// MonetaryAmount converts coins to currency, rounded to cents.
func (s *Service) MonetaryAmount(coins int64) decimal.Decimal {
	return decimal.NewFromInt(coins).DivRound(s.CoinsPerUnit, 2)
}

// RequestWithdrawal opens a pending request. The balance check here is
// advisory; coins are only debited at settlement.
func (s *Service) RequestWithdrawal(ctx context.Context, workerID uuid.UUID, coins int64, payout Payout) (*models.WithdrawalRequest, error) {
	if coins <= 0 {
		return nil, apperr.Validation("coin_amount must be > 0")
	}
	payout.Method, payout.AccountRef = strings.TrimSpace(payout.Method), strings.TrimSpace(payout.AccountRef)
	if payout.Method == "" || payout.AccountRef == "" {
		return nil, apperr.Validation("payment_method and account_ref are required")
	}
	acc, err := s.Accounts.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if acc.CoinBalance < coins {
		return nil, fmt.Errorf("balance %d below requested %d: %w", acc.CoinBalance, coins, apperr.ErrInsufficientFunds)
	}

	w := &models.WithdrawalRequest{
		ID:             uuid.New(),
		WorkerID:       workerID,
		CoinAmount:     coins,
		MonetaryAmount: s.MonetaryAmount(coins),
		PaymentMethod:  payout.Method,
		AccountRef:     payout.AccountRef,
		Status:         models.WithdrawalPending,
	}
	if err := s.Withdrawals.Create(ctx, w); err != nil {
		return nil, apperr.Storage(err)
	}
	metrics.WithdrawalEvents.WithLabelValues("requested").Inc()
	s.Logger.Info("withdrawal requested", "withdrawal_id", w.ID, "worker_id", workerID, "coins", coins, "amount", w.MonetaryAmount.String())
	return w, nil
}

// Settle debits the worker, marks the request paid and writes the payment
// record in one transaction. The request row is locked first, so a second
// settle waits and then sees paid. If the balance no longer covers the
// request the transaction is abandoned and the request stays pending.
func (s *Service) Settle(ctx context.Context, adminID, withdrawalID uuid.UUID, confirmation string) (*models.PaymentRecord, error) {
	confirmation = strings.TrimSpace(confirmation)
	if confirmation == "" {
		return nil, apperr.Validation("confirmation is required")
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	w, err := s.Withdrawals.GetByIDForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalPending || !w.Status.CanTransitionTo(models.WithdrawalPaid) {
		return nil, fmt.Errorf("withdrawal %s is %s: %w", withdrawalID, w.Status, apperr.ErrAlreadyResolved)
	}
	if _, err := s.Ledger.Debit(ctx, tx, w.WorkerID, w.CoinAmount, models.EntryWithdrawal, w.ID); err != nil {
		if errors.Is(err, apperr.ErrInsufficientFunds) {
			metrics.WithdrawalEvents.WithLabelValues("settle_insufficient").Inc()
			s.Logger.Warn("settlement blocked, request left pending", "withdrawal_id", w.ID, "worker_id", w.WorkerID, "coins", w.CoinAmount)
		}
		return nil, err
	}

	now := s.Now()
	w.Status, w.ResolvedAt = models.WithdrawalPaid, &now
	if err := s.Withdrawals.Resolve(ctx, tx, w); err != nil {
		return nil, err
	}
	p := &models.PaymentRecord{
		ID:            uuid.New(),
		WithdrawalID:  w.ID,
		WorkerID:      w.WorkerID,
		CoinAmount:    w.CoinAmount,
		Amount:        w.MonetaryAmount,
		PaymentMethod: w.PaymentMethod,
		AccountRef:    w.AccountRef,
		Confirmation:  confirmation,
	}
	if err := s.Payments.CreateTx(ctx, tx, p); err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, fmt.Errorf("withdrawal %s already has a payment: %w", w.ID, apperr.ErrAlreadyResolved)
		}
		return nil, apperr.Storage(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}

	metrics.WithdrawalEvents.WithLabelValues("paid").Inc()
	metrics.CoinsMoved.WithLabelValues(string(models.EntryWithdrawal)).Add(float64(w.CoinAmount))
	s.Logger.Info("withdrawal settled", "withdrawal_id", w.ID, "admin_id", adminID, "worker_id", w.WorkerID, "amount", p.Amount.String())
	return p, nil
}

// Reject closes a pending request without moving coins.
func (s *Service) Reject(ctx context.Context, adminID, withdrawalID uuid.UUID, reason string) (*models.WithdrawalRequest, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	w, err := s.Withdrawals.GetByIDForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalPending || !w.Status.CanTransitionTo(models.WithdrawalRejected) {
		return nil, fmt.Errorf("withdrawal %s is %s: %w", withdrawalID, w.Status, apperr.ErrAlreadyResolved)
	}
	now := s.Now()
	w.Status, w.RejectReason, w.ResolvedAt = models.WithdrawalRejected, strings.TrimSpace(reason), &now
	if err := s.Withdrawals.Resolve(ctx, tx, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}
	metrics.WithdrawalEvents.WithLabelValues("rejected").Inc()
	s.Logger.Info("withdrawal rejected", "withdrawal_id", w.ID, "admin_id", adminID, "reason", w.RejectReason)
	return w, nil
}

func (s *Service) ListPending(ctx context.Context) ([]*models.WithdrawalRequest, error) {
	return s.Withdrawals.ListByStatus(ctx, models.WithdrawalPending)
}

func (s *Service) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	return s.Withdrawals.ListByWorker(ctx, workerID)
}

func (s *Service) PaymentsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.PaymentRecord, error) {
	return s.Payments.ListByWorker(ctx, workerID)
}
