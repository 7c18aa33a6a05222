package withdrawals

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/ledger"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository"
	"github.com/microtask/backend/internal/repository/memory"
	"github.com/microtask/backend/internal/tasks"
)

type fixture struct {
	mem    *memory.Store
	repos  *repository.Store
	ledger *ledger.Service
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	repos := mem.Repositories()
	led := ledger.NewService(repos.DB, repos.Accounts, repos.Credits, nil)
	return &fixture{mem: mem, repos: repos, ledger: led, svc: NewService(repos, led, decimal.Zero, nil)}
}

func (f *fixture) worker(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	tx, err := f.mem.Begin(ctx)
	require.NoError(t, err)
	a := &models.Account{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: models.RoleWorker}
	require.NoError(t, f.repos.Accounts.Create(ctx, tx, a))
	if balance > 0 {
		_, err = f.ledger.Credit(ctx, tx, a.ID, balance, models.EntrySignupBonus, uuid.Nil)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))
	return a.ID
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

var bank = Payout{Method: "bank_transfer", AccountRef: "DE89 3704 0044 0532 0130 00"}

func TestRequestWithdrawalIsAdvisory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.worker(t, 15)

	_, err := f.svc.RequestWithdrawal(ctx, worker, 20, bank)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	list, err := f.svc.ListByWorker(ctx, worker)
	require.NoError(t, err)
	assert.Empty(t, list)

	w, err := f.svc.RequestWithdrawal(ctx, worker, 15, bank)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.True(t, decimal.RequireFromString("0.75").Equal(w.MonetaryAmount))
	assert.Equal(t, int64(15), f.balance(t, worker), "request must not debit")
}

func TestRequestWithdrawalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.worker(t, 10)

	_, err := f.svc.RequestWithdrawal(ctx, worker, 0, bank)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.RequestWithdrawal(ctx, worker, 5, Payout{Method: "paypal"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.RequestWithdrawal(ctx, uuid.New(), 5, bank)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSettleOnceOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	worker := f.worker(t, 40)
	w, err := f.svc.RequestWithdrawal(ctx, worker, 40, bank)
	require.NoError(t, err)

	p, err := f.svc.Settle(ctx, admin, w.ID, "TX-1001")
	require.NoError(t, err)
	assert.Equal(t, w.ID, p.WithdrawalID)
	assert.True(t, decimal.NewFromInt(2).Equal(p.Amount))
	assert.Equal(t, int64(0), f.balance(t, worker))

	_, err = f.svc.Settle(ctx, admin, w.ID, "TX-1002")
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	assert.Equal(t, int64(0), f.balance(t, worker))
	payments, err := f.svc.PaymentsByWorker(ctx, worker)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	pending, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConcurrentSettleDebitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.worker(t, 100)
	w, err := f.svc.RequestWithdrawal(ctx, worker, 30, bank)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	paid := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Settle(ctx, uuid.New(), w.ID, "TX"); err == nil {
				mu.Lock()
				paid++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, paid)
	assert.Equal(t, int64(70), f.balance(t, worker))
}

func TestSettleWithDroppedBalanceStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.worker(t, 25)
	other := f.worker(t, 0)
	w, err := f.svc.RequestWithdrawal(ctx, worker, 20, bank)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Transfer(ctx, worker, other, 10))

	_, err = f.svc.Settle(ctx, uuid.New(), w.ID, "TX-9")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, int64(15), f.balance(t, worker))

	stored, err := f.repos.Withdrawals.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, stored.Status)
	payments, _ := f.svc.PaymentsByWorker(ctx, worker)
	assert.Empty(t, payments)

	rejected, err := f.svc.Reject(ctx, uuid.New(), w.ID, "balance spent")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalRejected, rejected.Status)
	_, err = f.svc.Settle(ctx, uuid.New(), w.ID, "TX-10")
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	_, err = f.svc.Reject(ctx, uuid.New(), w.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
}

func TestSettleGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Settle(ctx, uuid.New(), uuid.New(), "TX")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Settle(ctx, uuid.New(), uuid.New(), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestOnlyPendingRequestsResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.worker(t, 40)
	w, err := f.svc.RequestWithdrawal(ctx, worker, 20, bank)
	require.NoError(t, err)

	w.Status = models.WithdrawalApproved
	require.NoError(t, f.repos.Withdrawals.Resolve(ctx, nil, w))

	_, err = f.svc.Settle(ctx, uuid.New(), w.ID, "TX-1")
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	_, err = f.svc.Reject(ctx, uuid.New(), w.ID, "late")
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	assert.Equal(t, int64(40), f.balance(t, worker))

	payments, err := f.svc.PaymentsByWorker(ctx, worker)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestPaymentsNeverExceedEarnings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := tasks.NewEngine(f.repos, f.ledger, nil, nil)

	buyer := f.worker(t, 0)
	_, err := f.ledger.Credit(ctx, nil, buyer, 100, models.EntrySignupBonus, uuid.Nil)
	require.NoError(t, err)
	worker := f.worker(t, 0)

	task, err := engine.CreateTask(ctx, buyer, tasks.CreateParams{Title: "t", Detail: "d", RequiredWorkers: 3, PayableAmount: 20})
	require.NoError(t, err)
	sub := &models.Submission{ID: uuid.New(), TaskID: task.ID, WorkerID: worker, BuyerID: buyer, Content: "x", Status: models.SubmissionPending}
	require.NoError(t, f.repos.Submissions.Create(ctx, nil, sub))
	_, err = engine.ApproveSubmission(ctx, buyer, sub.ID)
	require.NoError(t, err)

	first, err := f.svc.RequestWithdrawal(ctx, worker, 15, bank)
	require.NoError(t, err)
	second, err := f.svc.RequestWithdrawal(ctx, worker, 15, bank)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, uuid.New(), first.ID, "A")
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, uuid.New(), second.ID, "B")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	var credited int64
	entries, err := f.ledger.Entries(ctx, worker)
	require.NoError(t, err)
	for _, e := range entries {
		if e.EntryType == models.EntryTaskEarning {
			credited += e.Amount
		}
	}
	var paidCoins int64
	payments, err := f.svc.PaymentsByWorker(ctx, worker)
	require.NoError(t, err)
	for _, p := range payments {
		paidCoins += p.CoinAmount
	}
	assert.LessOrEqual(t, paidCoins, credited)
	assert.Equal(t, int64(15), paidCoins)
}
