package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
)

func accountKey(id uuid.UUID) string    { return "account:" + id.String() }
func taskKey(id uuid.UUID) string       { return "task:" + id.String() }
func submissionKey(id uuid.UUID) string { return "submission:" + id.String() }
func withdrawalKey(id uuid.UUID) string { return "withdrawal:" + id.String() }

// --- accounts ---

type accountRepo struct{ s *Store }

func (r *accountRepo) Create(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	t, err := r.s.begin(ctx, tx, accountKey(a.ID))
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("accounts.create"); err != nil {
		return err
	}
	if _, taken := r.s.emails[a.Email]; taken {
		return uniqueViolation("accounts_email_key")
	}
	if a.CoinBalance < 0 {
		return fmt.Errorf("account %s: negative balance %d", a.ID, a.CoinBalance)
	}
	now := r.s.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	r.s.accounts[a.ID] = &cp
	r.s.emails[a.Email] = a.ID
	r.s.track(a.ID)
	undo(t, func() {
		delete(r.s.accounts, a.ID)
		delete(r.s.emails, cp.Email)
	})
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepo) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.emails[email]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", email, apperr.ErrNotFound)
	}
	cp := *r.s.accounts[id]
	return &cp, nil
}

func (r *accountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	if _, err := r.s.begin(ctx, tx, accountKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *accountRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	t, err := r.s.begin(ctx, tx, accountKey(id))
	if err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("accounts.deduct"); err != nil {
		return 0, err
	}
	a, ok := r.s.accounts[id]
	if !ok {
		return 0, notFound("account", id)
	}
	if a.CoinBalance < amount {
		return 0, apperr.ErrInsufficientFunds
	}
	a.CoinBalance -= amount
	a.UpdatedAt = r.s.Now()
	undo(t, func() { a.CoinBalance += amount })
	return a.CoinBalance, nil
}

func (r *accountRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	t, err := r.s.begin(ctx, tx, accountKey(id))
	if err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("accounts.add"); err != nil {
		return 0, err
	}
	a, ok := r.s.accounts[id]
	if !ok {
		return 0, notFound("account", id)
	}
	a.CoinBalance += amount
	a.UpdatedAt = r.s.Now()
	undo(t, func() { a.CoinBalance -= amount })
	return a.CoinBalance, nil
}

// --- credit ledger ---

type creditRepo struct{ s *Store }

func (r *creditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error {
	t, err := r.s.begin(ctx, tx, "")
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("credits.create"); err != nil {
		return err
	}
	c.CreatedAt = r.s.Now()
	cp := *c
	r.s.ledger = append(r.s.ledger, &cp)
	undo(t, func() {
		for i := len(r.s.ledger) - 1; i >= 0; i-- {
			if r.s.ledger[i].ID == cp.ID {
				r.s.ledger = append(r.s.ledger[:i], r.s.ledger[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *creditRepo) ListByAccountID(_ context.Context, accountID uuid.UUID) ([]*models.CreditLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.CreditLedger
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		if e := r.s.ledger[i]; e.AccountID == accountID {
			cp := *e
			list = append(list, &cp)
		}
	}
	return list, nil
}

// --- tasks ---

type taskRepo struct{ s *Store }

func (r *taskRepo) Create(ctx context.Context, tx pgx.Tx, task *models.Task) error {
	t, err := r.s.begin(ctx, tx, taskKey(task.ID))
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("tasks.create"); err != nil {
		return err
	}
	now := r.s.Now()
	task.CreatedAt, task.UpdatedAt = now, now
	cp := *task
	cp.Submissions = nil
	r.s.tasks[task.ID] = &cp
	r.s.track(task.ID)
	undo(t, func() { delete(r.s.tasks, task.ID) })
	return nil
}

func (r *taskRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	task, ok := r.s.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	cp := *task
	return &cp, nil
}

func (r *taskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	if _, err := r.s.begin(ctx, tx, taskKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *taskRepo) UpdateState(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.TaskStatus, remaining int) error {
	t, err := r.s.begin(ctx, tx, taskKey(id))
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("tasks.update"); err != nil {
		return err
	}
	task, ok := r.s.tasks[id]
	if !ok {
		return notFound("task", id)
	}
	if remaining < 0 || remaining > task.RequiredWorkers {
		return fmt.Errorf("task %s: remaining_slots %d out of range", id, remaining)
	}
	prevStatus, prevRemaining, prevUpdated := task.Status, task.RemainingSlots, task.UpdatedAt
	task.Status, task.RemainingSlots, task.UpdatedAt = status, remaining, r.s.Now()
	undo(t, func() {
		task.Status, task.RemainingSlots, task.UpdatedAt = prevStatus, prevRemaining, prevUpdated
	})
	return nil
}

func (r *taskRepo) ListOpen(_ context.Context) ([]*models.Task, error) {
	return r.list(func(task *models.Task) bool {
		return task.Status == models.TaskStatusOpen && task.RemainingSlots > 0
	}), nil
}

func (r *taskRepo) ListByBuyer(_ context.Context, buyerID uuid.UUID) ([]*models.Task, error) {
	return r.list(func(task *models.Task) bool { return task.BuyerID == buyerID }), nil
}

func (r *taskRepo) list(match func(*models.Task) bool) []*models.Task {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, task := range r.s.tasks {
		if match(task) {
			ids = append(ids, id)
		}
	}
	r.s.sortBySeq(ids, true)
	list := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		cp := *r.s.tasks[id]
		list = append(list, &cp)
	}
	return list
}

// --- submissions ---

type submissionRepo struct{ s *Store }

func (r *submissionRepo) Create(ctx context.Context, tx pgx.Tx, sub *models.Submission) error {
	t, err := r.s.begin(ctx, tx, submissionKey(sub.ID))
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("submissions.create"); err != nil {
		return err
	}
	for _, other := range r.s.submissions {
		if other.TaskID == sub.TaskID && other.WorkerID == sub.WorkerID && other.Status != models.SubmissionRejected {
			return uniqueViolation("submissions_active_uniq")
		}
	}
	sub.CreatedAt = r.s.Now()
	cp := *sub
	r.s.submissions[sub.ID] = &cp
	r.s.track(sub.ID)
	undo(t, func() { delete(r.s.submissions, sub.ID) })
	return nil
}

func (r *submissionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, notFound("submission", id)
	}
	cp := *sub
	return &cp, nil
}

func (r *submissionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Submission, error) {
	if _, err := r.s.begin(ctx, tx, submissionKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *submissionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.SubmissionStatus, reviewedAt time.Time) error {
	t, err := r.s.begin(ctx, tx, submissionKey(id))
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("submissions.update"); err != nil {
		return err
	}
	sub, ok := r.s.submissions[id]
	if !ok {
		return notFound("submission", id)
	}
	r.s.setStatus(t, sub, status, reviewedAt)
	return nil
}

// setStatus updates sub in place and registers the inverse. Caller holds mu.
func (s *Store) setStatus(t *Tx, sub *models.Submission, status models.SubmissionStatus, at time.Time) {
	prevStatus, prevReviewed := sub.Status, sub.ReviewedAt
	reviewed := at
	sub.Status, sub.ReviewedAt = status, &reviewed
	undo(t, func() { sub.Status, sub.ReviewedAt = prevStatus, prevReviewed })
}

func (r *submissionRepo) HasActive(_ context.Context, _ pgx.Tx, taskID, workerID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.submissions {
		if sub.TaskID == taskID && sub.WorkerID == workerID && sub.Status != models.SubmissionRejected {
			return true, nil
		}
	}
	return false, nil
}

func (r *submissionRepo) RejectPendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reviewedAt time.Time) (int64, error) {
	t, err := r.s.begin(ctx, tx, "")
	if err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sub := range r.s.submissions {
		if sub.TaskID == taskID && sub.Status == models.SubmissionPending {
			r.s.setStatus(t, sub, models.SubmissionRejected, reviewedAt)
			n++
		}
	}
	return n, nil
}

func (r *submissionRepo) ListByTask(_ context.Context, taskID uuid.UUID) ([]*models.Submission, error) {
	return r.list(false, func(sub *models.Submission) bool { return sub.TaskID == taskID }), nil
}

func (r *submissionRepo) ListPendingByBuyer(_ context.Context, buyerID uuid.UUID) ([]*models.Submission, error) {
	return r.list(false, func(sub *models.Submission) bool {
		return sub.BuyerID == buyerID && sub.Status == models.SubmissionPending
	}), nil
}

func (r *submissionRepo) ListByWorker(_ context.Context, workerID uuid.UUID) ([]*models.Submission, error) {
	return r.list(true, func(sub *models.Submission) bool { return sub.WorkerID == workerID }), nil
}

func (r *submissionRepo) list(desc bool, match func(*models.Submission) bool) []*models.Submission {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, sub := range r.s.submissions {
		if match(sub) {
			ids = append(ids, id)
		}
	}
	r.s.sortBySeq(ids, desc)
	list := make([]*models.Submission, 0, len(ids))
	for _, id := range ids {
		cp := *r.s.submissions[id]
		list = append(list, &cp)
	}
	return list
}

// --- withdrawals ---

type withdrawalRepo struct{ s *Store }

func (r *withdrawalRepo) Create(_ context.Context, w *models.WithdrawalRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("withdrawals.create"); err != nil {
		return err
	}
	w.RequestedAt = r.s.Now()
	cp := *w
	r.s.withdrawals[w.ID] = &cp
	r.s.track(w.ID)
	return nil
}

func (r *withdrawalRepo) GetByID(_ context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, notFound("withdrawal", id)
	}
	cp := *w
	return &cp, nil
}

func (r *withdrawalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WithdrawalRequest, error) {
	if _, err := r.s.begin(ctx, tx, withdrawalKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *withdrawalRepo) Resolve(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error {
	t, err := r.s.begin(ctx, tx, withdrawalKey(w.ID))
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("withdrawals.resolve"); err != nil {
		return err
	}
	stored, ok := r.s.withdrawals[w.ID]
	if !ok {
		return notFound("withdrawal", w.ID)
	}
	prev := *stored
	stored.Status, stored.RejectReason, stored.ResolvedAt = w.Status, w.RejectReason, w.ResolvedAt
	undo(t, func() { *stored = prev })
	return nil
}

func (r *withdrawalRepo) ListByStatus(_ context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error) {
	return r.list(false, func(w *models.WithdrawalRequest) bool { return w.Status == status }), nil
}

func (r *withdrawalRepo) ListByWorker(_ context.Context, workerID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	return r.list(true, func(w *models.WithdrawalRequest) bool { return w.WorkerID == workerID }), nil
}

func (r *withdrawalRepo) list(desc bool, match func(*models.WithdrawalRequest) bool) []*models.WithdrawalRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, w := range r.s.withdrawals {
		if match(w) {
			ids = append(ids, id)
		}
	}
	r.s.sortBySeq(ids, desc)
	list := make([]*models.WithdrawalRequest, 0, len(ids))
	for _, id := range ids {
		cp := *r.s.withdrawals[id]
		list = append(list, &cp)
	}
	return list
}

// --- payment records ---

type paymentRepo struct{ s *Store }

func (r *paymentRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.PaymentRecord) error {
	t, err := r.s.begin(ctx, tx, "")
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("payments.create"); err != nil {
		return err
	}
	for _, other := range r.s.payments {
		if other.WithdrawalID == p.WithdrawalID {
			return uniqueViolation("payment_records_withdrawal_id_key")
		}
	}
	p.SettledAt = r.s.Now()
	cp := *p
	r.s.payments[p.ID] = &cp
	r.s.track(p.ID)
	undo(t, func() { delete(r.s.payments, p.ID) })
	return nil
}

func (r *paymentRepo) ListByWorker(_ context.Context, workerID uuid.UUID) ([]*models.PaymentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, p := range r.s.payments {
		if p.WorkerID == workerID {
			ids = append(ids, id)
		}
	}
	r.s.sortBySeq(ids, true)
	list := make([]*models.PaymentRecord, 0, len(ids))
	for _, id := range ids {
		cp := *r.s.payments[id]
		list = append(list, &cp)
	}
	return list, nil
}
