// Package memory is an in-process record store implementing the repository
// contracts. It backs STORE_DRIVER=memory and the service tests, and mirrors
// the Postgres behaviour the services depend on: row locks, unique
// constraints, the non-negative balance guard and transactional rollback.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository"
)

// Store holds all marketplace records in maps guarded by mu. Row locks are
// separate one-slot channels so a blocked locker can give up on ctx.
type Store struct {
	mu sync.Mutex

	accounts    map[uuid.UUID]*models.Account
	emails      map[string]uuid.UUID
	ledger      []*models.CreditLedger
	tasks       map[uuid.UUID]*models.Task
	submissions map[uuid.UUID]*models.Submission
	withdrawals map[uuid.UUID]*models.WithdrawalRequest
	payments    map[uuid.UUID]*models.PaymentRecord

	seq      map[uuid.UUID]uint64
	nextSeq  uint64
	failures map[string]error

	lockMu sync.Mutex
	locks  map[string]chan struct{}

	Now func() time.Time
}

func New() *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]*models.Account),
		emails:      make(map[string]uuid.UUID),
		tasks:       make(map[uuid.UUID]*models.Task),
		submissions: make(map[uuid.UUID]*models.Submission),
		withdrawals: make(map[uuid.UUID]*models.WithdrawalRequest),
		payments:    make(map[uuid.UUID]*models.PaymentRecord),
		seq:         make(map[uuid.UUID]uint64),
		failures:    make(map[string]error),
		locks:       make(map[string]chan struct{}),
		Now:         time.Now,
	}
}

// Repositories returns a repository.Store whose every contract is served by s.
func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		DB:          s,
		Accounts:    &accountRepo{s},
		Credits:     &creditRepo{s},
		Tasks:       &taskRepo{s},
		Submissions: &submissionRepo{s},
		Withdrawals: &withdrawalRepo{s},
		Payments:    &paymentRepo{s},
	}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: s, held: make(map[string]bool)}, nil
}

// FailNext makes the next call of op return err. Ops are named
// "<table>.<verb>", e.g. "tasks.create" or "credits.create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// injected pops a pending failure for op. Caller holds mu.
func (s *Store) injected(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

// lockRow blocks until tx owns key. Re-locking a key the tx already holds is a no-op.
func (s *Store) lockRow(ctx context.Context, tx *Tx, key string) error {
	if tx == nil || tx.held[key] {
		return nil
	}
	s.lockMu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.lockMu.Unlock()
	select {
	case ch <- struct{}{}:
		tx.held[key] = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(tx *Tx) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	for key := range tx.held {
		<-s.locks[key]
	}
	tx.held = nil
}

// begin resolves tx for a mutating call and takes the row lock on key.
func (s *Store) begin(ctx context.Context, tx pgx.Tx, key string) (*Tx, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := s.lockRow(ctx, t, key); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func asTx(tx pgx.Tx) (*Tx, error) {
	if tx == nil {
		return nil, nil
	}
	t, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("memory: foreign transaction type %T", tx)
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// undo registers fn to run on rollback. Writes made outside a tx are final.
func undo(t *Tx, fn func()) {
	if t != nil {
		t.onRollback(fn)
	}
}

// track stamps insertion order for id. Caller holds mu.
func (s *Store) track(id uuid.UUID) {
	s.nextSeq++
	s.seq[id] = s.nextSeq
}

// sortBySeq orders ids by insertion, newest first when desc is set. Caller holds mu.
func (s *Store) sortBySeq(ids []uuid.UUID, desc bool) {
	sort.Slice(ids, func(i, j int) bool {
		if desc {
			return s.seq[ids[i]] > s.seq[ids[j]]
		}
		return s.seq[ids[i]] < s.seq[ids[j]]
	})
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func notFound(kind string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
}
