package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LocalScheduler runs expiries in process with timers. It backs the memory
// store driver, where River has no Postgres queue to use. Timers are lost on
// restart.
type LocalScheduler struct {
	mu      sync.Mutex
	expirer Expirer
	timers  map[uuid.UUID]*time.Timer
	stopped bool
	retry   time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func NewLocalScheduler(log *slog.Logger) *LocalScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &LocalScheduler{
		timers: make(map[uuid.UUID]*time.Timer),
		retry:  5 * time.Second,
		now:    time.Now,
		log:    log,
	}
}

// Bind sets the expirer. The engine needs the scheduler at construction, so
// the two are joined after both exist.
func (s *LocalScheduler) Bind(e Expirer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirer = e
}

// ScheduleTx matches tasks.ScheduleExpiryTxFunc. The timer is armed right
// away; if tx later rolls back the expiry finds no task and is dropped.
func (s *LocalScheduler) ScheduleTx(_ context.Context, _ pgx.Tx, taskID uuid.UUID, at time.Time) error {
	s.arm(taskID, at.Sub(s.now()))
	return nil
}

func (s *LocalScheduler) arm(taskID uuid.UUID, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[taskID]; ok {
		old.Stop()
	}
	s.timers[taskID] = time.AfterFunc(d, func() { s.fire(taskID) })
}

func (s *LocalScheduler) fire(taskID uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, taskID)
	e := s.expirer
	s.mu.Unlock()
	if e == nil {
		s.log.Error("expiry fired before scheduler was bound", "task_id", taskID)
		return
	}
	if err := expire(context.Background(), e, s.log, taskID); err != nil {
		s.log.Error("expiry failed, retrying", "task_id", taskID, "error", err)
		s.arm(taskID, s.retry)
	}
}

// Pending reports how many expiries are armed.
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every armed timer. Later schedules are ignored.
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
