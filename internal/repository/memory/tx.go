package memory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errRawSQL = errors.New("memory: raw SQL is not supported")

// Tx satisfies pgx.Tx so services written against Postgres run unchanged.
// Row locks taken through it are held until Commit or Rollback; writes are
// applied immediately and undone in reverse order on Rollback.
type Tx struct {
	store *Store
	undo  []func()
	held  map[string]bool
	done  bool
}

func (t *Tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memory: nested transactions are not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.store.release(t)
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.undo = nil
	t.store.release(t)
	return nil
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errRawSQL
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, errRawSQL }

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row { return errRow{} }

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errRawSQL
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (t *Tx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errRawSQL
}

func (t *Tx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(...any) error { return errRawSQL }
