package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is one unit of work: a transaction plus the hooks that run once it has committed
type Tx struct {
	*sql.Tx
	ID      string
	Dialect Dialect

	afterCommit []func()
	savepoints  int
}

// OnCommit registers fn to run after a successful commit. Nothing runs on rollback.
func (t *Tx) OnCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// Savepoint runs fn inside a savepoint. When fn fails only its own writes are undone and the
// surrounding transaction stays usable.
func (t *Tx) Savepoint(ctx context.Context, fn func() error) error {
	t.savepoints++
	name := fmt.Sprintf("sp_%d", t.savepoints)
	hooks := len(t.afterCommit)

	if _, err := t.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint after %v: %w", err, rbErr)
		}
		// hooks registered by the failed work must not fire
		t.afterCommit = t.afterCommit[:hooks]
		return err
	}

	if _, err := t.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// WithTx executes fn within a transaction. It commits when fn succeeds and rolls back when fn
// fails or panics; after-commit hooks run only after a successful commit.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{Tx: sqlTx, ID: uuid.NewString(), Dialect: db.Dialect}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

// AfterCommit defers fn until q's transaction commits. Outside a unit of work fn runs at once.
func AfterCommit(q Querier, fn func()) {
	if tx, ok := q.(*Tx); ok {
		tx.OnCommit(fn)
		return
	}
	fn()
}
