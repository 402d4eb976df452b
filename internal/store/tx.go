package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Tx is a transaction handle over the store.
//
// All reads and writes of a single mutation, including every
// hook-triggered cascade, run on the same Tx and therefore see each
// other's effects (purge-then-recreate on application migration is
// ordered). A Tx must not be used from multiple goroutines.
type Tx struct {
	store    *Store
	tx       *sql.Tx
	onCommit []func()
}

// RunInTransaction executes fn within a transaction. If fn returns an
// error the transaction is rolled back and the error is returned;
// otherwise the transaction is committed and any callbacks registered
// with Tx.OnCommit run, in registration order, outside the transaction.
//
// A panic inside fn rolls back before re-panicking.
func (s *Store) RunInTransaction(ctx context.Context, fn func(*Tx) error) error {
	raw, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	t := &Tx{store: s, tx: raw}

	defer func() {
		if r := recover(); r != nil {
			raw.Rollback()
			panic(r)
		}
	}()

	if err := fn(t); err != nil {
		if rbErr := raw.Rollback(); rbErr != nil {
			slog.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := raw.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	// Post-commit callbacks are advisory: the transaction is durable by
	// the time they run, and they must not assume the Tx is still live.
	for _, cb := range t.onCommit {
		cb()
	}
	t.onCommit = nil

	return nil
}

// OnCommit registers a callback to run once the transaction commits.
// Callbacks never run on rollback. Registration order is preserved.
func (t *Tx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// Store returns the owning store. Hooks use it to access the hook
// registry and clock.
func (t *Tx) Store() *Store {
	return t.store
}
