package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/fleetd/internal/model"
)

func TestRunInTransactionCommits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		_, err := tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "a"})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction() error: %v", err)
	}

	err = st.RunInTransaction(ctx, func(tx *Tx) error {
		apps, err := tx.ListApplications(ctx, nil)
		if err != nil {
			return err
		}
		if len(apps) != 1 {
			t.Errorf("apps = %d, want 1", len(apps))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		if _, err := tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "a"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTransaction() error = %v, want %v", err, boom)
	}

	err = st.RunInTransaction(ctx, func(tx *Tx) error {
		apps, err := tx.ListApplications(ctx, nil)
		if err != nil {
			return err
		}
		if len(apps) != 0 {
			t.Errorf("apps = %d, want 0 after rollback", len(apps))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOnCommitRunsAfterCommitInOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var order []string
	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		tx.OnCommit(func() { order = append(order, "first") })
		tx.OnCommit(func() { order = append(order, "second") })
		if len(order) != 0 {
			t.Error("callbacks ran before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestOnCommitSkippedOnRollback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ran := false
	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		tx.OnCommit(func() { ran = true })
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if ran {
		t.Error("OnCommit callback ran despite rollback")
	}
}

func TestRunInTransactionRollsBackOnPanic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = st.RunInTransaction(ctx, func(tx *Tx) error {
			if _, err := tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "a"}); err != nil {
				return err
			}
			panic("kaboom")
		})
	}()

	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		apps, err := tx.ListApplications(ctx, nil)
		if err != nil {
			return err
		}
		if len(apps) != 0 {
			t.Errorf("apps = %d, want 0 after panic rollback", len(apps))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
