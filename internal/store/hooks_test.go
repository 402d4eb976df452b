package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
)

func TestHooksRunInRegistrationOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var order []string
	record := func(name string) HookFn {
		return func(ctx context.Context, tx *Tx, req *MutationRequest) error {
			order = append(order, name)
			return nil
		}
	}
	st.RegisterHook(MethodCreate, model.ResourceApplication, PreExecute, "pre-a", record("pre-a"))
	st.RegisterHook(MethodCreate, model.ResourceApplication, PreExecute, "pre-b", record("pre-b"))
	st.RegisterHook(MethodCreate, model.ResourceApplication, PostExecute, "post-a", record("post-a"))

	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		_, err := tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "a"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"pre-a", "pre-b", "post-a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCreateHookSeesCreatedID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var preID, postID int64
	st.RegisterHook(MethodCreate, model.ResourceApplication, PreExecute, "pre",
		func(ctx context.Context, tx *Tx, req *MutationRequest) error {
			preID = req.CreatedID
			return nil
		})
	st.RegisterHook(MethodCreate, model.ResourceApplication, PostExecute, "post",
		func(ctx context.Context, tx *Tx, req *MutationRequest) error {
			postID = req.CreatedID
			return nil
		})

	var id int64
	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "a"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	if preID != 0 {
		t.Errorf("pre-execute CreatedID = %d, want 0", preID)
	}
	if postID != id {
		t.Errorf("post-execute CreatedID = %d, want %d", postID, id)
	}
}

func TestUpdateHookSeesOldState(t *testing.T) {
	st := newTestStore(t)
	f := seedFixture(t, st)
	ctx := context.Background()

	// The pre-execute hook must observe the device before the patch is
	// applied; the application migration purge depends on it.
	var preApp, postApp int64
	st.RegisterHook(MethodUpdate, model.ResourceDevice, PreExecute, "pre",
		func(ctx context.Context, tx *Tx, req *MutationRequest) error {
			d, err := tx.GetDevice(ctx, req.AffectedIDs[0])
			if err != nil {
				return err
			}
			preApp = d.ApplicationID
			return nil
		})
	st.RegisterHook(MethodUpdate, model.ResourceDevice, PostExecute, "post",
		func(ctx context.Context, tx *Tx, req *MutationRequest) error {
			d, err := tx.GetDevice(ctx, req.AffectedIDs[0])
			if err != nil {
				return err
			}
			postApp = d.ApplicationID
			return nil
		})

	var otherApp int64
	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		var err error
		otherApp, err = tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "other"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	err = st.RunInTransaction(ctx, func(tx *Tx) error {
		_, err := tx.UpdateDevices(ctx, model.RootActor, filter.IDIn(f.device),
			model.DevicePatch{ApplicationID: model.SetRef(otherApp)})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	if preApp != f.app {
		t.Errorf("pre-execute saw application %d, want old %d", preApp, f.app)
	}
	if postApp != otherApp {
		t.Errorf("post-execute saw application %d, want new %d", postApp, otherApp)
	}
}

func TestNoHooksWhenNothingAffected(t *testing.T) {
	st := newTestStore(t)
	seedFixture(t, st)
	ctx := context.Background()

	fired := false
	st.RegisterHook(MethodUpdate, model.ResourceDevice, PreExecute, "never",
		func(ctx context.Context, tx *Tx, req *MutationRequest) error {
			fired = true
			return nil
		})

	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		affected, err := tx.UpdateDevices(ctx, model.RootActor,
			filter.Eq{Field: "uuid", Value: "no-such-device"},
			model.DevicePatch{TargetReleaseID: model.ClearRef()})
		if err != nil {
			return err
		}
		if len(affected) != 0 {
			t.Errorf("affected = %v, want none", affected)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Error("hook fired for a mutation affecting no rows")
	}
}

func TestHookErrorAbortsMutation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("hook rejected")

	st.RegisterHook(MethodCreate, model.ResourceApplication, PostExecute, "reject",
		func(ctx context.Context, tx *Tx, req *MutationRequest) error {
			return boom
		})

	err := st.RunInTransaction(ctx, func(tx *Tx) error {
		_, err := tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "a"})
		return err
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}

	err = st.RunInTransaction(ctx, func(tx *Tx) error {
		apps, listErr := tx.ListApplications(ctx, nil)
		if listErr != nil {
			return listErr
		}
		if len(apps) != 0 {
			t.Errorf("apps = %d, want 0 after hook abort", len(apps))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
