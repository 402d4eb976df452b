package target

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/reconciler"
	"github.com/roach88/fleetd/internal/store"
	"github.com/roach88/fleetd/internal/testutil"
)

// stateFixture seeds one application with two releases and wires the
// reconciler so pins materialize install rows the way production does.
type stateFixture struct {
	st         *store.Store
	app        int64
	rel1, rel2 int64
	supRel     int64
}

func newStateFixture(t *testing.T) *stateFixture {
	t.Helper()

	st, err := store.Open(":memory:", store.WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reconciler.New(nil).RegisterHooks(st)

	f := &stateFixture{st: st}
	ctx := context.Background()
	err = st.RunInTransaction(ctx, func(tx *store.Tx) error {
		var err error
		if f.app, err = tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "app"}); err != nil {
			return err
		}
		api, err := tx.CreateService(ctx, model.RootActor, model.ServiceInput{ApplicationID: f.app, Name: "api"})
		if err != nil {
			return err
		}
		worker, err := tx.CreateService(ctx, model.RootActor, model.ServiceInput{ApplicationID: f.app, Name: "worker"})
		if err != nil {
			return err
		}
		if f.rel1, err = tx.CreateRelease(ctx, model.RootActor, model.ReleaseInput{ApplicationID: f.app, Commit: "commit-1"}); err != nil {
			return err
		}
		if f.rel2, err = tx.CreateRelease(ctx, model.RootActor, model.ReleaseInput{ApplicationID: f.app, Commit: "commit-2"}); err != nil {
			return err
		}

		supApp, err := tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "supervisor"})
		if err != nil {
			return err
		}
		supSvc, err := tx.CreateService(ctx, model.RootActor, model.ServiceInput{ApplicationID: supApp, Name: "supervisord"})
		if err != nil {
			return err
		}
		if f.supRel, err = tx.CreateRelease(ctx, model.RootActor, model.ReleaseInput{ApplicationID: supApp, Commit: "sup-1"}); err != nil {
			return err
		}

		images := []struct {
			svc, rel int64
			digest   string
		}{
			{api, f.rel1, "sha256:api-1"},
			{worker, f.rel1, "sha256:worker-1"},
			{api, f.rel2, "sha256:api-2"},
			{supSvc, f.supRel, "sha256:sup-1"},
		}
		for _, im := range images {
			if _, err = tx.CreateImage(ctx, model.RootActor, model.ImageInput{ServiceID: im.svc, ReleaseID: im.rel, Digest: im.digest}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f *stateFixture) createDevice(t *testing.T, input model.DeviceInput) {
	t.Helper()
	ctx := context.Background()
	err := f.st.RunInTransaction(ctx, func(tx *store.Tx) error {
		_, err := tx.CreateDevice(ctx, model.RootActor, input)
		return err
	})
	require.NoError(t, err)
}

func (f *stateFixture) build(t *testing.T, uuid string) (State, error) {
	t.Helper()
	ctx := context.Background()
	var state State
	err := f.st.RunInTransaction(ctx, func(tx *store.Tx) error {
		var err error
		state, err = Build(ctx, tx, uuid)
		return err
	})
	return state, err
}

func TestBuildUnknownDevice(t *testing.T) {
	f := newStateFixture(t)
	_, err := f.build(t, "no-such-device")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestBuildDeviceWithoutRelease(t *testing.T) {
	f := newStateFixture(t)
	f.createDevice(t, model.DeviceInput{UUID: "d1", ApplicationID: f.app})

	state, err := f.build(t, "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", state.Device)
	assert.Empty(t, state.Commit)
	assert.Empty(t, state.Supervisor)
	assert.NotNil(t, state.Services, "services must serialize as [], not null")
	assert.Empty(t, state.Services)
}

func TestBuildUsesDevicePinOverApplicationDefault(t *testing.T) {
	f := newStateFixture(t)
	ctx := context.Background()
	err := f.st.RunInTransaction(ctx, func(tx *store.Tx) error {
		_, err := tx.UpdateApplications(ctx, model.RootActor, filter.IDIn(f.app),
			model.ApplicationPatch{TargetReleaseID: model.SetRef(f.rel1)})
		return err
	})
	require.NoError(t, err)

	f.createDevice(t, model.DeviceInput{UUID: "pinned", ApplicationID: f.app, TargetReleaseID: model.Ref(f.rel2)})
	f.createDevice(t, model.DeviceInput{UUID: "default", ApplicationID: f.app})

	pinned, err := f.build(t, "pinned")
	require.NoError(t, err)
	assert.Equal(t, "commit-2", pinned.Commit)
	assert.Equal(t, []Service{{Name: "api", Digest: "sha256:api-2"}}, pinned.Services)

	byDefault, err := f.build(t, "default")
	require.NoError(t, err)
	assert.Equal(t, "commit-1", byDefault.Commit)
	assert.Equal(t, []Service{
		{Name: "api", Digest: "sha256:api-1"},
		{Name: "worker", Digest: "sha256:worker-1"},
	}, byDefault.Services)
}

func TestBuildRestrictsToInstalledServices(t *testing.T) {
	// No reconciler attached: the pinned release has services but the
	// device never gets install rows for them.
	bare, err := store.Open(":memory:", store.WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { bare.Close() })

	ctx := context.Background()
	err = bare.RunInTransaction(ctx, func(tx *store.Tx) error {
		app, err := tx.CreateApplication(ctx, model.RootActor, model.ApplicationInput{Name: "app"})
		if err != nil {
			return err
		}
		svc, err := tx.CreateService(ctx, model.RootActor, model.ServiceInput{ApplicationID: app, Name: "api"})
		if err != nil {
			return err
		}
		rel, err := tx.CreateRelease(ctx, model.RootActor, model.ReleaseInput{ApplicationID: app, Commit: "c1"})
		if err != nil {
			return err
		}
		if _, err = tx.CreateImage(ctx, model.RootActor, model.ImageInput{ServiceID: svc, ReleaseID: rel, Digest: "sha256:x"}); err != nil {
			return err
		}
		_, err = tx.CreateDevice(ctx, model.RootActor, model.DeviceInput{
			UUID: "d1", ApplicationID: app, TargetReleaseID: model.Ref(rel),
		})
		return err
	})
	require.NoError(t, err)

	var state State
	err = bare.RunInTransaction(ctx, func(tx *store.Tx) error {
		state, err = Build(ctx, tx, "d1")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "c1", state.Commit)
	assert.Empty(t, state.Services, "release services without install rows are excluded")
}

func TestBuildIncludesSupervisorCommit(t *testing.T) {
	f := newStateFixture(t)
	f.createDevice(t, model.DeviceInput{
		UUID:                "d1",
		ApplicationID:       f.app,
		TargetReleaseID:     model.Ref(f.rel1),
		SupervisorReleaseID: model.Ref(f.supRel),
	})

	state, err := f.build(t, "d1")
	require.NoError(t, err)
	assert.Equal(t, "sup-1", state.Supervisor)
	// Supervisor services belong to another application and are not part
	// of the device's effective release.
	assert.Equal(t, []Service{
		{Name: "api", Digest: "sha256:api-1"},
		{Name: "worker", Digest: "sha256:worker-1"},
	}, state.Services)
}

func TestETagStableAndContentSensitive(t *testing.T) {
	f := newStateFixture(t)
	f.createDevice(t, model.DeviceInput{UUID: "d1", ApplicationID: f.app, TargetReleaseID: model.Ref(f.rel1)})

	state, err := f.build(t, "d1")
	require.NoError(t, err)

	first, err := state.ETag()
	require.NoError(t, err)
	assert.Len(t, first, 64, "hex sha-256")

	again, err := state.ETag()
	require.NoError(t, err)
	assert.Equal(t, first, again, "same state hashes identically")

	rebuilt, err := f.build(t, "d1")
	require.NoError(t, err)
	rebuiltTag, err := rebuilt.ETag()
	require.NoError(t, err)
	assert.Equal(t, first, rebuiltTag, "rebuilding unchanged state keeps the etag")

	state.Commit = "something-else"
	changed, err := state.ETag()
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}
