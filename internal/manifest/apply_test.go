package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/reconciler"
	"github.com/roach88/fleetd/internal/store"
	"github.com/roach88/fleetd/internal/testutil"
)

func newSeedStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", store.WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reconciler.New(nil).RegisterHooks(st)
	return st
}

func installedServiceNames(t *testing.T, st *store.Store, uuid string) []string {
	t.Helper()
	ctx := context.Background()
	var names []string
	err := st.RunInTransaction(ctx, func(tx *store.Tx) error {
		device, err := tx.GetDeviceByUUID(ctx, uuid)
		if err != nil {
			return err
		}
		installed, err := tx.ServiceInstallsForDevices(ctx, []int64{device.ID})
		if err != nil {
			return err
		}
		services, err := tx.ListServices(ctx, nil)
		if err != nil {
			return err
		}
		byID := make(map[int64]string, len(services))
		for _, svc := range services {
			byID[svc.ID] = svc.Name
		}
		for _, id := range installed[device.ID] {
			names = append(names, byID[id])
		}
		return nil
	})
	require.NoError(t, err)
	return names
}

func TestApplySeedsAndReconciles(t *testing.T) {
	st := newSeedStore(t)
	m, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	require.NoError(t, Apply(context.Background(), st, model.RootActor, m))

	// dev-1 is unpinned: the application default (r2, api only) applies.
	assert.ElementsMatch(t, []string{"api"}, installedServiceNames(t, st, "dev-1"))
	// dev-2 pins r1, which ships both services.
	assert.ElementsMatch(t, []string{"api", "worker"}, installedServiceNames(t, st, "dev-2"))

	ctx := context.Background()
	err = st.RunInTransaction(ctx, func(tx *store.Tx) error {
		device, err := tx.GetDeviceByUUID(ctx, "dev-1")
		if err != nil {
			return err
		}
		assert.Equal(t, "edge-1", device.Name)
		assert.False(t, device.TargetReleaseID.Valid)

		app, err := tx.GetApplication(ctx, device.ApplicationID)
		if err != nil {
			return err
		}
		assert.Equal(t, "sensor-hub", app.Name)
		assert.True(t, app.TargetReleaseID.Valid)
		return nil
	})
	require.NoError(t, err)
}

func TestApplyResolvesSupervisorAcrossApplications(t *testing.T) {
	st := newSeedStore(t)
	doc := `
applications:
  - name: app
    services: [api]
    releases:
      - commit: r1
        images:
          - service: api
            digest: sha256:api
  - name: supervisor
    services: [supervisord]
    releases:
      - commit: sup-1
        images:
          - service: supervisord
            digest: sha256:sup
devices:
  - uuid: d1
    application: app
    target: r1
    supervisor: sup-1
`
	m, err := Load(writeManifest(t, doc))
	require.NoError(t, err)
	require.NoError(t, Apply(context.Background(), st, model.RootActor, m))

	assert.ElementsMatch(t, []string{"api", "supervisord"}, installedServiceNames(t, st, "d1"))
}

func TestApplyTwiceFails(t *testing.T) {
	st := newSeedStore(t)
	m, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	require.NoError(t, Apply(context.Background(), st, model.RootActor, m))
	assert.Error(t, Apply(context.Background(), st, model.RootActor, m))
}

func TestApplyRequiresActor(t *testing.T) {
	st := newSeedStore(t)
	m, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	assert.Error(t, Apply(context.Background(), st, model.Actor{}, m))
}
