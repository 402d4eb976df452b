package fleettest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/manifest"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/reconciler"
	"github.com/roach88/fleetd/internal/store"
	"github.com/roach88/fleetd/internal/testutil"
)

// NotificationRecorder implements reconciler.UpdateNotifier, recording
// every call for inspection.
type NotificationRecorder struct {
	mu    sync.Mutex
	calls []RecordedNotification
}

// RecordedNotification is one recorded DevicesShouldUpdate call.
type RecordedNotification struct {
	Actor   model.Actor
	Devices filter.Expr
}

// DevicesShouldUpdate implements reconciler.UpdateNotifier.
func (r *NotificationRecorder) DevicesShouldUpdate(actor model.Actor, devices filter.Expr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RecordedNotification{Actor: actor, Devices: devices})
}

// All returns a copy of the recorded calls.
func (r *NotificationRecorder) All() []RecordedNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedNotification, len(r.calls))
	copy(out, r.calls)
	return out
}

// Len returns the number of recorded calls.
func (r *NotificationRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Run loads and executes the scenario at path.
func Run(t *testing.T, path string) {
	t.Helper()
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	RunScenario(t, scenario)
}

// RunScenario executes a scenario against a fresh in-memory store with
// the reconciliation hooks attached.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx := context.Background()

	clock := testutil.NewDeterministicClock()
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	recorder := &NotificationRecorder{}
	reconciler.New(recorder).RegisterHooks(st)

	require.NoError(t, manifest.Apply(ctx, st, model.RootActor, &sc.Manifest),
		"seeding manifest")

	for i, step := range sc.Steps {
		require.NoError(t, runStep(ctx, st, step), "step %d (%s)", i, step.Op)
	}

	assertInstalls(ctx, t, st, sc.Expect.Installs)

	if sc.Expect.Notifications != nil {
		require.Equal(t, *sc.Expect.Notifications, recorder.Len(), "notification count")
	}

	if sc.Golden {
		g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
		g.Assert(t, sc.Name, []byte(dumpInstalls(ctx, t, st)))
	}
}

// fleet is a snapshot of the resolvable entities, refreshed per step.
type fleet struct {
	apps     map[string]model.Application
	devices  map[string]model.Device
	releases []model.Release
}

func loadFleet(ctx context.Context, st *store.Store) (*fleet, error) {
	f := &fleet{
		apps:    make(map[string]model.Application),
		devices: make(map[string]model.Device),
	}
	err := st.RunInTransaction(ctx, func(tx *store.Tx) error {
		apps, err := tx.ListApplications(ctx, nil)
		if err != nil {
			return err
		}
		for _, a := range apps {
			f.apps[a.Name] = a
		}

		devices, err := tx.ListDevices(ctx, nil)
		if err != nil {
			return err
		}
		for _, d := range devices {
			f.devices[d.UUID] = d
		}

		f.releases, err = tx.ListReleases(ctx, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// resolveRelease finds a release by revision, scoped to appName when
// given, across all applications otherwise. Ambiguous or missing
// revisions are errors.
func (f *fleet) resolveRelease(appName, commit string) (model.Release, error) {
	var appID int64
	if appName != "" {
		app, ok := f.apps[appName]
		if !ok {
			return model.Release{}, fmt.Errorf("unknown application %q", appName)
		}
		appID = app.ID
	}

	var found []model.Release
	for _, rel := range f.releases {
		if rel.Commit != commit {
			continue
		}
		if appID != 0 && rel.ApplicationID != appID {
			continue
		}
		found = append(found, rel)
	}
	switch len(found) {
	case 0:
		return model.Release{}, fmt.Errorf("no release with revision %q", commit)
	case 1:
		return found[0], nil
	default:
		return model.Release{}, fmt.Errorf("revision %q is ambiguous; scope it with an application", commit)
	}
}

func (f *fleet) deviceIDs(uuids []string) ([]int64, error) {
	ids := make([]int64, 0, len(uuids))
	for _, uuid := range uuids {
		d, ok := f.devices[uuid]
		if !ok {
			return nil, fmt.Errorf("unknown device %q", uuid)
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func runStep(ctx context.Context, st *store.Store, step Step) error {
	f, err := loadFleet(ctx, st)
	if err != nil {
		return err
	}

	switch step.Op {
	case OpPinApplication:
		rel, err := f.resolveRelease(step.Application, step.Commit)
		if err != nil {
			return err
		}
		return updateApplication(ctx, st, step.Application,
			model.ApplicationPatch{TargetReleaseID: model.SetRef(rel.ID)})

	case OpUnpinApplication:
		return updateApplication(ctx, st, step.Application,
			model.ApplicationPatch{TargetReleaseID: model.ClearRef()})

	case OpCreateDevice:
		app, ok := f.apps[step.Application]
		if !ok {
			return fmt.Errorf("unknown application %q", step.Application)
		}
		input := model.DeviceInput{
			UUID:          step.UUID,
			Name:          step.Name,
			ApplicationID: app.ID,
		}
		if step.Commit != "" {
			rel, err := f.resolveRelease(step.Application, step.Commit)
			if err != nil {
				return err
			}
			input.TargetReleaseID = model.Ref(rel.ID)
		}
		if step.Supervisor != "" {
			rel, err := f.resolveRelease("", step.Supervisor)
			if err != nil {
				return err
			}
			input.SupervisorReleaseID = model.Ref(rel.ID)
		}
		return st.RunInTransaction(ctx, func(tx *store.Tx) error {
			_, err := tx.CreateDevice(ctx, model.RootActor, input)
			return err
		})

	case OpPinDevice:
		rel, err := f.resolveRelease(step.Application, step.Commit)
		if err != nil {
			return err
		}
		return updateDevices(ctx, st, f, step.Devices,
			model.DevicePatch{TargetReleaseID: model.SetRef(rel.ID)})

	case OpUnpinDevice:
		return updateDevices(ctx, st, f, step.Devices,
			model.DevicePatch{TargetReleaseID: model.ClearRef()})

	case OpMoveDevice:
		app, ok := f.apps[step.Application]
		if !ok {
			return fmt.Errorf("unknown application %q", step.Application)
		}
		patch := model.DevicePatch{ApplicationID: model.SetRef(app.ID)}
		if step.Commit != "" {
			rel, err := f.resolveRelease(step.Application, step.Commit)
			if err != nil {
				return err
			}
			patch.TargetReleaseID = model.SetRef(rel.ID)
		}
		return updateDevices(ctx, st, f, step.Devices, patch)

	case OpPinSupervisor:
		rel, err := f.resolveRelease(step.Application, step.Commit)
		if err != nil {
			return err
		}
		return updateDevices(ctx, st, f, step.Devices,
			model.DevicePatch{SupervisorReleaseID: model.SetRef(rel.ID)})

	case OpReportRunning:
		patch := model.DevicePatch{RunningReleaseID: model.ClearRef()}
		if step.Commit != "" {
			rel, err := f.resolveRelease(step.Application, step.Commit)
			if err != nil {
				return err
			}
			patch.RunningReleaseID = model.SetRef(rel.ID)
		}
		return updateDevices(ctx, st, f, step.Devices, patch)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func updateApplication(ctx context.Context, st *store.Store, name string, patch model.ApplicationPatch) error {
	return st.RunInTransaction(ctx, func(tx *store.Tx) error {
		affected, err := tx.UpdateApplications(ctx, model.RootActor,
			filter.Eq{Field: "name", Value: name}, patch)
		if err != nil {
			return err
		}
		if len(affected) == 0 {
			return fmt.Errorf("unknown application %q", name)
		}
		return nil
	})
}

func updateDevices(ctx context.Context, st *store.Store, f *fleet, uuids []string, patch model.DevicePatch) error {
	ids, err := f.deviceIDs(uuids)
	if err != nil {
		return err
	}
	return st.RunInTransaction(ctx, func(tx *store.Tx) error {
		_, err := tx.UpdateDevices(ctx, model.RootActor, filter.IDIn(ids...), patch)
		return err
	})
}

// assertInstalls checks that each listed device has exactly the
// expected install rows, by service name.
func assertInstalls(ctx context.Context, t *testing.T, st *store.Store, expected map[string][]string) {
	t.Helper()
	if len(expected) == 0 {
		return
	}

	installs := installsByDevice(ctx, t, st)
	for uuid, want := range expected {
		got, ok := installs[uuid]
		require.True(t, ok, "device %s does not exist", uuid)
		require.ElementsMatch(t, want, got, "installs of device %s", uuid)
	}
}

// installsByDevice returns every device's install rows as service
// names, including devices with none.
func installsByDevice(ctx context.Context, t *testing.T, st *store.Store) map[string][]string {
	t.Helper()

	out := make(map[string][]string)
	err := st.RunInTransaction(ctx, func(tx *store.Tx) error {
		devices, err := tx.ListDevices(ctx, nil)
		if err != nil {
			return err
		}
		services, err := tx.ListServices(ctx, nil)
		if err != nil {
			return err
		}
		names := make(map[int64]string, len(services))
		for _, svc := range services {
			names[svc.ID] = svc.Name
		}

		ids := make([]int64, len(devices))
		for i, d := range devices {
			ids[i] = d.ID
		}
		installed, err := tx.ServiceInstallsForDevices(ctx, ids)
		if err != nil {
			return err
		}

		for _, d := range devices {
			got := []string{}
			for _, serviceID := range installed[d.ID] {
				got = append(got, names[serviceID])
			}
			sort.Strings(got)
			out[d.UUID] = got
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

// dumpInstalls renders the install table as stable text for golden
// comparison.
func dumpInstalls(ctx context.Context, t *testing.T, st *store.Store) string {
	t.Helper()

	installs := installsByDevice(ctx, t, st)
	uuids := make([]string, 0, len(installs))
	for uuid := range installs {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	var b strings.Builder
	for _, uuid := range uuids {
		if len(installs[uuid]) == 0 {
			fmt.Fprintf(&b, "%s: (none)\n", uuid)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", uuid, strings.Join(installs[uuid], ", "))
	}
	return b.String()
}
