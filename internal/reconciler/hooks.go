package reconciler

import (
	"context"
	"fmt"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/store"
)

// RegisterHooks attaches the reconciliation cascade to the store's
// mutation trigger points. Call once during startup, before serving
// mutations. Registration order fixes cascade order for triggers that
// share a point: a device patch carrying both pins reconciles the
// target pin before the supervisor pin.
func (r *Reconciler) RegisterHooks(s *store.Store) {
	s.RegisterHook(store.MethodUpdate, model.ResourceApplication, store.PostExecute,
		"reconcile-default-release", r.applicationPinChanged)
	s.RegisterHook(store.MethodCreate, model.ResourceDevice, store.PostExecute,
		"reconcile-new-device", r.deviceCreated)
	s.RegisterHook(store.MethodUpdate, model.ResourceDevice, store.PreExecute,
		"migrate-application", r.deviceApplicationChanging)
	s.RegisterHook(store.MethodUpdate, model.ResourceDevice, store.PostExecute,
		"pin-release", r.devicePinChanged)
	s.RegisterHook(store.MethodUpdate, model.ResourceDevice, store.PostExecute,
		"pin-supervisor-release", r.deviceSupervisorPinChanged)
}

// applicationPinChanged reconciles the unpinned devices of the affected
// applications when an application's default release changes. Devices
// with a pin of their own are not touched. Runs as a fleet-wide cascade,
// so the update notification carries the root actor.
func (r *Reconciler) applicationPinChanged(ctx context.Context, tx *store.Tx, req *store.MutationRequest) error {
	patch, ok := req.Payload.(*model.ApplicationPatch)
	if !ok || !patch.TargetReleaseID.Present() {
		return nil
	}

	releaseID, ok := patch.TargetReleaseID.ID()
	if !ok {
		// Unpinning an application changes what future devices get but
		// never removes installs from existing ones.
		return nil
	}

	unpinned := filter.And{Exprs: []filter.Expr{
		filter.In{Field: "application_id", IDs: req.AffectedIDs},
		filter.IsNull{Field: "target_release_id"},
	}}

	if _, err := r.ReconcileForRelease(ctx, tx, DevicesWhere(unpinned), ReleaseID(releaseID)); err != nil {
		return fmt.Errorf("reconcile application default: %w", err)
	}

	r.notify(tx, model.RootActor, filter.And{Exprs: []filter.Expr{
		filter.In{Field: "application_id", IDs: req.AffectedIDs},
		filter.IsNull{Field: "target_release_id"},
		notRunning(releaseID),
	}})
	return nil
}

// deviceCreated gives a newly provisioned device its initial installs:
// the device's own pin when one was set at creation, the application
// default otherwise, plus the supervisor pin if set.
func (r *Reconciler) deviceCreated(ctx context.Context, tx *store.Tx, req *store.MutationRequest) error {
	input, ok := req.Payload.(*model.DeviceInput)
	if !ok {
		return nil
	}
	device := DeviceIDs(req.CreatedID)

	target := input.TargetReleaseID
	if !target.Valid {
		app, err := tx.GetApplication(ctx, input.ApplicationID)
		if err != nil {
			return fmt.Errorf("load application %d: %w", input.ApplicationID, err)
		}
		target = app.TargetReleaseID
	}
	if target.Valid {
		if _, err := r.ReconcileForRelease(ctx, tx, device, ReleaseID(target.ID)); err != nil {
			return fmt.Errorf("reconcile new device: %w", err)
		}
	}

	if input.SupervisorReleaseID.Valid {
		if _, err := r.ReconcileForRelease(ctx, tx, device, ReleaseID(input.SupervisorReleaseID.ID)); err != nil {
			return fmt.Errorf("reconcile supervisor release: %w", err)
		}
	}
	return nil
}

// deviceApplicationChanging handles an application migration. It runs
// pre-execute so the devices still carry their old application: the
// purge of old-application installs depends on that. The devices
// actually changing application are then reconciled to the new
// application's default release, unless the same patch pins a release,
// in which case the pin-release hook covers them after the update.
func (r *Reconciler) deviceApplicationChanging(ctx context.Context, tx *store.Tx, req *store.MutationRequest) error {
	patch, ok := req.Payload.(*model.DevicePatch)
	if !ok {
		return nil
	}
	newApp, ok := patch.ApplicationID.ID()
	if !ok {
		return nil
	}

	devices, err := tx.ListDevices(ctx, filter.IDIn(req.AffectedIDs...))
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}

	var moving []int64
	for _, d := range devices {
		if d.ApplicationID != newApp {
			moving = append(moving, d.ID)
		}
	}
	if len(moving) == 0 {
		return nil
	}

	if _, err := r.PurgeForCurrentApplication(ctx, tx, moving); err != nil {
		return fmt.Errorf("purge installs for migration: %w", err)
	}

	if _, ok := patch.TargetReleaseID.ID(); ok {
		return nil
	}

	app, err := tx.GetApplication(ctx, newApp)
	if err != nil {
		return fmt.Errorf("load application %d: %w", newApp, err)
	}
	if !app.TargetReleaseID.Valid {
		return nil
	}

	if _, err := r.ReconcileForRelease(ctx, tx, DeviceIDs(moving...), ReleaseID(app.TargetReleaseID.ID)); err != nil {
		return fmt.Errorf("reconcile migrated devices: %w", err)
	}
	return nil
}

// devicePinChanged reconciles devices whose release pin changed. A
// concrete pin reconciles the affected devices to it. An explicit null
// reverts each device to its application's default release; the revert
// is additive like every reconciliation, so installs created by the old
// pin remain until an application migration purges them.
func (r *Reconciler) devicePinChanged(ctx context.Context, tx *store.Tx, req *store.MutationRequest) error {
	patch, ok := req.Payload.(*model.DevicePatch)
	if !ok || !patch.TargetReleaseID.Present() {
		return nil
	}

	if releaseID, ok := patch.TargetReleaseID.ID(); ok {
		if _, err := r.ReconcileForRelease(ctx, tx, DeviceIDs(req.AffectedIDs...), ReleaseID(releaseID)); err != nil {
			return fmt.Errorf("reconcile pinned release: %w", err)
		}
		r.notify(tx, req.Actor, filter.And{Exprs: []filter.Expr{
			filter.IDIn(req.AffectedIDs...),
			notRunning(releaseID),
		}})
		return nil
	}

	// Running post-execute, so a patch that also migrated the devices
	// groups them under their new application here.
	devices, err := tx.ListDevices(ctx, filter.IDIn(req.AffectedIDs...))
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}

	byApp := make(map[int64][]int64)
	var appOrder []int64
	for _, d := range devices {
		if _, seen := byApp[d.ApplicationID]; !seen {
			appOrder = append(appOrder, d.ApplicationID)
		}
		byApp[d.ApplicationID] = append(byApp[d.ApplicationID], d.ID)
	}

	for _, appID := range appOrder {
		app, err := tx.GetApplication(ctx, appID)
		if err != nil {
			return fmt.Errorf("load application %d: %w", appID, err)
		}
		if !app.TargetReleaseID.Valid {
			continue
		}
		group := byApp[appID]
		if _, err := r.ReconcileForRelease(ctx, tx, DeviceIDs(group...), ReleaseID(app.TargetReleaseID.ID)); err != nil {
			return fmt.Errorf("reconcile unpinned devices: %w", err)
		}
		r.notify(tx, req.Actor, filter.And{Exprs: []filter.Expr{
			filter.IDIn(group...),
			notRunning(app.TargetReleaseID.ID),
		}})
	}
	return nil
}

// deviceSupervisorPinChanged adds the supervisor release's services to
// the affected devices. Supervisor installs are strictly additive:
// clearing the pin removes nothing.
func (r *Reconciler) deviceSupervisorPinChanged(ctx context.Context, tx *store.Tx, req *store.MutationRequest) error {
	patch, ok := req.Payload.(*model.DevicePatch)
	if !ok {
		return nil
	}
	releaseID, ok := patch.SupervisorReleaseID.ID()
	if !ok {
		return nil
	}

	if _, err := r.ReconcileForRelease(ctx, tx, DeviceIDs(req.AffectedIDs...), ReleaseID(releaseID)); err != nil {
		return fmt.Errorf("reconcile supervisor release: %w", err)
	}
	return nil
}
