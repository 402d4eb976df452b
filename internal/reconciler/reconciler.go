// Package reconciler keeps the service-install relation consistent with
// release pins.
//
// An install row records that a device should have one of a release's
// services. The reconciler materializes the rows a pin implies and is
// strictly additive: the only thing that ever removes install rows is
// an application migration, which purges the rows belonging to the
// application the device is leaving. Reconciling the same devices
// against the same release twice is a no-op.
//
// The reconciler attaches to the store's mutation hooks, so every pin
// change cascades inside the transaction that made it. Downstream
// update notifications are queued on transaction commit.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/store"
)

// UpdateNotifier receives post-commit update signals for devices whose
// target changed. Implemented by notify.Notifier.
type UpdateNotifier interface {
	DevicesShouldUpdate(actor model.Actor, devices filter.Expr)
}

// Reconciler materializes service installs and wires the mutation hooks
// that keep them current.
type Reconciler struct {
	notifier UpdateNotifier
}

// New creates a Reconciler. The notifier may be nil, which disables
// update notifications (useful in tests and offline tooling).
func New(notifier UpdateNotifier) *Reconciler {
	return &Reconciler{notifier: notifier}
}

// ReconcileForRelease creates the install rows linking the selected
// devices to the services of the selected releases. Existing rows are
// left untouched; rows are only added, never removed. Returns the
// number of rows actually inserted.
//
// An explicit empty device selection returns immediately without
// issuing any statement.
func (r *Reconciler) ReconcileForRelease(ctx context.Context, tx *store.Tx, devices DeviceSelector, releases ReleaseSelector) (int64, error) {
	if devices.Empty() {
		return 0, nil
	}

	deviceIDs, err := tx.SelectIDs(ctx, model.ResourceDevice, devices.expr())
	if err != nil {
		return 0, fmt.Errorf("resolve devices: %w", err)
	}
	if len(deviceIDs) == 0 {
		return 0, nil
	}

	serviceIDs, err := tx.SelectIDs(ctx, model.ResourceService, releases.serviceExpr())
	if err != nil {
		return 0, fmt.Errorf("resolve services: %w", err)
	}
	if len(serviceIDs) == 0 {
		return 0, nil
	}

	installed, err := tx.ServiceInstallsForDevices(ctx, deviceIDs)
	if err != nil {
		return 0, fmt.Errorf("load existing installs: %w", err)
	}

	var pairs []store.InstallPair
	for _, deviceID := range deviceIDs {
		have := make(map[int64]bool, len(installed[deviceID]))
		for _, serviceID := range installed[deviceID] {
			have[serviceID] = true
		}
		for _, serviceID := range serviceIDs {
			if !have[serviceID] {
				pairs = append(pairs, store.InstallPair{DeviceID: deviceID, ServiceID: serviceID})
			}
		}
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	inserted, err := tx.InsertServiceInstalls(ctx, pairs)
	if err != nil {
		return 0, err
	}

	slog.Debug("service installs reconciled",
		"devices", len(deviceIDs),
		"services", len(serviceIDs),
		"inserted", inserted)
	return inserted, nil
}

// PurgeForCurrentApplication removes the install rows of the given
// devices whose service belongs to the application currently owning
// each device. Run before an application migration executes, so the
// current application is the one being left.
func (r *Reconciler) PurgeForCurrentApplication(ctx context.Context, tx *store.Tx, deviceIDs []int64) (int64, error) {
	deleted, err := tx.DeleteServiceInstallsForCurrentApplication(ctx, deviceIDs)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Debug("service installs purged", "devices", len(deviceIDs), "deleted", deleted)
	}
	return deleted, nil
}

// notify queues an update notification to run after the transaction
// commits. No-op when the reconciler has no notifier.
func (r *Reconciler) notify(tx *store.Tx, actor model.Actor, devices filter.Expr) {
	if r.notifier == nil {
		return
	}
	tx.OnCommit(func() {
		r.notifier.DevicesShouldUpdate(actor, devices)
	})
}

// notRunning matches devices whose reported running release is not id,
// including devices that have not reported one at all.
func notRunning(id int64) filter.Expr {
	return filter.Or{Exprs: []filter.Expr{
		filter.Ne{Field: "running_release_id", Value: id},
		filter.IsNull{Field: "running_release_id"},
	}}
}
