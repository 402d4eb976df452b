package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
)

// ErrForbidden is returned when a mutation is attempted without a
// principal. Fine-grained authorization lives outside this layer; the
// store only refuses anonymous writes.
var ErrForbidden = errors.New("store: mutation requires an actor")

// CreateApplication inserts an application and dispatches its hooks.
func (t *Tx) CreateApplication(ctx context.Context, actor model.Actor, input model.ApplicationInput) (int64, error) {
	if actor.IsZero() {
		return 0, ErrForbidden
	}
	if input.Name == "" {
		return 0, fmt.Errorf("create application: name is required")
	}

	req := &MutationRequest{
		Method:   MethodCreate,
		Resource: model.ResourceApplication,
		Actor:    actor,
		Payload:  &input,
	}
	if err := t.runHooks(ctx, PreExecute, req); err != nil {
		return 0, err
	}

	now := t.store.timestamp()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO applications (name, created_at, modified_at)
		VALUES (?, ?, ?)
	`, input.Name, now, now)
	if err != nil {
		return 0, fmt.Errorf("create application: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create application: last insert id: %w", err)
	}
	req.CreatedID = id

	if err := t.runHooks(ctx, PostExecute, req); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateApplications applies a partial update to every application
// matching the filter. The affected ids are resolved before execution
// and handed to both hook phases. Returns the affected ids; when the
// filter matches nothing, no statement runs and no hooks fire.
func (t *Tx) UpdateApplications(ctx context.Context, actor model.Actor, f filter.Expr, patch model.ApplicationPatch) ([]int64, error) {
	if actor.IsZero() {
		return nil, ErrForbidden
	}
	if patch.IsZero() {
		return nil, fmt.Errorf("update applications: empty patch")
	}

	ids, err := t.SelectIDs(ctx, model.ResourceApplication, f)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	req := &MutationRequest{
		Method:      MethodUpdate,
		Resource:    model.ResourceApplication,
		Actor:       actor,
		Payload:     &patch,
		AffectedIDs: ids,
	}
	if err := t.runHooks(ctx, PreExecute, req); err != nil {
		return nil, err
	}

	set := []string{"modified_at = ?"}
	params := []any{t.store.timestamp()}
	if patch.Name != nil {
		set = append(set, "name = ?")
		params = append(params, *patch.Name)
	}
	if patch.TargetReleaseID.Present() {
		set = append(set, "target_release_id = ?")
		params = append(params, patch.TargetReleaseID.Value().SQL())
	}

	if err := t.execUpdate(ctx, model.ResourceApplication, set, params, ids); err != nil {
		return nil, fmt.Errorf("update applications: %w", err)
	}

	if err := t.runHooks(ctx, PostExecute, req); err != nil {
		return nil, err
	}
	return ids, nil
}

// CreateRelease registers a release for an application.
func (t *Tx) CreateRelease(ctx context.Context, actor model.Actor, input model.ReleaseInput) (int64, error) {
	if actor.IsZero() {
		return 0, ErrForbidden
	}
	if input.Commit == "" {
		return 0, fmt.Errorf("create release: commit is required")
	}
	status := input.Status
	if status == "" {
		status = model.ReleaseStatusSuccess
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO releases (application_id, revision, status, created_at)
		VALUES (?, ?, ?, ?)
	`, input.ApplicationID, input.Commit, status, t.store.timestamp())
	if err != nil {
		return 0, fmt.Errorf("create release: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create release: last insert id: %w", err)
	}
	return id, nil
}

// CreateService registers a named service of an application.
func (t *Tx) CreateService(ctx context.Context, actor model.Actor, input model.ServiceInput) (int64, error) {
	if actor.IsZero() {
		return 0, ErrForbidden
	}
	if input.Name == "" {
		return 0, fmt.Errorf("create service: name is required")
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO services (application_id, name)
		VALUES (?, ?)
	`, input.ApplicationID, input.Name)
	if err != nil {
		return 0, fmt.Errorf("create service: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create service: last insert id: %w", err)
	}
	return id, nil
}

// CreateImage registers an image: one service's build within a release.
func (t *Tx) CreateImage(ctx context.Context, actor model.Actor, input model.ImageInput) (int64, error) {
	if actor.IsZero() {
		return 0, ErrForbidden
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO images (service_id, release_id, digest)
		VALUES (?, ?, ?)
	`, input.ServiceID, input.ReleaseID, input.Digest)
	if err != nil {
		return 0, fmt.Errorf("create image: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create image: last insert id: %w", err)
	}
	return id, nil
}

// CreateDevice provisions a device and dispatches its hooks. The
// post-execute hooks see the created id and the original input,
// including any pins set at creation time.
func (t *Tx) CreateDevice(ctx context.Context, actor model.Actor, input model.DeviceInput) (int64, error) {
	if actor.IsZero() {
		return 0, ErrForbidden
	}
	if input.UUID == "" {
		return 0, fmt.Errorf("create device: uuid is required")
	}

	req := &MutationRequest{
		Method:   MethodCreate,
		Resource: model.ResourceDevice,
		Actor:    actor,
		Payload:  &input,
	}
	if err := t.runHooks(ctx, PreExecute, req); err != nil {
		return 0, err
	}

	now := t.store.timestamp()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO devices
		(uuid, name, application_id, target_release_id, supervisor_release_id, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		input.UUID,
		input.Name,
		input.ApplicationID,
		input.TargetReleaseID.SQL(),
		input.SupervisorReleaseID.SQL(),
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("create device: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create device: last insert id: %w", err)
	}
	req.CreatedID = id

	if err := t.runHooks(ctx, PostExecute, req); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateDevices applies a partial update to every device matching the
// filter. Affected ids are resolved before execution so pre-execute
// hooks observe the devices in their old state (the application
// migration purge depends on this). Returns the affected ids; when the
// filter matches nothing, no statement runs and no hooks fire.
func (t *Tx) UpdateDevices(ctx context.Context, actor model.Actor, f filter.Expr, patch model.DevicePatch) ([]int64, error) {
	if actor.IsZero() {
		return nil, ErrForbidden
	}
	if patch.IsZero() {
		return nil, fmt.Errorf("update devices: empty patch")
	}
	if patch.ApplicationID.Null() {
		return nil, fmt.Errorf("update devices: application cannot be null")
	}

	ids, err := t.SelectIDs(ctx, model.ResourceDevice, f)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	req := &MutationRequest{
		Method:      MethodUpdate,
		Resource:    model.ResourceDevice,
		Actor:       actor,
		Payload:     &patch,
		AffectedIDs: ids,
	}
	if err := t.runHooks(ctx, PreExecute, req); err != nil {
		return nil, err
	}

	set := []string{"modified_at = ?"}
	params := []any{t.store.timestamp()}
	if patch.Name != nil {
		set = append(set, "name = ?")
		params = append(params, *patch.Name)
	}
	if appID, ok := patch.ApplicationID.ID(); ok {
		set = append(set, "application_id = ?")
		params = append(params, appID)
	}
	if patch.TargetReleaseID.Present() {
		set = append(set, "target_release_id = ?")
		params = append(params, patch.TargetReleaseID.Value().SQL())
	}
	if patch.SupervisorReleaseID.Present() {
		set = append(set, "supervisor_release_id = ?")
		params = append(params, patch.SupervisorReleaseID.Value().SQL())
	}
	if patch.RunningReleaseID.Present() {
		set = append(set, "running_release_id = ?")
		params = append(params, patch.RunningReleaseID.Value().SQL())
	}

	if err := t.execUpdate(ctx, model.ResourceDevice, set, params, ids); err != nil {
		return nil, fmt.Errorf("update devices: %w", err)
	}

	if err := t.runHooks(ctx, PostExecute, req); err != nil {
		return nil, err
	}
	return ids, nil
}

// execUpdate runs UPDATE <table> SET <set> WHERE id IN <ids>.
func (t *Tx) execUpdate(ctx context.Context, table string, set []string, params []any, ids []int64) error {
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		params = append(params, id)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id IN (%s)",
		table, strings.Join(set, ", "), strings.Join(placeholders, ", "))

	if _, err := t.tx.ExecContext(ctx, query, params...); err != nil {
		return err
	}
	return nil
}

// InstallPair is one (device, service) pair to materialize.
type InstallPair struct {
	DeviceID  int64
	ServiceID int64
}

// InsertServiceInstalls creates install rows for the given pairs in one
// batched statement. Uses ON CONFLICT DO NOTHING for idempotency -
// pairs that already exist are silently skipped, so double reconciling
// a device never produces duplicate rows. Returns the number of rows
// actually inserted.
//
// Install rows are derived state maintained by the reconciler; they are
// not a hook trigger surface, so no hooks fire here.
func (t *Tx) InsertServiceInstalls(ctx context.Context, pairs []InstallPair) (int64, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	now := t.store.timestamp()
	values := make([]string, len(pairs))
	params := make([]any, 0, len(pairs)*3)
	for i, p := range pairs {
		values[i] = "(?, ?, ?)"
		params = append(params, p.DeviceID, p.ServiceID, now)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO service_installs (device_id, service_id, created_at)
		VALUES `+strings.Join(values, ", ")+`
		ON CONFLICT(device_id, service_id) DO NOTHING
	`, params...)
	if err != nil {
		return 0, fmt.Errorf("insert service installs: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert service installs: rows affected: %w", err)
	}
	return inserted, nil
}

// DeleteServiceInstallsForCurrentApplication removes every install row
// of the given devices whose service belongs to the application that
// currently owns the device. Run from a pre-execute hook during an
// application migration, "currently" means the old application - the
// UPDATE moving the device has not executed yet.
func (t *Tx) DeleteServiceInstallsForCurrentApplication(ctx context.Context, deviceIDs []int64) (int64, error) {
	if len(deviceIDs) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(deviceIDs))
	params := make([]any, len(deviceIDs))
	for i, id := range deviceIDs {
		placeholders[i] = "?"
		params[i] = id
	}

	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM service_installs
		WHERE device_id IN (`+strings.Join(placeholders, ", ")+`)
		AND EXISTS (
			SELECT 1
			FROM services, devices
			WHERE devices.id = service_installs.device_id
			AND services.id = service_installs.service_id
			AND services.application_id = devices.application_id
		)
	`, params...)
	if err != nil {
		return 0, fmt.Errorf("delete service installs: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete service installs: rows affected: %w", err)
	}
	return deleted, nil
}
