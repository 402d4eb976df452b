package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
)

// SelectIDs resolves a filter expression over a resource to a concrete
// id list. Results are ordered by id ascending for determinism.
// Returns an empty slice (not nil) when nothing matches.
func (t *Tx) SelectIDs(ctx context.Context, resource string, f filter.Expr) ([]int64, error) {
	where, params, err := filter.Compile(resource, f)
	if err != nil {
		return nil, fmt.Errorf("compile filter for %s: %w", resource, err)
	}

	query := fmt.Sprintf("SELECT %s.id FROM %s WHERE %s ORDER BY %s.id ASC",
		resource, resource, where, resource)

	rows, err := t.tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("select ids from %s: %w", resource, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids from %s: %w", resource, err)
	}

	return ids, nil
}

const deviceColumns = `devices.id, devices.uuid, devices.name, devices.application_id,
	devices.target_release_id, devices.supervisor_release_id, devices.running_release_id,
	devices.created_at, devices.modified_at`

// GetDevice retrieves a single device by id.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetDevice(ctx context.Context, id int64) (model.Device, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE devices.id = ?", id)
	return scanDevice(row)
}

// GetDeviceByUUID retrieves a single device by its uuid.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetDeviceByUUID(ctx context.Context, uuid string) (model.Device, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE devices.uuid = ?", uuid)
	return scanDevice(row)
}

// ListDevices returns the devices matching a filter expression,
// ordered by id ascending.
func (t *Tx) ListDevices(ctx context.Context, f filter.Expr) ([]model.Device, error) {
	where, params, err := filter.Compile(model.ResourceDevice, f)
	if err != nil {
		return nil, fmt.Errorf("compile device filter: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE "+where+" ORDER BY devices.id ASC",
		params...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := []model.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return devices, nil
}

// GetApplication retrieves a single application by id.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetApplication(ctx context.Context, id int64) (model.Application, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, name, target_release_id, created_at, modified_at
		FROM applications
		WHERE id = ?
	`, id)
	return scanApplication(row)
}

// ListApplications returns the applications matching a filter
// expression, ordered by id ascending.
func (t *Tx) ListApplications(ctx context.Context, f filter.Expr) ([]model.Application, error) {
	where, params, err := filter.Compile(model.ResourceApplication, f)
	if err != nil {
		return nil, fmt.Errorf("compile application filter: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT applications.id, applications.name, applications.target_release_id,
		       applications.created_at, applications.modified_at
		FROM applications
		WHERE `+where+`
		ORDER BY applications.id ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	apps := []model.Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}

	return apps, nil
}

// GetRelease retrieves a single release by id.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetRelease(ctx context.Context, id int64) (model.Release, error) {
	var r model.Release
	var createdAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, application_id, revision, status, created_at
		FROM releases
		WHERE id = ?
	`, id).Scan(&r.ID, &r.ApplicationID, &r.Commit, &r.Status, &createdAt)
	if err != nil {
		return model.Release{}, err
	}
	r.CreatedAt = parseTimestamp(createdAt)
	return r, nil
}

// ListReleases returns the releases matching a filter expression,
// ordered by id ascending.
func (t *Tx) ListReleases(ctx context.Context, f filter.Expr) ([]model.Release, error) {
	where, params, err := filter.Compile(model.ResourceRelease, f)
	if err != nil {
		return nil, fmt.Errorf("compile release filter: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT releases.id, releases.application_id, releases.revision,
		       releases.status, releases.created_at
		FROM releases
		WHERE `+where+`
		ORDER BY releases.id ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("query releases: %w", err)
	}
	defer rows.Close()

	releases := []model.Release{}
	for rows.Next() {
		var r model.Release
		var createdAt string
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.Commit, &r.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		r.CreatedAt = parseTimestamp(createdAt)
		releases = append(releases, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}

	return releases, nil
}

// ListServices returns the services matching a filter expression,
// ordered by id ascending.
func (t *Tx) ListServices(ctx context.Context, f filter.Expr) ([]model.Service, error) {
	where, params, err := filter.Compile(model.ResourceService, f)
	if err != nil {
		return nil, fmt.Errorf("compile service filter: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT services.id, services.application_id, services.name
		FROM services
		WHERE `+where+`
		ORDER BY services.id ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	services := []model.Service{}
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.ApplicationID, &s.Name); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}

	return services, nil
}

// ServiceInstallsForDevices returns the existing install rows for a
// device set, grouped by device id. Devices with no installs are
// absent from the map.
func (t *Tx) ServiceInstallsForDevices(ctx context.Context, deviceIDs []int64) (map[int64][]int64, error) {
	installed := make(map[int64][]int64)
	if len(deviceIDs) == 0 {
		return installed, nil
	}

	where, params, err := filter.Compile(model.ResourceServiceInstall,
		filter.In{Field: "device_id", IDs: deviceIDs})
	if err != nil {
		return nil, fmt.Errorf("compile install filter: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT service_installs.device_id, service_installs.service_id
		FROM service_installs
		WHERE `+where+`
		ORDER BY service_installs.device_id ASC, service_installs.service_id ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("query service installs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var deviceID, serviceID int64
		if err := rows.Scan(&deviceID, &serviceID); err != nil {
			return nil, fmt.Errorf("scan service install: %w", err)
		}
		installed[deviceID] = append(installed[deviceID], serviceID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service installs: %w", err)
	}

	return installed, nil
}

// ListServiceInstalls returns the install rows matching a filter
// expression, ordered by (device_id, service_id).
func (t *Tx) ListServiceInstalls(ctx context.Context, f filter.Expr) ([]model.ServiceInstall, error) {
	where, params, err := filter.Compile(model.ResourceServiceInstall, f)
	if err != nil {
		return nil, fmt.Errorf("compile install filter: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT service_installs.id, service_installs.device_id,
		       service_installs.service_id, service_installs.created_at
		FROM service_installs
		WHERE `+where+`
		ORDER BY service_installs.device_id ASC, service_installs.service_id ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("query service installs: %w", err)
	}
	defer rows.Close()

	installs := []model.ServiceInstall{}
	for rows.Next() {
		var si model.ServiceInstall
		var createdAt string
		if err := rows.Scan(&si.ID, &si.DeviceID, &si.ServiceID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan service install: %w", err)
		}
		si.CreatedAt = parseTimestamp(createdAt)
		installs = append(installs, si)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service installs: %w", err)
	}

	return installs, nil
}

// ReleaseService is one service shipped by a release, with the digest
// of the image that builds it. Used to assemble device target state.
type ReleaseService struct {
	ServiceID int64
	Name      string
	Digest    string
}

// ReleaseServices returns the services a release ships, via the image
// relation, ordered by service name.
func (t *Tx) ReleaseServices(ctx context.Context, releaseID int64) ([]ReleaseService, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT services.id, services.name, images.digest
		FROM images
		JOIN services ON services.id = images.service_id
		WHERE images.release_id = ?
		ORDER BY services.name ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("query release services: %w", err)
	}
	defer rows.Close()

	services := []ReleaseService{}
	for rows.Next() {
		var rs ReleaseService
		if err := rows.Scan(&rs.ServiceID, &rs.Name, &rs.Digest); err != nil {
			return nil, fmt.Errorf("scan release service: %w", err)
		}
		services = append(services, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate release services: %w", err)
	}

	return services, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (model.Device, error) {
	var d model.Device
	var target, supervisor, running sql.NullInt64
	var createdAt, modifiedAt string

	if err := row.Scan(
		&d.ID, &d.UUID, &d.Name, &d.ApplicationID,
		&target, &supervisor, &running,
		&createdAt, &modifiedAt,
	); err != nil {
		return model.Device{}, err
	}

	d.TargetReleaseID = model.FromSQL(target)
	d.SupervisorReleaseID = model.FromSQL(supervisor)
	d.RunningReleaseID = model.FromSQL(running)
	d.CreatedAt = parseTimestamp(createdAt)
	d.ModifiedAt = parseTimestamp(modifiedAt)
	return d, nil
}

func scanApplication(row rowScanner) (model.Application, error) {
	var a model.Application
	var target sql.NullInt64
	var createdAt, modifiedAt string

	if err := row.Scan(&a.ID, &a.Name, &target, &createdAt, &modifiedAt); err != nil {
		return model.Application{}, err
	}

	a.TargetReleaseID = model.FromSQL(target)
	a.CreatedAt = parseTimestamp(createdAt)
	a.ModifiedAt = parseTimestamp(modifiedAt)
	return a, nil
}
