package manifest

import (
	"context"
	"fmt"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/store"
)

// Apply writes the manifest through the store's mutation API inside a
// single transaction. Devices are created before application pins are
// set, so setting a pin runs the same default-release cascade a live
// request would and the seeded devices come out reconciled.
//
// Apply creates rows; it does not converge an existing database toward
// the manifest. Applying a manifest twice fails on the database's
// uniqueness rules.
func Apply(ctx context.Context, s *store.Store, actor model.Actor, m *Manifest) error {
	return s.RunInTransaction(ctx, func(tx *store.Tx) error {
		appIDs := make(map[string]int64, len(m.Applications))
		serviceIDs := make(map[string]map[string]int64)
		releaseIDs := make(map[string]map[string]int64)

		for _, app := range m.Applications {
			appID, err := tx.CreateApplication(ctx, actor, model.ApplicationInput{Name: app.Name})
			if err != nil {
				return fmt.Errorf("application %q: %w", app.Name, err)
			}
			appIDs[app.Name] = appID
			serviceIDs[app.Name] = make(map[string]int64, len(app.Services))
			releaseIDs[app.Name] = make(map[string]int64, len(app.Releases))

			for _, svc := range app.Services {
				id, err := tx.CreateService(ctx, actor, model.ServiceInput{
					ApplicationID: appID,
					Name:          svc,
				})
				if err != nil {
					return fmt.Errorf("application %q service %q: %w", app.Name, svc, err)
				}
				serviceIDs[app.Name][svc] = id
			}

			for _, rel := range app.Releases {
				relID, err := tx.CreateRelease(ctx, actor, model.ReleaseInput{
					ApplicationID: appID,
					Commit:        rel.Commit,
					Status:        rel.Status,
				})
				if err != nil {
					return fmt.Errorf("application %q release %q: %w", app.Name, rel.Commit, err)
				}
				releaseIDs[app.Name][rel.Commit] = relID

				for _, img := range rel.Images {
					_, err := tx.CreateImage(ctx, actor, model.ImageInput{
						ServiceID: serviceIDs[app.Name][img.Service],
						ReleaseID: relID,
						Digest:    img.Digest,
					})
					if err != nil {
						return fmt.Errorf("application %q release %q image %q: %w",
							app.Name, rel.Commit, img.Service, err)
					}
				}
			}
		}

		for _, dev := range m.Devices {
			input := model.DeviceInput{
				UUID:          dev.UUID,
				Name:          dev.Name,
				ApplicationID: appIDs[dev.Application],
			}
			if dev.Target != "" {
				input.TargetReleaseID = model.Ref(releaseIDs[dev.Application][dev.Target])
			}
			if dev.Supervisor != "" {
				id, err := m.resolveRevision(releaseIDs, dev.Supervisor)
				if err != nil {
					return fmt.Errorf("device %q: %w", dev.UUID, err)
				}
				input.SupervisorReleaseID = model.Ref(id)
			}
			if _, err := tx.CreateDevice(ctx, actor, input); err != nil {
				return fmt.Errorf("device %q: %w", dev.UUID, err)
			}
		}

		for _, app := range m.Applications {
			if app.Target == "" {
				continue
			}
			_, err := tx.UpdateApplications(ctx, actor,
				filter.Eq{Field: "name", Value: app.Name},
				model.ApplicationPatch{TargetReleaseID: model.SetRef(releaseIDs[app.Name][app.Target])})
			if err != nil {
				return fmt.Errorf("pin application %q to %q: %w", app.Name, app.Target, err)
			}
		}

		return nil
	})
}

// resolveRevision finds the release id for a revision across all
// applications, in manifest declaration order.
func (m *Manifest) resolveRevision(releaseIDs map[string]map[string]int64, revision string) (int64, error) {
	for _, app := range m.Applications {
		if id, ok := releaseIDs[app.Name][revision]; ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("revision %q names no declared release", revision)
}
