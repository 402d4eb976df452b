// Package target assembles the declarative target state a device polls
// for: the release it should run and the services that release ships,
// restricted to the installs the reconciler has materialized.
//
// The state serializes to canonical JSON and hashes to a stable ETag,
// so devices can poll cheaply with If-None-Match.
package target

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/fleetd/internal/store"
)

// State is the target a device converges to.
type State struct {
	// Device is the device uuid the state belongs to.
	Device string `json:"device"`

	// Commit is the revision of the effective release: the device's own
	// pin when set, the application default otherwise. Empty when
	// neither exists.
	Commit string `json:"commit,omitempty"`

	// Supervisor is the revision of the pinned supervisor release, if
	// any.
	Supervisor string `json:"supervisor,omitempty"`

	// Services are the effective release's services the device has
	// install rows for, ordered by name.
	Services []Service `json:"services"`
}

// Service is one service the device should run.
type Service struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Build assembles the target state for the device with the given uuid.
// Returns sql.ErrNoRows (wrapped) when the device does not exist.
func Build(ctx context.Context, tx *store.Tx, uuid string) (State, error) {
	device, err := tx.GetDeviceByUUID(ctx, uuid)
	if err != nil {
		return State{}, fmt.Errorf("load device %s: %w", uuid, err)
	}

	state := State{
		Device:   device.UUID,
		Services: []Service{},
	}

	effective := device.TargetReleaseID
	if !effective.Valid {
		app, err := tx.GetApplication(ctx, device.ApplicationID)
		if err != nil {
			return State{}, fmt.Errorf("load application %d: %w", device.ApplicationID, err)
		}
		effective = app.TargetReleaseID
	}

	if effective.Valid {
		release, err := tx.GetRelease(ctx, effective.ID)
		if err != nil {
			return State{}, fmt.Errorf("load release %d: %w", effective.ID, err)
		}
		state.Commit = release.Commit

		services, err := tx.ReleaseServices(ctx, effective.ID)
		if err != nil {
			return State{}, err
		}

		installed, err := tx.ServiceInstallsForDevices(ctx, []int64{device.ID})
		if err != nil {
			return State{}, err
		}
		have := make(map[int64]bool, len(installed[device.ID]))
		for _, serviceID := range installed[device.ID] {
			have[serviceID] = true
		}

		for _, rs := range services {
			if have[rs.ServiceID] {
				state.Services = append(state.Services, Service{Name: rs.Name, Digest: rs.Digest})
			}
		}
	}

	if device.SupervisorReleaseID.Valid {
		release, err := tx.GetRelease(ctx, device.SupervisorReleaseID.ID)
		if err != nil {
			return State{}, fmt.Errorf("load supervisor release %d: %w", device.SupervisorReleaseID.ID, err)
		}
		state.Supervisor = release.Commit
	}

	return state, nil
}

// ETag returns the hex SHA-256 of the state's canonical JSON form.
// Structurally equal states always hash identically.
func (s State) ETag() (string, error) {
	data, err := MarshalCanonical(s.canonical())
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonical converts the state to the value domain MarshalCanonical
// accepts.
func (s State) canonical() map[string]any {
	services := make([]any, len(s.Services))
	for i, svc := range s.Services {
		services[i] = map[string]any{
			"name":   svc.Name,
			"digest": svc.Digest,
		}
	}

	doc := map[string]any{
		"device":   s.Device,
		"commit":   s.Commit,
		"services": services,
	}
	if s.Supervisor != "" {
		doc["supervisor"] = s.Supervisor
	}
	return doc
}
