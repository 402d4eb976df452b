package api

import (
	"encoding/json"

	"github.com/roach88/fleetd/internal/model"
)

// OptionalID is a nullable id field in a JSON patch body. It keeps the
// wire distinction between an absent field, an explicit null and a
// concrete value, which patch semantics depend on: null unpins, absent
// leaves the pin alone.
type OptionalID struct {
	present bool
	null    bool
	id      int64
}

// UnmarshalJSON implements json.Unmarshaler. Only called when the field
// appears in the document, so presence is implied.
func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.present = true
	if string(data) == "null" {
		o.null = true
		return nil
	}
	return json.Unmarshal(data, &o.id)
}

// Patch converts the field to its model patch form.
func (o OptionalID) Patch() model.RefPatch {
	switch {
	case !o.present:
		return model.RefPatch{}
	case o.null:
		return model.ClearRef()
	default:
		return model.SetRef(o.id)
	}
}

// NullID converts the field to a NullID for creation payloads, where
// null and absent mean the same thing.
func (o OptionalID) NullID() model.NullID {
	if !o.present || o.null {
		return model.NullID{}
	}
	return model.Ref(o.id)
}

type createApplicationRequest struct {
	Name string `json:"name"`
}

type patchApplicationRequest struct {
	Name            *string    `json:"name"`
	TargetReleaseID OptionalID `json:"target_release_id"`
}

type createDeviceRequest struct {
	UUID                string     `json:"uuid"`
	Name                string     `json:"name"`
	ApplicationID       int64      `json:"application_id"`
	TargetReleaseID     OptionalID `json:"target_release_id"`
	SupervisorReleaseID OptionalID `json:"supervisor_release_id"`
}

type patchDeviceRequest struct {
	Name                *string    `json:"name"`
	ApplicationID       OptionalID `json:"application_id"`
	TargetReleaseID     OptionalID `json:"target_release_id"`
	SupervisorReleaseID OptionalID `json:"supervisor_release_id"`
}

type reportRunningRequest struct {
	RunningReleaseID OptionalID `json:"running_release_id"`
}

type createdResponse struct {
	ID int64 `json:"id"`

	// UUID echoes the device uuid, including one generated server-side
	// when the creation request omitted it.
	UUID string `json:"uuid,omitempty"`
}

type affectedResponse struct {
	Affected []int64 `json:"affected"`
}

type deviceResponse struct {
	ID                  int64  `json:"id"`
	UUID                string `json:"uuid"`
	Name                string `json:"name"`
	ApplicationID       int64  `json:"application_id"`
	TargetReleaseID     *int64 `json:"target_release_id"`
	SupervisorReleaseID *int64 `json:"supervisor_release_id"`
	RunningReleaseID    *int64 `json:"running_release_id"`
}

type applicationResponse struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	TargetReleaseID *int64 `json:"target_release_id"`
}

func nullIDPtr(id model.NullID) *int64 {
	if !id.Valid {
		return nil
	}
	v := id.ID
	return &v
}

func toDeviceResponse(d model.Device) deviceResponse {
	return deviceResponse{
		ID:                  d.ID,
		UUID:                d.UUID,
		Name:                d.Name,
		ApplicationID:       d.ApplicationID,
		TargetReleaseID:     nullIDPtr(d.TargetReleaseID),
		SupervisorReleaseID: nullIDPtr(d.SupervisorReleaseID),
		RunningReleaseID:    nullIDPtr(d.RunningReleaseID),
	}
}

func toApplicationResponse(a model.Application) applicationResponse {
	return applicationResponse{
		ID:              a.ID,
		Name:            a.Name,
		TargetReleaseID: nullIDPtr(a.TargetReleaseID),
	}
}
