package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/store"
	"github.com/roach88/fleetd/internal/target"
)

func (s *Server) createApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var id int64
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		id, err = tx.CreateApplication(r.Context(), actor(r), model.ApplicationInput{Name: req.Name})
		return err
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	var apps []model.Application
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		apps, err = tx.ListApplications(r.Context(), nil)
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]applicationResponse, len(apps))
	for i, a := range apps {
		out[i] = toApplicationResponse(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) patchApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}

	var req patchApplicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch := model.ApplicationPatch{
		Name:            req.Name,
		TargetReleaseID: req.TargetReleaseID.Patch(),
	}

	var affected []int64
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		affected, err = tx.UpdateApplications(r.Context(), actor(r),
			filter.Eq{Field: "id", Value: id}, patch)
		return err
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	if len(affected) == 0 {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	writeJSON(w, http.StatusOK, affectedResponse{Affected: affected})
}

func (s *Server) createDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	}
	input := model.DeviceInput{
		UUID:                req.UUID,
		Name:                req.Name,
		ApplicationID:       req.ApplicationID,
		TargetReleaseID:     req.TargetReleaseID.NullID(),
		SupervisorReleaseID: req.SupervisorReleaseID.NullID(),
	}

	var id int64
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		id, err = tx.CreateDevice(r.Context(), actor(r), input)
		return err
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id, UUID: req.UUID})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	var f filter.Expr
	if app := r.URL.Query().Get("application_id"); app != "" {
		id, err := parseID(app)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid application_id")
			return
		}
		f = filter.Eq{Field: "application_id", Value: id}
	}

	var devices []model.Device
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		devices, err = tx.ListDevices(r.Context(), f)
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]deviceResponse, len(devices))
	for i, d := range devices {
		out[i] = toDeviceResponse(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var device model.Device
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		device, err = tx.GetDeviceByUUID(r.Context(), uuid)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(device))
}

func (s *Server) patchDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req patchDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch := model.DevicePatch{
		Name:                req.Name,
		ApplicationID:       req.ApplicationID.Patch(),
		TargetReleaseID:     req.TargetReleaseID.Patch(),
		SupervisorReleaseID: req.SupervisorReleaseID.Patch(),
	}

	var affected []int64
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		affected, err = tx.UpdateDevices(r.Context(), actor(r),
			filter.Eq{Field: "id", Value: id}, patch)
		return err
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	if len(affected) == 0 {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, affectedResponse{Affected: affected})
}

// getTargetState serves the device's target state with a canonical
// ETag, so devices can poll with If-None-Match.
func (s *Server) getTargetState(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var state target.State
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		state, err = target.Build(r.Context(), tx, uuid)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	etag, err := state.ETag()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	quoted := `"` + etag + `"`

	w.Header().Set("ETag", quoted)
	if r.Header.Get("If-None-Match") == quoted {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// reportRunning records the release a device reports as running. The
// running release is observed state: changing it triggers no
// reconciliation hooks beyond the ordinary device update dispatch.
func (s *Server) reportRunning(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]

	var req reportRunningRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.RunningReleaseID.Patch().Present() {
		writeError(w, http.StatusBadRequest, "running_release_id is required")
		return
	}
	patch := model.DevicePatch{RunningReleaseID: req.RunningReleaseID.Patch()}

	var affected []int64
	err := s.store.RunInTransaction(r.Context(), func(tx *store.Tx) error {
		var err error
		affected, err = tx.UpdateDevices(r.Context(), actor(r),
			filter.Eq{Field: "uuid", Value: uuid}, patch)
		return err
	})
	if err != nil {
		writeMutationError(w, err)
		return
	}
	if len(affected) == 0 {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
