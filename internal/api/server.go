// Package api is the HTTP surface of the daemon: a thin JSON layer over
// the store's mutation API. All reconciliation happens in the store's
// hooks, so handlers only translate wire requests into mutations and
// rows into responses.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/store"
)

// ActorHeader carries the requesting principal: a numeric actor id, or
// "root" for the elevated principal.
const ActorHeader = "X-Actor"

// Server serves the fleet API.
type Server struct {
	store *store.Store
}

// NewServer creates a Server over the given store.
func NewServer(s *store.Store) *Server {
	return &Server{store: s}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/applications", s.createApplication).Methods(http.MethodPost)
	r.HandleFunc("/v1/applications", s.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/v1/applications/{id:[0-9]+}", s.patchApplication).Methods(http.MethodPatch)

	r.HandleFunc("/v1/devices", s.createDevice).Methods(http.MethodPost)
	r.HandleFunc("/v1/devices", s.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{id:[0-9]+}", s.patchDevice).Methods(http.MethodPatch)
	r.HandleFunc("/v1/devices/{uuid}", s.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{uuid}/state", s.getTargetState).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{uuid}/report", s.reportRunning).Methods(http.MethodPost)

	return r
}

// actor extracts the requesting principal from the actor header. The
// zero actor is returned for missing or malformed values; the store
// refuses mutations from it.
func actor(r *http.Request) model.Actor {
	v := r.Header.Get(ActorHeader)
	switch v {
	case "":
		return model.Actor{}
	case "root":
		return model.RootActor
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return model.Actor{}
	}
	return model.Actor{ID: id}
}

// pathID parses the numeric {id} route variable.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
