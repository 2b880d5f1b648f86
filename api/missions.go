package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/realtime"
)

type assignResponse struct {
	Mission model.Mission   `json:"mission"`
	Plan    dispatch.Result `json:"plan"`
}

type transitionRequest struct {
	CollectorID string `json:"collector_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	model.Completion
}

func (h *handlers) createMission(w http.ResponseWriter, r *http.Request) {
	var req mission.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	id, _ := IdentityFrom(r.Context())
	switch id.Role {
	case realtime.RoleRequester:
		req.RequesterID = id.UserID
	case realtime.RoleOperator:
	default:
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if id.OrganizationID != "" {
		req.OrganizationID = id.OrganizationID
	}
	m, err := h.Missions.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *handlers) getMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.Missions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !self(r, m.RequesterID) && !self(r, m.AssignedCollectorID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handlers) assignMission(w http.ResponseWriter, r *http.Request) {
	tr, res, err := h.Missions.Assign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{Mission: tr.Mission, Plan: res})
}

// collectorFor returns the acting collector: the caller itself, or the
// collector named in the body when an operator acts on its behalf.
func collectorFor(r *http.Request, req transitionRequest) string {
	id, _ := IdentityFrom(r.Context())
	if id.Role == realtime.RoleCollector {
		return id.UserID
	}
	return req.CollectorID
}

func (h *handlers) startMission(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	tr, err := h.Missions.Start(r.Context(), mux.Vars(r)["id"], collectorFor(r, req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr.Mission)
}

func (h *handlers) completeMission(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	tr, err := h.Missions.Complete(r.Context(), mux.Vars(r)["id"], collectorFor(r, req), req.Completion)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr.Mission)
}

func (h *handlers) cancelMission(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	missionID := mux.Vars(r)["id"]
	m, err := h.Missions.Get(r.Context(), missionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !self(r, m.RequesterID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	tr, err := h.Missions.Cancel(r.Context(), missionID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr.Mission)
}

func (h *handlers) userMissions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if !self(r, userID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	statuses, err := parseStatuses(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ms, err := h.Missions.ListForUser(r.Context(), userID, statuses...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (h *handlers) collectorMissions(w http.ResponseWriter, r *http.Request) {
	collectorID := mux.Vars(r)["id"]
	if !self(r, collectorID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	statuses, err := parseStatuses(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ms, err := h.Missions.ListForCollector(r.Context(), collectorID, statuses...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (h *handlers) collectorRoute(w http.ResponseWriter, r *http.Request) {
	collectorID := mux.Vars(r)["id"]
	if !self(r, collectorID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	route, err := h.Missions.Route(r.Context(), collectorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if route.Stops == nil {
		route.Stops = []dispatch.RouteStop{}
	}
	writeJSON(w, http.StatusOK, route)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
