package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastedispatch/core/mission"
)

type dutyRequest struct {
	OnDuty *bool `json:"on_duty"`
}

func (h *handlers) registerCollector(w http.ResponseWriter, r *http.Request) {
	var req mission.CollectorRegistration
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	id, _ := IdentityFrom(r.Context())
	if id.OrganizationID != "" {
		req.OrganizationID = id.OrganizationID
	}
	c, err := h.Collectors.RegisterCollector(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) setDuty(w http.ResponseWriter, r *http.Request) {
	collectorID := mux.Vars(r)["id"]
	if !self(r, collectorID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req dutyRequest
	if err := decode(r, &req); err != nil || req.OnDuty == nil {
		writeError(w, http.StatusBadRequest, "on_duty required")
		return
	}
	if err := h.Collectors.SetDuty(r.Context(), collectorID, *req.OnDuty); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collector_id": collectorID, "on_duty": *req.OnDuty})
}
