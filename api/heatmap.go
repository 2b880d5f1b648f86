package api

import (
	"errors"
	"net/http"

	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/queue"
	"github.com/kilianp07/wastedispatch/jobs"
)

// heatmap serves the cached demand grid of ?org=. On a miss a recompute
// job is queued and 202 is returned.
func (h *handlers) heatmap(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	if id, _ := IdentityFrom(r.Context()); id.OrganizationID != "" && org != id.OrganizationID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var hm jobs.Heatmap
	err := cache.GetJSON(r.Context(), h.Cache, jobs.HeatmapKey(org), &hm)
	if err == nil {
		writeJSON(w, http.StatusOK, hm)
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		h.fail(w, r, err)
		return
	}
	if _, err := h.Queue.Enqueue(r.Context(), queue.KindRecomputeHeatmap, queue.HeatmapPayload{OrganizationID: org}); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "computing"})
}
