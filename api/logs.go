package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
)

// dispatchLogs serves GET /dispatch/logs. Filters: start and end (RFC3339),
// mission_id, collector_id, outcome and limit.
func (h *handlers) dispatchLogs(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := logging.LogQuery{
		MissionID:   v.Get("mission_id"),
		CollectorID: v.Get("collector_id"),
		Outcome:     v.Get("outcome"),
	}
	for _, f := range []struct {
		name string
		dst  *time.Time
	}{{"start", &q.Start}, {"end", &q.End}} {
		s := v.Get(f.name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+f.name)
			return
		}
		*f.dst = t
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	records, err := h.Decisions.Query(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}
