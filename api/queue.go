package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastedispatch/core/queue"
)

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Queue.Stats())
}

func (h *handlers) queueFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil[queue.Job](h.Queue.Failed()))
}

func (h *handlers) queueReplay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Queue.Replay(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(queue.StatusWaiting)})
}
