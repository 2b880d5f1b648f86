// Package api exposes the mission, queue, decision log, heatmap and OTP
// endpoints over HTTP and mounts the realtime websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/queue"
	"github.com/kilianp07/wastedispatch/core/realtime"
)

// RequestTimeout bounds the work done for one request.
const RequestTimeout = 10 * time.Second

// MissionService is the mission API surface. mission.Service implements it.
type MissionService interface {
	Create(ctx context.Context, req mission.CreateRequest) (model.Mission, error)
	Get(ctx context.Context, id string) (model.Mission, error)
	Assign(ctx context.Context, missionID string) (mission.Transition, dispatch.Result, error)
	Start(ctx context.Context, missionID, collectorID string) (mission.Transition, error)
	Complete(ctx context.Context, missionID, collectorID string, c model.Completion) (mission.Transition, error)
	Cancel(ctx context.Context, missionID, reason string) (mission.Transition, error)
	ListForUser(ctx context.Context, userID string, statuses ...model.Status) ([]model.Mission, error)
	ListForCollector(ctx context.Context, collectorID string, statuses ...model.Status) ([]model.Mission, error)
	Route(ctx context.Context, collectorID string) (dispatch.Route, error)
}

// CollectorAdmin registers collectors and toggles their duty. mission.Service
// implements it.
type CollectorAdmin interface {
	RegisterCollector(ctx context.Context, collectorID string, reg mission.CollectorRegistration) (model.Collector, error)
	SetDuty(ctx context.Context, collectorID string, onDuty bool) error
}

// JobQueue is the queue API surface. queue.Queue implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload any, opts ...queue.Option) (string, error)
	Stats() map[queue.Kind]queue.KindStats
	Failed() []queue.Job
	Replay(ctx context.Context, id string) error
}

// OTPIssuer issues and checks one-time codes. cache.OTPStore implements it.
type OTPIssuer interface {
	Issue(ctx context.Context, subject string) (string, error)
	Verify(ctx context.Context, subject, code string) error
}

// Deps are the collaborators of the router. Verifier may be nil, in which
// case every request acts as an operator.
type Deps struct {
	Missions   MissionService
	Collectors CollectorAdmin
	Queue      JobQueue
	Decisions  logging.LogStore
	Cache      cache.Cache
	OTP        OTPIssuer
	Verifier   realtime.Verifier
	WebSocket  http.Handler
	WSPath     string
	Logger     logger.Logger
}

type handlers struct {
	Deps
	log logger.Logger
}

// NewRouter registers every route.
func NewRouter(d Deps) *mux.Router {
	h := &handlers{Deps: d, log: logger.OrNop(d.Logger)}
	r := mux.NewRouter()
	if d.WebSocket != nil {
		path := d.WSPath
		if path == "" {
			path = "/ws"
		}
		r.Handle(path, d.WebSocket).Methods(http.MethodGet)
	}

	a := r.PathPrefix("/").Subrouter()
	a.Use(h.authenticate, timeout(RequestTimeout))

	a.HandleFunc("/missions", h.createMission).Methods(http.MethodPost)
	a.HandleFunc("/missions/{id}", h.getMission).Methods(http.MethodGet)
	a.HandleFunc("/missions/{id}/assign", h.requireRole(h.assignMission, realtime.RoleOperator)).Methods(http.MethodPost)
	a.HandleFunc("/missions/{id}/start", h.requireRole(h.startMission, realtime.RoleCollector, realtime.RoleOperator)).Methods(http.MethodPost)
	a.HandleFunc("/missions/{id}/complete", h.requireRole(h.completeMission, realtime.RoleCollector, realtime.RoleOperator)).Methods(http.MethodPost)
	a.HandleFunc("/missions/{id}/cancel", h.cancelMission).Methods(http.MethodPost)
	a.HandleFunc("/users/{id}/missions", h.userMissions).Methods(http.MethodGet)
	a.HandleFunc("/collectors/{id}/missions", h.collectorMissions).Methods(http.MethodGet)
	a.HandleFunc("/collectors/{id}/route", h.collectorRoute).Methods(http.MethodGet)
	if d.Collectors != nil {
		a.HandleFunc("/collectors/{id}", h.requireRole(h.registerCollector, realtime.RoleOperator)).Methods(http.MethodPut)
		a.HandleFunc("/collectors/{id}/duty", h.requireRole(h.setDuty, realtime.RoleCollector, realtime.RoleOperator)).Methods(http.MethodPost)
	}

	a.HandleFunc("/queue/stats", h.requireRole(h.queueStats, realtime.RoleOperator)).Methods(http.MethodGet)
	a.HandleFunc("/queue/failed", h.requireRole(h.queueFailed, realtime.RoleOperator)).Methods(http.MethodGet)
	a.HandleFunc("/queue/failed/{id}/replay", h.requireRole(h.queueReplay, realtime.RoleOperator)).Methods(http.MethodPost)

	a.HandleFunc("/dispatch/logs", h.requireRole(h.dispatchLogs, realtime.RoleOperator)).Methods(http.MethodGet)
	a.HandleFunc("/heatmap", h.requireRole(h.heatmap, realtime.RoleOperator, realtime.RoleCollector)).Methods(http.MethodGet)

	a.HandleFunc("/otp", h.issueOTP).Methods(http.MethodPost)
	a.HandleFunc("/otp/verify", h.verifyOTP).Methods(http.MethodPost)
	return r
}

type identityKey struct{}

// IdentityFrom returns the caller attached by the authentication middleware.
func IdentityFrom(ctx context.Context) (realtime.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(realtime.Identity)
	return id, ok
}

func (h *handlers) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := realtime.Identity{UserID: "anonymous", Role: realtime.RoleOperator}
		if h.Verifier != nil {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			verified, err := h.Verifier.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				h.log.Debugf("reject %s %s: %v", r.Method, r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			id = verified
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func timeout(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *handlers) requireRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFrom(r.Context())
		for _, role := range roles {
			if id.Role == role {
				next(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "forbidden")
	}
}

// self reports whether the caller may act on behalf of userID.
func self(r *http.Request, userID string) bool {
	id, _ := IdentityFrom(r.Context())
	return id.Role == realtime.RoleOperator || (userID != "" && id.UserID == userID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	return dec.Decode(out)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mission.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, mission.ErrNotFound), errors.Is(err, queue.ErrJobNotFound), errors.Is(err, geoindex.ErrUnknownCollector):
		return http.StatusNotFound
	case errors.Is(err, mission.ErrInvalidTransition), errors.Is(err, mission.ErrConflict),
		errors.Is(err, dispatch.ErrMissionNotPending), errors.Is(err, dispatch.ErrNoAvailableCollector),
		errors.Is(err, queue.ErrUnknownKind):
		return http.StatusConflict
	case errors.Is(err, mission.ErrRateLimited), errors.Is(err, cache.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, cache.ErrInvalidCode):
		return http.StatusUnauthorized
	case errors.Is(err, mission.ErrNoFleet):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrDispatchTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, err.Error())
}

func parseStatuses(r *http.Request) ([]model.Status, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	var out []model.Status
	for _, s := range strings.Split(raw, ",") {
		st, err := model.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
