package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/realtime"
)

// Authenticator is the part of the hub used before the upgrade.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (realtime.Identity, error)
	Attach(id realtime.Identity, t realtime.Transport) *realtime.Session
}

// Handler upgrades authenticated requests and runs one session per
// connection.
type Handler struct {
	hub      Authenticator
	cfg      Config
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewHandler(hub Authenticator, cfg Config, log logger.Logger) *Handler {
	cfg.SetDefaults()
	h := &Handler{hub: hub, cfg: cfg, log: logger.OrNop(log)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Credential extracts a bearer token from the Authorization header or the
// token query parameter.
func Credential(r *http.Request) string {
	if a := r.Header.Get("Authorization"); a != "" {
		if tok, ok := strings.CutPrefix(a, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.hub.Authenticate(r.Context(), Credential(r))
	if err != nil {
		h.log.Debugf("websocket auth from %s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade: %v", err)
		return
	}
	s := h.hub.Attach(id, NewTransport(conn, h.cfg))
	if err := s.Run(r.Context()); err != nil && !isClosed(err) {
		h.log.Debugf("session %s ended: %v", s.ID, err)
	}
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
