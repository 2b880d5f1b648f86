package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/wastedispatch/core/events"
	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

// MissionActions is the part of the mission service driven by collectors.
type MissionActions interface {
	ReportLocation(ctx context.Context, collectorID string, pos model.Position) error
	StartCollection(ctx context.Context, missionID, collectorID string) error
	CompleteCollection(ctx context.Context, missionID, collectorID string, c model.Completion) error
}

// Transport is a bidirectional client connection.
type Transport interface {
	Read(ctx context.Context) (Inbound, error)
	Write(ctx context.Context, env Envelope) error
	Close() error
}

// Outbound is a broadcast as seen by mirrors.
type Outbound struct {
	Room     string
	Envelope Envelope
}

// Config tunes session buffering.
type Config struct {
	// SendBuffer is the per-session outbound queue length.
	SendBuffer int `json:"send_buffer" koanf:"send_buffer"`
	// RoomBuffer is the per-member buffer of each room channel.
	RoomBuffer   int           `json:"room_buffer" koanf:"room_buffer"`
	WriteTimeout time.Duration `json:"write_timeout" koanf:"write_timeout"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.RoomBuffer <= 0 {
		c.RoomBuffer = 16
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Hub fans events out to rooms of connected sessions. Each room is a typed
// bus created on first join and dropped when its last member leaves.
// Delivery is at-most-once: full buffers drop messages.
type Hub struct {
	cfg      Config
	verifier Verifier
	actions  MissionActions
	log      logger.Logger
	sink     metrics.MetricsSink
	bus      eventbus.EventBus
	mirror   *eventbus.TypedBus[Outbound]

	mu       sync.RWMutex
	rooms    map[string]*eventbus.TypedBus[Envelope]
	sessions map[string]*Session
}

// HubOptions wires optional collaborators.
type HubOptions struct {
	Logger  logger.Logger
	Metrics metrics.MetricsSink
	Bus     eventbus.EventBus
}

// NewHub creates a hub. actions may be set later with SetActions.
func NewHub(cfg Config, verifier Verifier, actions MissionActions, opts HubOptions) *Hub {
	cfg.SetDefaults()
	h := &Hub{
		cfg:      cfg,
		verifier: verifier,
		actions:  actions,
		log:      logger.OrNop(opts.Logger),
		sink:     opts.Metrics,
		bus:      opts.Bus,
		mirror:   eventbus.NewTypedBuffered[Outbound](256),
		rooms:    make(map[string]*eventbus.TypedBus[Envelope]),
		sessions: make(map[string]*Session),
	}
	if h.sink == nil {
		h.sink = metrics.NopSink{}
	}
	return h
}

// SetActions binds the mission service. It breaks the construction cycle
// between the hub and the service that broadcasts through it.
func (h *Hub) SetActions(a MissionActions) {
	h.mu.Lock()
	h.actions = a
	h.mu.Unlock()
}

// Mirror returns the bus on which every broadcast is republished.
func (h *Hub) Mirror() *eventbus.TypedBus[Outbound] { return h.mirror }

// Authenticate verifies credential without attaching a session.
func (h *Hub) Authenticate(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" || h.verifier == nil {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrAuthentication)
	}
	id, err := h.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if id.UserID == "" || id.Role == "" {
		return Identity{}, fmt.Errorf("%w: incomplete identity", ErrAuthentication)
	}
	return id, nil
}

// Connect verifies credential and attaches transport. On failure no room
// is joined and the transport is left to the caller.
func (h *Hub) Connect(ctx context.Context, credential string, t Transport) (*Session, error) {
	id, err := h.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	return h.Attach(id, t), nil
}

// Attach registers a session for an already verified identity and joins
// its rooms.
func (h *Hub) Attach(id Identity, t Transport) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Identity:  id,
		transport: t,
		hub:       h,
		out:       make(chan Envelope, h.cfg.SendBuffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	for _, room := range roomsFor(id) {
		h.joinLocked(s, room)
	}
	h.mu.Unlock()

	h.sessionChanged(s, true)
	h.log.Infow("session connected", map[string]any{"session_id": s.ID, "user_id": id.UserID, "role": id.Role})
	return s
}

func (h *Hub) joinLocked(s *Session, room string) {
	rb, ok := h.rooms[room]
	if !ok {
		rb = eventbus.NewTypedBuffered[Envelope](h.cfg.RoomBuffer)
		h.rooms[room] = rb
	}
	ch := rb.Subscribe()
	s.subs = append(s.subs, subscription{room: room, ch: ch})
	go s.forward(ch)
}

// detach removes the session from its rooms. Empty rooms are closed.
func (h *Hub) detach(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	for _, sub := range s.subs {
		rb, ok := h.rooms[sub.room]
		if !ok {
			continue
		}
		rb.Unsubscribe(sub.ch)
		if rb.Len() == 0 {
			rb.Close()
			delete(h.rooms, sub.room)
		}
	}
	s.subs = nil
	h.mu.Unlock()

	h.sessionChanged(s, false)
	h.log.Infow("session disconnected", map[string]any{"session_id": s.ID, "user_id": s.Identity.UserID})
}

func (h *Hub) sessionChanged(s *Session, connected bool) {
	delta := -1
	if connected {
		delta = 1
	}
	if r, ok := h.sink.(metrics.SessionRecorder); ok {
		if err := r.RecordSession(s.Identity.Role, delta); err != nil {
			h.log.Errorf("metrics error: %v", err)
		}
	}
	if h.bus != nil {
		h.bus.Publish(events.SessionChanged{SessionID: s.ID, UserID: s.Identity.UserID, Role: s.Identity.Role, Connected: connected})
	}
}

// BroadcastToRoom delivers event to the current members of room and
// returns how many member channels accepted it.
func (h *Hub) BroadcastToRoom(room, event string, payload any) int {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		h.log.Errorf("encode %s: %v", event, err)
		return 0
	}
	h.mirror.Publish(Outbound{Room: room, Envelope: env})
	h.mu.RLock()
	defer h.mu.RUnlock()
	rb, ok := h.rooms[room]
	if !ok {
		return 0
	}
	return rb.Publish(env)
}

// BroadcastToUser delivers event to every session of userID. Offline users
// miss the event.
func (h *Hub) BroadcastToUser(userID, event string, payload any) int {
	return h.BroadcastToRoom(UserRoom(userID), event, payload)
}

// Members returns the number of sessions in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rb, ok := h.rooms[room]; ok {
		return rb.Len()
	}
	return 0
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}
	h.mirror.Close()
}

func (h *Hub) missionActions() MissionActions {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.actions
}
