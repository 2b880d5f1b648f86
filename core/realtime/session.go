package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

type subscription struct {
	room string
	ch   <-chan Envelope
}

// Session binds a verified identity to one transport.
type Session struct {
	ID       string
	Identity Identity

	transport Transport
	hub       *Hub
	out       chan Envelope
	subs      []subscription

	once sync.Once
	done chan struct{}
}

// forward moves room messages into the session queue without blocking
// the room.
func (s *Session) forward(ch <-chan Envelope) {
	for env := range ch {
		select {
		case s.out <- env:
		case <-s.done:
			return
		default:
		}
	}
}

// Send queues env for this session only. It reports false when the queue
// is full or the session is closed.
func (s *Session) Send(env Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

// Run pumps messages until the transport fails, the context ends or Close
// is called. Inbound messages are handled sequentially on the caller's
// goroutine; a second goroutine writes outbound messages.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.Close()

	writeErr := make(chan error, 1)
	go func() { writeErr <- s.writeLoop(ctx) }()

	readErr := make(chan error, 1)
	inbound := make(chan Inbound)
	go func() {
		for {
			msg, err := s.transport.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-inbound:
			s.handle(ctx, msg)
		case err := <-readErr:
			return err
		case err := <-writeErr:
			return err
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case env := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, s.hub.cfg.WriteTimeout)
			err := s.transport.Write(wctx, env)
			cancel()
			if err != nil {
				return err
			}
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close leaves every room and closes the transport. It is idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.detach(s)
		if err := s.transport.Close(); err != nil {
			s.hub.log.Debugf("close transport %s: %v", s.ID, err)
		}
	})
}

// statusReporter is implemented by transition errors that know the
// mission's current status.
type statusReporter interface {
	CurrentStatus() model.Status
}

func (s *Session) handle(ctx context.Context, msg Inbound) {
	if s.Identity.Role != RoleCollector {
		s.reject(msg.Event, "", "forbidden", errors.New("only collectors may send events"))
		return
	}
	actions := s.hub.missionActions()
	if actions == nil {
		s.reject(msg.Event, "", "unavailable", errors.New("mission service unavailable"))
		return
	}
	collectorID := s.Identity.UserID
	switch msg.Event {
	case InboundLocationUpdate:
		var u LocationUpdate
		if err := json.Unmarshal(msg.Payload, &u); err != nil {
			s.reject(msg.Event, "", "bad_payload", err)
			return
		}
		pos := u.Position(time.Now().UTC())
		if err := pos.Point.Validate(); err != nil {
			s.reject(msg.Event, "", "bad_payload", err)
			return
		}
		if err := actions.ReportLocation(ctx, collectorID, pos); err != nil {
			s.reject(msg.Event, "", "rejected", err)
		}
	case InboundCollectionStarted:
		var p CollectionStarted
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.MissionID == "" {
			s.reject(msg.Event, "", "bad_payload", errors.New("mission_id required"))
			return
		}
		if err := actions.StartCollection(ctx, p.MissionID, collectorID); err != nil {
			s.reject(msg.Event, p.MissionID, "rejected", err)
		}
	case InboundCollectionCompleted:
		var p CollectionCompleted
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.MissionID == "" {
			s.reject(msg.Event, "", "bad_payload", errors.New("mission_id required"))
			return
		}
		c := model.Completion{ActualWeightKg: p.ActualWeightKg, Notes: p.Notes}
		if err := actions.CompleteCollection(ctx, p.MissionID, collectorID, c); err != nil {
			s.reject(msg.Event, p.MissionID, "rejected", err)
		}
	default:
		s.reject(msg.Event, "", "unknown_event", errors.New("unsupported event"))
	}
}

func (s *Session) reject(event, missionID, code string, err error) {
	p := ErrorPayload{Code: code, Message: err.Error(), Event: event, MissionID: missionID}
	var sr statusReporter
	if errors.As(err, &sr) {
		p.Current = sr.CurrentStatus()
	}
	env, eerr := NewEnvelope(EventError, p)
	if eerr != nil {
		return
	}
	if !s.Send(env) {
		s.hub.log.Warnf("dropped error event for session %s", s.ID)
	}
}
