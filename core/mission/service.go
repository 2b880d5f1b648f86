package mission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/core/events"
	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/queue"
	"github.com/kilianp07/wastedispatch/core/realtime"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

// Broadcaster pushes realtime events. realtime.Hub implements it.
type Broadcaster interface {
	BroadcastToRoom(room, event string, payload any) int
	BroadcastToUser(userID, event string, payload any) int
}

// Enqueuer schedules background jobs. queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload any, opts ...queue.Option) (string, error)
}

// Planner computes dispatch plans. dispatch.Engine implements it.
type Planner interface {
	Assign(ctx context.Context, missionID, organizationID string) (dispatch.Result, error)
}

// CreateRequest is the input of Service.Create.
type CreateRequest struct {
	RequesterID    string           `json:"requester_id"`
	OrganizationID string           `json:"organization_id,omitempty"`
	Waste          model.Waste      `json:"waste"`
	Pickup         *model.Point     `json:"pickup,omitempty"`
	Address        string           `json:"address,omitempty"`
	Contact        model.Contact    `json:"contact"`
	Window         model.TimeWindow `json:"window"`
}

func (r *CreateRequest) normalize() error {
	r.RequesterID = strings.TrimSpace(r.RequesterID)
	r.Address = strings.TrimSpace(r.Address)
	r.Waste.Type = strings.TrimSpace(r.Waste.Type)
	if r.RequesterID == "" {
		return fmt.Errorf("%w: requester_id required", ErrValidation)
	}
	if r.Waste.Type == "" {
		return fmt.Errorf("%w: waste.type required", ErrValidation)
	}
	if r.Waste.EstimatedWeightKg < 0 {
		return fmt.Errorf("%w: negative estimated weight", ErrValidation)
	}
	switch r.Waste.Urgency {
	case "":
		r.Waste.Urgency = model.UrgencyNormal
	case model.UrgencyLow, model.UrgencyNormal, model.UrgencyHigh:
	default:
		return fmt.Errorf("%w: unknown urgency %q", ErrValidation, r.Waste.Urgency)
	}
	if r.Pickup == nil && r.Address == "" {
		return fmt.Errorf("%w: pickup or address required", ErrValidation)
	}
	if r.Pickup != nil {
		if err := r.Pickup.Validate(); err != nil {
			return fmt.Errorf("%w: pickup: %v", ErrValidation, err)
		}
	}
	w := r.Window
	if !w.Start.IsZero() && !w.End.IsZero() && !w.End.After(w.Start) {
		return fmt.Errorf("%w: window end must be after start", ErrValidation)
	}
	return nil
}

// ServiceConfig tunes the mission service.
type ServiceConfig struct {
	// LocationTTL is how long the last known location stays cached.
	LocationTTL time.Duration `json:"location_ttl" koanf:"location_ttl"`
}

// SetDefaults fills zero values.
func (c *ServiceConfig) SetDefaults() {
	if c.LocationTTL <= 0 {
		c.LocationTTL = 10 * time.Minute
	}
}

// ServiceOptions wires the collaborators of a Service. Only Store and
// Planner are required.
type ServiceOptions struct {
	Fleet           geoindex.Fleet
	Settings        dispatch.OrgSettingsProvider
	Hub             Broadcaster
	Jobs            Enqueuer
	Cache           cache.Cache
	CreateLimiter   *cache.RateLimiter
	LocationLimiter *cache.RateLimiter
	Decisions       logging.LogStore
	Logger          logger.Logger
	Metrics         metrics.MetricsSink
	Bus             eventbus.EventBus
}

// Service owns the mission data flow: ingress, dispatch, transitions and
// the broadcasts and notifications that follow them.
type Service struct {
	cfg     ServiceConfig
	store   Store
	machine *Machine
	planner Planner
	opts    ServiceOptions
	log     logger.Logger
	sink    metrics.MetricsSink
	now     func() time.Time
}

// NewService returns a Service over store.
func NewService(cfg ServiceConfig, store Store, planner Planner, opts ServiceOptions) (*Service, error) {
	if store == nil {
		return nil, errors.New("mission: store required")
	}
	if planner == nil {
		return nil, errors.New("mission: planner required")
	}
	cfg.SetDefaults()
	s := &Service{
		cfg:     cfg,
		store:   store,
		machine: NewMachine(store),
		planner: planner,
		opts:    opts,
		log:     logger.OrNop(opts.Logger),
		sink:    opts.Metrics,
		now:     time.Now,
	}
	if s.sink == nil {
		s.sink = metrics.NopSink{}
	}
	return s, nil
}

// Machine exposes the underlying state machine.
func (s *Service) Machine() *Machine { return s.machine }

// Get returns a mission by id.
func (s *Service) Get(ctx context.Context, id string) (model.Mission, error) {
	return s.store.Get(ctx, id)
}

// Create validates and stores a new pending mission, announces it to
// collectors and schedules automatic assignment when the organization
// enables it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Mission, error) {
	if err := req.normalize(); err != nil {
		return model.Mission{}, err
	}
	if !s.opts.CreateLimiter.Allow(ctx, "mission-create", req.RequesterID) {
		return model.Mission{}, fmt.Errorf("%w: requester %s", ErrRateLimited, req.RequesterID)
	}
	now := s.now().UTC()
	m := model.Mission{
		ID:             uuid.NewString(),
		RequesterID:    req.RequesterID,
		OrganizationID: req.OrganizationID,
		Waste:          req.Waste,
		Pickup:         req.Pickup,
		AddressText:    req.Address,
		Contact:        req.Contact,
		Window:         req.Window,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return model.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	s.log.Infow("mission created", map[string]any{"mission_id": m.ID, "requester_id": m.RequesterID, "organization_id": m.OrganizationID})

	room := realtime.RoleRoom(realtime.RoleCollector)
	if m.OrganizationID != "" {
		room = realtime.OrgRoom(m.OrganizationID)
	}
	s.broadcastRoom(room, realtime.EventNewWasteRequest, realtime.MissionSummary{
		MissionID:      m.ID,
		RequesterID:    m.RequesterID,
		OrganizationID: m.OrganizationID,
		Waste:          m.Waste,
		Pickup:         m.Pickup,
		Address:        m.AddressText,
		CreatedAt:      m.CreatedAt,
	})

	settings, err := dispatch.ResolveSettings(ctx, s.opts.Settings, m.OrganizationID)
	if err != nil {
		s.log.Warnf("settings for %s unavailable, auto-assign skipped: %v", m.OrganizationID, err)
		return m, nil
	}
	if settings.AutoAssignEnabled {
		s.enqueue(ctx, queue.KindAssignCollector, queue.AssignPayload{MissionID: m.ID, OrganizationID: m.OrganizationID},
			queue.WithID(queue.AssignJobID(m.ID)))
	}
	return m, nil
}

// Assign runs the dispatch engine for a pending mission and schedules the
// winner. Every attempt is appended to the decision log.
func (s *Service) Assign(ctx context.Context, missionID string) (Transition, dispatch.Result, error) {
	start := s.now()
	m, err := s.store.Get(ctx, missionID)
	if err != nil {
		return Transition{}, dispatch.Result{}, err
	}
	res, err := s.planner.Assign(ctx, missionID, m.OrganizationID)
	if err != nil {
		s.recordDecision(ctx, m, res, err, s.now().Sub(start))
		return Transition{}, res, err
	}
	tr, err := s.machine.Assign(ctx, missionID, res.Winner.Collector.ID)
	s.recordDecision(ctx, m, res, err, s.now().Sub(start))
	if err != nil {
		return Transition{}, res, err
	}
	s.afterTransition(ctx, tr)
	return tr, res, nil
}

// Start moves a scheduled mission to in_progress on behalf of its collector.
func (s *Service) Start(ctx context.Context, missionID, collectorID string) (Transition, error) {
	tr, err := s.machine.Start(ctx, missionID, collectorID)
	if err != nil {
		return Transition{}, err
	}
	s.afterTransition(ctx, tr)
	return tr, nil
}

// Complete finishes an in_progress mission on behalf of its collector.
func (s *Service) Complete(ctx context.Context, missionID, collectorID string, c model.Completion) (Transition, error) {
	tr, err := s.machine.Complete(ctx, missionID, collectorID, c)
	if err != nil {
		return Transition{}, err
	}
	s.afterTransition(ctx, tr)
	return tr, nil
}

// Cancel cancels a non-terminal mission.
func (s *Service) Cancel(ctx context.Context, missionID, reason string) (Transition, error) {
	tr, err := s.machine.Cancel(ctx, missionID, strings.TrimSpace(reason))
	if err != nil {
		return Transition{}, err
	}
	s.afterTransition(ctx, tr)
	return tr, nil
}

// StartCollection implements realtime.MissionActions.
func (s *Service) StartCollection(ctx context.Context, missionID, collectorID string) error {
	_, err := s.Start(ctx, missionID, collectorID)
	return err
}

// CompleteCollection implements realtime.MissionActions.
func (s *Service) CompleteCollection(ctx context.Context, missionID, collectorID string, c model.Completion) error {
	_, err := s.Complete(ctx, missionID, collectorID, c)
	return err
}

// ReportLocation stores a collector position and forwards it to the
// requesters of the collector's active missions and to its organization.
func (s *Service) ReportLocation(ctx context.Context, collectorID string, pos model.Position) error {
	if err := pos.Point.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = s.now().UTC()
	}
	if !s.opts.LocationLimiter.Allow(ctx, "location", collectorID) {
		return fmt.Errorf("%w: collector %s", ErrRateLimited, collectorID)
	}
	var orgID string
	if s.opts.Fleet != nil {
		if err := s.opts.Fleet.UpdatePosition(ctx, collectorID, pos); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		if c, err := s.opts.Fleet.Get(ctx, collectorID); err == nil {
			orgID = c.OrganizationID
		}
	}
	if s.opts.Cache != nil {
		if err := cache.SetJSON(ctx, s.opts.Cache, cache.PrefixLocation+collectorID, pos, s.cfg.LocationTTL); err != nil {
			s.log.Warnf("cache location of %s: %v", collectorID, err)
		}
	}

	update := realtime.LocationUpdate{
		CollectorID:    collectorID,
		Lat:            pos.Point.Lat,
		Lng:            pos.Point.Lng,
		AccuracyMeters: pos.AccuracyMeters,
		Timestamp:      pos.Timestamp,
	}
	active, err := s.store.Find(ctx, Query{CollectorID: collectorID, Statuses: []model.Status{model.StatusScheduled, model.StatusInProgress}})
	if err != nil {
		s.log.Warnf("active missions of %s: %v", collectorID, err)
	}
	seen := make(map[string]bool, len(active))
	for _, m := range active {
		if seen[m.RequesterID] {
			continue
		}
		seen[m.RequesterID] = true
		s.broadcastUser(m.RequesterID, realtime.EventCollectorLocationUpdate, update)
	}
	if orgID != "" {
		s.broadcastRoom(realtime.OrgRoom(orgID), realtime.EventCollectorLocationUpdate, update)
	}
	return nil
}

// CollectorRegistration is the profile of a collector as managed by
// operators.
type CollectorRegistration struct {
	Name           string `json:"name,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	OnDuty         bool   `json:"on_duty"`
}

// RegisterCollector creates the collector or updates its profile.
func (s *Service) RegisterCollector(ctx context.Context, collectorID string, reg CollectorRegistration) (model.Collector, error) {
	collectorID = strings.TrimSpace(collectorID)
	if collectorID == "" {
		return model.Collector{}, fmt.Errorf("%w: collector id required", ErrValidation)
	}
	if s.opts.Fleet == nil {
		return model.Collector{}, ErrNoFleet
	}
	c, err := s.opts.Fleet.Register(ctx, model.Collector{
		ID:             collectorID,
		Name:           strings.TrimSpace(reg.Name),
		OrganizationID: strings.TrimSpace(reg.OrganizationID),
		OnDuty:         reg.OnDuty,
	})
	if err != nil {
		return model.Collector{}, err
	}
	s.log.Infow("collector registered", map[string]any{"collector_id": c.ID, "organization_id": c.OrganizationID, "on_duty": c.OnDuty})
	return c, nil
}

// SetDuty toggles whether the collector takes part in dispatch.
func (s *Service) SetDuty(ctx context.Context, collectorID string, onDuty bool) error {
	if s.opts.Fleet == nil {
		return ErrNoFleet
	}
	if err := s.opts.Fleet.SetOnDuty(ctx, collectorID, onDuty); err != nil {
		return fmt.Errorf("set duty of %s: %w", collectorID, err)
	}
	s.log.Infof("collector %s on duty: %t", collectorID, onDuty)
	return nil
}

// ListForUser returns the missions requested by userID, oldest first.
func (s *Service) ListForUser(ctx context.Context, userID string, statuses ...model.Status) ([]model.Mission, error) {
	return s.store.Find(ctx, Query{RequesterID: userID, Statuses: statuses})
}

// ListForCollector returns the missions assigned to collectorID, oldest first.
func (s *Service) ListForCollector(ctx context.Context, collectorID string, statuses ...model.Status) ([]model.Mission, error) {
	return s.store.Find(ctx, Query{CollectorID: collectorID, Statuses: statuses})
}

// Route orders the collector's open pickups by nearest neighbour from its
// last known position.
func (s *Service) Route(ctx context.Context, collectorID string) (dispatch.Route, error) {
	var start *model.Point
	if s.opts.Fleet != nil {
		c, err := s.opts.Fleet.Get(ctx, collectorID)
		if err != nil {
			return dispatch.Route{}, err
		}
		if c.Position != nil {
			p := c.Position.Point
			start = &p
		}
	}
	open, err := s.ListForCollector(ctx, collectorID, model.StatusScheduled, model.StatusInProgress)
	if err != nil {
		return dispatch.Route{}, err
	}
	return dispatch.PlanRoute(start, open), nil
}

// RedispatchPending enqueues an assignment job for every mission that has
// been pending for longer than olderThan and returns how many missions were
// handed to the queue. Missions with a live assignment job keep that job.
func (s *Service) RedispatchPending(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.opts.Jobs == nil {
		return 0, nil
	}
	pending, err := s.store.Find(ctx, Query{
		Statuses:      []model.Status{model.StatusPending},
		CreatedBefore: s.now().Add(-olderThan),
	})
	if err != nil {
		return 0, fmt.Errorf("find pending missions: %w", err)
	}
	n := 0
	for _, m := range pending {
		p := queue.AssignPayload{MissionID: m.ID, OrganizationID: m.OrganizationID}
		if _, err := s.opts.Jobs.Enqueue(ctx, queue.KindAssignCollector, p, queue.WithID(queue.AssignJobID(m.ID))); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", m.ID, err)
		}
		n++
	}
	if n > 0 {
		s.log.Infof("re-dispatching %d pending missions", n)
	}
	return n, nil
}

func (s *Service) afterTransition(ctx context.Context, tr Transition) {
	m := tr.Mission
	collectorID := m.AssignedCollectorID
	if collectorID == "" {
		collectorID = tr.PriorCollectorID
	}
	s.log.Infow("mission transition", map[string]any{
		"mission_id":   m.ID,
		"from":         tr.Prior,
		"to":           m.Status,
		"collector_id": collectorID,
	})
	if r, ok := s.sink.(metrics.TransitionRecorder); ok {
		ev := metrics.TransitionEvent{
			MissionID:      m.ID,
			OrganizationID: m.OrganizationID,
			CollectorID:    collectorID,
			From:           tr.Prior,
			To:             m.Status,
			Time:           m.UpdatedAt,
		}
		if err := r.RecordTransition(ev); err != nil {
			s.log.Errorf("metrics error: %v", err)
		}
	}
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(events.MissionTransitioned{
			MissionID:      m.ID,
			OrganizationID: m.OrganizationID,
			CollectorID:    collectorID,
			From:           tr.Prior,
			To:             m.Status,
			At:             m.UpdatedAt,
		})
	}

	switch m.Status {
	case model.StatusScheduled:
		p := realtime.CollectorAssigned{MissionID: m.ID, CollectorID: m.AssignedCollectorID, RequesterID: m.RequesterID, ScheduledAt: deref(m.ScheduledAt)}
		s.broadcastUser(m.RequesterID, realtime.EventCollectorAssigned, p)
		s.broadcastUser(m.AssignedCollectorID, realtime.EventCollectorAssigned, p)
		s.notify(ctx, m, "Collector assigned", fmt.Sprintf("A collector has been assigned to your %s pickup.", m.Waste.Type))
	case model.StatusInProgress:
		p := realtime.CollectionStarted{MissionID: m.ID, CollectorID: m.AssignedCollectorID, StartedAt: deref(m.StartedAt)}
		s.broadcastUser(m.RequesterID, realtime.EventCollectionStarted, p)
		s.notify(ctx, m, "Collection started", "Your collector is on the way.")
	case model.StatusCompleted:
		p := realtime.CollectionCompleted{MissionID: m.ID, CollectorID: m.AssignedCollectorID, CompletedAt: deref(m.CompletedAt)}
		if m.Completion != nil {
			p.ActualWeightKg = m.Completion.ActualWeightKg
			p.Notes = m.Completion.Notes
		}
		s.broadcastUser(m.RequesterID, realtime.EventCollectionCompleted, p)
		if m.OrganizationID != "" {
			s.broadcastRoom(realtime.OrgRoom(m.OrganizationID), realtime.EventCollectionCompleted, p)
		}
		s.notify(ctx, m, "Collection completed", "Your waste has been collected. Thank you!")
	case model.StatusCancelled:
		p := realtime.MissionCancelled{MissionID: m.ID, Reason: m.CancelReason, CancelledAt: deref(m.CancelledAt)}
		s.broadcastUser(m.RequesterID, realtime.EventMissionCancelled, p)
		if tr.PriorCollectorID != "" {
			s.broadcastUser(tr.PriorCollectorID, realtime.EventMissionCancelled, p)
		}
		if m.OrganizationID != "" {
			s.broadcastRoom(realtime.OrgRoom(m.OrganizationID), realtime.EventMissionCancelled, p)
		}
		s.notify(ctx, m, "Collection cancelled", "Your collection request has been cancelled.")
	}
}

// notify queues an SMS and an email for the requester's contact points.
func (s *Service) notify(ctx context.Context, m model.Mission, subject, message string) {
	if m.Contact.Phone != "" {
		s.enqueue(ctx, queue.KindNotifySMS, queue.NotifyPayload{Target: m.Contact.Phone, Message: message, MissionID: m.ID})
	}
	if m.Contact.Email != "" {
		s.enqueue(ctx, queue.KindNotifyEmail, queue.NotifyPayload{Target: m.Contact.Email, Subject: subject, Message: message, MissionID: m.ID})
	}
}

func (s *Service) enqueue(ctx context.Context, kind queue.Kind, payload any, opts ...queue.Option) {
	if s.opts.Jobs == nil {
		return
	}
	if _, err := s.opts.Jobs.Enqueue(ctx, kind, payload, opts...); err != nil {
		s.log.Errorf("enqueue %s: %v", kind, err)
	}
}

func (s *Service) broadcastUser(userID, event string, payload any) {
	if s.opts.Hub == nil || userID == "" {
		return
	}
	s.opts.Hub.BroadcastToUser(userID, event, payload)
}

func (s *Service) broadcastRoom(room, event string, payload any) {
	if s.opts.Hub == nil {
		return
	}
	s.opts.Hub.BroadcastToRoom(room, event, payload)
}

func (s *Service) recordDecision(ctx context.Context, m model.Mission, res dispatch.Result, err error, d time.Duration) {
	if s.opts.Decisions == nil {
		return
	}
	rec := logging.LogRecord{
		Timestamp:      s.now().UTC(),
		MissionID:      m.ID,
		OrganizationID: m.OrganizationID,
		Outcome:        decisionOutcome(err),
		UsedFallback:   res.UsedFallback,
		Considered:     res.Considered,
		DurationMs:     d.Milliseconds(),
	}
	if res.Winner.Collector.ID != "" {
		rec.WinnerID = res.Winner.Collector.ID
		rec.Scores = map[string]float64{rec.WinnerID: res.Winner.Score}
		for _, alt := range res.Alternatives {
			rec.Alternatives = append(rec.Alternatives, alt.Collector.ID)
			rec.Scores[alt.Collector.ID] = alt.Score
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if lerr := s.opts.Decisions.Append(ctx, rec); lerr != nil {
		s.log.Errorf("decision log: %v", lerr)
	}
}

func decisionOutcome(err error) string {
	switch {
	case err == nil:
		return "assigned"
	case errors.Is(err, dispatch.ErrNoAvailableCollector):
		return "no_collector"
	case errors.Is(err, dispatch.ErrDispatchTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, dispatch.ErrMissionNotPending):
		return "rejected"
	default:
		return "error"
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
