package mission

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/core/events"
	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/queue"
	"github.com/kilianp07/wastedispatch/core/realtime"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

type sent struct {
	room, event string
	payload     any
}

type recordingHub struct {
	mu   sync.Mutex
	sent []sent
}

func (h *recordingHub) BroadcastToRoom(room, event string, payload any) int {
	h.mu.Lock()
	h.sent = append(h.sent, sent{room: room, event: event, payload: payload})
	h.mu.Unlock()
	return 1
}

func (h *recordingHub) BroadcastToUser(userID, event string, payload any) int {
	return h.BroadcastToRoom(realtime.UserRoom(userID), event, payload)
}

func (h *recordingHub) to(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, s := range h.sent {
		if s.room == room {
			out = append(out, s.event)
		}
	}
	return out
}

type queued struct {
	kind    queue.Kind
	payload any
}

type recordingJobs struct {
	mu   sync.Mutex
	jobs []queued
}

func (r *recordingJobs) Enqueue(_ context.Context, kind queue.Kind, payload any, _ ...queue.Option) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, queued{kind: kind, payload: payload})
	return "job", nil
}

func (r *recordingJobs) kinds() []queue.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []queue.Kind
	for _, j := range r.jobs {
		out = append(out, j.kind)
	}
	return out
}

type memoryDecisions struct {
	mu   sync.Mutex
	recs []logging.LogRecord
}

func (m *memoryDecisions) Append(_ context.Context, r logging.LogRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memoryDecisions) Query(context.Context, logging.LogQuery) ([]logging.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.LogRecord(nil), m.recs...), nil
}

func (m *memoryDecisions) Close() error { return nil }

type harness struct {
	svc       *Service
	store     *MemoryStore
	fleet     *geoindex.MemoryFleet
	hub       *recordingHub
	jobs      *recordingJobs
	decisions *memoryDecisions
	cache     *cache.MemoryCache
	settings  *dispatch.MemorySettings
	bus       *eventbus.Bus
}

var paris = model.Point{Lat: 48.8566, Lng: 2.3522}

func newHarness(t *testing.T, collectors ...model.Collector) *harness {
	t.Helper()
	h := &harness{
		fleet:     geoindex.NewMemoryFleet(collectors...),
		hub:       &recordingHub{},
		jobs:      &recordingJobs{},
		decisions: &memoryDecisions{},
		cache:     cache.NewMemoryCache(),
		settings:  dispatch.NewMemorySettings(),
		bus:       eventbus.New(),
	}
	h.store = NewMemoryStore(h.fleet)
	engine, err := dispatch.NewEngine(h.fleet, h.store, h.settings, dispatch.Config{})
	require.NoError(t, err)
	h.svc, err = NewService(ServiceConfig{}, h.store, engine, ServiceOptions{
		Fleet:           h.fleet,
		Settings:        h.settings,
		Hub:             h.hub,
		Jobs:            h.jobs,
		Cache:           h.cache,
		CreateLimiter:   cache.NewRateLimiter(h.cache, 3, time.Minute),
		LocationLimiter: cache.NewRateLimiter(h.cache, 100, time.Second),
		Decisions:       h.decisions,
		Bus:             h.bus,
	})
	require.NoError(t, err)
	return h
}

func onDuty(id, org string, at model.Point) model.Collector {
	return model.Collector{
		ID:             id,
		OrganizationID: org,
		OnDuty:         true,
		Position:       &model.Position{Point: at, Timestamp: time.Now()},
	}
}

func request(org string) CreateRequest {
	p := paris
	return CreateRequest{
		RequesterID:    "u1",
		OrganizationID: org,
		Waste:          model.Waste{Type: "bulky", EstimatedWeightKg: 20},
		Pickup:         &p,
		Contact:        model.Contact{Phone: "+33600000000", Email: "u1@example.com"},
	}
}

func TestService_CreateValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	backwards := model.TimeWindow{Start: time.Now(), End: time.Now().Add(-time.Hour)}
	cases := map[string]func(*CreateRequest){
		"no requester":  func(r *CreateRequest) { r.RequesterID = "" },
		"no waste type": func(r *CreateRequest) { r.Waste.Type = " " },
		"bad urgency":   func(r *CreateRequest) { r.Waste.Urgency = "asap" },
		"no location":   func(r *CreateRequest) { r.Pickup = nil },
		"bad pickup":    func(r *CreateRequest) { r.Pickup = &model.Point{Lat: 95} },
		"negative kg":   func(r *CreateRequest) { r.Waste.EstimatedWeightKg = -1 },
		"window":        func(r *CreateRequest) { r.Window = backwards },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request("")
			mutate(&req)
			_, err := h.svc.Create(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestService_CreateAnnouncesAndQueuesAssignment(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.Create(context.Background(), request("o1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, m.Status)
	assert.Equal(t, model.UrgencyNormal, m.Waste.Urgency)
	assert.NotEmpty(t, m.ID)

	assert.Equal(t, []string{realtime.EventNewWasteRequest}, h.hub.to(realtime.OrgRoom("o1")))
	assert.Equal(t, []queue.Kind{queue.KindAssignCollector}, h.jobs.kinds())
}

func TestService_CreateWithoutOrgAnnouncesToAllCollectors(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Create(context.Background(), request(""))
	require.NoError(t, err)
	assert.Equal(t, []string{realtime.EventNewWasteRequest}, h.hub.to(realtime.RoleRoom(realtime.RoleCollector)))
}

func TestService_CreateRespectsAutoAssignSetting(t *testing.T) {
	h := newHarness(t)
	h.settings.Put(model.OrganizationSettings{OrganizationID: "manual", AutoAssignEnabled: false})
	_, err := h.svc.Create(context.Background(), request("manual"))
	require.NoError(t, err)
	assert.Empty(t, h.jobs.kinds())
}

func TestService_CreateRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.svc.Create(ctx, request(""))
		require.NoError(t, err)
	}
	_, err := h.svc.Create(ctx, request(""))
	assert.ErrorIs(t, err, ErrRateLimited)
}

// A pending mission near two collectors is assigned to the closer one,
// both parties are told and the requester is notified.
func TestService_AssignNearestCollector(t *testing.T) {
	near := onDuty("near", "o1", model.Point{Lat: 48.857, Lng: 2.353})
	far := onDuty("far", "o1", model.Point{Lat: 48.90, Lng: 2.40})
	h := newHarness(t, near, far)
	ctx := context.Background()
	transitions := h.bus.Subscribe()

	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)

	tr, res, err := h.svc.Assign(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "near", res.Winner.Collector.ID)
	assert.Equal(t, "near", tr.Mission.AssignedCollectorID)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, "far", res.Alternatives[0].Collector.ID)

	c, err := h.fleet.Get(ctx, "near")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveMissions)

	assert.Contains(t, h.hub.to(realtime.UserRoom("u1")), realtime.EventCollectorAssigned)
	assert.Contains(t, h.hub.to(realtime.UserRoom("near")), realtime.EventCollectorAssigned)
	assert.Equal(t, []queue.Kind{queue.KindAssignCollector, queue.KindNotifySMS, queue.KindNotifyEmail}, h.jobs.kinds())

	require.Len(t, h.decisions.recs, 1)
	rec := h.decisions.recs[0]
	assert.Equal(t, "assigned", rec.Outcome)
	assert.Equal(t, "near", rec.WinnerID)
	assert.Equal(t, []string{"far"}, rec.Alternatives)

	select {
	case ev := <-transitions:
		mt, ok := ev.(events.MissionTransitioned)
		require.True(t, ok)
		assert.Equal(t, model.StatusScheduled, mt.To)
	case <-time.After(time.Second):
		t.Fatal("no transition event")
	}
}

func TestService_AssignWithoutCollectorsStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)

	_, _, err = h.svc.Assign(ctx, m.ID)
	require.ErrorIs(t, err, dispatch.ErrNoAvailableCollector)
	got, err := h.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	require.Len(t, h.decisions.recs, 1)
	assert.Equal(t, "no_collector", h.decisions.recs[0].Outcome)
}

func TestService_AssignTwiceRejected(t *testing.T) {
	h := newHarness(t, onDuty("c1", "o1", paris))
	ctx := context.Background()
	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)
	_, _, err = h.svc.Assign(ctx, m.ID)
	require.NoError(t, err)
	_, _, err = h.svc.Assign(ctx, m.ID)
	assert.ErrorIs(t, err, dispatch.ErrMissionNotPending)
}

func TestService_CollectorDrivesMission(t *testing.T) {
	h := newHarness(t, onDuty("c1", "o1", paris))
	ctx := context.Background()
	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)
	_, _, err = h.svc.Assign(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.StartCollection(ctx, m.ID, "c1"))
	w := 18.0
	require.NoError(t, h.svc.CompleteCollection(ctx, m.ID, "c1", model.Completion{ActualWeightKg: &w}))

	seen := h.hub.to(realtime.UserRoom("u1"))
	assert.Equal(t, []string{realtime.EventCollectorAssigned, realtime.EventCollectionStarted, realtime.EventCollectionCompleted}, seen)
	assert.Contains(t, h.hub.to(realtime.OrgRoom("o1")), realtime.EventCollectionCompleted)

	c, _ := h.fleet.Get(ctx, "c1")
	assert.Equal(t, 0, c.ActiveMissions)
	assert.Equal(t, 1, c.CompletedMissions)

	err = h.svc.StartCollection(ctx, m.ID, "c1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_CancelNotifiesCollector(t *testing.T) {
	h := newHarness(t, onDuty("c1", "o1", paris))
	ctx := context.Background()
	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)
	_, _, err = h.svc.Assign(ctx, m.ID)
	require.NoError(t, err)

	tr, err := h.svc.Cancel(ctx, m.ID, " no longer needed ")
	require.NoError(t, err)
	assert.Equal(t, "no longer needed", tr.Mission.CancelReason)
	assert.Contains(t, h.hub.to(realtime.UserRoom("c1")), realtime.EventMissionCancelled)
	assert.Contains(t, h.hub.to(realtime.UserRoom("u1")), realtime.EventMissionCancelled)

	c, _ := h.fleet.Get(ctx, "c1")
	assert.Equal(t, 0, c.ActiveMissions)
}

func TestService_ReportLocation(t *testing.T) {
	h := newHarness(t, onDuty("c1", "o1", paris))
	ctx := context.Background()
	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)
	_, _, err = h.svc.Assign(ctx, m.ID)
	require.NoError(t, err)

	pos := model.Position{Point: model.Point{Lat: 48.86, Lng: 2.36}, Timestamp: time.Now().Add(time.Second)}
	require.NoError(t, h.svc.ReportLocation(ctx, "c1", pos))

	c, _ := h.fleet.Get(ctx, "c1")
	assert.Equal(t, 48.86, c.Position.Point.Lat)

	var cached model.Position
	require.NoError(t, cache.GetJSON(ctx, h.cache, cache.PrefixLocation+"c1", &cached))
	assert.Equal(t, 2.36, cached.Point.Lng)

	assert.Contains(t, h.hub.to(realtime.UserRoom("u1")), realtime.EventCollectorLocationUpdate)
	assert.Contains(t, h.hub.to(realtime.OrgRoom("o1")), realtime.EventCollectorLocationUpdate)

	err = h.svc.ReportLocation(ctx, "c1", model.Position{Point: model.Point{Lat: -91}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_ReportLocationRateLimited(t *testing.T) {
	h := newHarness(t, onDuty("c1", "", paris))
	h.svc.opts.LocationLimiter = cache.NewRateLimiter(h.cache, 1, time.Minute)
	ctx := context.Background()
	require.NoError(t, h.svc.ReportLocation(ctx, "c1", model.Position{Point: paris}))
	err := h.svc.ReportLocation(ctx, "c1", model.Position{Point: paris})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestService_ListsAndRoute(t *testing.T) {
	h := newHarness(t, onDuty("c1", "", paris))
	ctx := context.Background()
	var ids []string
	for i := 0; i < 2; i++ {
		m, err := h.svc.Create(ctx, request(""))
		require.NoError(t, err)
		_, _, err = h.svc.Assign(ctx, m.ID)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	mine, err := h.svc.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	assigned, err := h.svc.ListForCollector(ctx, "c1", model.StatusScheduled)
	require.NoError(t, err)
	assert.Len(t, assigned, 2)

	route, err := h.svc.Route(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, route.Stops, 2)
	assert.ElementsMatch(t, ids, []string{route.Stops[0].MissionID, route.Stops[1].MissionID})
}

func TestService_RedispatchPending(t *testing.T) {
	h := newHarness(t)
	h.settings.Put(model.OrganizationSettings{OrganizationID: "manual", AutoAssignEnabled: false})
	ctx := context.Background()
	_, err := h.svc.Create(ctx, request("manual"))
	require.NoError(t, err)

	n, err := h.svc.RedispatchPending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = h.svc.RedispatchPending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []queue.Kind{queue.KindAssignCollector}, h.jobs.kinds())
}

func TestService_RegisterCollectorThenDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.svc.RegisterCollector(ctx, "c1", CollectorRegistration{OrganizationID: "o1", OnDuty: true})
	require.NoError(t, err)
	assert.Equal(t, "o1", c.OrganizationID)
	require.NoError(t, h.svc.ReportLocation(ctx, "c1", model.Position{Point: paris}))

	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)
	tr, _, err := h.svc.Assign(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", tr.Mission.AssignedCollectorID)

	require.NoError(t, h.svc.SetDuty(ctx, "c1", false))
	m2, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)
	_, _, err = h.svc.Assign(ctx, m2.ID)
	assert.ErrorIs(t, err, dispatch.ErrNoAvailableCollector)

	c, err = h.svc.RegisterCollector(ctx, "c1", CollectorRegistration{OrganizationID: "o1", OnDuty: true})
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveMissions)

	_, err = h.svc.RegisterCollector(ctx, " ", CollectorRegistration{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, h.svc.SetDuty(ctx, "ghost", true), geoindex.ErrUnknownCollector)
}

func TestService_RedispatchKeepsOneJobPerMission(t *testing.T) {
	h := newHarness(t)
	q := queue.New(queue.Config{}, queue.Options{})
	q.Register(queue.KindAssignCollector, queue.HandlerFunc(func(context.Context, queue.Job) error { return nil }))
	h.svc.opts.Jobs = q
	ctx := context.Background()

	m, err := h.svc.Create(ctx, request("o1"))
	require.NoError(t, err)
	h.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	for i := 0; i < 3; i++ {
		n, err := h.svc.RedispatchPending(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, 1, q.Stats()[queue.KindAssignCollector].Waiting)

	id, err := q.Enqueue(ctx, queue.KindAssignCollector, queue.AssignPayload{MissionID: m.ID}, queue.WithID(queue.AssignJobID(m.ID)))
	require.NoError(t, err)
	assert.Equal(t, queue.AssignJobID(m.ID), id)
	assert.Equal(t, 1, q.Stats()[queue.KindAssignCollector].Waiting)
}

type inboxTransport struct {
	got    chan realtime.Envelope
	closed chan struct{}
	once   sync.Once
}

func newInbox() *inboxTransport {
	return &inboxTransport{got: make(chan realtime.Envelope, 16), closed: make(chan struct{})}
}

func (t *inboxTransport) Read(ctx context.Context) (realtime.Inbound, error) {
	select {
	case <-t.closed:
		return realtime.Inbound{}, io.EOF
	case <-ctx.Done():
		return realtime.Inbound{}, ctx.Err()
	}
}

func (t *inboxTransport) Write(_ context.Context, env realtime.Envelope) error {
	select {
	case t.got <- env:
		return nil
	case <-t.closed:
		return io.ErrClosedPipe
	}
}

func (t *inboxTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func TestService_OrgTrafficSkipsOtherRequesters(t *testing.T) {
	h := newHarness(t, onDuty("c1", "acme", paris))
	hub := realtime.NewHub(realtime.Config{}, nil, h.svc, realtime.HubOptions{})
	h.svc.opts.Hub = hub
	attach := func(id realtime.Identity) *inboxTransport {
		tr := newInbox()
		sess := hub.Attach(id, tr)
		ctx, cancel := context.WithCancel(context.Background())
		go func() { _ = sess.Run(ctx) }()
		t.Cleanup(func() {
			cancel()
			sess.Close()
		})
		return tr
	}
	neighbour := attach(realtime.Identity{UserID: "neighbour", Role: realtime.RoleRequester, OrganizationID: "acme"})
	collector := attach(realtime.Identity{UserID: "c1", Role: realtime.RoleCollector, OrganizationID: "acme"})

	ctx := context.Background()
	req := request("acme")
	req.RequesterID = "someone-else"
	req.Address = "12 rue privee"
	_, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, h.svc.ReportLocation(ctx, "c1", model.Position{Point: paris}))

	for _, want := range []string{realtime.EventNewWasteRequest, realtime.EventCollectorLocationUpdate} {
		select {
		case env := <-collector.got:
			assert.Equal(t, want, env.Event)
		case <-time.After(2 * time.Second):
			t.Fatalf("collector missed %s", want)
		}
	}
	select {
	case env := <-neighbour.got:
		t.Fatalf("requester received %s", env.Event)
	case <-time.After(100 * time.Millisecond):
	}
}
