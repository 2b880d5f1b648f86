package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/notify"
	"github.com/kilianp07/wastedispatch/core/queue"
)

func job(t *testing.T, kind queue.Kind, payload any) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Job{ID: "j1", Kind: kind, Payload: raw, Attempt: 1}
}

type stubAssigner struct{ err error }

func (s stubAssigner) Assign(_ context.Context, id string) (mission.Transition, dispatch.Result, error) {
	if s.err != nil {
		return mission.Transition{}, dispatch.Result{}, s.err
	}
	return mission.Transition{Mission: model.Mission{ID: id, AssignedCollectorID: "c1"}}, dispatch.Result{}, nil
}

type enqueued struct {
	kind    queue.Kind
	payload any
	delay   time.Duration
	id      string
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (f *fakeJobs) Enqueue(_ context.Context, kind queue.Kind, payload any, opts ...queue.Option) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var j queue.Job
	for _, o := range opts {
		o(&j)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, enqueued{kind: kind, payload: payload, delay: j.NextRunAt.Sub(time.Time{}), id: j.ID})
	return "id", nil
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func TestAssignHandler_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		permanent bool
		requeued  bool
	}{
		{name: "assigned"},
		{name: "already assigned", err: &mission.InvalidTransitionError{MissionID: "m1", Current: model.StatusScheduled, Attempted: model.StatusScheduled}},
		{name: "not pending", err: dispatch.ErrMissionNotPending},
		{name: "no collector", err: dispatch.ErrNoAvailableCollector, requeued: true},
		{name: "timeout", err: dispatch.ErrDispatchTimeout, wantErr: true},
		{name: "missing mission", err: mission.ErrNotFound, wantErr: true, permanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			h := &AssignHandler{Assigner: stubAssigner{err: tt.err}, Jobs: jobs, Delay: time.Minute}
			err := h.Handle(context.Background(), job(t, queue.KindAssignCollector, queue.AssignPayload{MissionID: "m1"}))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.permanent, queue.IsPermanent(err))
			} else {
				require.NoError(t, err)
			}
			if tt.requeued {
				require.Equal(t, 1, jobs.count())
				assert.Equal(t, queue.KindAssignCollector, jobs.jobs[0].kind)
				assert.Equal(t, time.Minute, jobs.jobs[0].delay)
				assert.Equal(t, 1, jobs.jobs[0].payload.(queue.AssignPayload).Redispatch)
				assert.Equal(t, queue.AssignJobID("m1"), jobs.jobs[0].id)
			} else {
				assert.Zero(t, jobs.count())
			}
		})
	}
}

func TestAssignHandler_RedispatchBounded(t *testing.T) {
	jobs := &fakeJobs{}
	h := &AssignHandler{Assigner: stubAssigner{err: dispatch.ErrNoAvailableCollector}, Jobs: jobs, MaxRedispatch: 2}
	err := h.Handle(context.Background(), job(t, queue.KindAssignCollector, queue.AssignPayload{MissionID: "m1", Redispatch: 2}))
	require.NoError(t, err)
	assert.Zero(t, jobs.count())
}

func TestAssignHandler_BadPayload(t *testing.T) {
	h := &AssignHandler{Assigner: stubAssigner{}}
	err := h.Handle(context.Background(), queue.Job{Kind: queue.KindAssignCollector, Payload: json.RawMessage(`{`)})
	assert.True(t, queue.IsPermanent(err))
	err = h.Handle(context.Background(), job(t, queue.KindAssignCollector, queue.AssignPayload{}))
	assert.True(t, queue.IsPermanent(err))
}

func TestNotifyHandler(t *testing.T) {
	var got notify.Message
	var target string
	ok := notify.NotifierFunc(func(_ context.Context, c notify.Channel, to string, m notify.Message) error {
		assert.Equal(t, notify.ChannelEmail, c)
		target, got = to, m
		return nil
	})
	h := &NotifyHandler{Notifier: ok, Channel: notify.ChannelEmail}
	p := queue.NotifyPayload{Target: "a@b.c", Subject: "Assigned", Message: "on the way"}
	require.NoError(t, h.Handle(context.Background(), job(t, queue.KindNotifyEmail, p)))
	assert.Equal(t, "a@b.c", target)
	assert.Equal(t, "Assigned", got.Subject)
	assert.Equal(t, "on the way", got.Body)
}

func TestNotifyHandler_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"temporary", &notify.DeliveryError{Channel: notify.ChannelSMS, Temporary: true, Err: errors.New("503")}, false},
		{"rejected", &notify.DeliveryError{Channel: notify.ChannelSMS, Err: errors.New("invalid number")}, true},
		{"no route", notify.ErrNoRoute, true},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			n := notify.NotifierFunc(func(context.Context, notify.Channel, string, notify.Message) error { return tt.err })
			h := &NotifyHandler{Notifier: n, Channel: notify.ChannelSMS}
			err := h.Handle(context.Background(), job(t, queue.KindNotifySMS, queue.NotifyPayload{Target: "+33"}))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, queue.IsPermanent(err))
		})
	}
}

func pendingAt(id string, lat, lng float64, u model.Urgency) model.Mission {
	return model.Mission{ID: id, OrganizationID: "o1", Status: model.StatusPending, Pickup: &model.Point{Lat: lat, Lng: lng}, Waste: model.Waste{Urgency: u}, CreatedAt: time.Now()}
}

func TestBuildHeatmap(t *testing.T) {
	missions := []model.Mission{
		pendingAt("a", 48.8561, 2.3521, model.UrgencyHigh),
		pendingAt("b", 48.8569, 2.3529, model.UrgencyNormal),
		pendingAt("c", 48.9001, 2.4001, model.UrgencyLow),
		{ID: "no-pickup", Status: model.StatusPending},
	}
	hm := BuildHeatmap("o1", missions, 0.01, time.Now())
	require.Len(t, hm.Cells, 2)
	assert.Equal(t, 2, hm.Cells[0].Count)
	assert.InDelta(t, 1.0, hm.Cells[0].Weight, 1e-9)
	assert.InDelta(t, 0.5/4, hm.Cells[1].Weight, 1e-9)
	assert.InDelta(t, 48.85, hm.Cells[0].Lat, 1e-9)

	empty := BuildHeatmap("o1", nil, 0, time.Now())
	assert.Empty(t, empty.Cells)
	assert.Equal(t, DefaultCellDegrees, empty.CellDegrees)
}

func TestHeatmapHandler_CachesResult(t *testing.T) {
	store := mission.NewMemoryStore(nil)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, pendingAt("a", 48.85, 2.35, model.UrgencyNormal)))
	c := cache.NewMemoryCache()
	h := &HeatmapHandler{Missions: store, Cache: c, TTL: time.Minute}

	require.NoError(t, h.Handle(ctx, job(t, queue.KindRecomputeHeatmap, queue.HeatmapPayload{OrganizationID: "o1"})))
	var hm Heatmap
	require.NoError(t, cache.GetJSON(ctx, c, HeatmapKey("o1"), &hm))
	require.Len(t, hm.Cells, 1)
	assert.Equal(t, 1.0, hm.Cells[0].Weight)
}

func TestCleanupHandler(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Nanosecond))
	time.Sleep(time.Millisecond)
	h := &CleanupHandler{Cache: c}
	require.NoError(t, h.Handle(ctx, job(t, queue.KindCleanup, queue.CleanupPayload{})))
	assert.Equal(t, 0, c.Len())
}

func TestScheduleConfig(t *testing.T) {
	var cfg ScheduleConfig
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	cfg.Heatmap = "every now and then"
	assert.Error(t, cfg.Validate())
}

type countingRedispatcher struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRedispatcher) RedispatchPending(context.Context, time.Duration) (int, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return 0, nil
}

func TestScheduler_EnqueuesRecurringJobs(t *testing.T) {
	jobs := &fakeJobs{}
	r := &countingRedispatcher{}
	s, err := NewScheduler(ScheduleConfig{
		Cleanup:       "@every 1s",
		Heatmap:       "@every 1s",
		Redispatch:    "@every 1s",
		Organizations: []string{"o1", "o2"},
	}, jobs, r, nil)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return jobs.count() >= 3 && r.calls >= 1
	}, 3*time.Second, 20*time.Millisecond)

	kinds := map[queue.Kind]int{}
	jobs.mu.Lock()
	for _, j := range jobs.jobs {
		kinds[j.kind]++
	}
	jobs.mu.Unlock()
	assert.GreaterOrEqual(t, kinds[queue.KindCleanup], 1)
	assert.GreaterOrEqual(t, kinds[queue.KindRecomputeHeatmap], 2)
}

func TestScheduler_DisabledEntry(t *testing.T) {
	s, err := NewScheduler(ScheduleConfig{Cleanup: "off", Heatmap: "off", Redispatch: "off"}, &fakeJobs{}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, s.cron.Entries())
}
