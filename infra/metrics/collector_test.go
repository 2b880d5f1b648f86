package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/wastedispatch/core/events"
	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

type captureSink struct {
	mu          sync.Mutex
	dispatches  []coremetrics.DispatchEvent
	transitions []coremetrics.TransitionEvent
	jobs        []coremetrics.JobEvent
	sessions    map[string]int
}

func (c *captureSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatches = append(c.dispatches, ev)
	return nil
}

func (c *captureSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, ev)
	return nil
}

func (c *captureSink) RecordJob(ev coremetrics.JobEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, ev)
	return nil
}

func (c *captureSink) RecordSession(role string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions == nil {
		c.sessions = map[string]int{}
	}
	c.sessions[role] += delta
	return nil
}

func (c *captureSink) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.dispatches) + len(c.transitions) + len(c.jobs)
	for _, v := range c.sessions {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestStartEventCollector(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartEventCollector(ctx, bus, sink)
	assert.Eventually(t, func() bool { return bus.Len() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(events.DispatchAttempted{MissionID: "m1", WinnerID: "c1", Score: 0.9, Outcome: "assigned"})
	bus.Publish(events.MissionTransitioned{MissionID: "m1", From: model.StatusPending, To: model.StatusScheduled, At: time.Now()})
	bus.Publish(events.JobFinished{JobID: "j1", Kind: "assign-collector", Outcome: "completed"})
	bus.Publish(events.SessionChanged{Role: "collector", Connected: true})
	bus.Publish("ignored")

	assert.Eventually(t, func() bool { return sink.total() == 4 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "assigned", sink.dispatches[0].Outcome)
	assert.Equal(t, model.StatusScheduled, sink.transitions[0].To)
	assert.Equal(t, "assign-collector", sink.jobs[0].Kind)
	assert.Equal(t, 1, sink.sessions["collector"])
}

func TestStartEventCollector_StopsOnCancel(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())

	StartEventCollector(ctx, bus, &captureSink{})
	assert.Eventually(t, func() bool { return bus.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool { return bus.Len() == 0 }, time.Second, 5*time.Millisecond)
}
