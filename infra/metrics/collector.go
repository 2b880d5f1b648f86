package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/wastedispatch/core/events"
	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/infra/logger"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records bus events on
// sink. Sinks with slow writes (InfluxDB) are attached this way so that the
// dispatch and queue paths never wait on them. It stops when the context is
// canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	log := logger.New("metrics-collector")
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := record(sink, ev); err != nil {
					log.Errorf("record %T: %v", ev, err)
				}
			}
		}
	}()
}

func record(sink coremetrics.MetricsSink, ev eventbus.Event) error {
	switch e := ev.(type) {
	case events.DispatchAttempted:
		return sink.RecordDispatch(coremetrics.DispatchEvent{
			MissionID:      e.MissionID,
			OrganizationID: e.OrganizationID,
			WinnerID:       e.WinnerID,
			Score:          e.Score,
			Considered:     e.Considered,
			UsedFallback:   e.UsedFallback,
			Outcome:        e.Outcome,
			Duration:       e.Duration,
			Time:           time.Now(),
		})
	case events.MissionTransitioned:
		if r, ok := sink.(coremetrics.TransitionRecorder); ok {
			return r.RecordTransition(coremetrics.TransitionEvent{
				MissionID:      e.MissionID,
				OrganizationID: e.OrganizationID,
				CollectorID:    e.CollectorID,
				From:           e.From,
				To:             e.To,
				Time:           e.At,
			})
		}
	case events.JobFinished:
		if r, ok := sink.(coremetrics.JobRecorder); ok {
			return r.RecordJob(coremetrics.JobEvent{
				JobID:    e.JobID,
				Kind:     e.Kind,
				Attempt:  e.Attempt,
				Outcome:  e.Outcome,
				Duration: e.Duration,
				Time:     time.Now(),
			})
		}
	case events.SessionChanged:
		if r, ok := sink.(coremetrics.SessionRecorder); ok {
			delta := -1
			if e.Connected {
				delta = 1
			}
			return r.RecordSession(e.Role, delta)
		}
	}
	return nil
}
