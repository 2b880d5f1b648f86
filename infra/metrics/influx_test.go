package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/core/model"
)

type lineCapture struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCapture) handler(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.lines = append(c.lines, strings.TrimSpace(string(data)))
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (c *lineCapture) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return ""
	}
	return c.lines[len(c.lines)-1]
}

func TestInfluxSink_RecordDispatch(t *testing.T) {
	capture := &lineCapture{}
	srv := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	require.NoError(t, sink.RecordDispatch(coremetrics.DispatchEvent{
		MissionID:      "m1",
		OrganizationID: "o1",
		WinnerID:       "c1",
		Score:          0.87654,
		Considered:     4,
		Outcome:        "assigned",
		Duration:       1500 * time.Microsecond,
		Time:           now,
	}))

	p := write.NewPointWithMeasurement("dispatch_event").
		AddTag("mission_id", "m1").
		AddTag("outcome", "assigned").
		AddTag("fallback", "false").
		AddTag("component", "dispatch_engine").
		AddTag("organization_id", "o1").
		AddTag("collector_id", "c1").
		AddField("score", 0.877).
		AddField("considered", 4).
		AddField("duration_ms", 1.5).
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	assert.Equal(t, expected, capture.last())
}

func TestInfluxSink_RecordTransitionAndJob(t *testing.T) {
	capture := &lineCapture{}
	srv := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	require.NoError(t, sink.RecordTransition(coremetrics.TransitionEvent{
		MissionID: "m1", From: model.StatusScheduled, To: model.StatusInProgress, CollectorID: "c1", Time: time.Now(),
	}))
	assert.True(t, strings.HasPrefix(capture.last(), "mission_transition,"))
	assert.Contains(t, capture.last(), "to=in_progress")

	require.NoError(t, sink.RecordJob(coremetrics.JobEvent{JobID: "j1", Kind: "notify-sms", Attempt: 2, Outcome: "retry", Time: time.Now()}))
	assert.True(t, strings.HasPrefix(capture.last(), "job_attempt,"))
	assert.Contains(t, capture.last(), "attempt=2i")
}

func TestInfluxSink_WriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	assert.Error(t, sink.RecordSession("collector", 1))
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called)
}
