package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/infra/logger"
)

// InfluxSink writes dispatch, mission and queue events to an InfluxDB
// instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDispatch writes one dispatch_event point.
func (s *InfluxSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	p := write.NewPointWithMeasurement("dispatch_event").
		AddTag("mission_id", ev.MissionID).
		AddTag("outcome", ev.Outcome).
		AddTag("fallback", strconv.FormatBool(ev.UsedFallback)).
		AddTag("component", "dispatch_engine")
	if ev.OrganizationID != "" {
		p = p.AddTag("organization_id", ev.OrganizationID)
	}
	if ev.WinnerID != "" {
		p = p.AddTag("collector_id", ev.WinnerID)
	}
	p = p.AddField("score", round3(ev.Score)).
		AddField("considered", ev.Considered).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTransition writes one mission_transition point.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	p := write.NewPointWithMeasurement("mission_transition").
		AddTag("mission_id", ev.MissionID).
		AddTag("from", string(ev.From)).
		AddTag("to", string(ev.To))
	if ev.OrganizationID != "" {
		p = p.AddTag("organization_id", ev.OrganizationID)
	}
	if ev.CollectorID != "" {
		p = p.AddTag("collector_id", ev.CollectorID)
	}
	p = p.AddField("count", 1).SetTime(ev.Time)
	return s.write(p)
}

// RecordJob writes one job_attempt point.
func (s *InfluxSink) RecordJob(ev coremetrics.JobEvent) error {
	p := write.NewPointWithMeasurement("job_attempt").
		AddTag("kind", ev.Kind).
		AddTag("outcome", ev.Outcome).
		AddTag("job_id", ev.JobID).
		AddField("attempt", ev.Attempt).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordSession writes one realtime_session point.
func (s *InfluxSink) RecordSession(role string, delta int) error {
	p := write.NewPointWithMeasurement("realtime_session").
		AddTag("role", role).
		AddField("delta", delta).
		SetTime(time.Now())
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
