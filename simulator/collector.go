package main

import (
	"context"
	"encoding/json"
	"math"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/realtime"
	"github.com/kilianp07/wastedispatch/infra/mqtt"
)

const metersPerDegree = 111320.0

// SimulatedCollector wanders around Center, publishing its position while on
// duty and handing mission assignments to Handler.
type SimulatedCollector struct {
	ID             string
	OrganizationID string
	Broker         string
	TopicPrefix    string
	Interval       time.Duration
	SpeedMps       float64
	Center         model.Point
	SpreadM        float64
	// Duty is the on-duty probability per hour of day.
	Duty    [24]float64
	Handler MissionHandler
	Log     logger.Logger

	pos      model.Point
	client   paho.Client
	assignCh chan string
}

// Run publishes positions every Interval until ctx is done.
func (c *SimulatedCollector) Run(ctx context.Context) error {
	c.Log = logger.OrNop(c.Log)
	if c.assignCh == nil {
		c.assignCh = make(chan string, 16)
	}
	go c.worker(ctx)

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.goOffDuty()
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *SimulatedCollector) tick(ctx context.Context) {
	onDuty := rng.Float64() < c.Duty[time.Now().Hour()]
	switch {
	case onDuty && c.client == nil:
		c.goOnDuty(ctx)
	case !onDuty && c.client != nil:
		c.goOffDuty()
	}
	if c.client == nil {
		return
	}
	c.pos = step(c.pos, c.Center, c.SpreadM, c.SpeedMps*c.Interval.Seconds())
	c.publishLocation()
}

func (c *SimulatedCollector) goOnDuty(ctx context.Context) {
	offDuty, err := json.Marshal(realtime.DutyUpdate{OnDuty: false})
	if err != nil {
		c.Log.Errorf("marshal duty: %v", err)
		return
	}
	cli, err := mqttClientFactory(c.Broker, "sim-"+c.ID, c.dutyTopic(), offDuty)
	if err != nil {
		c.Log.Warnf("%s: connect: %v", c.ID, err)
		return
	}
	topic := mqtt.RoomTopic(c.TopicPrefix, realtime.UserRoom(c.ID), realtime.EventCollectorAssigned)
	if token := cli.Subscribe(topic, 1, c.onAssigned); token.Wait() && token.Error() != nil {
		c.Log.Warnf("%s: subscribe %s: %v", c.ID, topic, token.Error())
		cli.Disconnect(250)
		return
	}
	if c.pos == (model.Point{}) {
		c.pos = c.Center
	}
	c.client = cli
	c.publishDuty(true)
	c.Log.Debugf("%s: on duty", c.ID)
}

func (c *SimulatedCollector) goOffDuty() {
	if c.client == nil {
		return
	}
	c.publishDuty(false)
	c.client.Disconnect(250)
	c.client = nil
	c.Log.Debugf("%s: off duty", c.ID)
}

func (c *SimulatedCollector) dutyTopic() string {
	return mqtt.CollectorDutyTopic(c.TopicPrefix, c.ID)
}

// publishDuty announces a shift change. It is retained so the dispatcher
// learns the current state on (re)subscribe.
func (c *SimulatedCollector) publishDuty(onDuty bool) {
	payload, err := json.Marshal(realtime.DutyUpdate{OnDuty: onDuty})
	if err != nil {
		c.Log.Errorf("marshal duty: %v", err)
		return
	}
	token := c.client.Publish(c.dutyTopic(), 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		c.Log.Warnf("%s: duty publish timeout", c.ID)
		return
	}
	if err := token.Error(); err != nil {
		c.Log.Warnf("%s: publish duty: %v", c.ID, err)
	}
}

func (c *SimulatedCollector) publishLocation() {
	payload, err := json.Marshal(realtime.LocationUpdate{
		Lat:            c.pos.Lat,
		Lng:            c.pos.Lng,
		AccuracyMeters: 5,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		c.Log.Errorf("marshal location: %v", err)
		return
	}
	topic := c.TopicPrefix + "/collectors/" + c.ID + "/location"
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		c.Log.Warnf("%s: location publish timeout", c.ID)
		return
	}
	if err := token.Error(); err != nil {
		c.Log.Warnf("%s: publish location: %v", c.ID, err)
	}
}

func (c *SimulatedCollector) onAssigned(_ paho.Client, msg paho.Message) {
	var env realtime.Envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		c.Log.Warnf("%s: decode envelope: %v", c.ID, err)
		return
	}
	var p realtime.CollectorAssigned
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.MissionID == "" {
		c.Log.Warnf("%s: bad assignment on %s", c.ID, msg.Topic())
		return
	}
	if p.CollectorID != "" && p.CollectorID != c.ID {
		return
	}
	select {
	case c.assignCh <- p.MissionID:
	default:
		c.Log.Warnf("%s: assignment queue full, dropping mission %s", c.ID, p.MissionID)
	}
}

func (c *SimulatedCollector) worker(ctx context.Context) {
	for {
		select {
		case id := <-c.assignCh:
			if c.Handler != nil {
				c.Handler.Handle(ctx, c.ID, id)
			}
		case <-ctx.Done():
			return
		}
	}
}

// step moves p by dist meters in a random direction, heading back to center
// when the move would leave the spread radius.
func step(p, center model.Point, spread, dist float64) model.Point {
	if dist <= 0 {
		return p
	}
	bearing := rng.Float64() * 2 * math.Pi
	next := offset(p, dist, bearing)
	if spread > 0 && model.DistanceMeters(next, center) > spread {
		back := math.Atan2((center.Lng-p.Lng)*math.Cos(p.Lat*math.Pi/180), center.Lat-p.Lat)
		next = offset(p, math.Min(dist, model.DistanceMeters(p, center)), back)
	}
	return next
}

// offset moves p by dist meters along bearing (radians, 0 is north).
func offset(p model.Point, dist, bearing float64) model.Point {
	dLat := dist * math.Cos(bearing) / metersPerDegree
	dLng := dist * math.Sin(bearing) / (metersPerDegree * math.Cos(p.Lat*math.Pi/180))
	return model.Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}
