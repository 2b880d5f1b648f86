package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/realtime"
)

type stubToken struct{ err error }

func (t *stubToken) Wait() bool                     { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *stubToken) Error() error                   { return t.err }

type stubClient struct {
	mu           sync.Mutex
	subs         []string
	pubs         map[string][]byte
	retained     map[string]bool
	disconnected int
	willTopic    string
	will         []byte
}

func (c *stubClient) IsConnected() bool      { return c.disconnected == 0 }
func (c *stubClient) IsConnectionOpen() bool { return c.disconnected == 0 }
func (c *stubClient) Connect() paho.Token    { return &stubToken{} }
func (c *stubClient) Disconnect(uint)        { c.mu.Lock(); c.disconnected++; c.mu.Unlock() }
func (c *stubClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubs == nil {
		c.pubs = map[string][]byte{}
		c.retained = map[string]bool{}
	}
	c.pubs[topic] = payload.([]byte)
	c.retained[topic] = retained
	return &stubToken{}
}
func (c *stubClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	c.mu.Lock()
	c.subs = append(c.subs, topic)
	c.mu.Unlock()
	return &stubToken{}
}
func (c *stubClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &stubToken{}
}
func (c *stubClient) Unsubscribe(...string) paho.Token        { return &stubToken{} }
func (c *stubClient) AddRoute(string, paho.MessageHandler)    {}
func (c *stubClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 1 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func useStubClient(t *testing.T) *stubClient {
	t.Helper()
	sc := &stubClient{}
	mqttClientFactory = func(_, _, willTopic string, will []byte) (paho.Client, error) {
		sc.willTopic, sc.will = willTopic, will
		return sc, nil
	}
	t.Cleanup(func() { mqttClientFactory = realMQTTClient })
	return sc
}

func TestTickGoesOnDutyAndPublishes(t *testing.T) {
	rng = rand.New(rand.NewSource(1))
	sc := useStubClient(t)
	center := model.Point{Lat: 48.8566, Lng: 2.3522}
	c := &SimulatedCollector{
		ID:          "col1",
		TopicPrefix: "test",
		Interval:    10 * time.Second,
		SpeedMps:    5,
		Center:      center,
		SpreadM:     1000,
		Duty:        FullDuty(),
		Log:         logger.NopLogger{},
	}
	c.tick(context.Background())

	require.NotNil(t, c.client)
	assert.Equal(t, []string{"test/rooms/user/col1/collector_assigned"}, sc.subs)
	raw, ok := sc.pubs["test/collectors/col1/location"]
	require.True(t, ok)
	var u realtime.LocationUpdate
	require.NoError(t, json.Unmarshal(raw, &u))
	assert.InDelta(t, 50, model.DistanceMeters(center, model.Point{Lat: u.Lat, Lng: u.Lng}), 1)

	assert.JSONEq(t, `{"on_duty":true}`, string(sc.pubs["test/collectors/col1/duty"]))
	assert.True(t, sc.retained["test/collectors/col1/duty"])
	assert.Equal(t, "test/collectors/col1/duty", sc.willTopic)
	assert.JSONEq(t, `{"on_duty":false}`, string(sc.will))
}

func TestTickGoesOffDuty(t *testing.T) {
	rng = rand.New(rand.NewSource(1))
	sc := &stubClient{}
	c := &SimulatedCollector{ID: "col1", TopicPrefix: "test", client: sc, Log: logger.NopLogger{}}
	c.tick(context.Background())
	assert.Nil(t, c.client)
	assert.Equal(t, 1, sc.disconnected)
	require.Len(t, sc.pubs, 1)
	assert.JSONEq(t, `{"on_duty":false}`, string(sc.pubs["test/collectors/col1/duty"]))
}

func TestOnAssignedQueuesMission(t *testing.T) {
	c := &SimulatedCollector{ID: "col1", assignCh: make(chan string, 1), Log: logger.NopLogger{}}
	env, err := realtime.NewEnvelope(realtime.EventCollectorAssigned, realtime.CollectorAssigned{MissionID: "m1", CollectorID: "col1"})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)

	c.onAssigned(nil, stubMessage{topic: "t", payload: data})
	select {
	case id := <-c.assignCh:
		assert.Equal(t, "m1", id)
	default:
		t.Fatal("assignment not queued")
	}

	other, _ := realtime.NewEnvelope(realtime.EventCollectorAssigned, realtime.CollectorAssigned{MissionID: "m2", CollectorID: "col9"})
	data, _ = json.Marshal(other)
	c.onAssigned(nil, stubMessage{topic: "t", payload: data})
	c.onAssigned(nil, stubMessage{topic: "t", payload: []byte("{")})
	assert.Empty(t, c.assignCh)
}

func TestStepStaysWithinSpread(t *testing.T) {
	rng = rand.New(rand.NewSource(7))
	center := model.Point{Lat: 48.8566, Lng: 2.3522}
	p := center
	for i := 0; i < 500; i++ {
		p = step(p, center, 300, 80)
		assert.LessOrEqual(t, model.DistanceMeters(p, center), 300.0+1)
	}
	assert.Equal(t, center, step(center, center, 300, 0))
}
