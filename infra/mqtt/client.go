package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/wastedispatch/core/model"
	coremon "github.com/kilianp07/wastedispatch/core/monitoring"
	"github.com/kilianp07/wastedispatch/core/realtime"
	"github.com/kilianp07/wastedispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	AuthMethod string `json:"auth_method"`
	// TopicPrefix roots every topic, e.g. "wastedispatch".
	TopicPrefix string `json:"topic_prefix"`
	// QoS per topic family: "events" and "telemetry".
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	TLSConfig  *tls.Config     `json:"-"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "wastedispatch"
	}
	if c.ClientID == "" {
		c.ClientID = "wastedispatch"
	}
}

// Validate checks mandatory fields when the bridge is enabled.
func (c Config) Validate() error {
	if c.Enabled && c.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// LocationSink receives collector positions. mission.Service implements it.
type LocationSink interface {
	ReportLocation(ctx context.Context, collectorID string, pos model.Position) error
}

// DutySink receives shift changes. Sinks that implement it get the duty
// topic subscribed next to the location topic.
type DutySink interface {
	SetDuty(ctx context.Context, collectorID string, onDuty bool) error
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient publishes mirrored events and ingests telematics locations.
type PahoClient struct {
	cli        pahoClient
	prefix     string
	qos        map[string]byte
	sink       LocationSink
	monitor    coremon.Monitor
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the broker. When sink is non-nil the location
// topic is subscribed on every (re)connect.
func NewPahoClient(cfg Config, sink LocationSink, mon coremon.Monitor) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		prefix:     strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:        cfg.QoS,
		sink:       sink,
		monitor:    coremon.OrNop(mon),
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if pc.maxRetries <= 0 {
		pc.maxRetries = 3
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if pc.sink == nil {
			return
		}
		if token := c.Subscribe(LocationTopic(pc.prefix), pc.qosFor("telemetry"), pc.onLocation); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
		if _, ok := pc.sink.(DutySink); !ok {
			return
		}
		if token := c.Subscribe(DutyTopic(pc.prefix), pc.qosFor("telemetry"), pc.onDuty); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// LocationTopic is the wildcard subscription for collector telematics.
func LocationTopic(prefix string) string { return prefix + "/collectors/+/location" }

// DutyTopic is the wildcard subscription for shift changes.
func DutyTopic(prefix string) string { return prefix + "/collectors/+/duty" }

// CollectorDutyTopic is where one collector announces its shift changes.
func CollectorDutyTopic(prefix, collectorID string) string {
	return prefix + "/collectors/" + collectorID + "/duty"
}

// RoomTopic is where broadcasts to room are mirrored. "org:o1" becomes
// "<prefix>/rooms/org/o1/<event>".
func RoomTopic(prefix, room, event string) string {
	return prefix + "/rooms/" + strings.ReplaceAll(room, ":", "/") + "/" + event
}

func (p *PahoClient) qosFor(family string) byte {
	if q, ok := p.qos[family]; ok {
		return q
	}
	return 0
}

// collectorFromTopic extracts <id> from <prefix>/collectors/<id>/<leaf>.
func (p *PahoClient) collectorFromTopic(topic, leaf string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, p.prefix+"/collectors/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/"+leaf)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (p *PahoClient) onLocation(_ paho.Client, msg paho.Message) {
	id, ok := p.collectorFromTopic(msg.Topic(), "location")
	if !ok {
		p.logger.Warnf("ignoring telemetry on %s", msg.Topic())
		return
	}
	var u realtime.LocationUpdate
	if err := json.Unmarshal(msg.Payload(), &u); err != nil {
		p.logger.Errorf("failed to decode location of %s: %v", id, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.sink.ReportLocation(ctx, id, u.Position(time.Now().UTC())); err != nil {
		p.logger.Warnf("location of %s rejected: %v", id, err)
	}
}

func (p *PahoClient) onDuty(_ paho.Client, msg paho.Message) {
	id, ok := p.collectorFromTopic(msg.Topic(), "duty")
	if !ok {
		p.logger.Warnf("ignoring duty change on %s", msg.Topic())
		return
	}
	sink, ok := p.sink.(DutySink)
	if !ok {
		return
	}
	var u realtime.DutyUpdate
	if err := json.Unmarshal(msg.Payload(), &u); err != nil {
		p.logger.Errorf("failed to decode duty of %s: %v", id, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.SetDuty(ctx, id, u.OnDuty); err != nil {
		p.logger.Warnf("duty of %s rejected: %v", id, err)
		return
	}
	p.logger.Infof("collector %s on duty: %t", id, u.OnDuty)
}

// Publish sends payload on topic, retrying with exponential backoff. The
// final failure is reported to the monitor.
func (p *PahoClient) Publish(topic string, payload []byte) error {
	qos := p.qosFor("events")
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published %s", topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	p.monitor.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
