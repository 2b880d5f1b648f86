// Package websocket exposes the realtime hub over gorilla/websocket. The
// upgrade is refused with 401 unless the caller presents a valid token in
// the Authorization header or the token query parameter.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/wastedispatch/core/realtime"
)

// Config tunes connection keep-alive and limits.
type Config struct {
	Path           string        `json:"path" koanf:"path"`
	ReadLimit      int64         `json:"read_limit" koanf:"read_limit"`
	PongWait       time.Duration `json:"pong_wait" koanf:"pong_wait"`
	PingPeriod     time.Duration `json:"ping_period" koanf:"ping_period"`
	AllowedOrigins []string      `json:"allowed_origins" koanf:"allowed_origins"`
}

func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
}

// Transport adapts a websocket connection to realtime.Transport. Only the
// session write loop calls Write; pings go through WriteControl.
type Transport struct {
	conn *websocket.Conn
	cfg  Config

	once sync.Once
	done chan struct{}
}

// NewTransport configures read limits and starts the ping loop.
func NewTransport(conn *websocket.Conn, cfg Config) *Transport {
	cfg.SetDefaults()
	t := &Transport{conn: conn, cfg: cfg, done: make(chan struct{})}
	conn.SetReadLimit(cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	go t.ping()
	return t
}

func (t *Transport) ping() {
	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.PongWait)); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

// Read returns the next text frame. Frames that are not JSON objects yield
// an Inbound with an empty event, which the session rejects.
func (t *Transport) Read(context.Context) (realtime.Inbound, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return realtime.Inbound{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var in realtime.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			return realtime.Inbound{Payload: json.RawMessage(`{}`)}, nil
		}
		return in, nil
	}
}

func (t *Transport) Write(ctx context.Context, env realtime.Envelope) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(env)
}

// Close sends a close frame and releases the connection.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = werr
		}
		if cerr := t.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
