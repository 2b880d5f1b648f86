package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kilianp07/wastedispatch/auth"
	corenotify "github.com/kilianp07/wastedispatch/core/notify"
)

// SMSConfig configures the HTTP SMS gateway.
type SMSConfig struct {
	URL     string        `json:"url"`
	Sender  string        `json:"sender"`
	Timeout time.Duration `json:"timeout"`
	Auth    auth.Conf     `json:"auth"`
}

func (c *SMSConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c SMSConfig) Validate() error {
	if c.URL == "" {
		return errors.New("sms: url is required")
	}
	return c.Auth.Validate()
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// SMSGateway posts messages to an SMS provider. Tokens come from the OAuth2
// client-credentials flow and are refreshed once when the gateway answers 401.
type SMSGateway struct {
	cfg    SMSConfig
	cred   *auth.ClientCred
	client *http.Client
}

func NewSMSGateway(cfg SMSConfig) (*SMSGateway, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMSGateway{
		cfg:    cfg,
		cred:   auth.NewClientCred(cfg.Auth),
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *SMSGateway) Send(ctx context.Context, ch corenotify.Channel, target string, msg corenotify.Message) error {
	body, err := json.Marshal(smsRequest{To: target, From: g.cfg.Sender, Text: msg.Body})
	if err != nil {
		return &corenotify.DeliveryError{Channel: ch, Target: target, Err: err}
	}
	code, text, err := g.post(ctx, body)
	if err != nil {
		return transportError(ch, target, err)
	}
	if code == http.StatusUnauthorized {
		if _, err := g.cred.ForceRefresh(ctx); err != nil {
			return transportError(ch, target, err)
		}
		if code, text, err = g.post(ctx, body); err != nil {
			return transportError(ch, target, err)
		}
	}
	return statusError(ch, target, code, text)
}

func (g *SMSGateway) post(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := g.cred.SetAuthHeader(ctx, req); err != nil {
		return 0, "", fmt.Errorf("sms token: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(b), nil
}
