package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	corenotify "github.com/kilianp07/wastedispatch/core/notify"
)

// SendGridConfig configures the email notifier.
type SendGridConfig struct {
	APIKey    string `json:"api_key"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
	// BaseURL overrides the API host, mainly for tests.
	BaseURL string `json:"base_url"`
}

func (c *SendGridConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.sendgrid.com"
	}
	if c.FromName == "" {
		c.FromName = "Waste Dispatch"
	}
}

func (c SendGridConfig) Validate() error {
	if c.APIKey == "" || c.FromEmail == "" {
		return errors.New("sendgrid: api_key and from_email are required")
	}
	return nil
}

// SendGrid delivers email through the SendGrid v3 API.
type SendGrid struct {
	cfg SendGridConfig
}

func NewSendGrid(cfg SendGridConfig) (*SendGrid, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SendGrid{cfg: cfg}, nil
}

func (s *SendGrid) Send(ctx context.Context, ch corenotify.Channel, target string, msg corenotify.Message) error {
	subject := msg.Subject
	if subject == "" {
		subject = "Waste collection update"
	}
	m := mail.NewSingleEmail(
		mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail),
		subject,
		mail.NewEmail("", target),
		msg.Body,
		"",
	)
	req := sendgrid.GetRequest(s.cfg.APIKey, "/v3/mail/send", s.cfg.BaseURL)
	req.Method = http.MethodPost
	req.Body = mail.GetRequestBody(m)
	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return transportError(ch, target, err)
	}
	return statusError(ch, target, resp.StatusCode, resp.Body)
}
