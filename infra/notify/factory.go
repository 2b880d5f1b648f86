package notify

import (
	"fmt"

	"github.com/kilianp07/wastedispatch/core/factory"
	"github.com/kilianp07/wastedispatch/core/logger"
	corenotify "github.com/kilianp07/wastedispatch/core/notify"
)

// Config selects one transport per channel. A channel without a type is
// not routed and its jobs fail permanently.
type Config struct {
	SMS   factory.ModuleConfig `json:"sms" koanf:"sms"`
	Email factory.ModuleConfig `json:"email" koanf:"email"`
}

// NewRegistry returns a registry with the built-in transports.
func NewRegistry(log logger.Logger) *factory.Registry[corenotify.Notifier] {
	r := factory.NewRegistry[corenotify.Notifier]()
	_ = r.Register("log", func(map[string]any) (corenotify.Notifier, error) {
		return NewLogNotifier(log), nil
	})
	_ = r.Register("sendgrid", func(conf map[string]any) (corenotify.Notifier, error) {
		var c SendGridConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSendGrid(c)
	})
	_ = r.Register("sms_gateway", func(conf map[string]any) (corenotify.Notifier, error) {
		var c SMSConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSMSGateway(c)
	})
	return r
}

// BuildRouter instantiates the configured transports and routes them.
func BuildRouter(cfg Config, log logger.Logger) (*corenotify.Router, error) {
	reg := NewRegistry(log)
	router := corenotify.NewRouter()
	for ch, mod := range map[corenotify.Channel]factory.ModuleConfig{
		corenotify.ChannelSMS:   cfg.SMS,
		corenotify.ChannelEmail: cfg.Email,
	} {
		if mod.Type == "" {
			continue
		}
		n, err := reg.Create(mod)
		if err != nil {
			return nil, fmt.Errorf("notify %s: %w", ch, err)
		}
		router.Handle(ch, n)
	}
	return router, nil
}
