package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/wastedispatch/config"
	coremon "github.com/kilianp07/wastedispatch/core/monitoring"
)

const serviceTag = "wastedispatch"

// NewSentryMonitor reports to Sentry when cfg.DSN is set and is a no-op
// otherwise.
func NewSentryMonitor(cfg config.SentryConfig) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	return newSentryMonitor(cfg, nil)
}

// sentryMonitor owns its hub so that scopes never leak between services
// sharing the process.
type sentryMonitor struct {
	hub *sentry.Hub
}

func newSentryMonitor(cfg config.SentryConfig, transport sentry.Transport) (*sentryMonitor, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: cfg.TracesSampleRate,
		Transport:        transport,
		BeforeSend:       dropCancellations,
	})
	if err != nil {
		return nil, err
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	hub.ConfigureScope(func(s *sentry.Scope) { s.SetTag("service", serviceTag) })
	return &sentryMonitor{hub: hub}, nil
}

// dropCancellations discards errors caused by shutdown or caller timeouts.
func dropCancellations(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint != nil && hint.OriginalException != nil && errors.Is(hint.OriginalException, context.Canceled) {
		return nil
	}
	return event
}

// CaptureException reports err with tags such as module, mission_id or
// job_id attached to the event only.
func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

// Recover reports a recovered panic value. The caller decides whether to
// keep running; queue workers do.
func (s *sentryMonitor) Recover(r any) {
	if r == nil {
		return
	}
	s.hub.Recover(r)
	s.hub.Flush(2 * time.Second)
}

func (s *sentryMonitor) Flush(timeout time.Duration) { s.hub.Flush(timeout) }
