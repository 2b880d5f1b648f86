package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/config"
	coremon "github.com/kilianp07/wastedispatch/core/monitoring"
)

// captureTransport records events instead of sending them.
type captureTransport struct {
	sentry.Transport

	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captureTransport) Configure(sentry.ClientOptions) {}
func (c *captureTransport) Flush(time.Duration) bool       { return true }
func (c *captureTransport) SendEvent(e *sentry.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureTransport) sent() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func newTestMonitor(t *testing.T) (*sentryMonitor, *captureTransport) {
	t.Helper()
	tr := &captureTransport{}
	m, err := newSentryMonitor(config.SentryConfig{DSN: "https://public@example.com/1", Environment: "test"}, tr)
	require.NoError(t, err)
	return m, tr
}

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	m, err := NewSentryMonitor(config.SentryConfig{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestCaptureExceptionTags(t *testing.T) {
	m, tr := newTestMonitor(t)
	m.CaptureException(errors.New("commit failed"), map[string]string{"module": "queue", "job_id": "j1"})
	m.CaptureException(errors.New("publish failed"), nil)
	m.CaptureException(nil, map[string]string{"module": "x"})

	events := tr.sent()
	require.Len(t, events, 2)
	assert.Equal(t, "queue", events[0].Tags["module"])
	assert.Equal(t, "j1", events[0].Tags["job_id"])
	assert.Equal(t, serviceTag, events[0].Tags["service"])
	assert.Equal(t, "test", events[0].Environment)
	assert.NotContains(t, events[1].Tags, "module")
}

func TestCaptureExceptionDropsCancellation(t *testing.T) {
	m, tr := newTestMonitor(t)
	m.CaptureException(fmt.Errorf("assign m1: %w", context.Canceled), nil)
	assert.Empty(t, tr.sent())
}

func TestRecoverDoesNotRepanic(t *testing.T) {
	m, tr := newTestMonitor(t)
	assert.NotPanics(t, func() {
		m.Recover("worker panic")
		m.Recover(nil)
		m.Flush(10 * time.Millisecond)
	})
	events := tr.sent()
	require.Len(t, events, 1)
	assert.Equal(t, sentry.LevelFatal, events[0].Level)
}
