// Package notify defines outbound notification delivery (SMS, email) and
// the router selecting a transport per channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Channel names a delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ErrDeliveryFailure matches every *DeliveryError.
var ErrDeliveryFailure = errors.New("notify: delivery failure")

// ErrNoRoute is returned when no notifier is registered for a channel.
var ErrNoRoute = errors.New("notify: no notifier for channel")

// DeliveryError reports a failed send. Temporary failures are retried by
// the job queue; the others are not.
type DeliveryError struct {
	Channel   Channel
	Target    string
	Temporary bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify %s to %s: %v", e.Channel, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDeliveryFailure) succeed.
func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailure }

// Message is one notification.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers a message to a target on a channel.
type Notifier interface {
	Send(ctx context.Context, channel Channel, target string, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, channel Channel, target string, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, channel Channel, target string, msg Message) error {
	return f(ctx, channel, target, msg)
}

// Router dispatches each send to the notifier registered for its channel.
type Router struct {
	mu     sync.RWMutex
	routes map[Channel]Notifier
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[Channel]Notifier)}
}

// Handle registers n for channel, replacing any previous notifier.
func (r *Router) Handle(channel Channel, n Notifier) {
	r.mu.Lock()
	r.routes[channel] = n
	r.mu.Unlock()
}

// Channels lists the routed channels.
func (r *Router) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.routes))
	for c := range r.routes {
		out = append(out, c)
	}
	return out
}

func (r *Router) Send(ctx context.Context, channel Channel, target string, msg Message) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return &DeliveryError{Channel: channel, Err: errors.New("empty target")}
	}
	r.mu.RLock()
	n, ok := r.routes[channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, channel)
	}
	return n.Send(ctx, channel, target, msg)
}
