package mqtt

import (
	"context"
	"encoding/json"

	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/realtime"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

// Publisher sends raw payloads. PahoClient implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Bridge republishes realtime broadcasts on MQTT topics.
type Bridge struct {
	pub    Publisher
	prefix string
	log    logger.Logger
}

// NewBridge returns a bridge publishing under prefix.
func NewBridge(pub Publisher, prefix string, log logger.Logger) *Bridge {
	if prefix == "" {
		prefix = "wastedispatch"
	}
	return &Bridge{pub: pub, prefix: prefix, log: logger.OrNop(log)}
}

// Run mirrors src until ctx ends or src is closed. Publish failures are
// logged and the message is dropped.
func (b *Bridge) Run(ctx context.Context, src *eventbus.TypedBus[realtime.Outbound]) error {
	ch := src.Subscribe()
	defer src.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(out.Envelope)
			if err != nil {
				b.log.Errorf("encode %s: %v", out.Envelope.Event, err)
				continue
			}
			if err := b.pub.Publish(RoomTopic(b.prefix, out.Room, out.Envelope.Event), data); err != nil {
				b.log.Warnf("mirror %s to %s: %v", out.Envelope.Event, out.Room, err)
			}
		}
	}
}
