package notify

import (
	"context"

	"github.com/kilianp07/wastedispatch/core/logger"
	corenotify "github.com/kilianp07/wastedispatch/core/notify"
)

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: logger.OrNop(log)}
}

func (n *LogNotifier) Send(_ context.Context, ch corenotify.Channel, target string, msg corenotify.Message) error {
	n.log.Infow("notification", map[string]any{
		"channel": string(ch),
		"target":  target,
		"subject": msg.Subject,
		"body":    msg.Body,
	})
	return nil
}
