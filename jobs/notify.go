package jobs

import (
	"context"
	"errors"

	"github.com/kilianp07/wastedispatch/core/notify"
	"github.com/kilianp07/wastedispatch/core/queue"
)

// NotifyHandler delivers notify-sms and notify-email jobs.
type NotifyHandler struct {
	Notifier notify.Notifier
	Channel  notify.Channel
}

// Handle sends the message. Non-temporary delivery errors and missing
// routes are permanent.
func (h *NotifyHandler) Handle(ctx context.Context, job queue.Job) error {
	var p queue.NotifyPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	err := h.Notifier.Send(ctx, h.Channel, p.Target, notify.Message{Subject: p.Subject, Body: p.Message})
	if err == nil {
		return nil
	}
	var de *notify.DeliveryError
	if errors.Is(err, notify.ErrNoRoute) || (errors.As(err, &de) && !de.Temporary) {
		return queue.Permanent(err)
	}
	return err
}
