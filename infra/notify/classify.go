// Package notify provides the delivery transports behind core/notify: a
// SendGrid email notifier, an HTTP SMS gateway authenticated with OAuth2
// client credentials, and a log notifier for development.
package notify

import (
	"fmt"
	"net/http"

	corenotify "github.com/kilianp07/wastedispatch/core/notify"
)

// statusError classifies a non-2xx provider answer. Throttling and server
// errors are temporary; other client errors are not.
func statusError(ch corenotify.Channel, target string, code int, body string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return &corenotify.DeliveryError{
		Channel:   ch,
		Target:    target,
		Temporary: code == http.StatusTooManyRequests || code >= 500,
		Err:       fmt.Errorf("provider answered %d: %s", code, truncate(body, 200)),
	}
}

func transportError(ch corenotify.Channel, target string, err error) error {
	return &corenotify.DeliveryError{Channel: ch, Target: target, Temporary: true, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
