package queue

import "errors"

var (
	// ErrUnknownKind is returned when no handler is registered for a kind.
	ErrUnknownKind = errors.New("queue: unknown job kind")
	// ErrJobNotFound is returned by Replay for ids absent from the failed list.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("queue: stopped")
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not retryable: the job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
