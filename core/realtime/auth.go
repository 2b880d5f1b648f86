package realtime

import (
	"context"
	"errors"
)

// ErrAuthentication is returned when a credential cannot be verified.
var ErrAuthentication = errors.New("realtime: authentication failed")

// Identity is the verified principal behind a session.
type Identity struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Verifier exchanges an opaque credential for an identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, credential string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (Identity, error) {
	return f(ctx, credential)
}
