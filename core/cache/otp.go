package cache

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrInvalidCode is returned by Verify when the code is wrong or expired.
var ErrInvalidCode = errors.New("cache: invalid one-time code")

// ErrTooManyAttempts is returned after MaxAttempts wrong codes.
var ErrTooManyAttempts = errors.New("cache: too many attempts")

// OTPStore issues and verifies numeric one-time codes keyed by subject
// (usually a phone number).
type OTPStore struct {
	cache       Cache
	ttl         time.Duration
	digits      int
	maxAttempts int64
}

// NewOTPStore returns a store issuing codes of the given length.
func NewOTPStore(c Cache, ttl time.Duration, digits, maxAttempts int) *OTPStore {
	if digits <= 0 {
		digits = 6
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OTPStore{cache: c, ttl: ttl, digits: digits, maxAttempts: int64(maxAttempts)}
}

// Issue generates a code for subject, replacing any previous one.
func (s *OTPStore) Issue(ctx context.Context, subject string) (string, error) {
	space := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.digits)), nil)
	n, err := rand.Int(rand.Reader, space)
	if err != nil {
		return "", fmt.Errorf("otp: generate: %w", err)
	}
	code := fmt.Sprintf("%0*d", s.digits, n)
	if err := s.cache.Set(ctx, PrefixOTP+subject, []byte(code), s.ttl); err != nil {
		return "", err
	}
	_ = s.cache.Delete(ctx, PrefixOTP+"attempts:"+subject)
	return code, nil
}

// Verify consumes the code when it matches.
func (s *OTPStore) Verify(ctx context.Context, subject, code string) error {
	attempts, err := s.cache.Incr(ctx, PrefixOTP+"attempts:"+subject, s.ttl)
	if err == nil && attempts > s.maxAttempts {
		return ErrTooManyAttempts
	}
	stored, err := s.cache.Get(ctx, PrefixOTP+subject)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return ErrInvalidCode
		}
		return err
	}
	if subtle.ConstantTimeCompare(stored, []byte(code)) != 1 {
		return ErrInvalidCode
	}
	_ = s.cache.Delete(ctx, PrefixOTP+subject)
	_ = s.cache.Delete(ctx, PrefixOTP+"attempts:"+subject)
	return nil
}
