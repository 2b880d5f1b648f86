// Package jwtauth verifies and issues HS256 access tokens carrying the user
// id, role and organization of a realtime or API caller.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kilianp07/wastedispatch/core/realtime"
)

// Config holds the signing secret and token lifetime.
type Config struct {
	Secret string        `json:"secret" koanf:"secret"`
	Issuer string        `json:"issuer" koanf:"issuer"`
	TTL    time.Duration `json:"ttl" koanf:"ttl"`
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration `json:"leeway" koanf:"leeway"`
}

func (c *Config) SetDefaults() {
	if c.Issuer == "" {
		c.Issuer = "wastedispatch"
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Leeway <= 0 {
		c.Leeway = 30 * time.Second
	}
}

func (c Config) Validate() error {
	if len(c.Secret) < 16 {
		return errors.New("auth.jwt.secret must be at least 16 bytes")
	}
	return nil
}

// Claims are the registered claims plus the caller's role and organization.
type Claims struct {
	Role           string `json:"role"`
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Authority signs and verifies tokens with a shared secret.
type Authority struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

func New(cfg Config) (*Authority, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Authority{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}, nil
}

// Issue signs a token for id.
func (a *Authority) Issue(id realtime.Identity) (string, error) {
	if id.UserID == "" || id.Role == "" {
		return "", errors.New("jwt: user id and role are required")
	}
	now := a.now()
	claims := Claims{
		Role:           id.Role,
		OrganizationID: id.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify implements realtime.Verifier. Only HS256 tokens from the configured
// issuer are accepted.
func (a *Authority) Verify(_ context.Context, credential string) (realtime.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return realtime.Identity{}, fmt.Errorf("%w: %v", realtime.ErrAuthentication, err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return realtime.Identity{}, fmt.Errorf("%w: token lacks sub or role", realtime.ErrAuthentication)
	}
	return realtime.Identity{UserID: claims.Subject, Role: claims.Role, OrganizationID: claims.OrganizationID}, nil
}
