// Package session issues and verifies signed, expiring admin session
// tokens. Tokens are HS256 JWTs; the signing secret lives in a memguard
// enclave for the life of the process.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/gatehouse/internal/util"
	"github.com/jmcleod/gatehouse/internal/uuid"
)

const (
	// DefaultDuration is the lifetime of an issued session.
	DefaultDuration = 7 * 24 * time.Hour
	DefaultIssuer   = "gatehouse"
	DefaultAudience = "gatehouse-admin"

	// MinSecretLen is the minimum HS256 key size accepted.
	MinSecretLen = 32
	// maxTokenLen rejects oversized input before any parsing.
	maxTokenLen = 4096
)

var (
	ErrSecretTooShort = fmt.Errorf("session secret must be at least %d bytes", MinSecretLen)
	ErrSigning        = errors.New("session token signing failed")
)

// Codec issues and verifies session tokens. It is safe for concurrent use.
type Codec struct {
	secret   *memguard.Enclave
	issuer   string
	audience string
	duration time.Duration
	now      func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithDuration overrides the session lifetime.
func WithDuration(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.duration = d
		}
	}
}

// WithIssuer overrides the expected and stamped issuer.
func WithIssuer(iss string) Option {
	return func(c *Codec) { c.issuer = iss }
}

// WithAudience overrides the expected and stamped audience.
func WithAudience(aud string) Option {
	return func(c *Codec) { c.audience = aud }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a Codec. The secret is copied into a memguard enclave;
// the caller's slice is left untouched.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	c := &Codec{
		secret:   memguard.NewEnclave(util.CopyBytes(secret)),
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		duration: DefaultDuration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Duration returns the configured session lifetime.
func (c *Codec) Duration() time.Duration {
	return c.duration
}

// Issue signs a new session for subject. The returned claims are exactly
// what the token carries (times truncated to whole seconds).
func (c *Codec) Issue(subject string, isAdmin bool) (string, *Claims, error) {
	now := c.now()
	claims := &Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.duration)),
			ID:        uuid.New(),
		},
	}

	key, err := c.secret.Open()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	defer key.Destroy()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return token, claims, nil
}

// Verify checks the signature, algorithm, issuer, audience, expiry, and
// required fields of token. Any failure yields (nil, false); the reason is
// not reported.
func (c *Codec) Verify(token string) (*Claims, bool) {
	if token == "" || len(token) > maxTokenLen {
		return nil, false
	}

	key, err := c.secret.Open()
	if err != nil {
		return nil, false
	}
	defer key.Destroy()

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
		jwt.WithStrictDecoding(),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	return claims, true
}
