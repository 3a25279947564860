package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingIssuedAt  = errors.New("claims: iat is required")
	errMissingExpiresAt = errors.New("claims: exp is required")
	errMissingID        = errors.New("claims: jti is required")
	errExpiryOrder      = errors.New("claims: exp must be after iat")
)

// Claims is the payload carried by an admin session token. The registered
// fields hold subject, issuer, audience, issue and expiry times, and the
// token ID used for revocation.
type Claims struct {
	IsAdmin bool `json:"adm"`
	jwt.RegisteredClaims
}

// Validate is invoked by the JWT parser after the registered-claim checks.
// It enforces the fields this package always writes, so a token that
// verifies but omits them is still rejected.
func (c *Claims) Validate() error {
	switch {
	case c.IssuedAt == nil:
		return errMissingIssuedAt
	case c.ExpiresAt == nil:
		return errMissingExpiresAt
	case c.ID == "":
		return errMissingID
	case !c.ExpiresAt.After(c.IssuedAt.Time):
		return errExpiryOrder
	}
	return nil
}

// IssuedAtTime returns iat, or the zero time if absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns exp, or the zero time if absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
