// Package csrf implements double-submit cookie protection. A random token
// is set in an HttpOnly cookie and handed to the page in the response
// body; the page echoes it back in a header or form field, and a request
// is accepted only if both copies match. A cross-origin attacker can make
// the browser send the cookie but cannot read it to forge the echo.
package csrf

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/jmcleod/gatehouse/internal/util"
)

const (
	CookieName = "csrf-token"
	HeaderName = "X-CSRF-Token"

	// TokenBytes of entropy per token (256 bits).
	TokenBytes = 32
	// TokenLen is the encoded length: lowercase hex.
	TokenLen = 2 * TokenBytes

	DefaultTTL = time.Hour
)

// Manager issues CSRF cookies.
type Manager struct {
	secure bool
	ttl    time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithSecure marks issued cookies Secure. Enable in production.
func WithSecure(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithTTL overrides the cookie lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue generates a fresh token, sets it as the CSRF cookie on w, and
// returns it so the caller can place it in the response body.
func (m *Manager) Issue(w http.ResponseWriter) (string, error) {
	token, err := util.RandomHex(TokenBytes)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Clear expires the CSRF cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// FromRequest returns the header copy and the cookie copy of the token.
// Either may be empty.
func FromRequest(r *http.Request) (header, cookie string) {
	header = r.Header.Get(HeaderName)
	if c, err := r.Cookie(CookieName); err == nil {
		cookie = c.Value
	}
	return header, cookie
}

// WellFormed reports whether token has the exact shape of an issued
// token: TokenLen lowercase hex characters.
func WellFormed(token string) bool {
	if len(token) != TokenLen {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Validate reports whether submitted and cookie are both present and
// equal. Both values are reduced to fixed-size digests before the
// constant-time comparison, so neither a length difference nor the length
// of a matching prefix changes the work done.
func Validate(submitted, cookie string) bool {
	a := digest(submitted)
	b := digest(cookie)
	equal := subtle.ConstantTimeCompare(a[:], b[:]) == 1
	return equal && submitted != "" && cookie != ""
}

func digest(s string) [sha256.Size]byte {
	return sha256.Sum256([]byte(s))
}
