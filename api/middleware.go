package api

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/jmcleod/gatehouse/session"
)

type contextKey int

const claimsKey contextKey = iota

// SessionCookieName is the admin session cookie.
const SessionCookieName = "admin-token"

// ClaimsFromContext returns the verified admin claims the gateway attached
// to the request, or nil on routes outside the admin prefix.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsKey).(*session.Claims)
	return claims
}

func withClaims(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Gateway is the outermost middleware. In order it decorates security
// headers, authenticates admin routes, applies the API rate limit, and
// refuses tool user agents on admin routes, before handing off to next.
func (a *API) Gateway(next http.Handler) http.Handler {
	cfg := a.headerConfig()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := decorate(w, r, cfg)
		defer sw.finish()
		w = sw
		p := cleanPath(r.URL.Path)

		if underPrefix(p, AdminPrefix) && p != LoginPagePath && p != LogoutPath {
			claims, reason := a.authenticate(r)
			if claims == nil {
				a.audit.logFailure(AuditSessionRejected, r, a.clientIP(r), reason)
				a.clearSessionCookie(w)
				if underPrefix(p, AdminAPIPrefix) {
					writeError(w, http.StatusUnauthorized, message(r, msgUnauthenticated))
				} else {
					http.Redirect(w, r, LoginPagePath, http.StatusFound)
				}
				return
			}
			if underPrefix(p, AdminAPIPrefix) && isMutating(r.Method) && !a.adminCSRFValid(r) {
				a.audit.logFailure(AuditCSRFRejected, r, a.clientIP(r), "admin api csrf")
				writeError(w, http.StatusForbidden, message(r, msgForbidden))
				return
			}
			r = r.WithContext(withClaims(r.Context(), claims))
		}

		if (underPrefix(p, APIPrefix) || underPrefix(p, AdminAPIPrefix)) && p != LoginPath {
			if !a.enforceRateLimit(w, r) {
				return
			}
		}

		if underPrefix(p, AdminPrefix) && isBlockedAgent(r.UserAgent()) {
			a.audit.log(AuditBotBlocked, r, a.clientIP(r), slog.String("user_agent", truncate(r.UserAgent(), 64)))
			writeError(w, http.StatusForbidden, message(r, msgForbidden))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authenticate returns the admin claims carried by r's session cookie, or
// nil with an operator-facing reason.
func (a *API) authenticate(r *http.Request) (*session.Claims, string) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, "no session cookie"
	}
	claims, ok := a.codec.Verify(cookie.Value)
	if !ok {
		return nil, "invalid session token"
	}
	if !claims.IsAdmin {
		return nil, "not an admin session"
	}
	revoked, err := a.revocations.IsRevoked(r.Context(), claims.ID, a.now())
	if err != nil {
		a.audit.log(AuditInternalError, r, a.clientIP(r),
			slog.String("op", "revocation lookup"),
			slog.String("error", err.Error()),
		)
		return nil, "revocation lookup failed"
	}
	if revoked {
		return nil, "revoked session"
	}
	return claims, ""
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     AdminPrefix,
		MaxAge:   int(a.codec.Duration().Seconds()),
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     AdminPrefix,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteStrictMode,
	})
}

// cleanPath normalises p for prefix classification so dot segments and
// doubled slashes cannot move a request out of a protected prefix.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

func underPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
