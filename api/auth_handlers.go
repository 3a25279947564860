package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/gatehouse/credential"
)

// CSRFToken handles GET /api/auth/csrf.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrf.Issue(w)
	if err != nil {
		a.writeInternalError(w, r, "issue csrf token", err)
		return
	}
	writeJSON(w, http.StatusOK, CSRFTokenResponse{CSRFToken: token})
}

// Login handles POST /api/auth/login.
//
// A locked-out origin is refused before anything else is looked at. Every
// other rejection counts as a failed attempt, whatever the cause, and
// gets the same 401 body.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	origin := a.clientIP(r)

	locked, retryAfter, err := a.tracker.IsLocked(ctx, origin)
	if err != nil {
		a.writeInternalError(w, r, "attempt store lookup", err)
		return
	}
	if locked {
		a.audit.log(AuditLoginLocked, r, origin)
		writeRateLimited(w, r, retryAfter)
		return
	}

	if reason := a.checkLogin(w, r); reason != "" {
		a.loginFailed(w, r, origin, reason)
		return
	}

	token, claims, err := a.codec.Issue(a.subject, true)
	if err != nil {
		a.writeInternalError(w, r, "issue session token", err)
		return
	}
	if err := a.tracker.Clear(ctx, origin); err != nil {
		a.audit.log(AuditInternalError, r, origin,
			slog.String("op", "attempt store clear"),
			slog.String("error", err.Error()),
		)
	}

	a.setSessionCookie(w, token, claims.ExpiresAtTime())
	a.audit.log(AuditLoginSuccess, r, origin)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// checkLogin runs the request checks in order and returns the first
// failure's reason, or "" if the credential verified.
func (a *API) checkLogin(w http.ResponseWriter, r *http.Request) string {
	req, err := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if err != nil {
		if errors.Is(err, errContentType) {
			return "content type"
		}
		return "malformed body"
	}
	if err := a.validate.Struct(req); err != nil {
		return "invalid body"
	}
	if reason := loginCSRFReason(r, req.CSRFToken); reason != "" {
		return reason
	}
	if looksLikeInjection(req.Password) {
		return "suspicious input"
	}
	if !credential.Verify(req.Password, a.passwordHash) {
		return "bad credentials"
	}
	return ""
}

func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, origin, reason string) {
	rec, err := a.tracker.RecordFailure(r.Context(), origin)
	if err != nil {
		a.writeInternalError(w, r, "attempt store record", err)
		return
	}
	a.audit.logFailure(AuditLoginFailure, r, origin, reason, slog.Int("failures", rec.Failures))
	writeError(w, http.StatusUnauthorized, message(r, msgInvalidCredentials))
}

// Logout handles POST /admin/api/logout. It needs no valid session: the
// cookie is always cleared, and a token that still verifies is revoked
// for the rest of its lifetime.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if claims, ok := a.codec.Verify(cookie.Value); ok {
			if err := a.revocations.Revoke(r.Context(), claims.ID, claims.ExpiresAtTime()); err != nil {
				a.writeInternalError(w, r, "revoke session", err)
				return
			}
		}
	}

	a.audit.log(AuditLogout, r, a.clientIP(r))
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Session handles GET /admin/api/session.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, message(r, msgUnauthenticated))
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Subject:   claims.Subject,
		IsAdmin:   claims.IsAdmin,
		IssuedAt:  claims.IssuedAtTime(),
		ExpiresAt: claims.ExpiresAtTime(),
	})
}
