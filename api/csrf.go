package api

import (
	"net/http"

	"github.com/jmcleod/gatehouse/csrf"
)

// adminCSRFValid checks the double-submit pair on a mutating admin API
// request: the X-CSRF-Token header must match the csrf-token cookie.
func (a *API) adminCSRFValid(r *http.Request) bool {
	header, cookie := csrf.FromRequest(r)
	return csrf.WellFormed(header) && csrf.WellFormed(cookie) && csrf.Validate(header, cookie)
}

// loginCSRFReason checks the login request's CSRF pair and returns an
// operator-facing reason when it fails, or "" when it passes. The
// submitted value is the header when present, otherwise the body field;
// when both are present they must agree.
func loginCSRFReason(r *http.Request, bodyToken string) string {
	header, cookie := csrf.FromRequest(r)
	if !csrf.WellFormed(cookie) {
		return "csrf cookie missing or malformed"
	}

	submitted := header
	if submitted == "" {
		submitted = bodyToken
	} else if bodyToken != "" && !csrf.Validate(header, bodyToken) {
		return "csrf header and body disagree"
	}

	if !csrf.WellFormed(submitted) {
		return "csrf token missing or malformed"
	}
	if !csrf.Validate(submitted, cookie) {
		return "csrf token mismatch"
	}
	return ""
}
