package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/gatehouse/ratelimit"
)

// enforceRateLimit counts r against its origin's window. It writes the
// X-RateLimit-* headers in every case and, when the origin is over the
// limit, a 429 response; the return value reports whether the request may
// proceed. A store failure lets the request through and is logged.
func (a *API) enforceRateLimit(w http.ResponseWriter, r *http.Request) bool {
	origin := a.clientIP(r)
	st, allowed, err := a.limiter.Allow(r.Context(), origin)
	if err != nil {
		a.audit.log(AuditInternalError, r, origin,
			slog.String("op", "rate limit store"),
			slog.String("error", err.Error()),
		)
	}
	setRateLimitHeaders(w.Header(), st)
	if allowed {
		return true
	}

	retryAfter := st.ResetAt.Sub(a.now())
	a.audit.log(AuditRateLimited, r, origin, slog.Int("count", st.Count))
	writeRateLimited(w, r, retryAfter)
	return false
}

func setRateLimitHeaders(h http.Header, st ratelimit.Status) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(st.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(st.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(st.ResetAt.Unix(), 10))
}

// writeRateLimited sends a 429 Too Many Requests response. Login lockout
// and the API limiter share the same client-facing message.
func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := retryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
		Error:      message(r, msgTooManyAttempts),
		RetryAfter: secs,
	})
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientIP returns the origin key used by the throttles.
func (a *API) clientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

func peerTrusted(r *http.Request, trustedProxies []netip.Prefix) bool {
	if len(trustedProxies) == 0 {
		return false
	}
	remoteIP, ok := parseIPCandidate(r.RemoteAddr)
	if !ok {
		return false
	}
	return addrTrusted(remoteIP, trustedProxies)
}

func addrTrusted(ip string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// extractClientIPWithProxies returns the client address for r. Proxy
// headers are honoured only when the direct peer is a trusted proxy, and
// X-Forwarded-For is walked from the right so a client cannot choose its
// own origin by prepending entries.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	if peerTrusted(r, trustedProxies) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip, ok := parseIPCandidate(parts[i])
				if !ok {
					break
				}
				if !addrTrusted(ip, trustedProxies) {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			elems := strings.Split(fwd, ",")
			for i := len(elems) - 1; i >= 0; i-- {
				for _, param := range strings.Split(elems[i], ";") {
					param = strings.TrimSpace(param)
					if !strings.HasPrefix(strings.ToLower(param), "for=") {
						continue
					}
					if ip, ok := parseIPCandidate(param[4:]); ok && !addrTrusted(ip, trustedProxies) {
						return ip
					}
				}
			}
		}

		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}
