package api

import (
	"net/http"
	"net/netip"
	"strings"
)

// HeaderConfig parameterises the security headers.
type HeaderConfig struct {
	// Production enables HSTS on verified HTTPS requests.
	Production bool
	// DataStoreOrigin is the only cross-origin target allowed in connect-src.
	DataStoreOrigin string
	// TrustedProxies may assert HTTPS via X-Forwarded-Proto or Forwarded.
	TrustedProxies []netip.Prefix
}

// identifyingHeaders are removed from every response.
var identifyingHeaders = []string{"Server", "X-Powered-By", "X-AspNet-Version"}

func contentSecurityPolicy(dataStoreOrigin string) string {
	connect := "connect-src 'self'"
	if dataStoreOrigin != "" {
		connect += " " + dataStoreOrigin
	}
	return strings.Join([]string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self'",
		"font-src 'self'",
		"img-src 'self' data:",
		connect,
		"frame-ancestors 'none'",
		"object-src 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")
}

// DecorateHeaders sets the fixed security header set on h for a response
// to r. It is idempotent.
func DecorateHeaders(h http.Header, r *http.Request, cfg HeaderConfig) {
	h.Set("Content-Security-Policy", contentSecurityPolicy(cfg.DataStoreOrigin))
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=(), usb=()")

	if cfg.Production && requestIsSecure(r, cfg.TrustedProxies) {
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
	}
	for _, name := range identifyingHeaders {
		h.Del(name)
	}
}

// SecurityHeaders is middleware that decorates every response, including
// ones written by handlers that set identifying headers of their own.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := decorate(w, r, cfg)
			defer sw.finish()
			next.ServeHTTP(sw, r)
		})
	}
}

func decorate(w http.ResponseWriter, r *http.Request, cfg HeaderConfig) *headerScrubber {
	DecorateHeaders(w.Header(), r, cfg)
	return &headerScrubber{ResponseWriter: w, req: r, cfg: cfg}
}

// headerScrubber re-applies the security header set at the moment the
// header block is committed, after any downstream handler has had its say.
// Values a handler set, appended or deleted are replaced.
type headerScrubber struct {
	http.ResponseWriter
	req         *http.Request
	cfg         HeaderConfig
	wroteHeader bool
}

func (s *headerScrubber) WriteHeader(code int) {
	if !s.wroteHeader {
		s.wroteHeader = true
		DecorateHeaders(s.Header(), s.req, s.cfg)
	}
	s.ResponseWriter.WriteHeader(code)
}

// finish covers handlers that return without writing, whose header block
// the server commits after they return.
func (s *headerScrubber) finish() {
	if !s.wroteHeader {
		DecorateHeaders(s.Header(), s.req, s.cfg)
	}
}

func (s *headerScrubber) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

func (s *headerScrubber) Flush() {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *headerScrubber) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// requestIsSecure reports whether r arrived over TLS, either directly or
// as asserted by a trusted proxy.
func requestIsSecure(r *http.Request, trustedProxies []netip.Prefix) bool {
	if r.TLS != nil {
		return true
	}
	if !peerTrusted(r, trustedProxies) {
		return false
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
