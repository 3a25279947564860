package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/ratelimit"
)

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{15 * time.Minute, 900},
		{10*time.Minute + 1, 601},
		{500 * time.Millisecond, 1},
		{0, 1},
		{-time.Second, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfterSeconds(tt.in), tt.in.String())
	}
}

func TestSetRateLimitHeaders(t *testing.T) {
	reset := time.Date(2026, 5, 4, 9, 15, 0, 0, time.UTC)
	h := make(http.Header)
	setRateLimitHeaders(h, ratelimit.Status{Limit: 100, Remaining: 42, Count: 58, ResetAt: reset})

	assert.Equal(t, "100", h.Get("X-RateLimit-Limit"))
	assert.Equal(t, "42", h.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1777886100", h.Get("X-RateLimit-Reset"))
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, LoginPath, nil)
	writeRateLimited(rec, r, 14*time.Minute+30*time.Second)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "870", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many attempts; try again later","retryAfter":870}`, rec.Body.String())
}

// ---------------------------------------------------------------------------
// client address tests
// ---------------------------------------------------------------------------

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote ipv4",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "remote ipv6",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "ipv4-mapped ipv6 unmapped",
			remoteAddr: "[::ffff:192.0.2.7]:443",
			want:       "192.0.2.7",
		},
		{
			name:       "headers ignored without trusted proxies",
			remoteAddr: "192.168.1.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.25",
				"Forwarded":       "for=198.51.100.26",
				"X-Real-IP":       "198.51.100.27",
			},
			want: "192.168.1.1",
		},
		{
			name:       "empty when nothing parseable",
			remoteAddr: "not-a-hostport",
			want:       "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr}
			r.Header = make(http.Header)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got := extractClientIPWithProxies(r, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trustedCIDR := netip.MustParsePrefix("10.0.0.0/8")

	tests := []struct {
		name           string
		remoteAddr     string
		headers        map[string]string
		trustedProxies []netip.Prefix
		want           string
	}{
		{
			name:           "trusted proxy honors XFF",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.25",
		},
		{
			name:           "rightmost untrusted XFF entry wins",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "203.0.113.66, 198.51.100.25, 10.0.0.7"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.25",
		},
		{
			name:           "invalid XFF entry stops the walk",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25, garbage", "X-Real-IP": "203.0.113.11"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.11",
		},
		{
			name:           "forwarded fallback",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"Forwarded": `for=198.51.100.1;proto=https;by=203.0.113.43`},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.1",
		},
		{
			name:           "forwarded quoted ipv6",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"Forwarded": `for="[2001:db8::1]:4711"`},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "2001:db8::1",
		},
		{
			name:           "x-real-ip fallback",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Real-IP": "203.0.113.11"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.11",
		},
		{
			name:           "untrusted peer ignores XFF",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "untrusted peer ignores Forwarded",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"Forwarded": "for=198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "untrusted peer ignores X-Real-IP",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Real-IP": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "trusted proxy with no headers falls back to remote",
			remoteAddr:     "10.0.0.1:80",
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.1",
		},
		{
			name:           "multiple CIDRs - second matches",
			remoteAddr:     "172.16.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR, netip.MustParsePrefix("172.16.0.0/12")},
			want:           "198.51.100.25",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr}
			r.Header = make(http.Header)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got := extractClientIPWithProxies(r, tt.trustedProxies)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPIClientIP(t *testing.T) {
	a := &API{
		trustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	}

	t.Run("trusted peer uses XFF", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header: http.Header{
				"X-Forwarded-For": []string{"198.51.100.25"},
			},
		}
		assert.Equal(t, "198.51.100.25", a.clientIP(r))
	})

	t.Run("untrusted peer ignores XFF", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "192.168.1.1:80",
			Header: http.Header{
				"X-Forwarded-For": []string{"198.51.100.25"},
			},
		}
		assert.Equal(t, "192.168.1.1", a.clientIP(r))
	})
}

func TestExtractClientIPWithTrustedProxies_SpoofAttempt(t *testing.T) {
	// A client connecting directly tries to pick its origin through
	// forwarding headers.
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	r := &http.Request{
		RemoteAddr: "203.0.113.99:12345",
		Header: http.Header{
			"X-Forwarded-For": []string{"10.0.0.1"},
			"Forwarded":       []string{"for=10.0.0.2"},
			"X-Real-Ip":       []string{"10.0.0.3"},
		},
	}
	got := extractClientIPWithProxies(r, trusted)
	assert.Equal(t, "203.0.113.99", got, "should use TCP peer, not spoofed headers")
}

func TestExtractClientIPWithTrustedProxies_PrependedXFF(t *testing.T) {
	// Entries the client adds end up on the left; the proxy appends the
	// real peer on the right.
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}

	r := &http.Request{
		RemoteAddr: "10.0.0.1:80",
		Header: http.Header{
			"X-Forwarded-For": []string{"1.2.3.4, 198.51.100.25"},
		},
	}
	assert.Equal(t, "198.51.100.25", extractClientIPWithProxies(r, trusted))
}

func TestExtractClientIPWithTrustedProxies_NarrowCIDR(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}

	t.Run("exact match trusted", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header: http.Header{
				"X-Forwarded-For": []string{"198.51.100.25"},
			},
		}
		assert.Equal(t, "198.51.100.25", extractClientIPWithProxies(r, trusted))
	})

	t.Run("adjacent IP not trusted", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.2:80",
			Header: http.Header{
				"X-Forwarded-For": []string{"198.51.100.25"},
			},
		}
		assert.Equal(t, "10.0.0.2", extractClientIPWithProxies(r, trusted), "10.0.0.2 is not in 10.0.0.1/32")
	})
}
