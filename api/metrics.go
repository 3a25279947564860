package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertRateLimitSpike    AlertType = "rate_limit_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter counts events inside a trailing window.
type slidingCounter struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

// add records an event at now and reports the in-window count if it has
// reached the threshold. The counter resets after firing so one spike
// raises one alert.
func (c *slidingCounter) add(now time.Time) (int, bool) {
	c.times = append(c.times, now)
	c.times = trimWindow(c.times, now, c.window)
	if len(c.times) < c.threshold {
		return 0, false
	}
	n := len(c.times)
	c.times = c.times[:0]
	return n, true
}

// metricsCollector tracks sliding window counters for anomaly detection
// across all origins, complementing the per-origin throttles.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures slidingCounter
	rateLimited   slidingCounter

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultRateLimitWindow       = 1 * time.Minute
	defaultRateLimitThreshold    = 200
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginFailures: slidingCounter{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		rateLimited:   slidingCounter{window: defaultRateLimitWindow, threshold: defaultRateLimitThreshold},
		alertFn:       alertFn,
		now:           time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}

	m.mu.Lock()
	now := m.now()
	var alert *AlertEvent
	switch event {
	case AuditLoginFailure:
		if n, fire := m.loginFailures.add(now); fire {
			alert = &AlertEvent{
				Type:      AlertLoginFailureSpike,
				Message:   "login failure rate exceeds threshold",
				Count:     n,
				Threshold: m.loginFailures.threshold,
				Timestamp: now,
			}
		}
	case AuditRateLimited, AuditLoginLocked:
		if n, fire := m.rateLimited.add(now); fire {
			alert = &AlertEvent{
				Type:      AlertRateLimitSpike,
				Message:   "throttled request rate exceeds threshold",
				Count:     n,
				Threshold: m.rateLimited.threshold,
				Timestamp: now,
			}
		}
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
