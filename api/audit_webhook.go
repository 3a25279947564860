package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound audit events.
const webhookQueueSize = 1024

// webhookEvent is the JSON payload POSTed to the external endpoint.
type webhookEvent struct {
	Event     string            `json:"event"`
	Origin    string            `json:"origin,omitempty"`
	Timestamp string            `json:"timestamp"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

func newWebhookEvent(event AuditEvent, originHash string, at time.Time, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Event:     string(event),
		Origin:    originHash,
		Timestamp: at.Format(time.RFC3339),
	}
	if len(attrs) > 0 {
		evt.Attrs = make(map[string]string, len(attrs))
		for _, a := range attrs {
			evt.Attrs[a.Key] = a.Value.String()
		}
	}
	return evt
}

func alertWebhookEvent(alert AlertEvent) webhookEvent {
	return webhookEvent{
		Event:     "alert",
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
		Attrs: map[string]string{
			"type":      string(alert.Type),
			"message":   alert.Message,
			"count":     strconv.Itoa(alert.Count),
			"threshold": strconv.Itoa(alert.Threshold),
		},
	}
}

// auditWebhook dispatches audit events to an external HTTP endpoint.
// Events are enqueued non-blockingly into a bounded channel and sent
// by a background goroutine. If the channel is full, events are dropped.
// Delivery is attempted once; a receiver that needs every event should
// also consume the structured log.
type auditWebhook struct {
	url        string
	authHeader string // "Header: Value" format, e.g., "Authorization: Bearer xxx"
	client     *http.Client
	events     chan webhookEvent
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// newAuditWebhook creates a webhook dispatcher and starts its background loop.
func newAuditWebhook(url, authHeader string) *auditWebhook {
	w := &auditWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// enqueue adds an event to the dispatch queue. If the queue is full, the
// event is dropped and a warning is logged. Events enqueued after close
// are dropped. This method never blocks.
func (w *auditWebhook) enqueue(evt webhookEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		slog.Debug("audit webhook: closed, dropping event", "event", evt.Event)
		return
	}
	select {
	case w.events <- evt:
	default:
		slog.Warn("audit webhook: queue full, dropping event", "event", evt.Event)
	}
}

// close shuts down the webhook dispatcher, draining any remaining events.
// It is safe to call more than once and concurrently with enqueue.
func (w *auditWebhook) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// send POSTs the event to the configured URL.
func (w *auditWebhook) send(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("audit webhook: marshal failed", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		slog.Warn("audit webhook: request creation failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Gatehouse-Audit-Webhook/1.0")

	if w.authHeader != "" {
		parts := strings.SplitN(w.authHeader, ":", 2)
		if len(parts) == 2 {
			req.Header.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Warn("audit webhook: request failed", "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("audit webhook: delivery rejected", "status", resp.StatusCode)
	}
}
