package api

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zeebo/blake3"

	"github.com/jmcleod/gatehouse/internal/util"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess    AuditEvent = "login_success"
	AuditLoginFailure    AuditEvent = "login_failure"
	AuditLoginLocked     AuditEvent = "login_locked"
	AuditCSRFRejected    AuditEvent = "csrf_rejected"
	AuditSessionRejected AuditEvent = "session_rejected"
	AuditRateLimited     AuditEvent = "rate_limited"
	AuditBotBlocked      AuditEvent = "bot_blocked"
	AuditLogout          AuditEvent = "logout"
	AuditInternalError   AuditEvent = "internal_error"
)

// originHashLen is the number of hash bytes kept in logs: enough to
// correlate one origin's events, too few to brute-force the address space
// back out even with the key.
const originHashLen = 8

// auditLogger wraps slog.Logger for structured security audit logging.
// Client origins are only ever written as a keyed, truncated hash.
type auditLogger struct {
	logger  *slog.Logger
	key     []byte
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) (*auditLogger, error) {
	key, err := util.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("audit origin key: %w", err)
	}
	return &auditLogger{
		logger: logger.With("component", "audit"),
		key:    key,
	}, nil
}

// hashOrigin returns a per-process pseudonym for origin.
func (al *auditLogger) hashOrigin(origin string) string {
	h, err := blake3.NewKeyed(al.key)
	if err != nil {
		return ""
	}
	h.Write([]byte(origin))
	return hex.EncodeToString(h.Sum(nil)[:originHashLen])
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, origin string, attrs ...slog.Attr) {
	if al == nil {
		return
	}
	now := time.Now().UTC()
	originHash := al.hashOrigin(origin)
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("origin", originHash),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	level := slog.LevelInfo
	if event == AuditInternalError {
		level = slog.LevelError
	}
	al.logger.LogAttrs(r.Context(), level, "audit", baseAttrs...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		al.webhook.enqueue(newWebhookEvent(event, originHash, now, attrs))
	}
}

// logFailure logs a rejected request with the internal reason. The reason
// is for operators only and never reaches the client.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, origin, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, origin, attrs...)
}
