// Package api is the HTTP face of gatehouse: the request gateway that
// every request passes through, the security header injector, and the
// CSRF, login, logout, and session endpoints.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-openapi/runtime/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/jmcleod/gatehouse/csrf"
	"github.com/jmcleod/gatehouse/ratelimit"
	"github.com/jmcleod/gatehouse/session"
	"github.com/jmcleod/gatehouse/storage"
	"github.com/jmcleod/gatehouse/storage/memory"
)

// Route layout.
const (
	AdminPrefix    = "/admin"
	AdminAPIPrefix = "/admin/api"
	APIPrefix      = "/api"
	LoginPagePath  = "/admin/login"
	LoginPath      = "/api/auth/login"
	LogoutPath     = "/admin/api/logout"
)

// SessionCodec issues and verifies admin session tokens.
type SessionCodec interface {
	Issue(subject string, isAdmin bool) (string, *session.Claims, error)
	Verify(token string) (*session.Claims, bool)
	Duration() time.Duration
}

// API holds the dependencies needed by the gateway and auth handlers.
type API struct {
	codec        SessionCodec
	passwordHash string
	subject      string

	csrf        *csrf.Manager
	tracker     *ratelimit.LoginTracker
	limiter     *ratelimit.Limiter
	revocations storage.Revocations

	production      bool
	dataStoreOrigin string
	corsOrigins     []string
	trustedProxies  []netip.Prefix

	logger   *slog.Logger
	audit    *auditLogger
	alertFn  AlertFunc
	webhook  *auditWebhook
	validate *validator.Validate
	now      func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithProduction enables Secure cookies and HSTS.
func WithProduction(production bool) Option {
	return func(a *API) { a.production = production }
}

// WithSubject sets the subject stamped into issued sessions.
func WithSubject(subject string) Option {
	return func(a *API) { a.subject = subject }
}

// WithDataStoreOrigin allows browser connections to the data store origin.
func WithDataStoreOrigin(origin string) Option {
	return func(a *API) { a.dataStoreOrigin = origin }
}

// WithCORSOrigins sets the origins allowed to call the login endpoint
// cross-origin. Without it no cross-origin request is allowed.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithTrustedProxies sets the proxies whose forwarding headers are honoured.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithLoginTracker replaces the default in-memory login tracker.
func WithLoginTracker(t *ratelimit.LoginTracker) Option {
	return func(a *API) { a.tracker = t }
}

// WithLimiter replaces the default in-memory API rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *API) { a.limiter = l }
}

// WithRevocations replaces the default in-memory session denylist.
func WithRevocations(r storage.Revocations) Option {
	return func(a *API) { a.revocations = r }
}

// WithAlertFunc is called on login-failure and throttling spikes, in
// addition to the alert being logged and sent to the audit webhook.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAuditWebhook forwards audit events to url. authHeader, if set, has
// the form "Header: Value".
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		if url != "" {
			a.webhook = newAuditWebhook(url, authHeader)
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates a new API instance. passwordHash is the stored admin
// credential; an empty or unusable hash makes every login fail.
func New(codec SessionCodec, passwordHash string, opts ...Option) (*API, error) {
	a := &API{
		codec:        codec,
		passwordHash: passwordHash,
		subject:      "admin",
		now:          time.Now,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	audit, err := newAuditLogger(a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.audit = audit
	if a.tracker == nil {
		a.tracker = ratelimit.NewLoginTracker(nil)
	}
	if a.limiter == nil {
		a.limiter = ratelimit.NewLimiter(nil)
	}
	if a.revocations == nil {
		a.revocations = memory.NewRevocations()
	}
	a.csrf = csrf.NewManager(csrf.WithSecure(a.production))

	a.audit.webhook = a.webhook
	a.audit.metrics = newMetricsCollector(a.dispatchAlert)
	return a, nil
}

func (a *API) dispatchAlert(alert AlertEvent) {
	a.audit.logger.Warn("alert",
		slog.String("type", string(alert.Type)),
		slog.String("message", alert.Message),
		slog.Int("count", alert.Count),
		slog.Int("threshold", alert.Threshold),
	)
	if a.webhook != nil {
		a.webhook.enqueue(alertWebhookEvent(alert))
	}
	if a.alertFn != nil {
		a.alertFn(alert)
	}
}

// Close flushes the audit webhook, if any.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

func (a *API) headerConfig() HeaderConfig {
	return HeaderConfig{
		Production:      a.production,
		DataStoreOrigin: a.dataStoreOrigin,
		TrustedProxies:  a.trustedProxies,
	}
}

// Handler assembles the full request pipeline. Every request passes
// through the gateway first. loginPage serves the login entry point and
// its assets; downstream receives every path not handled here, with
// verified admin claims on its context where applicable.
func (a *API) Handler(loginPage, downstream http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(a.Gateway)
	r.Use(chimw.Recoverer)

	r.NotFound(downstream.ServeHTTP)
	r.MethodNotAllowed(downstream.ServeHTTP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle(LoginPagePath, loginPage)
	r.Handle("/assets/*", loginPage)

	r.Mount(APIPrefix, a.Router())
	r.Mount(AdminAPIPrefix, a.AdminRouter())
	return r
}

// Router returns the public API routes, mounted at APIPrefix.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: APIPrefix + "/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: APIPrefix + "/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Get("/auth/csrf", a.CSRFToken)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.corsOrigins,
			AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", csrf.HeaderName},
			AllowCredentials: true,
			MaxAge:           600,
		}))
		r.Options("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.Post("/auth/login", a.Login)
	})

	return r
}

// AdminRouter returns the admin API routes, mounted at AdminAPIPrefix.
// The gateway has already authenticated every route except logout.
func (a *API) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Post("/logout", a.Logout)
	r.Get("/session", a.Session)
	return r
}
