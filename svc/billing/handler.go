package billing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/lmsadmin/pkg/audit"
	"github.com/dmitrymomot/lmsadmin/pkg/httpserver"
	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/requestid"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

// Handler exposes the subscription service over HTTP.
type Handler struct {
	svc     subscription.Service
	log     *slog.Logger
	metrics *Metrics
	limiter *UserRateLimiter
	checks  []httpserver.HealthCheck
	now     func() time.Time

	auditStorage audit.Storage
	auditLog     *audit.Logger
	auditReader  *audit.Reader
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics sets the collectors used by the handler and served on /metrics.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithRateLimiter throttles actions that call the provider.
func WithRateLimiter(l *UserRateLimiter) Option {
	return func(h *Handler) {
		if l != nil {
			h.limiter = l
		}
	}
}

// WithHealthChecks adds readiness probes served on /readyz.
func WithHealthChecks(checks ...httpserver.HealthCheck) Option {
	return func(h *Handler) {
		h.checks = append(h.checks, checks...)
	}
}

// WithAuditStorage sets where admin actions are recorded. Defaults to an
// in-memory storage.
func WithAuditStorage(s audit.Storage) Option {
	return func(h *Handler) {
		if s != nil {
			h.auditStorage = s
		}
	}
}

// NewHandler panics on a nil service.
func NewHandler(svc subscription.Service, opts ...Option) *Handler {
	if svc == nil {
		panic("billing: subscription service cannot be nil")
	}
	h := &Handler{
		svc: svc,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	if h.limiter == nil {
		h.limiter = NewUserRateLimiter(1, 5)
	}
	if h.auditStorage == nil {
		h.auditStorage = audit.NewMemoryStorage()
	}
	h.auditLog = newAuditLogger(h.auditStorage, h.now)
	h.auditReader = audit.NewReader(h.auditStorage)
	h.log = h.log.With(logger.Component("billing.http"))
	return h
}

// Routes builds the service router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.HealthCheckHandler(h.log))
	r.Get("/readyz", httpserver.HealthCheckHandler(h.log, h.checks...))
	r.Handle("/metrics", h.metrics.Handler())

	r.Post("/webhooks/stripe", h.handleStripeWebhook)

	r.Route("/billing", func(r chi.Router) {
		r.Use(CallerMiddleware, RequireCaller)
		r.Get("/subscription", h.getSubscription)

		r.Group(func(r chi.Router) {
			r.Use(h.limiter.Middleware)
			r.Post("/checkout", h.createCheckout)
			r.Post("/sync/session", h.syncCheckoutSession)
			r.Post("/sync/subscription", h.syncSubscription)
			r.Post("/subscription/cancel", h.cancelSubscription)
			r.Post("/subscription/reactivate", h.reactivateSubscription)
			r.Post("/portal", h.createPortalLink)
		})
	})

	r.Route("/admin/billing", func(r chi.Router) {
		r.Use(CallerMiddleware, RequireAdmin)
		r.Post("/grants", h.grantSubscription)
		r.Post("/sync/subscription", h.syncSubscription)
		r.Post("/sweep", h.runSweep)
		r.Get("/audit", h.listAuditEvents)
	})

	return r
}

// callerOrEmpty reads the caller set by CallerMiddleware. Routes guarded by
// RequireCaller always have one.
func callerOrEmpty(r *http.Request) subscription.Caller {
	c, _ := subscription.CallerFromContext(r.Context())
	return c
}
