package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/domain/user"
	"github.com/Strob0t/TenantForge/internal/metrics"
	"github.com/Strob0t/TenantForge/internal/middleware"
)

// RouterOptions configures the middleware chain of NewRouter.
type RouterOptions struct {
	CORSOrigin  string
	ServiceName string
	Verifier    *middleware.TokenVerifier
	AuthEnabled bool
	RateLimiter *middleware.RateLimiter
	Timeout     time.Duration
}

// NewRouter builds the full handler: middleware chain plus every route.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(SecurityHeaders)
	if opts.CORSOrigin != "" {
		r.Use(CORS(opts.CORSOrigin))
	}
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	if opts.ServiceName != "" {
		r.Use(otel.HTTPMiddleware(opts.ServiceName))
	}
	r.Use(metrics.WithHTTP)
	if opts.Timeout > 0 {
		r.Use(chimw.Timeout(opts.Timeout))
	}

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(opts.Verifier, opts.AuthEnabled))
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Use(middleware.RequireRole(user.RolePlatformAdmin))
		MountRoutes(r, h)
	})

	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Tenants
		r.Post("/tenants", h.ProvisionTenant)
		r.Get("/tenants/{id}", h.GetTenant)
		r.Delete("/tenants/{id}", h.DeleteTenant)
		r.Post("/tenants/{id}/owner/credentials", h.RotateOwnerCredential)

		// Idempotency ledger
		r.Get("/provisioning/{key}", h.GetProvisioningRequest)

		// Audit
		r.Get("/audit/{correlationID}", h.ListAudit)
	})
}
