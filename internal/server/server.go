// Package server implements the HTTP transport layer for the wvgate gateway.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/app"
	"github.com/eugener/wvgate/internal/config"
	"github.com/eugener/wvgate/internal/ratelimit"
	"github.com/eugener/wvgate/internal/telemetry"
	"github.com/eugener/wvgate/internal/validate"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// CacheSizer reports the number of live cache entries.
type CacheSizer interface {
	Len() int
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           *app.AuthService
	Fetch          *app.FetchService
	Upstream       gateway.Upstream
	CacheSize      CacheSizer          // nil = status reports 0 entries
	RateLimiter    *ratelimit.Registry // nil = no rate limiting
	Environment    string
	TrustProxy     bool               // true = client IP from X-Forwarded-For / X-Real-IP
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics route
	Now            func() time.Time   // nil = time.Now
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &server{
		deps:       deps,
		production: deps.Environment == config.EnvProduction,
	}

	r := chi.NewRouter()

	// Set before Route so the /api subrouter inherits them.
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	if deps.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(securityHeaders)
	r.Use(cors)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(s.rateLimit)
		}

		r.Get("/status", s.handleStatus)
		r.Post("/auth/login", s.handleLogin)
		r.Delete("/auth/session", s.handleLogout)
		r.Delete("/cache/flush", s.handleFlush)

		// Content routes: validation runs before the auth gate so malformed
		// input is rejected without consulting the session.
		r.With(s.requireSession).
			Get("/communities", s.handleCommunities)
		r.With(validateParams(validate.CommunityID), validateQuery(validate.Pagination), s.requireSession).
			Get("/communities/{communityId}/posts", s.handlePosts)
		r.With(validateParams(validate.CommunityID), s.requireSession).
			Get("/communities/{communityId}/artists", s.handleArtists)
		r.With(validateParams(validate.PostID), s.requireSession).
			Get("/posts/{postId}/media", s.handleMedia)
	})

	return r
}

type server struct {
	deps       Deps
	production bool
}
