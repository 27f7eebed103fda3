// Package api provides the HTTP API for the navigation service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/api/handler"
	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/auth"
	"github.com/breatheroute/navcore/internal/featureflags"
	"github.com/breatheroute/navcore/internal/provider/resilience"
)

// defaultRequestsPerMinute is the per-device limit when none is configured.
const defaultRequestsPerMinute = 600

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version        string
	BuildTime      string
	Logger         zerolog.Logger
	Metrics        *middleware.Metrics
	TracerProvider trace.TracerProvider

	// Tokens validates device bearer tokens. Nil disables authentication.
	Tokens     middleware.TokenValidator
	RequireTLS bool

	// RequestsPerMinute is the per-device limit on navigation endpoints.
	RequestsPerMinute int

	Navigator handler.Navigator
	Registry  *resilience.Registry
	Flags     *featureflags.Service
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)                   // Generate/propagate request ID first
	r.Use(middleware.Tracing(cfg.TracerProvider)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMinute
	}

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Navigator: cfg.Navigator,
	})

	// Without a validator every request is let through unauthenticated.
	var authenticated chi.Middlewares
	if cfg.Tokens != nil {
		authenticated = chi.Chain(middleware.Auth(cfg.Tokens))
	}
	requireScope := func(scope string) chi.Middlewares {
		if cfg.Tokens == nil {
			return nil
		}
		return chi.Middlewares{middleware.RequireScope(scope)}
	}

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		if cfg.Navigator != nil {
			navigationHandler := handler.NewNavigationHandler(cfg.Navigator, cfg.Logger)

			r.Route("/navigation", func(r chi.Router) {
				r.Use(authenticated...)
				r.Use(requireScope(auth.ScopeNavigation)...)
				r.Use(middleware.RateLimitByDevice(middleware.PerMinute(perMinute)))

				r.Get("/progress", navigationHandler.GetProgress)
				r.Get("/session", navigationHandler.GetSession)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireJSON)
					r.Post("/locations", navigationHandler.PostLocations)
					r.Post("/feedback", navigationHandler.SubmitFeedback)
					r.Put("/feedback/{feedbackId}", navigationHandler.UpdateFeedback)
				})
				r.Delete("/feedback/{feedbackId}", navigationHandler.CancelFeedback)
			})
		}

		// Admin endpoints (authenticated) - for internal operations
		if cfg.Flags != nil {
			featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.Flags, cfg.Logger)

			r.Route("/admin", func(r chi.Router) {
				r.Use(authenticated...)
				r.Use(requireScope(auth.ScopeAdmin)...)
				r.Use(middleware.RateLimitByDevice(middleware.PerMinute(perMinute)))

				r.Route("/feature-flags", func(r chi.Router) {
					r.Get("/", featureFlagsHandler.ListFeatureFlags)
					r.With(middleware.RequireJSON).Put("/", featureFlagsHandler.UpsertFeatureFlags)
					r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
					r.Delete("/{key}", featureFlagsHandler.ResetFeatureFlag)
				})
			})
		}
	})

	return r
}
