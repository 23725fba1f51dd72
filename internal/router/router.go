package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/queueup/backend/internal/config"
	"github.com/queueup/backend/internal/handlers"
	"github.com/queueup/backend/internal/metrics"
	"github.com/queueup/backend/internal/middleware"
	"github.com/queueup/backend/internal/sentry"
	"github.com/queueup/backend/internal/services"
	"github.com/queueup/backend/internal/session"
	"github.com/queueup/backend/internal/syncer"
)

// Deps are the long-lived components the routes are served from.
type Deps struct {
	Registry  *session.Registry
	Processor *session.Processor
	Syncer    *syncer.Synchronizer
	Metrics   *metrics.Metrics
	Auth      *services.AuthService
	YouTube   *services.YouTubeService
	Names     *services.NameGenerator
}

// New builds the HTTP handler. The returned func stops the rate limiter
// cleanup goroutines and should be called on shutdown.
func New(cfg *config.Config, deps Deps) (http.Handler, func()) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(sentry.Middleware)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))
	if deps.Metrics != nil {
		r.Use(metrics.RequestMiddleware(deps.Metrics))
	}

	var counter handlers.ConnectionCounter
	if deps.Metrics != nil {
		counter = deps.Metrics
	}

	// Handlers
	identityHandler := handlers.NewIdentityHandler(deps.Auth, deps.Names)
	configHandler := handlers.NewConfigHandler(cfg, deps.YouTube.Enabled())
	sessionHandler := handlers.NewSessionHandler(deps.Registry, deps.Processor)
	sseHandler := handlers.NewSSEHandler(deps.Syncer, counter)
	wsHandler := handlers.NewWebSocketHandler(deps.Syncer, deps.Registry, deps.Processor, cfg.CORSAllowedOrigins, cfg.HeartbeatInterval, counter)
	youtubeHandler := handlers.NewYouTubeHandler(deps.YouTube)
	sentryTunnelHandler := handlers.NewSentryTunnelHandler(cfg.SentryDSNFrontend)

	// Rate limiters
	apiRateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	searchRateLimiter := middleware.NewRateLimiter(cfg.SearchRateLimitPerMinute)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Public configuration (queue policy, search availability, etc.)
		r.Get("/config", configHandler.PublicConfig)

		r.With(apiRateLimiter.Middleware).Post("/identity", identityHandler.Issue)

		// Browser error reports
		r.With(apiRateLimiter.Middleware).Post("/sentry-tunnel", sentryTunnelHandler.Tunnel)

		r.Route("/sessions", func(r chi.Router) {
			r.With(apiRateLimiter.Middleware).Post("/", sessionHandler.Create)

			r.Route("/{code}", func(r chi.Router) {
				r.Use(middleware.AccessCodeContextMiddleware)

				// Point read (no identity)
				r.Get("/", sessionHandler.Get)

				// Push streams are long-lived and not rate limited
				r.Group(func(r chi.Router) {
					r.Use(middleware.AuthMiddleware(deps.Auth))
					r.Get("/events", sseHandler.Stream)
					r.Get("/ws", wsHandler.Stream)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.AuthMiddleware(deps.Auth))
					r.Use(apiRateLimiter.Middleware)

					r.Delete("/", sessionHandler.Close)
					r.Post("/join", sessionHandler.Join)
					r.Post("/leave", sessionHandler.Leave)
					r.Post("/queue", sessionHandler.AddItem)
					r.Delete("/queue/{itemId}", sessionHandler.RemoveItem)
					r.Post("/advance", sessionHandler.Advance)
				})
			})
		})

		// YouTube search (rate limited)
		r.With(searchRateLimiter.Middleware).Get("/search", youtubeHandler.Search)
	})

	stop := func() {
		apiRateLimiter.Stop()
		searchRateLimiter.Stop()
	}
	return r, stop
}
