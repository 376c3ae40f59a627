// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"safeloc/internal/clock"
	"safeloc/internal/config"
	"safeloc/internal/domain/share"
	"safeloc/internal/server/handlers"
	"safeloc/internal/service/fanout"
	geosvc "safeloc/internal/service/geo"
	"safeloc/internal/service/locate"
	"safeloc/internal/service/position"
	"safeloc/internal/service/telemetry"
	"safeloc/internal/service/viewer"
)

// Dependencies are the services the HTTP surface is built on
type Dependencies struct {
	Events    *fanout.Service
	Shares    share.Manager
	Viewer    *viewer.Client
	Positions *position.Registry
	Locator   *locate.Service
	Fixes     handlers.FixPublisher
	Ingest    *telemetry.Ingest
	Proximity *geosvc.ProximityService
	Clock     clock.Clock

	// Metrics serves the Prometheus scrape endpoint when set
	Metrics http.Handler
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, metricsPath string, deps Dependencies, logger *slog.Logger) *Server {
	router := NewRouter(cfg, metricsPath, deps, logger)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// NewRouter builds the route tree
func NewRouter(cfg config.ServerConfig, metricsPath string, deps Dependencies, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", handlers.UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	eventHandler := handlers.NewEventHandler(deps.Events, deps.Positions, deps.Proximity, deps.Clock)
	shareHandler := handlers.NewShareHandler(deps.Shares, deps.Positions, deps.Viewer, deps.Clock)
	telemetryHandler := handlers.NewTelemetryHandler(deps.Ingest)
	positionHandler := handlers.NewPositionHandler(deps.Positions, deps.Locator, deps.Fixes, deps.Clock)

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Emergency alerts
			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", eventHandler.ListAlerts)
				r.Post("/", eventHandler.CreateAlert)
			})

			// Hazard reports
			r.Route("/hazards", func(r chi.Router) {
				r.Get("/", eventHandler.ListHazards)
				r.Post("/", eventHandler.CreateHazard)
			})

			// Share sessions
			r.Route("/shares", func(r chi.Router) {
				r.Post("/", shareHandler.StartSharing)
				r.Get("/active", shareHandler.ActiveShare)
				r.Delete("/{id}", shareHandler.StopSharing)
				r.Put("/{id}/position", shareHandler.RefreshShare)
			})
			r.Get("/view-share/{id}", shareHandler.ViewShare)

			// Telemetry
			r.Route("/telemetry", func(r chi.Router) {
				r.Post("/decode", telemetryHandler.Decode)
				r.Post("/{ownerID}", telemetryHandler.Uplink)
			})

			// Positions
			r.Post("/devices/{ownerID}/fixes", positionHandler.DeviceFix)
			r.Get("/position", positionHandler.GetPosition)
			r.Route("/locate", func(r chi.Router) {
				r.Post("/", positionHandler.Locate)
				r.Post("/watch", positionHandler.StartWatching)
				r.Delete("/watch", positionHandler.StopWatching)
			})
		})
	})

	// WebSocket endpoints for realtime streams
	router.Get("/ws/view-share/{id}", handlers.ViewShareWebSocketHandler(deps.Viewer, logger))
	router.Get("/ws/layers/{kind}", handlers.LayerWebSocketHandler(deps.Events, logger))

	if deps.Metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, deps.Metrics)
	}

	return router
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
