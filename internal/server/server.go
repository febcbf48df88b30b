// internal/server/server.go

package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"latent/internal/adapter/events"
	"latent/internal/ambient"
	"latent/internal/config"
	"latent/internal/observability"
	"latent/internal/server/handlers"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// Dependencies are the collaborators the routes are served from
type Dependencies struct {
	Engine        handlers.Engine
	Bus           events.Bus
	EventsSubject string
	Metrics       *observability.Metrics
	Ambient       ambient.Config
	Logger        *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router := NewRouter(cfg, deps)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Address(),
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
func NewRouter(cfg config.ServerConfig, deps Dependencies) *chi.Mux {
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	transmissionHandler := handlers.NewTransmissionHandler(deps.Engine, deps.Logger)
	geoHandler := handlers.NewGeoHandler(deps.Engine, deps.Logger)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Generation can outlive the default request budget
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(cfg.GenerationRequestTimeout()))

				r.Post("/positions", transmissionHandler.ObservePosition)

				r.Route("/transmissions", func(r chi.Router) {
					r.Get("/", transmissionHandler.ListTransmissions)
					r.Post("/", transmissionHandler.CreateTransmission)
					r.Delete("/", transmissionHandler.ClearTransmissions)
					r.Get("/{id}", transmissionHandler.GetTransmission)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(cfg.RequestTimeout()))

				r.Get("/state", transmissionHandler.GetState)
				r.Get("/settings", transmissionHandler.GetSettings)
				r.Put("/settings", transmissionHandler.UpdateSettings)

				// Geo API
				r.Get("/anchors", geoHandler.GetAnchors)
				r.Get("/phantom", geoHandler.GetPhantom)

				r.Get("/static.wav", handlers.StaticHandler(deps.Ambient, deps.Logger))
			})
		})
	})

	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	// WebSocket endpoint for real-time transmissions
	if deps.Bus != nil {
		router.Get("/ws/transmissions", handlers.TransmissionWebSocketHandler(deps.Bus, deps.EventsSubject, deps.Logger))
	}

	return router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
