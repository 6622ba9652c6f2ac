package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/syncspace-live/syncspace/internal/api/middleware"
	"github.com/syncspace-live/syncspace/internal/chat"
	"github.com/syncspace-live/syncspace/internal/control"
	"github.com/syncspace-live/syncspace/internal/presence"
	"github.com/syncspace-live/syncspace/internal/session"
	"github.com/syncspace-live/syncspace/internal/ws"
)

// Deps collects everything the router wires together.
type Deps struct {
	Logger        zerolog.Logger
	Chat          *chat.Pipeline
	Presence      *presence.Coordinator
	Registry      *session.Registry
	Hub           *control.Hub
	AllowedOrigin string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	// CORS for the browser clients calling the history endpoint
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(d.Chat, d.Registry, d.Logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// REST
	r.Get("/health", h.Health)
	r.Get("/rooms/{id}/messages", h.RoomMessages)

	// Realtime channels
	r.Get("/collab/{room}", ws.ServeDoc(d.Registry, d.Logger))
	r.Get("/control", control.ServeControl(d.Hub, d.Chat, d.Presence, d.Logger))

	return r
}
