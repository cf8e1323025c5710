// Package server wires HTTP handlers into a chi router for the huddle
// gateway via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes returns the gateway's HTTP surface. voiceTokens, when non-nil,
// is mounted at POST /api/voice/token.
func SetupRoutes(g *Gateway, voiceTokens http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", HealthHandler)
	r.Get("/ws", g.ServeWS)
	r.Get("/test", ConsolePageHandler)
	r.Method(http.MethodGet, "/metrics", g.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/channels/{channelId}/messages", g.HistoryHandler)
		if voiceTokens != nil {
			r.Method(http.MethodPost, "/voice/token", voiceTokens)
		}
	})
	return r
}
