package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"authbus/internal/auth"
	"authbus/internal/config"
	"authbus/internal/event"
	"authbus/internal/session"
)

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, provider *auth.Provider, sessions *session.Manager, bus *event.Bus, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	handler := NewAuthHandler(provider, sessions, bus, cfg.FrontendURL, cfg.Environment, logger)

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/signin", handler.SignIn)
		r.Get("/callback", handler.Callback)
		r.Post("/signout", handler.SignOut)
		r.Get("/session", handler.Session)
		r.Get("/events", handler.Events)
	})

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
