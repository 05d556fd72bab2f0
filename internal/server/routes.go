package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the presence routes. Authentication is required on every
// presence route; health stays open for probes.
func NewRouter(handlers *Handlers, jwtSecret string) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/presence", func(r chi.Router) {
		r.Use(RequireAuth(jwtSecret))
		r.Post("/heartbeat", handlers.Heartbeat)
		r.Get("/status/{id}", handlers.Status)
		r.Post("/status", handlers.BatchStatus)
	})

	return router
}
