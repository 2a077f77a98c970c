package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/people-tracker/internal/web/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	identitiesHandler := handlers.NewIdentitiesHandler(s.tracker, s.logger)
	resultsHandler := handlers.NewResultsHandler(s.tracker.Results())
	pluginsHandler := handlers.NewPluginsHandler(s.tracker.Registry(), s.logger)
	eventsHandler := handlers.NewEventsHandler(s.tracker)

	s.router.Get("/api/v1/health", handlers.HealthCheck)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// Long-lived stream, no request timeout.
		r.Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/stats", eventsHandler.Stats)

			// Identities
			r.Get("/identities", identitiesHandler.List)
			r.Get("/identities/{id}", identitiesHandler.Get)
			r.Put("/identities/{id}/name", identitiesHandler.Rename)
			r.Get("/identities/{id}/thumbnail", identitiesHandler.Thumbnail)
			r.Get("/identities/{id}/results", resultsHandler.ForIdentity)
			r.Get("/identities/{id}/results/{plugin}/history", resultsHandler.History)
			r.Get("/visible", identitiesHandler.Visible)
			r.Get("/candidates", identitiesHandler.Candidates)

			// Results
			r.Get("/results", resultsHandler.List)

			// Plugins
			r.Get("/plugins", pluginsHandler.List)
			r.Put("/plugins/{name}", pluginsHandler.Update)
		})
	})
}
