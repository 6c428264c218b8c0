package web

import (
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/registry"
	"github.com/classeye/attendance/internal/session"
	"github.com/classeye/attendance/internal/web/handlers"
	"github.com/go-chi/chi/v5"
)

func (s *Server) setupRoutes(manager *session.Manager, reg *registry.Registry, store database.Store) {
	sessionsHandler := handlers.NewSessionsHandler(manager, store)
	registryHandler := handlers.NewRegistryHandler(reg, store)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Sessions
		r.Post("/sessions", sessionsHandler.Open)
		r.Get("/sessions/{courseID}/{date}", sessionsHandler.LiveStatus)
		r.Delete("/sessions/{courseID}/{date}", sessionsHandler.Close)
		r.Get("/sessions/{courseID}/{date}/records", sessionsHandler.Records)
		r.Get("/sessions/{courseID}/{date}/events", sessionsHandler.Events)

		// Registry
		r.Post("/registry/{courseID}/rebuild", registryHandler.Rebuild)
		r.Get("/registry", registryHandler.List)
	})
}
