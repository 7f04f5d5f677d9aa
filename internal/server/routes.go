package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Route("/presets", func(r chi.Router) {
		r.Get("/", s.listPresets)
		r.Get("/{name}", s.getPreset)
	})

	r.Route("/agents", func(r chi.Router) {
		r.Get("/", s.listAgents)
		r.Post("/", s.createAgent)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getAgent)
			r.Delete("/", s.destroyAgent)
			r.Get("/history", s.getHistory)

			r.Post("/send", s.sendAgent)
			r.Post("/cancel", s.cancelAgent)
			r.Post("/restore", s.restoreAgent)
			r.Post("/save", s.saveAgent)
			r.Post("/compact", s.compactAgent)
		})
	})

	r.Route("/confirmations", func(r chi.Router) {
		r.Get("/", s.listConfirmations)
		r.Post("/{requestID}", s.respondConfirmation)
	})

	r.Get("/mcp", s.mcpStatus)
	r.Get("/events", s.events)
}
