package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", h.Generate)
		r.Get("/status/{taskId}", h.Status)

		// Worker callback. Unauthenticated, the worker only knows the
		// task id we handed it.
		r.Post("/webhook/result", h.WebhookResult)

		r.Get("/health", h.Health)
	})
}
