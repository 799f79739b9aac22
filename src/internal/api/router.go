package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a new HTTP router with all API endpoints.
func NewRouter(configPath string, ctrl Controller) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(Logger)
	r.Use(PrivateSubnetOnly)
	r.Use(CORS)
	r.Use(JSONContentType)

	h := NewHandler(configPath, ctrl)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/service", h.ControlService)

		r.Get("/rules", h.GetRules)
		r.Post("/rules/reload", h.ReloadRules)
		r.Get("/rules/lookup", h.LookupHost)
		r.Post("/lists/download", h.DownloadLists)

		r.Get("/sessions", h.GetSessions)

		r.Get("/health", h.CheckHealth)

		// SSE stream
		r.Get("/dns-check", h.StreamDNSCheck)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "endpoint "+r.URL.Path)
	})

	registerPprof(r)

	return r
}
