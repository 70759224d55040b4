package api

import (
	"encoding/json"
	"net/http"

	"github.com/credbroker/broker/internal/api/handlers"
	"github.com/credbroker/broker/internal/api/middleware"
	"github.com/credbroker/broker/internal/config"
	"github.com/credbroker/broker/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "credential-broker"

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authMW *middleware.Auth) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(authMW.Handler)

	// Health & info
	r.Get("/health", healthHandler(h.Store))
	r.Get("/version", versionHandler(cfg))

	r.Post("/auth/token", h.IssueToken)

	r.Route("/api", func(r chi.Router) {
		// Provider API used by the tool server
		r.Route("/google_calendar/{credentialId}", func(r chi.Router) {
			r.Get("/list_calendars", h.ListCalendars)
			r.Get("/list_events", h.ListEvents)
			r.Get("/get_event", h.GetEvent)
			r.Post("/create_event", h.CreateEvent)
			r.Post("/update_event", h.UpdateEvent)
			r.Post("/delete_event", h.DeleteEvent)
			r.Post("/availability", h.Availability)
		})
		r.Post("/gemini/{credentialId}/generate", h.GenerateText)

		r.Route("/v1", func(r chi.Router) {
			r.Route("/credentials", func(r chi.Router) {
				r.Get("/", h.ListCredentials)
				r.Post("/", h.CreateCredential)
				r.Route("/{credentialId}", func(r chi.Router) {
					r.Get("/", h.GetCredential)
					r.Delete("/", h.DeleteCredential)
					r.Post("/gemini_key", h.SaveGeminiKey)
					r.Post("/token", h.StoreToken)
				})
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.ListConversations)
				r.Post("/", h.CreateConversation)
				r.Route("/{conversationId}", func(r chi.Router) {
					r.Get("/", h.GetConversation)
					r.Put("/providers/{provider}", h.AttachProvider)
					r.Post("/messages", h.PostMessage)
				})
			})
		})
	})

	return r
}

func healthHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := s.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": serviceName,
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}
