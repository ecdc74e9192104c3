package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler returns the router with the full middleware chain. Every route is
// served under its /api path and its short alias.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(s.requestID)
	r.Use(s.httpAudit)
	if s.cfg.CORSEnabled {
		r.Use(s.cors(s.cfg.AllowedOrigins()))
	}
	if s.cfg.RateLimitEnabled && s.limiter != nil {
		r.Use(s.limiter.Handler)
	}
	if s.cfg.EnforceHTTPS {
		r.Use(s.httpsRedirect)
	}
	if s.cfg.SecurityHeaders {
		r.Use(s.securityHeaders)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	r.Get("/healthz", s.health.LivenessHandler().ServeHTTP)
	r.Get("/readyz", s.health.ReadinessHandler().ServeHTTP)
	get(r, s.health.HealthHandler().ServeHTTP, "/api/health", "/health")
	get(r, s.handleVersion, "/api/version", "/version")

	get(r, s.handleAuthStart, "/api/auth/google", "/auth/start")
	get(r, s.handleAuthCallback, "/api/auth/google/callback", "/auth/callback")
	get(r, s.handleMe, "/api/auth/me", "/auth/me")
	if s.cfg.CSRFProtection {
		get(r, s.handleCSRFToken, "/api/auth/csrf-token", "/auth/csrf-token")
	}
	post(r, s.handleLogout, "/api/auth/logout", "/auth/logout")
	post(r, s.handleRefresh, "/api/auth/refresh", "/auth/refresh")

	get(r, s.handleLegalAcceptance, "/api/legal/acceptance", "/legal/acceptance")
	post(r, s.handleLegalAccept, "/api/legal/accept", "/legal/accept")

	for _, prefix := range []string{"/api/calendar", "/calendar"} {
		r.Route(prefix, func(r chi.Router) {
			r.Get("/primary", s.handleCalendarPrimary)
			r.Post("/events", s.handleEventCreate)
			r.Get("/events/{id}", s.handleEventGet)
			r.Put("/events/{id}", s.handleEventUpdate)
			r.Delete("/events/{id}", s.handleEventDelete)
		})
	}

	post(r, s.handleDeletionRequest, "/api/account/delete-request", "/account/delete-request")

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/sessions/invalidate", s.handleAdminInvalidate)
		r.Post("/deletion-requests/{id}/process", s.handleAdminProcessDeletion)
	})

	return r
}

func get(r chi.Router, h http.HandlerFunc, paths ...string) {
	for _, p := range paths {
		r.Get(p, h)
	}
}

func post(r chi.Router, h http.HandlerFunc, paths ...string) {
	for _, p := range paths {
		r.Post(p, h)
	}
}
