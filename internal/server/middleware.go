package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/clientip"
	"github.com/diyartec/calassist/internal/instrumentation"
)

// RequestIDHeader carries the request id on every response.
const RequestIDHeader = "X-Request-Id"

const hstsValue = "max-age=15552000; includeSubDomains"

var (
	strictCSP = strings.Join([]string{
		"default-src 'self'",
		"img-src 'self' https://*.googleusercontent.com data:",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"connect-src 'self' https://accounts.google.com https://oauth2.googleapis.com https://www.googleapis.com",
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'self'",
	}, "; ")

	relaxedCSP = strings.Join([]string{
		"default-src 'self'",
		"img-src 'self' data: https://*.googleusercontent.com",
		"script-src 'self' 'unsafe-inline' 'unsafe-eval'",
		"style-src 'self' 'unsafe-inline'",
		"connect-src 'self' ws://localhost:5173 https://accounts.google.com https://oauth2.googleapis.com https://www.googleapis.com",
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'self'",
	}, "; ")
)

// healthPaths skip the HTTPS redirect so plain-HTTP uptime probes work.
var healthPaths = map[string]bool{"/api/health": true, "/health": true, "/healthz": true, "/readyz": true}

// requestID stores a fresh id under chi's request id key.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		w.Header().Set(RequestIDHeader, rid)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// httpAudit emits one http_request record per response and records the
// request metric under the matched route pattern.
func (s *Server) httpAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		ctx, span := instrumentation.StartServerSpan(r.Context(), r.Method, r.URL.Path, rid)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		dur := time.Since(start)
		s.audit.Emit(ctx, audit.EventHTTPRequest, audit.Fields{
			"rid":    rid,
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
			"dur_ms": dur.Milliseconds(),
			"ip":     clientip.FromRequest(r, s.cfg.TrustProxy),
			"ua":     r.UserAgent(),
		})

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.RecordHTTPRequest(ctx, r.Method, route, status, dur)
	})
}

// recoverer turns a panic into a 500 JSON response.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("unhandled error",
				"panic", fmt.Sprint(rec),
				"path", r.URL.Path,
				"stack", string(debug.Stack()))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}()
		next.ServeHTTP(w, r)
	})
}

// cors applies the origin allow-list. Requests without Origin pass through.
func (s *Server) cors(allowed []string) func(http.Handler) http.Handler {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !set[strings.TrimRight(origin, "/")] {
				s.audit.Emit(r.Context(), audit.EventCORSReject, audit.Fields{
					"rid":    middleware.GetReqID(r.Context()),
					"origin": origin,
					"path":   r.URL.Path,
				})
				writeError(w, http.StatusForbidden, "cors_denied")
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			if s.cfg.CORSAllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// httpsRedirect sends plain-HTTP GETs to their https URL.
func (s *Server) httpsRedirect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.scheme(r) != "https" && r.Method == http.MethodGet && !healthPaths[r.URL.Path] {
			http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) scheme(r *http.Request) string {
	if s.cfg.TrustProxy {
		if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
			return strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	csp := relaxedCSP
	if s.cfg.CSPStrict {
		csp = strictCSP
	}
	hsts := s.cfg.HSTSEnabled && (s.cfg.EnforceHTTPS || s.cfg.IsProduction())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "interest-cohort=()")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("Content-Security-Policy", csp)
		if hsts {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		next.ServeHTTP(w, r)
	})
}
