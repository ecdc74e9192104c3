package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/clientip"
	"github.com/diyartec/calassist/internal/logging"
)

// RetryAfterSeconds is the coarse hint sent with every 429.
const RetryAfterSeconds = 10

var (
	skipPaths    = map[string]bool{"/api/health": true, "/health": true, "/healthz": true, "/readyz": true}
	authPrefixes = []string{"/api/auth/google", "/auth/start", "/auth/callback"}
)

// Classify maps a request path to its bucket class. Health checks are never
// limited and the OAuth initiation paths use the stricter auth bucket.
func Classify(path string) Class {
	if skipPaths[path] {
		return ClassNone
	}
	for _, p := range authPrefixes {
		if strings.HasPrefix(path, p) {
			return ClassAuth
		}
	}
	return ClassAPI
}

// SubjectResolver maps a session id to the user's subject id without side
// effects on the session.
type SubjectResolver interface {
	SubjectFor(ctx context.Context, sid string) (string, bool)
}

// Recorder receives limiter decisions for metrics.
type Recorder interface {
	RecordRateLimit(ctx context.Context, bucket string, allowed bool)
}

// MiddlewareConfig wires the HTTP middleware.
type MiddlewareConfig struct {
	Limiter    *Limiter
	Subjects   SubjectResolver
	CookieName string
	TrustProxy bool
	Audit      *audit.Emitter
	Logger     *slog.Logger
	Recorder   Recorder
}

// Middleware enforces the limiter on every request it wraps.
type Middleware struct {
	cfg MiddlewareConfig
}

// NewMiddleware creates the HTTP middleware.
func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = logging.WithComponent(cfg.Logger, "ratelimit")
	return &Middleware{cfg: cfg}
}

// Key returns the bucket id for a request: the user subject when the session
// cookie resolves, the client IP otherwise.
func (m *Middleware) Key(r *http.Request, class Class) string {
	if m.cfg.Subjects != nil && m.cfg.CookieName != "" {
		if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
			if sub, ok := m.cfg.Subjects.SubjectFor(r.Context(), c.Value); ok && sub != "" {
				return string(class) + ":user:" + sub
			}
		}
	}
	return string(class) + ":ip:" + clientip.FromRequest(r, m.cfg.TrustProxy)
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := Classify(r.URL.Path)
		if class == ClassNone {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := m.Key(r, class)
		allowed, err := m.cfg.Limiter.Take(ctx, class, key)
		if err != nil {
			m.cfg.Logger.Error("rate_limit_storage_error", logging.Err(err))
		}
		if m.cfg.Recorder != nil {
			m.cfg.Recorder.RecordRateLimit(ctx, string(class), allowed)
		}
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		m.cfg.Audit.Emit(ctx, audit.EventRateLimitExceeded, audit.Fields{
			"rid":    middleware.GetReqID(ctx),
			"bucket": string(class),
			"key":    key,
			"path":   r.URL.Path,
		})
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":       "rate_limited",
			"retry_after": RetryAfterSeconds,
		})
	})
}
