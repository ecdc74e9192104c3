package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"

	dbStatusUp            = "up"
	dbStatusDown          = "down"
	dbStatusNotConfigured = "not_configured"
)

// DefaultHealthPingTimeout bounds each dependency probe.
const DefaultHealthPingTimeout = 2 * time.Second

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthConfig describes the dependencies behind /health.
type HealthConfig struct {
	// Store is the shared key-value store; nil when sessions live in memory.
	Store Pinger
	// AllowWithoutStore lets /health pass while the shared store is down.
	AllowWithoutStore bool
	// DB is nil when no database is configured.
	DB          Pinger
	PingTimeout time.Duration
}

// HealthChecker serves liveness, readiness and dependency health.
type HealthChecker struct {
	// ready indicates whether the server is ready to receive traffic
	ready     atomic.Bool
	cfg       HealthConfig
	startTime time.Time
	now       func() time.Time

	mu            sync.Mutex
	lastStoreErr  string
	lastStoreSeen bool
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(cfg HealthConfig) *HealthChecker {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultHealthPingTimeout
	}
	h := &HealthChecker{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
	}
	// Server starts as ready by default
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse represents the JSON response for the probe endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// StoreHealth is the shared-store section of /health.
type StoreHealth struct {
	Required  bool    `json:"required"`
	Connected *bool   `json:"connected"`
	LastError *string `json:"lastError,omitempty"`
}

// DBHealth is the database section of /health.
type DBHealth struct {
	Configured bool    `json:"configured"`
	Status     string  `json:"status"`
	Error      *string `json:"error"`
}

// DependencyHealth is the /health body.
type DependencyHealth struct {
	OK      bool        `json:"ok"`
	UptimeS int64       `json:"uptime_s"`
	TS      string      `json:"ts"`
	Redis   StoreHealth `json:"redis"`
	DB      DBHealth    `json:"db"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// It answers 200 whenever the process is serving.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
// Readiness turns false once shutdown has begun.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status: healthStatusNotReady,
				Checks: map[string]string{"ready": healthStatusShuttingDown},
			})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: healthStatusOK,
			Checks: map[string]string{"ready": healthStatusOK},
		})
	})
}

// HealthHandler probes the shared store and the database. It answers 503
// when a required dependency is down.
func (h *HealthChecker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := h.Check(r.Context())
		status := http.StatusOK
		if !body.OK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, body)
	})
}

// Check runs the dependency probes.
func (h *HealthChecker) Check(ctx context.Context) DependencyHealth {
	body := DependencyHealth{
		OK:      true,
		UptimeS: int64(h.now().Sub(h.startTime).Seconds()),
		TS:      h.now().UTC().Format(time.RFC3339Nano),
		DB:      DBHealth{Status: dbStatusNotConfigured},
	}

	if h.cfg.Store != nil {
		err := h.ping(ctx, h.cfg.Store)
		connected := err == nil
		body.Redis = StoreHealth{
			Required:  !h.cfg.AllowWithoutStore,
			Connected: &connected,
			LastError: h.recordStoreError(err),
		}
		if body.Redis.Required && !connected {
			body.OK = false
		}
	}

	if h.cfg.DB != nil {
		body.DB.Configured = true
		body.DB.Status = dbStatusUp
		if err := h.ping(ctx, h.cfg.DB); err != nil {
			msg := err.Error()
			body.DB.Status = dbStatusDown
			body.DB.Error = &msg
			body.OK = false
		}
	}
	return body
}

func (h *HealthChecker) ping(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PingTimeout)
	defer cancel()
	return p.Ping(ctx)
}

// recordStoreError remembers the most recent store failure so it is still
// reported after the store recovers.
func (h *HealthChecker) recordStoreError(err error) *string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastStoreErr = err.Error()
		h.lastStoreSeen = true
	}
	if !h.lastStoreSeen {
		return nil
	}
	msg := h.lastStoreErr
	return &msg
}

