// Package server is the public HTTP surface of the gateway.
//
// # Routes
//
// Every route is mounted under /api and under a short alias without the
// prefix (/api/auth/me and /auth/me are the same handler):
//   - Google sign-in: /auth/start, /auth/callback, /auth/me, /auth/logout,
//     /auth/refresh and, with CSRF protection on, /auth/csrf-token
//   - Calendar proxy: /calendar/primary and /calendar/events[/{id}]
//   - Legal acceptance: /legal/acceptance and /legal/accept
//   - Account deletion requests: /account/delete-request
//   - Probes: /healthz, /readyz, /health and /version
//
// The admin routes under /api/admin require the X-Admin-Key header and are
// closed when no admin key is configured.
//
// # Middleware
//
// Requests pass through panic recovery, request id assignment, the HTTP
// audit line, CORS, rate limiting, the HTTPS redirect and the security
// headers, in that order. Each stage after the audit line can be disabled
// by configuration.
//
// MetricsServer exposes the Prometheus registry on a separate listener.
package server
