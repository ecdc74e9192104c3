// Package instrumentation provides OpenTelemetry instrumentation for the
// gateway.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, route, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Google API calls by service, operation, status
//   - google_api_operation_duration_seconds: Histogram of Google API call durations
//
// OAuth and Session Metrics:
//   - oauth_login_total: Counter of completed login attempts by result
//   - oauth_token_refresh_total: Counter of refresh grants by trigger and result
//   - session_events_total: Counter of session lifecycle events (rotated, expired_idle, ...)
//   - rate_limit_decisions_total: Counter of limiter decisions by bucket and outcome
//
// # Exporters
//
// Metrics are exported through Prometheus (default), OTLP or stdout. Traces
// are off by default and can be sent over OTLP or printed to stdout.
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate 0.0 to 1.0 (default: 0.1)
package instrumentation
