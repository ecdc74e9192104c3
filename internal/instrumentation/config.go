package instrumentation

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds the telemetry settings of the gateway.
type Config struct {
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"calassist-gateway"`

	// ServiceVersion is stamped by the caller from build information.
	ServiceVersion string

	// ServiceInstanceID falls back to RENDER_INSTANCE_ID, then the hostname.
	ServiceInstanceID string `env:"OTEL_SERVICE_INSTANCE_ID"`

	// Environment is the deployment tier (development, staging, production).
	Environment string `env:"NODE_ENV" envDefault:"development"`

	Enabled bool `env:"INSTRUMENTATION_ENABLED" envDefault:"true"`

	// MetricsExporter is one of prometheus, otlp or stdout.
	MetricsExporter string `env:"METRICS_EXPORTER" envDefault:"prometheus"`

	// TracingExporter is one of otlp, stdout or none.
	TracingExporter string `env:"TRACING_EXPORTER" envDefault:"none"`

	// OTLPEndpoint is the collector host:port, without scheme.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// OTLPInsecure uses plain HTTP for OTLP export. Local development only.
	OTLPInsecure bool `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`

	TraceSamplingRate float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"0.1"`
}

// LoadConfig parses the telemetry variables from vars.
func LoadConfig(vars map[string]string) (Config, error) {
	cfg := Config{ServiceVersion: "unknown"}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("failed to parse instrumentation config: %w", err)
	}
	if cfg.ServiceInstanceID == "" {
		cfg.ServiceInstanceID = vars["RENDER_INSTANCE_ID"]
	}
	return cfg, cfg.Validate()
}

// ConfigFromEnv parses the telemetry variables from the process environment.
func ConfigFromEnv() (Config, error) {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return LoadConfig(vars)
}

var (
	metricsExporters = []string{ExporterPrometheus, ExporterOTLP, ExporterStdout}
	tracingExporters = []string{ExporterOTLP, ExporterStdout, ExporterNone}
)

// Validate checks exporter names, the sampling rate and OTLP settings.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %g", c.TraceSamplingRate)
	}
	if c.MetricsExporter != "" && !slices.Contains(metricsExporters, c.MetricsExporter) {
		return fmt.Errorf("invalid metrics exporter %q, must be one of: %s", c.MetricsExporter, strings.Join(metricsExporters, ", "))
	}
	if c.TracingExporter != "" && !slices.Contains(tracingExporters, c.TracingExporter) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of: %s", c.TracingExporter, strings.Join(tracingExporters, ", "))
	}
	if c.OTLPEndpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP) {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required for the otlp exporter")
	}
	return nil
}

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultReauth    = "reauth_required"
	TriggerSkew     = "skew"
	TriggerForced   = "forced"
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"

	ServiceOAuth    = "oauth"
	ServiceCalendar = "calendar"
)

// Exporter names.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)
