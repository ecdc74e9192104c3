// Package config loads the gateway configuration from the environment.
//
// Variables are parsed into Config with caarlos0/env after legacy names have
// been mapped onto their current spelling and tier-specific defaults have
// been applied. Validate checks the result against the rules of the
// deployment tier.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Deployment tiers derived from NODE_ENV.
const (
	TierDevelopment = "development"
	TierStaging     = "staging"
	TierProduction  = "production"
)

// DefaultFrontendBaseURL is used in development when FRONTEND_BASE_URL is unset.
const DefaultFrontendBaseURL = "http://localhost:5173"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the typed gateway configuration.
type Config struct {
	NodeEnv string `env:"NODE_ENV" envDefault:"development"`

	Port        int    `env:"PORT" envDefault:"3000"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOGLEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	CommitSHA   string `env:"COMMIT_SHA"`

	ClientID      string `env:"CLIENT_ID"`
	ClientSecret  string `env:"CLIENT_SECRET"`
	RedirectURI   string `env:"REDIRECT_URI"`
	GoogleScope   string `env:"GOOGLE_SCOPE" envDefault:"openid email profile https://www.googleapis.com/auth/calendar"`
	GoogleJWKSTTL int    `env:"GOOGLE_JWKS_TTL_MS" envDefault:"3600000"`

	SecretKey          string `env:"SECRETKEY"`
	RefreshKey         string `env:"REFRESHTOKENENCRYPTIONKEY"`
	RefreshKeyPrevious string `env:"REFRESHTOKENENCRYPTIONKEY_PREVIOUS"`

	FrontendBaseURL     string `env:"FRONTEND_BASE_URL"`
	N8NWebhookURL       string `env:"N8N_WEBHOOK_URL"`
	LogForwardWebhook   string `env:"LOG_FORWARD_WEBHOOK"`
	AdminAPIKey         string `env:"ADMIN_API_KEY"`
	SupportContactEmail string `env:"SUPPORT_CONTACT_EMAIL"`

	RedisURL       string `env:"REDIS_URL"`
	ValkeyURL      string `env:"VALKEY_URL"`
	RedisNamespace string `env:"REDIS_NAMESPACE" envDefault:"diyartec"`
	DatabaseURL    string `env:"DATABASE_URL"`

	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"calassist_sid"`
	CookieDomain      string `env:"COOKIE_DOMAIN"`

	EnforceHTTPS            bool `env:"ENFORCEHTTPS" envDefault:"true"`
	CSPStrict               bool `env:"CSPSTRICT" envDefault:"true"`
	PrintSecretFingerprints bool `env:"PRINT_SECRET_FINGERPRINTS" envDefault:"false"`
	HSTSEnabled             bool `env:"HSTSENABLED" envDefault:"true"`
	CSRFProtection          bool `env:"CSRFPROTECTION_ENABLED" envDefault:"true"`
	SecurityHeaders         bool `env:"SECURITYHEADERSENABLED" envDefault:"true"`
	AllowPIILogging         bool `env:"ALLOW_PII_LOGGING" envDefault:"false"`
	AuditLogEnabled         bool `env:"AUDIT_LOG_ENABLED" envDefault:"true"`
	TrustProxy              bool `env:"TRUST_PROXY" envDefault:"true"`

	RateLimitEnabled          bool `env:"RATELIMIT_ENABLED" envDefault:"true"`
	RateLimitAuthBurst        int  `env:"RATE_LIMIT_AUTH_BURST" envDefault:"5"`
	RateLimitAuthRefillPerMin int  `env:"RATE_LIMIT_AUTH_REFILL_PER_MINUTE" envDefault:"5"`
	RateLimitAPIBurst         int  `env:"RATE_LIMIT_API_BURST" envDefault:"60"`
	RateLimitAPIRefillPerMin  int  `env:"RATE_LIMIT_API_REFILL_PER_MINUTE" envDefault:"60"`

	SessionIdleMaxMinutes         int `env:"SESSION_IDLE_MAX_MINUTES" envDefault:"30"`
	SessionAbsoluteMaxHours       int `env:"SESSION_ABSOLUTE_MAX_HOURS" envDefault:"24"`
	SessionRotateMinutes          int `env:"SESSION_ROTATE_MINUTES" envDefault:"15"`
	AccessTokenRefreshSkewSeconds int `env:"ACCESS_TOKEN_REFRESH_SKEW_SECONDS" envDefault:"60"`

	CORSEnabled          bool     `env:"CORS_ENABLED" envDefault:"true"`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	PrivacyPolicyVersion string `env:"PRIVACY_POLICY_VERSION" envDefault:"PP-1.0.0"`
	TermsVersion         string `env:"TERMS_VERSION" envDefault:"TOS-1.0.0"`

	AllowInMemorySessionInProd  bool `env:"ALLOW_INMEMORY_SESSION_IN_PROD" envDefault:"false"`
	AllowHealthPassWithoutRedis bool `env:"ALLOW_HEALTH_PASS_WITHOUT_REDIS" envDefault:"false"`

	// Warnings collects notices produced while loading, such as legacy
	// variable names or generated development secrets.
	Warnings []string `env:"-"`
}

// Load reads the process environment and validates the result.
func Load() (*Config, error) {
	cfg, err := FromEnvironment(environ())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnvironment parses vars without validating. vars is not modified.
func FromEnvironment(vars map[string]string) (*Config, error) {
	vars, warnings := applyLegacyNames(vars)

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Warnings = warnings

	if cfg.Tier() == TierStaging {
		applyStagingDefaults(cfg, vars)
	}
	if cfg.Tier() == TierDevelopment {
		if err := applyDevelopmentFallbacks(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func environ() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}
	return vars
}

// Tier returns the deployment tier. Unknown values count as development.
func (c *Config) Tier() string {
	switch strings.ToLower(strings.TrimSpace(c.NodeEnv)) {
	case TierProduction:
		return TierProduction
	case TierStaging:
		return TierStaging
	default:
		return TierDevelopment
	}
}

// IsProduction reports whether NODE_ENV is production.
func (c *Config) IsProduction() bool { return c.Tier() == TierProduction }

// Hardened reports whether the hardened rule set applies.
func (c *Config) Hardened() bool { return c.Tier() != TierDevelopment }

// ListenAddr is the address of the public HTTP listener.
func (c *Config) ListenAddr() string { return fmt.Sprintf(":%d", c.Port) }

// SharedStoreURL reports whether a shared key-value store is configured.
func (c *Config) SharedStoreURL() bool { return c.RedisURL != "" || c.ValkeyURL != "" }

// Scopes splits GOOGLE_SCOPE on whitespace.
func (c *Config) Scopes() []string { return strings.Fields(c.GoogleScope) }

// JWKSTTL is the JWKS cache lifetime.
func (c *Config) JWKSTTL() time.Duration {
	return time.Duration(c.GoogleJWKSTTL) * time.Millisecond
}

// IdleTimeout is the maximum gap between requests in one session.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleMaxMinutes) * time.Minute
}

// AbsoluteTimeout is the maximum session lifetime.
func (c *Config) AbsoluteTimeout() time.Duration {
	return time.Duration(c.SessionAbsoluteMaxHours) * time.Hour
}

// RotateInterval is how often a session id is replaced.
func (c *Config) RotateInterval() time.Duration {
	return time.Duration(c.SessionRotateMinutes) * time.Minute
}

// RefreshSkew is how early an access token is refreshed before expiry.
func (c *Config) RefreshSkew() time.Duration {
	return time.Duration(c.AccessTokenRefreshSkewSeconds) * time.Second
}

// AllowedOrigins returns the CORS allow-list including the frontend, with
// trailing slashes removed and duplicates dropped.
func (c *Config) AllowedOrigins() []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range append([]string{c.FrontendBaseURL}, c.CORSAllowedOrigins...) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}
