package config

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

const fingerprintLength = 12

// LogSafe returns attributes describing the configuration without secrets.
func (c *Config) LogSafe() []slog.Attr {
	return []slog.Attr{
		slog.String("env", c.Tier()),
		slog.Bool("staging", c.Tier() == TierStaging),
		slog.Bool("enforce_https", c.EnforceHTTPS),
		slog.Bool("csp_strict", c.CSPStrict),
		slog.Bool("hsts_enabled", c.HSTSEnabled),
		slog.Bool("csrf", c.CSRFProtection),
		slog.Bool("security_headers", c.SecurityHeaders),
		slog.Bool("audit_log", c.AuditLogEnabled),
		slog.Bool("rate_limit_enabled", c.RateLimitEnabled),
		slog.String("frontend_base_url", c.FrontendBaseURL),
		slog.Bool("redis_present", c.SharedStoreURL()),
		slog.Bool("db_present", c.DatabaseURL != ""),
		slog.Int("session_idle_min", c.SessionIdleMaxMinutes),
		slog.Int("session_absolute_h", c.SessionAbsoluteMaxHours),
		slog.Int("session_rotate_min", c.SessionRotateMinutes),
		slog.Int("access_token_refresh_skew_s", c.AccessTokenRefreshSkewSeconds),
	}
}

// ShowFingerprints reports whether fingerprints may be printed.
func (c *Config) ShowFingerprints() bool {
	return c.PrintSecretFingerprints && !c.IsProduction()
}

// Fingerprints returns short SHA-256 prefixes of each secret, for comparing
// deployments without revealing values. An unset previous key maps to "".
func (c *Config) Fingerprints() map[string]string {
	fp := map[string]string{
		"client_id_fp":     fingerprint(c.ClientID),
		"client_secret_fp": fingerprint(c.ClientSecret),
		"refresh_key_fp":   fingerprint(c.RefreshKey),
		"refresh_prev_fp":  "",
		"secret_key_fp":    fingerprint(c.SecretKey),
	}
	if c.RefreshKeyPrevious != "" {
		fp["refresh_prev_fp"] = fingerprint(c.RefreshKeyPrevious)
	}
	return fp
}

func fingerprint(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}
