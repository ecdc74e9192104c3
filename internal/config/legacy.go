package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
)

// legacyNames maps retired variable names to their current names.
var legacyNames = map[string]string{
	"SECRET_KEY":                            "SECRETKEY",
	"REFRESH_TOKEN_ENCRYPTION_KEY":          "REFRESHTOKENENCRYPTIONKEY",
	"REFRESH_TOKEN_ENCRYPTION_KEY_PREVIOUS": "REFRESHTOKENENCRYPTIONKEY_PREVIOUS",
	"ENFORCE_HTTPS":                         "ENFORCEHTTPS",
	"CSP_STRICT":                            "CSPSTRICT",
	"HSTS_ENABLED":                          "HSTSENABLED",
	"SECURITY_HEADERS_ENABLED":              "SECURITYHEADERSENABLED",
	"RATE_LIMIT_ENABLED":                    "RATELIMIT_ENABLED",
	"CSRF_PROTECTION_ENABLED":               "CSRFPROTECTION_ENABLED",
}

// minSecretLength applies to every secret key.
const minSecretLength = 32

// generatedSecretBytes is the entropy of an ephemeral development secret.
const generatedSecretBytes = 48

// applyLegacyNames returns a copy of vars where each set legacy name fills
// its current name unless that is already set.
func applyLegacyNames(vars map[string]string) (map[string]string, []string) {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}

	old := make([]string, 0, len(legacyNames))
	for k := range legacyNames {
		old = append(old, k)
	}
	sort.Strings(old)

	var warnings []string
	for _, oldKey := range old {
		newKey := legacyNames[oldKey]
		v, ok := vars[oldKey]
		if !ok || v == "" {
			continue
		}
		if _, set := vars[newKey]; set {
			continue
		}
		out[newKey] = v
		warnings = append(warnings, fmt.Sprintf("using legacy env var %s; prefer %s", oldKey, newKey))
	}
	return out, warnings
}

func isSet(vars map[string]string, names ...string) bool {
	for _, n := range names {
		if _, ok := vars[n]; ok {
			return true
		}
	}
	return false
}

// applyStagingDefaults relaxes toggles the operator did not set explicitly.
func applyStagingDefaults(cfg *Config, vars map[string]string) {
	if !isSet(vars, "CSPSTRICT") {
		cfg.CSPStrict = false
	}
	if !isSet(vars, "PRINT_SECRET_FINGERPRINTS") {
		cfg.PrintSecretFingerprints = true
	}
	if !isSet(vars, "HSTSENABLED") {
		cfg.HSTSEnabled = false
	}
	if !isSet(vars, "RATELIMIT_ENABLED") {
		cfg.RateLimitEnabled = false
	}
	if !isSet(vars, "SESSION_IDLE_MAX_MINUTES") {
		cfg.SessionIdleMaxMinutes = 5
	}
}

// applyDevelopmentFallbacks fills missing secrets with ephemeral values so a
// local checkout starts without setup.
func applyDevelopmentFallbacks(cfg *Config) error {
	if cfg.SecretKey == "" {
		s, err := ephemeralSecret()
		if err != nil {
			return err
		}
		cfg.SecretKey = s
		cfg.Warnings = append(cfg.Warnings, "generated ephemeral dev SECRETKEY")
	}
	if len(cfg.RefreshKey) < minSecretLength {
		s, err := ephemeralSecret()
		if err != nil {
			return err
		}
		cfg.RefreshKey = s
		cfg.Warnings = append(cfg.Warnings, "generated ephemeral dev REFRESHTOKENENCRYPTIONKEY")
	}
	if cfg.FrontendBaseURL == "" {
		cfg.FrontendBaseURL = DefaultFrontendBaseURL
	}
	return nil
}

func ephemeralSecret() (string, error) {
	b := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
