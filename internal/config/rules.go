package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// rule checks one property of a Config.
type rule func(*Config) error

var placeholderPattern = regexp.MustCompile(`(?i)(changeme|placeholder|dummy|insecure)`)

var baseRules = []rule{
	required("CLIENT_ID", func(c *Config) string { return c.ClientID }),
	required("CLIENT_SECRET", func(c *Config) string { return c.ClientSecret }),
	required("REDIRECT_URI", func(c *Config) string { return c.RedirectURI }),
	required("N8N_WEBHOOK_URL", func(c *Config) string { return c.N8NWebhookURL }),
	minLength("SECRETKEY", func(c *Config) string { return c.SecretKey }, false),
	minLength("REFRESHTOKENENCRYPTIONKEY", func(c *Config) string { return c.RefreshKey }, false),
	minLength("REFRESHTOKENENCRYPTIONKEY_PREVIOUS", func(c *Config) string { return c.RefreshKeyPrevious }, true),
	positive("SESSION_IDLE_MAX_MINUTES", func(c *Config) int { return c.SessionIdleMaxMinutes }),
	positive("SESSION_ABSOLUTE_MAX_HOURS", func(c *Config) int { return c.SessionAbsoluteMaxHours }),
	positive("SESSION_ROTATE_MINUTES", func(c *Config) int { return c.SessionRotateMinutes }),
	positive("RATE_LIMIT_AUTH_BURST", func(c *Config) int { return c.RateLimitAuthBurst }),
	positive("RATE_LIMIT_API_BURST", func(c *Config) int { return c.RateLimitAPIBurst }),
	func(c *Config) error {
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
		}
		return nil
	},
}

var hardenedRules = []rule{
	func(c *Config) error {
		if !c.SharedStoreURL() {
			return fmt.Errorf("REDIS_URL required in %s", c.Tier())
		}
		return nil
	},
	func(c *Config) error {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL required in %s", c.Tier())
		}
		return nil
	},
	func(c *Config) error {
		if !c.EnforceHTTPS {
			return fmt.Errorf("ENFORCEHTTPS must be true in %s", c.Tier())
		}
		return nil
	},
	func(c *Config) error {
		if !strings.HasPrefix(c.FrontendBaseURL, "http://") && !strings.HasPrefix(c.FrontendBaseURL, "https://") {
			return errors.New("FRONTEND_BASE_URL must be absolute URL")
		}
		return nil
	},
	notPlaceholder("SECRETKEY", func(c *Config) string { return c.SecretKey }),
	notPlaceholder("REFRESHTOKENENCRYPTIONKEY", func(c *Config) string { return c.RefreshKey }),
	func(c *Config) error {
		if c.AllowInMemorySessionInProd {
			return errors.New("ALLOW_INMEMORY_SESSION_IN_PROD not permitted")
		}
		return nil
	},
	func(c *Config) error {
		if c.AllowHealthPassWithoutRedis {
			return errors.New("ALLOW_HEALTH_PASS_WITHOUT_REDIS not permitted")
		}
		return nil
	},
}

var productionRules = []rule{
	func(c *Config) error {
		if !c.CSPStrict {
			return errors.New("CSPSTRICT must be true in production")
		}
		return nil
	},
	func(c *Config) error {
		if c.PrintSecretFingerprints {
			return errors.New("PRINT_SECRET_FINGERPRINTS must be false in production")
		}
		return nil
	},
}

func required(name string, get func(*Config) string) rule {
	return func(c *Config) error {
		if strings.TrimSpace(get(c)) == "" {
			return fmt.Errorf("%s required", name)
		}
		return nil
	}
}

func minLength(name string, get func(*Config) string, optional bool) rule {
	return func(c *Config) error {
		v := get(c)
		if v == "" && optional {
			return nil
		}
		if v == "" {
			return fmt.Errorf("%s missing", name)
		}
		if len(v) < minSecretLength {
			return fmt.Errorf("%s must be >=%d chars", name, minSecretLength)
		}
		return nil
	}
}

func positive(name string, get func(*Config) int) rule {
	return func(c *Config) error {
		if get(c) <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
		return nil
	}
}

func notPlaceholder(name string, get func(*Config) string) rule {
	return func(c *Config) error {
		if placeholderPattern.MatchString(get(c)) {
			return fmt.Errorf("%s looks placeholder/weak", name)
		}
		return nil
	}
}

// Validate applies the rules of the configured tier and reports every
// failure at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	rules := append([]rule{}, baseRules...)
	if c.Hardened() {
		rules = append(rules, hardenedRules...)
	}
	if c.IsProduction() {
		rules = append(rules, productionRules...)
	}

	var errs []error
	for _, r := range rules {
		if err := r(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w (%s): %w", ErrInvalid, c.Tier(), errors.Join(errs...))
}
