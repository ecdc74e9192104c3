package server

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/diyartec/calassist/internal/config"
)

// ServiceName is reported by /api/version.
const ServiceName = "diyartec-api"

// BuildInfo is stamped at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// VersionResponse is the /api/version body.
type VersionResponse struct {
	Name      string          `json:"name"`
	Version   string          `json:"version"`
	CommitSHA *string         `json:"commit_sha"`
	BuildTime string          `json:"build_time"`
	GoVersion string          `json:"go_version"`
	Security  SecuritySummary `json:"security"`
}

// SecuritySummary lists the security toggles in effect.
type SecuritySummary struct {
	EnforceHTTPS    bool `json:"enforce_https"`
	CSPStrict       bool `json:"csp_strict"`
	HSTSEnabled     bool `json:"hsts_enabled"`
	SecurityHeaders bool `json:"security_headers"`
	RateLimit       bool `json:"rate_limit"`
}

// versionCache builds the version body once and serves the cached copy.
type versionCache struct {
	info   BuildInfo
	cfg    *config.Config
	now    func() time.Time
	group  singleflight.Group
	cached atomic.Pointer[VersionResponse]
}

func newVersionCache(build BuildInfo, cfg *config.Config) *versionCache {
	return &versionCache{info: build, cfg: cfg, now: time.Now}
}

func (c *versionCache) get() *VersionResponse {
	if v := c.cached.Load(); v != nil {
		return v
	}
	v, _, _ := c.group.Do("version", func() (any, error) {
		if v := c.cached.Load(); v != nil {
			return v, nil
		}
		v := c.render()
		c.cached.Store(v)
		return v, nil
	})
	return v.(*VersionResponse)
}

func (c *versionCache) render() *VersionResponse {
	var commit *string
	switch {
	case c.cfg.CommitSHA != "":
		commit = &c.cfg.CommitSHA
	case c.info.Commit != "" && c.info.Commit != "none":
		s := c.info.Commit
		commit = &s
	}

	buildTime := c.info.Date
	if buildTime == "" || buildTime == "unknown" {
		buildTime = c.now().UTC().Format(time.RFC3339)
	}
	version := c.info.Version
	if version == "" {
		version = "dev"
	}

	return &VersionResponse{
		Name:      ServiceName,
		Version:   version,
		CommitSHA: commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Security: SecuritySummary{
			EnforceHTTPS:    c.cfg.EnforceHTTPS,
			CSPStrict:       c.cfg.CSPStrict,
			HSTSEnabled:     c.cfg.HSTSEnabled,
			SecurityHeaders: c.cfg.SecurityHeaders,
			RateLimit:       c.cfg.RateLimitEnabled,
		},
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.version.get())
}
