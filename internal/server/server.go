package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/config"
	"github.com/diyartec/calassist/internal/instrumentation"
	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/notify"
	"github.com/diyartec/calassist/internal/oauth"
	"github.com/diyartec/calassist/internal/ratelimit"
	"github.com/diyartec/calassist/internal/repository/postgres"
	"github.com/diyartec/calassist/internal/session"
)

// HTTP server timeouts.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// LoginProvider runs the provider side of the login flow.
type LoginProvider interface {
	AuthCodeURL(state, codeChallenge string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth.TokenSet, error)
	VerifyIDToken(ctx context.Context, raw string) (*oauth.IDClaims, error)
	UserInfo(ctx context.Context, accessToken string) (*oauth.Profile, error)
}

// CalendarAPI performs calendar calls with a user's access token.
type CalendarAPI interface {
	PrimaryCalendars(ctx context.Context, accessToken string) (*calendar.CalendarList, error)
	CreateEvent(ctx context.Context, accessToken string, ev *calendar.Event) (*calendar.Event, error)
	GetEvent(ctx context.Context, accessToken, eventID string) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, accessToken, eventID string, ev *calendar.Event) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, accessToken, eventID string) error
}

// UserStore persists user profiles and legal acceptance.
type UserStore interface {
	Upsert(ctx context.Context, u postgres.User) error
	FindIDBySub(ctx context.Context, sub string) (int64, error)
	RecordAcceptance(ctx context.Context, sub, document, version string) error
}

// DeletionStore records account deletion requests.
type DeletionStore interface {
	Create(ctx context.Context, userID int64) (int64, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// Deps are the collaborators of the HTTP surface. Users, Deletions, Webhook,
// RateLimit and Metrics may be nil.
type Deps struct {
	Config    *config.Config
	Provider  LoginProvider
	Sessions  *session.Manager
	Cookies   session.Cookies
	Calendar  CalendarAPI
	Users     UserStore
	Deletions DeletionStore
	Health    *HealthChecker
	RateLimit *ratelimit.Middleware
	Webhook   *notify.Webhook
	Audit     *audit.Emitter
	Metrics   *instrumentation.Metrics
	Build     BuildInfo
	Logger    *slog.Logger
}

// Server is the gateway's public HTTP surface.
type Server struct {
	cfg       *config.Config
	provider  LoginProvider
	sessions  *session.Manager
	cookies   session.Cookies
	calendar  CalendarAPI
	users     UserStore
	deletions DeletionStore
	health    *HealthChecker
	limiter   *ratelimit.Middleware
	webhook   *notify.Webhook
	audit     *audit.Emitter
	metrics   *instrumentation.Metrics
	version   *versionCache
	logger    *slog.Logger

	httpServer *http.Server
}

// New creates the server. It does not start listening.
func New(d Deps) (*Server, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("server: config is required")
	case d.Provider == nil:
		return nil, errors.New("server: login provider is required")
	case d.Sessions == nil:
		return nil, errors.New("server: session manager is required")
	case d.Calendar == nil:
		return nil, errors.New("server: calendar client is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Audit == nil {
		d.Audit = audit.Discard()
	}
	if d.Health == nil {
		d.Health = NewHealthChecker(HealthConfig{})
	}
	return &Server{
		cfg:       d.Config,
		provider:  d.Provider,
		sessions:  d.Sessions,
		cookies:   d.Cookies,
		calendar:  d.Calendar,
		users:     d.Users,
		deletions: d.Deletions,
		health:    d.Health,
		limiter:   d.RateLimit,
		webhook:   d.Webhook,
		audit:     d.Audit,
		metrics:   d.Metrics,
		version:   newVersionCache(d.Build, d.Config),
		logger:    logging.WithComponent(d.Logger, "http"),
	}, nil
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	s.logger.Info("starting http server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.httpServer != nil {
		s.logger.Info("shutting down http server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
