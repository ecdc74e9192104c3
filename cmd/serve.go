package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/calendar"
	"github.com/diyartec/calassist/internal/config"
	"github.com/diyartec/calassist/internal/instrumentation"
	"github.com/diyartec/calassist/internal/keys"
	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/notify"
	"github.com/diyartec/calassist/internal/oauth"
	"github.com/diyartec/calassist/internal/ratelimit"
	"github.com/diyartec/calassist/internal/repository/postgres"
	"github.com/diyartec/calassist/internal/server"
	"github.com/diyartec/calassist/internal/session"
	"github.com/diyartec/calassist/internal/store"
	"github.com/diyartec/calassist/internal/tokencipher"
)

// memoryJanitorInterval is how often expired in-memory entries are swept.
const memoryJanitorInterval = time.Minute

// serveOptions holds the serve flags. Flags only win over the environment
// when they were set explicitly.
type serveOptions struct {
	addr        string
	metricsAddr string
	debug       bool
	migrate     bool
}

// resolvedServe is the outcome of merging flags with the configuration.
type resolvedServe struct {
	addr        string
	metricsAddr string
	debug       bool
}

// resolve merges the flags into cfg's values. changed reports whether a flag
// was set on the command line.
func (o serveOptions) resolve(cfg *config.Config, changed func(name string) bool) resolvedServe {
	r := resolvedServe{
		addr:        cfg.ListenAddr(),
		metricsAddr: cfg.MetricsAddr,
		debug:       cfg.LogLevel == "debug",
	}
	if changed("addr") {
		r.addr = o.addr
	}
	if changed("metrics-addr") {
		r.metricsAddr = o.metricsAddr
	}
	if changed("debug") {
		r.debug = o.debug
	}
	return r
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long: `Start the gateway: Google sign-in, session management, the calendar
proxy and the operational endpoints.

Configuration comes from the environment (see 'calassist config check').
Flags override the matching variables only when they are given:
  --addr          PORT
  --metrics-addr  METRICS_ADDR
  --debug         LOGLEVEL=debug

Production refuses to start with in-memory sessions unless
ALLOW_INMEMORY_SESSION_IN_PROD=true, and always requires DATABASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runServe(cfg, opts.resolve(cfg, cmd.Flags().Changed), opts.migrate)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":3000", "HTTP listen address. Defaults to :$PORT.")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Defaults to METRICS_ADDR.")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "Apply database migrations before listening")

	return cmd
}

// startupGuard rejects production deployments that would lose sessions or
// user records.
func startupGuard(cfg *config.Config, backend string) error {
	if !cfg.IsProduction() {
		return nil
	}
	var errs []error
	if backend == store.BackendMemory && !cfg.AllowInMemorySessionInProd {
		errs = append(errs, errors.New("production requires REDIS_URL or VALKEY_URL (set ALLOW_INMEMORY_SESSION_IN_PROD=true to override)"))
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("production requires DATABASE_URL"))
	}
	return errors.Join(errs...)
}

func runServe(cfg *config.Config, opts resolvedServe, migrate bool) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts.debug)
	if err != nil {
		return err
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "configuration loaded", cfg.LogSafe()...)
	if cfg.ShowFingerprints() {
		logger.Info("secret fingerprints", fingerprintArgs(cfg)...)
	}

	emitter := audit.New(audit.Config{
		Enabled:    cfg.AuditLogEnabled,
		AllowPII:   cfg.AllowPIILogging,
		ForwardURL: cfg.LogForwardWebhook,
	}, os.Stdout, logger)
	defer emitter.Close()

	// Initialize instrumentation provider
	instrConfig, err := instrumentation.ConfigFromEnv()
	if err != nil {
		return err
	}
	instrConfig.ServiceVersion = version
	instrConfig.Environment = cfg.Tier()

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	kv, backend, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()
	if err := startupGuard(cfg, backend); err != nil {
		return err
	}
	if mem, ok := kv.(*store.MemoryStore); ok {
		logger.Warn("sessions are kept in memory and are lost on restart")
		go mem.RunJanitor(ctx, memoryJanitorInterval)
	}
	logger.Info("session store ready", slog.String("backend", backend))

	db, err := openDatabase(ctx, cfg, migrate, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	ring, err := keys.NewRing(cfg.RefreshKey, cfg.RefreshKeyPrevious)
	if err != nil {
		return fmt.Errorf("failed to load refresh token keys: %w", err)
	}

	google := oauth.NewProvider(oauth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes(),
		JWKSTTL:      cfg.JWKSTTL(),
	})

	ks := keyspace(cfg)
	repo := session.NewRepository(kv, ks)
	sessions := session.NewManager(session.Config{
		Repository: repo,
		Refresher:  google,
		Cipher:     tokencipher.New(ring),
		Policy: session.Policy{
			IdleTimeout:     cfg.IdleTimeout(),
			AbsoluteTimeout: cfg.AbsoluteTimeout(),
			RotateInterval:  cfg.RotateInterval(),
			RefreshSkew:     cfg.RefreshSkew(),
		},
		Audit:    emitter,
		Recorder: metrics,
		Logger:   logger,
	})

	cookies := session.Cookies{
		Name:   cfg.SessionCookieName,
		Secure: cfg.IsProduction(),
		Domain: cfg.CookieDomain,
		Secret: cfg.SecretKey,
	}

	limiter := ratelimit.NewMiddleware(ratelimit.MiddlewareConfig{
		Limiter: ratelimit.NewLimiter(kv, ks,
			ratelimit.PerMinute(cfg.RateLimitAuthBurst, cfg.RateLimitAuthRefillPerMin),
			ratelimit.PerMinute(cfg.RateLimitAPIBurst, cfg.RateLimitAPIRefillPerMin)),
		Subjects:   session.CookieSubjects{Cookies: cookies, Repository: repo},
		CookieName: cookies.CookieName(),
		TrustProxy: cfg.TrustProxy,
		Audit:      emitter,
		Logger:     logger,
		Recorder:   metrics,
	})

	healthCfg := server.HealthConfig{AllowWithoutStore: cfg.AllowHealthPassWithoutRedis}
	if backend != store.BackendMemory {
		healthCfg.Store = kv
	}

	deps := server.Deps{
		Config:    cfg,
		Provider:  google,
		Sessions:  sessions,
		Cookies:   cookies,
		Calendar:  calendar.NewProxy(calendar.Config{Recorder: metrics, Logger: logging.WithComponent(logger, "calendar")}),
		RateLimit: limiter,
		Webhook:   notify.NewWebhook(cfg.N8NWebhookURL, nil, logger),
		Audit:     emitter,
		Metrics:   metrics,
		Build:     server.BuildInfo{Version: version, Commit: commit, Date: date},
		Logger:    logger,
	}
	if db != nil {
		deps.Users = postgres.NewUserRepository(db)
		deps.Deletions = postgres.NewDeletionRepository(db)
		healthCfg.DB = server.PingFunc(func(ctx context.Context) error { return postgres.Ping(ctx, db) })
	}
	deps.Health = server.NewHealthChecker(healthCfg)
	defer deps.Webhook.Wait()

	srv, err := server.New(deps)
	if err != nil {
		return err
	}

	metricsServer, err := startMetricsServer(provider, opts.metricsAddr, logger)
	if err != nil {
		return err
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(opts.addr); err != nil {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping http server")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("http server stopped with error: %w", err)
		}
		logger.Info("http server stopped normally")
		return nil
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during metrics server shutdown", logging.Err(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down http server: %w", err)
	}
	logger.Info("http server gracefully stopped")
	return nil
}

// openDatabase connects DATABASE_URL and optionally migrates it. It returns a
// nil db when no database is configured.
func openDatabase(ctx context.Context, cfg *config.Config, migrate bool, logger *slog.Logger) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		if migrate {
			return nil, errors.New("--migrate requires DATABASE_URL")
		}
		logger.Warn("no DATABASE_URL configured, user records and deletion requests are disabled")
		return nil, nil
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}
	return db, nil
}

// startMetricsServer serves /metrics when the provider exports to the
// Prometheus registry. It returns nil otherwise.
func startMetricsServer(provider *instrumentation.Provider, addr string, logger *slog.Logger) (*server.MetricsServer, error) {
	if !provider.Enabled() || !provider.ServesPrometheus() {
		return nil, nil
	}
	ms, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:     addr,
		Provider: provider,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}
	go func() {
		if err := ms.Start(); err != nil {
			logger.Error("metrics server error", logging.Err(err))
		}
	}()
	return ms, nil
}

func fingerprintArgs(cfg *config.Config) []any {
	fps := cfg.Fingerprints()
	args := make([]any, 0, len(fps))
	for _, name := range fingerprintOrder {
		args = append(args, slog.String(name, fps[name]))
	}
	return args
}

var fingerprintOrder = []string{"client_id_fp", "client_secret_fp", "refresh_key_fp", "refresh_prev_fp", "secret_key_fp"}
