package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"backoffice-serverless/internal/audit"
	"backoffice-serverless/internal/auth"
	"backoffice-serverless/internal/cache"
	"backoffice-serverless/internal/config"
	"backoffice-serverless/internal/db"
	"backoffice-serverless/internal/maintenance"
	"backoffice-serverless/internal/observability"
	"backoffice-serverless/internal/password"
	"backoffice-serverless/internal/token"
)

type Options struct {
	LoadDotEnv bool

	// RunMigrations forces migrations on; RUN_MIGRATIONS_ON_STARTUP can
	// also enable them.
	RunMigrations bool
	Registerer    prometheus.Registerer
	Gatherer      prometheus.Gatherer
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *zap.Logger
	Cleanup *maintenance.CleanupHandler
	Close   func() error
}

// Build wires the whole service from the environment.
func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(config.LoadOptions{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(true); err != nil {
		return nil, err
	}

	logger := NewLogger(cfg)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Version); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}

	database, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations || cfg.RunMigrations {
		if _, err := db.RunMigrations(ctx, database, logger); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	closeAll := func(extra ...func()) {
		for _, fn := range extra {
			fn()
		}
		_ = store.Close()
		_ = database.Close()
	}

	registerer := options.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := options.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	metrics, err := observability.NewMetrics(registerer)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := registerer.Register(collectors.NewDBStatsCollector(database, "backoffice")); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			logger.Warn("db_stats_collector_failed", zap.Error(err))
		}
	}

	passwords, err := password.NewPolicy(password.Config{Cost: cfg.Security.BcryptCost})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("password policy: %w", err)
	}

	tokens, err := token.NewService(token.Config{
		Secret:             cfg.Security.JWTSecret,
		Issuer:             cfg.Security.JWTIssuer,
		AccessTTL:          cfg.Security.AccessTTL,
		RefreshTTL:         cfg.Security.RefreshTTL,
		RefreshRememberTTL: cfg.Security.RefreshRememberTTL,
	}, token.NewRevocationStore(store))
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("token service: %w", err)
	}

	jobs := audit.NewDispatcher(audit.DispatcherConfig{DropIfFull: true}, logger)

	authRepo := auth.NewRepository(database)
	lockout := auth.NewLockout(store, cfg.Security.LoginMaxAttempts, cfg.Security.LoginLockDuration).
		WithFailureWindow(cfg.Security.LoginFailureWindow)
	authService, err := auth.NewService(auth.ServiceDeps{
		Users:     authRepo,
		Admins:    authRepo,
		Passwords: passwords,
		Tokens:    tokens,
		Limiter:   auth.NewLoginRateLimiter(store, cfg.Security.LoginRateLimitMax, cfg.Security.LoginRateLimitWindow),
		Lockout:   lockout,
		Audit:     audit.NewPostgresRecorder(database),
		Jobs:      jobs,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		closeAll(jobs.Close)
		return nil, err
	}

	if err := authService.BootstrapAdmin(ctx, cfg.Admin.Email, cfg.Admin.Name, cfg.Admin.Password); err != nil {
		closeAll(jobs.Close)
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	cookies := auth.NewCookieCodec(cfg.Security.CookieSecure, tokens.AccessTTL(), tokens.RefreshTTL(false), tokens.RefreshTTL(true))
	cleanup := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		cfg.CronSecret,
		cfg.Cleanup.SessionRetention,
		cfg.Cleanup.LoginAttemptRetention,
		cfg.Cleanup.BatchSize,
	)

	handler := NewRouter(RouterDeps{
		Logger:  logger,
		Metrics: metrics,
		Auth:    auth.NewHandler(authService, cookies, logger),
		Cleanup: cleanup,
		Health: []HealthCheck{
			{Name: "database", Ping: authRepo.Ping},
			{Name: "cache", Ping: store.Ping},
		},
		Gatherer:     gatherer,
		MetricsToken: cfg.CronSecret,
		Production:   cfg.IsProduction(),
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Cleanup: cleanup,
		Close: func() error {
			jobs.Close()
			observability.FlushSentry()
			_ = logger.Sync()
			return errors.Join(store.Close(), database.Close())
		},
	}, nil
}

func NewLogger(cfg *config.Config) *zap.Logger {
	return observability.NewLogger(observability.LoggerConfig{
		Env:         cfg.AppEnv,
		Level:       cfg.LogLevel,
		ServiceName: "backoffice-auth",
		Version:     cfg.Version,
	})
}

// OpenDatabase opens and pings the Postgres pool.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DB.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

// OpenStore returns the Redis store when REDIS_URL is set. The in-process
// store only holds for a single instance, so production refuses it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	if cfg.RedisURL == "" {
		if cfg.IsProduction() {
			return nil, config.ErrMissingRedis
		}
		logger.Warn("cache_store_in_memory", zap.String("reason", "REDIS_URL not set"))
		return cache.NewMemoryStore(time.Minute), nil
	}

	store, err := cache.NewRedisStoreFromURL(cfg.RedisURL, cfg.RedisPrefix)
	if err != nil {
		return nil, fmt.Errorf("open redis: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type RouterDeps struct {
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Auth     *auth.Handler
	Cleanup  *maintenance.CleanupHandler
	Health   []HealthCheck
	Gatherer prometheus.Gatherer

	// MetricsToken guards /metrics with a bearer token. Without one the
	// endpoint is only mounted outside production.
	MetricsToken string
	Production   bool
}

func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(observability.RequestLogger(logger, deps.Metrics))
	r.Use(observability.Recoverer(logger))

	r.Get("/health", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		switch {
		case deps.MetricsToken != "":
			r.Handle("/metrics", requireBearer(deps.MetricsToken, metricsHandler(deps.Gatherer)))
		case !deps.Production:
			r.Handle("/metrics", metricsHandler(deps.Gatherer))
		}
	}
	if deps.Auth != nil {
		r.Route("/api/auth", deps.Auth.Mount)
	}
	if deps.Cleanup != nil {
		r.Get("/internal/maintenance/cleanup", deps.Cleanup.Handle)
		r.Post("/internal/maintenance/cleanup", deps.Cleanup.Handle)
	}

	return r
}
