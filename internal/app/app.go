package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/auth"
	"github.com/sundayezeilo/golinks/internal/cache"
	"github.com/sundayezeilo/golinks/internal/config"
	"github.com/sundayezeilo/golinks/internal/links"
	"github.com/sundayezeilo/golinks/internal/ratelimit"
	"github.com/sundayezeilo/golinks/internal/server"
	"github.com/sundayezeilo/golinks/internal/store/postgres"
	"github.com/sundayezeilo/golinks/internal/store/sqlite"
)

// App holds the application dependencies and configuration.
// Backend clients are created here and released by Shutdown; nothing else
// holds a process-wide handle to them.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DBPool  *pgxpool.Pool // set when STORE_DRIVER=postgres
	SQLDB   *sql.DB       // set when STORE_DRIVER=sqlite
	Redis   *redis.Client
	Server  *server.Server
	Handler *links.Handler
}

// New loads configuration from the environment and wires the application.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"store", cfg.Store.Driver,
	)

	return Build(ctx, cfg, logger)
}

// Build connects to the configured backends and assembles the server.
// On error every backend opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Shutdown()
		}
	}()

	linkRepo, auditRepo, storeCheck, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	a.Redis = connectRedis(ctx, cfg, logger)

	linkCache := cache.New(a.Redis, &cache.Config{
		LinkTTL: cfg.Cache.LinkTTL,
		Logger:  logger,
	})
	recorder := audit.NewRecorder(auditRepo, logger)

	resolver := links.NewResolver(linkRepo, linkCache, recorder, &links.ResolverConfig{
		CacheTTL: cfg.Cache.LinkTTL,
		Logger:   logger,
	})
	manager := links.NewManager(linkRepo, linkCache, recorder, &links.ManagerConfig{
		CacheTTL: cfg.Cache.LinkTTL,
		Logger:   logger,
	})

	a.Handler = links.NewHandler(links.HandlerConfig{
		Resolver: resolver,
		Manager:  manager,
		Audits:   recorder,
		Logger:   logger,
		BaseURL:  cfg.Server.BaseURL,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.PerMinute > 0 {
		limiter = ratelimit.New(a.Redis, &ratelimit.Config{
			PerMinute: cfg.RateLimit.PerMinute,
			Logger:    logger,
		})
	}

	a.Server = server.New(cfg, logger, server.Deps{
		Links:   a.Handler,
		Signer:  auth.NewSigner(&auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.Issuer}),
		Limiter: limiter,
		Checks: map[string]server.Pinger{
			"store": storeCheck,
			"cache": linkCache,
		},
	})

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (links.Repository, audit.Repository, server.Pinger, error) {
	switch a.Config.Store.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, a.Config.SQLite.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.SQLDB = db
		a.Logger.Info("sqlite store ready")
		return sqlite.NewLinkStore(db), sqlite.NewAuditStore(db), server.PingFunc(db.PingContext), nil

	case config.DriverPostgres:
		pool, err := connectDatabase(ctx, a.Config, a.Logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DBPool = pool
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return postgres.NewLinkStore(pool), postgres.NewAuditStore(pool), pool, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver %q", a.Config.Store.Driver)
	}
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown releases every backend connection. It is safe to call on a
// partially built App.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	var errs []error
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}
	if a.SQLDB != nil {
		if err := a.SQLDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
		a.Logger.Info("sqlite database closed")
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		a.Logger.Info("redis connection closed")
	}

	return errors.Join(errs...)
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// connectRedis opens the shared Redis client used by the cache and the rate limiter.
// An unreachable Redis is not fatal: the client dials lazily, every cache
// operation falls back to the store, and the health check reports the cache down.
func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Cache.Addr,
		Password:    cfg.Cache.Password,
		DB:          cfg.Cache.DB,
		DialTimeout: cfg.Cache.DialTimeout,
	})

	logger.Info("connecting to redis", "addr", cfg.Cache.Addr, "db", cfg.Cache.DB)

	pingTimeout := cfg.Cache.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, serving from the store until it recovers",
			"addr", cfg.Cache.Addr,
			"error", err.Error(),
		)
		return client
	}

	logger.Info("redis connection established")
	return client
}
