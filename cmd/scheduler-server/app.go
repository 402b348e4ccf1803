package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/config"
	"github.com/ehr/scheduler/internal/domain/scheduling"
	"github.com/ehr/scheduler/internal/platform/auth"
	"github.com/ehr/scheduler/internal/platform/db"
	"github.com/ehr/scheduler/internal/platform/directory"
	"github.com/ehr/scheduler/internal/platform/events"
	"github.com/ehr/scheduler/internal/platform/middleware"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

// app owns everything a running process needs; close releases it in
// reverse order of acquisition.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	svc     *scheduling.Service
	checker db.Checker
	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		a.onClose(func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	}

	sink := a.eventSink(rdb)
	a.svc = scheduling.NewService(store, a.directory(rdb), sink, scheduling.Options{
		Location:           loc,
		MaxRecurrenceWeeks: cfg.MaxRecurrenceWeeks,
		Logger:             logger,
	})
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown step failed")
		}
	}
	a.closers = nil
}

func (a *app) openStore(ctx context.Context) (scheduling.Store, error) {
	switch a.cfg.StorageDriver {
	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return scheduling.Store{}, err
		}
		a.onClose(func(context.Context) error { return conn.Close() })
		if err := scheduling.MigrateSQLite(ctx, conn); err != nil {
			return scheduling.Store{}, err
		}
		a.checker = db.SQLChecker{DB: conn}
		a.logger.Info().Str("path", a.cfg.SQLitePath).Msg("using sqlite storage")
		return scheduling.NewSQLiteStore(conn), nil

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      a.cfg.DatabaseURL,
			MaxConns: a.cfg.DBMaxConns,
			MinConns: a.cfg.DBMinConns,
		})
		if err != nil {
			return scheduling.Store{}, err
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		a.checker = db.PoolChecker{Pool: pool}
		a.logger.Info().Msg("connected to postgres")
		return scheduling.NewPGStore(pool), nil
	}
	return scheduling.Store{}, fmt.Errorf("unknown storage driver %q", a.cfg.StorageDriver)
}

// eventSink publishes to the Redis stream when Redis is configured and to
// the log otherwise. Either way delivery happens off the request path.
func (a *app) eventSink(rdb *redis.Client) events.Sink {
	var next events.Sink = events.NewLogSink(a.logger)
	if rdb != nil {
		next = events.NewRedisSink(rdb, a.cfg.EventStream, 0)
	}
	async := events.NewAsyncSink(next, a.cfg.EventBuffer, a.logger)
	a.onClose(async.Close)
	return async
}

func (a *app) directory(rdb *redis.Client) directory.Directory {
	if a.cfg.DirectoryURL == "" {
		a.logger.Warn().Msg("DIRECTORY_URL not set; every party id is accepted")
		return directory.Static{}
	}
	d := directory.NewHTTP(a.cfg.DirectoryURL, a.cfg.DirectoryToken)
	if rdb != nil {
		d.UseRedisCache(rdb, a.cfg.DirectoryCacheTTL)
	}
	return d
}

func (a *app) routes() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(telemetry.Middleware())

	telemetry.Register()
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.checker != nil {
		e.GET("/health/db", db.HealthHandler(a.checker))
	}
	e.GET("/metrics", telemetry.Handler())

	api := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	if cfg.AuthSigningKey != "" {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	} else {
		a.logger.Warn().Msg("AUTH_SIGNING_KEY not set; using development auth")
		api.Use(auth.DevAuthMiddleware())
	}
	scheduling.NewHandler(a.svc, a.logger).RegisterRoutes(api)

	return e
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
