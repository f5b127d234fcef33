package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/radiusdt/leadgen-analytics/internal/analytics"
	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/radiusdt/leadgen-analytics/internal/database"
	"github.com/radiusdt/leadgen-analytics/internal/httpserver"
	"github.com/radiusdt/leadgen-analytics/internal/metasync"
	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/middleware"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
	"github.com/radiusdt/leadgen-analytics/internal/session"
	"github.com/radiusdt/leadgen-analytics/internal/site"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"go.uber.org/zap"
)

// app owns the connections and services shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db    *database.PostgresDB
	redis *database.RedisDB
	ch    *database.ClickHouseDB
	geo   site.GeoProvider

	hub       *realtime.Hub
	repos     *storage.Repos
	analytics *analytics.Service
	sync      *metasync.Service
	leads     *site.LeadService
	sessions  *session.Manager
	limiter   *middleware.RateLimitMiddleware
	checks    map[string]httpserver.HealthChecker
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.NewMetrics("leadgen", registry),
		checks:   make(map[string]httpserver.HealthChecker),
	}
	a.hub = realtime.NewHub(logger, a.metrics)

	if err := a.connect(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// connect opens the optional backing stores.  A store that is enabled but
// unreachable is fatal.
func (a *app) connect(ctx context.Context) error {
	var err error
	if a.cfg.Database.Enabled {
		if a.db, err = database.NewPostgresDB(ctx, a.cfg.Database, a.logger); err != nil {
			return err
		}
		a.checks["postgres"] = a.db
	} else {
		a.logger.Warn("PostgreSQL disabled, using in-memory storage")
	}

	if a.cfg.Redis.Enabled {
		if a.redis, err = database.NewRedisDB(ctx, a.cfg.Redis, a.logger); err != nil {
			return err
		}
		a.checks["redis"] = a.redis
	} else {
		a.logger.Warn("Redis disabled, sessions and report cache are process-local")
	}

	if a.cfg.ClickHouse.Enabled {
		if a.ch, err = database.NewClickHouseDB(ctx, a.cfg.ClickHouse, a.logger); err != nil {
			return err
		}
		a.checks["clickhouse"] = a.ch
	}

	if a.cfg.Geo.Enabled {
		geo, err := site.NewMaxMindGeo(a.cfg.Geo.DatabasePath)
		if err != nil {
			a.logger.Warn("GeoIP unavailable, country enrichment disabled", zap.Error(err))
		} else {
			a.geo = site.NewCachedGeo(geo, 10000, time.Hour)
		}
	}
	return nil
}

func (a *app) build(ctx context.Context) error {
	if a.db != nil {
		a.repos = storage.NewPostgresRepos(a.db.Pool)
	} else {
		a.repos = storage.NewInMemoryRepos(a.hub)
	}

	if a.ch != nil {
		perf := storage.NewClickHouseAdPerformanceRepo(a.ch.Conn, a.hub)
		if err := perf.EnsureSchema(ctx); err != nil {
			return err
		}
		a.repos.AdPerformance = perf
	}

	var (
		cache analytics.Cache
		store session.Store
	)
	if a.redis != nil {
		cache = analytics.NewRedisCache(a.redis.Client, "leadgen:report:")
		store = session.NewRedisStore(a.redis.Client, "leadgen:session:")
	} else {
		cache = analytics.NewMemoryCache()
		store = session.NewMemoryStore()
	}

	excluded := make([]models.LeadType, 0, len(a.cfg.Analytics.SQLExcludedTypes))
	for _, t := range a.cfg.Analytics.SQLExcludedTypes {
		excluded = append(excluded, models.LeadType(t))
	}
	if a.cfg.Pacing.Start.IsZero() {
		a.logger.Warn("LEADGEN_PACING_START not set, weekly report disabled")
	}
	a.analytics = analytics.NewService(a.repos, analytics.ServiceConfig{
		Rules: analytics.Rules{SQLExcludedTypes: excluded},
		Plan: analytics.Plan{
			Start:           a.cfg.Pacing.Start,
			Weeks:           a.cfg.Pacing.Weeks,
			WeeklySQLTarget: a.cfg.Pacing.WeeklySQLTarget,
			WeeklySpend:     a.cfg.Pacing.WeeklySpend,
		},
		CacheTTL: a.cfg.Analytics.CacheTTL,
	}, cache, a.metrics, a.logger)

	client := metasync.NewClient(a.cfg.Meta.GraphURL, a.cfg.Meta.APIVersion, a.cfg.Meta.Timeout)
	a.sync = metasync.NewService(client, a.repos, a.cfg.Meta.AutoSyncDays, a.metrics, a.logger)

	pages, err := site.NewPages(a.cfg.Routes)
	if err != nil {
		return fmt.Errorf("failed to build route map: %w", err)
	}
	a.leads = site.NewLeadService(a.repos.Submissions, pages, a.geo, models.GenerationV2, a.metrics, a.logger)

	a.sessions = session.NewManager(a.cfg.Session.AdminPassword, a.cfg.Session.TTL, store)

	a.limiter = middleware.NewRateLimitMiddleware(a.cfg.RateLimit, a.logger)
	a.limiter.SetMetrics(a.metrics)
	return nil
}

func (a *app) handler() *httpserver.Dependencies {
	return &httpserver.Dependencies{
		Config:    a.cfg,
		Logger:    a.logger,
		Metrics:   a.metrics,
		Gatherer:  a.registry,
		Repos:     a.repos,
		Hub:       a.hub,
		Analytics: a.analytics,
		Sync:      a.sync,
		Leads:     a.leads,
		Sessions:  a.sessions,
		Limiter:   a.limiter,
		Checks:    a.checks,
	}
}

func (a *app) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.geo != nil {
		_ = a.geo.Close()
	}
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}
