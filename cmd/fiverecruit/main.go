// Command fiverecruit serves the recruitment API: servers, team, jobs,
// applications, entitlements and platform administration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/config"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/middleware"
	"github.com/La-R19/fiverecruit/pkg/notify"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/platformadmin"
	"github.com/La-R19/fiverecruit/pkg/servers"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const notifyTimeout = 10 * time.Second

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fiverecruit: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "fiverecruit-api").
		WithField("version", version)

	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	db, err := postgres.Connect(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.ConnectTimeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
		MaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if cfg.Database.AutoMigrate || migrateOnly {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return err
		}
	}
	if migrateOnly {
		logger.Info("Migrations applied")
		return db.Close()
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		// Tracing is optional; keep serving without it.
		logger.WithError(err).Warn("OpenTelemetry initialization failed")
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			// The shared memo and distributed rate limits degrade to local.
			logger.WithError(err).Warn("Redis unavailable, continuing without it")
			redisClient = nil
		} else {
			shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	postgres.StartPoolStatsRoutine(ctx, db, metrics, logger, 15*time.Second)

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewStructuredLogger(logger))

	permissionResolver := permissions.NewResolver(db, metrics, auditLogger)

	catalog, err := entitlements.LoadCatalog(cfg.Billing.PremiumPriceID, cfg.Billing.PriceCatalogPath)
	if err != nil {
		return err
	}
	publisher := entitlements.NewNotifyPublisher(cfg.Entitlements.InvalidationChannel)
	entitlementResolver := entitlements.NewResolver(db, catalog, metrics)
	entitlementCache := entitlements.NewCachedResolver(entitlementResolver, redisClient, entitlements.CacheConfig{
		TTL:  cfg.Entitlements.CacheTTL,
		Size: cfg.Entitlements.CacheSize,
	}, metrics)
	licenses := entitlements.NewLicenseStore(db, permissionResolver, publisher, auditLogger, metrics)

	var notifier servers.Notifier = servers.NopNotifier{}
	if cfg.Notifications.DiscordEnabled {
		discord, err := notify.NewDiscordNotifier(cfg.Notifications.PublicBaseURL, notifyTimeout)
		if err != nil {
			return err
		}
		notifier = discord
	}

	var claimLimiter middleware.Limiter = middleware.NewRateLimiter(middleware.ClaimRateLimitConfig())
	if redisClient != nil {
		claimLimiter = middleware.NewDistributedRateLimiter(redisClient, middleware.ClaimRateLimitConfig(), "fiverecruit:ratelimit:claim:")
	}

	serverService := servers.NewService(db, permissionResolver, entitlementResolver,
		servers.WithNotifier(notifier),
		servers.WithPublisher(publisher),
		servers.WithAuditLogger(auditLogger),
		servers.WithMetrics(metrics),
	)

	handler := newRouter(components{
		logger:           logger,
		metrics:          metrics,
		verifier:         auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience),
		claimLimiter:     claimLimiter,
		corsOrigins:      cfg.Server.CORSOrigins,
		permissions:      permissionResolver,
		permissionsStore: permissions.NewStore(db, auditLogger),
		entitlements:     entitlementCache,
		subscriptions:    entitlements.NewSubscriptionStore(db, permissionResolver, publisher, catalog, auditLogger, metrics),
		licenses:         licenses,
		servers:          serverService,
		admin:            platformadmin.NewService(platformadmin.NewStore(db), licenses, auditLogger),
		auditSearch:      dbAudit,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(db, redisClient)
	healthChecker.SetVersion(version)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.AddServer(apiServer)
	shutdown.AddServer(healthServer)

	listener := entitlements.NewListener(cfg.Database.URL, cfg.Entitlements.InvalidationChannel,
		entitlementCache, cfg.Entitlements.ListenerReconnectMax, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		return serve(healthServer)
	})
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return catalog.Watch(gctx, logger) })
	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

// serve runs the server until it is shut down; a graceful close is not an
// error.
func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", server.Addr, err)
	}
	return nil
}
