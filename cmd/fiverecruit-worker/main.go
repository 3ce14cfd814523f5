// Command fiverecruit-worker runs the scheduled maintenance jobs: invite
// purging and plan gauge refresh.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/La-R19/fiverecruit/pkg/config"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/servers"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

var version = "dev"

var runOnce = flag.String("run-once", "", "Run a single job (purge-invites or plan-gauges) and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fiverecruit-worker: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "fiverecruit-worker").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Worker exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	defer db.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	catalog, err := entitlements.LoadCatalog(cfg.Billing.PremiumPriceID, cfg.Billing.PriceCatalogPath)
	if err != nil {
		return err
	}
	resolver := entitlements.NewResolver(db, catalog, metrics)
	checker := permissions.NewResolver(db, metrics, nil)

	w := &worker{
		db:          db,
		servers:     servers.NewService(db, checker, resolver, servers.WithMetrics(metrics)),
		resolver:    resolver,
		metrics:     metrics,
		logger:      logger,
		inviteGrace: cfg.Worker.InvitePurgeGrace,
		now:         time.Now,
	}

	jobs := map[string]struct {
		schedule string
		fn       func(context.Context) error
	}{
		"purge-invites": {cfg.Worker.InvitePurgeSchedule, w.purgeInvites},
		"plan-gauges":   {cfg.Worker.PlanGaugeSchedule, w.refreshPlanGauges},
	}

	if *runOnce != "" {
		job, ok := jobs[*runOnce]
		if !ok {
			return fmt.Errorf("unknown job %q", *runOnce)
		}
		runCtx, cancelRun := context.WithTimeout(ctx, jobTimeout)
		defer cancelRun()
		return job.fn(runCtx)
	}

	c := cron.New(cron.WithLocation(time.UTC))
	for name, job := range jobs {
		name, fn := name, job.fn
		if _, err := c.AddFunc(job.schedule, func() { w.run(name, fn) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		logger.WithFields(map[string]interface{}{"job": name, "schedule": job.schedule}).Info("Job scheduled")
	}

	postgres.StartPoolStatsRoutine(ctx, db, metrics, logger, 30*time.Second)

	healthChecker := observability.NewHealthChecker(db, nil)
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
	go func() {
		defer observability.RecoverPanic(logger, "worker health server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.AddServer(healthServer)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-c.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	c.Start()
	logger.Info("Worker started")

	return shutdown.WaitForShutdown(ctx)
}
