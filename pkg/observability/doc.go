// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry tracing and graceful shutdown.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("server_id", serverID).Info("license claimed")
//
// Request-scoped loggers carry request_id and user_id:
//
//	observability.FromContext(r.Context()).WithError(err).Error("bind failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObservePermissionCheck("can_create_jobs", allowed, elapsed)
//	metrics.ServersByPlan.WithLabelValues("premium").Set(n)
//
// HTTP metrics are labelled by mux route template, not by raw path.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("entitlement_listener", false, listener.Healthy)
//	observability.RegisterHealthRoutes(opsMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "fiverecruit",
//		SampleRatio: 0.1,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request ID and logger middleware
package observability
