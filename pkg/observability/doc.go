// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(logrus.InfoLevel, os.Stdout)
//	logger.WithField("client_id", client.ID).Info("token issued")
//
// Request-scoped loggers are attached by middleware and retrieved with
// FromContext, which also adds trace and span ids when a span is recording.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordGrant("authorization_code", "success")
//	metrics.RecordDecisions("Model", "resolved", 3)
//
// A nil *Metrics records nothing, so components can be built without one.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		Register("database", true, observability.DatabaseProbe(db)).
//		Register("redis", true, observability.RedisProbe(redisClient))
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "accesscore",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
package observability
