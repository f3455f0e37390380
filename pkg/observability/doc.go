// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for accesskit.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	logger.WithField("profile_code", code).Info("profile created")
//
// WithContext adds the trace_id and span_id of the active span.
//
// # Prometheus Metrics
//
// Metrics are registered on an explicit registry. A nil *Metrics is valid and
// records nothing:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordChunk("add", 100, elapsed, nil)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg.OTel, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Spans for assignment chunks come from Tracer(); FailSpan marks one failed.
package observability
