// Package observability provides structured logging, Prometheus metrics, health
// checks and graceful shutdown.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("cache").WithField("key", key).Info("Cache miss")
//
// Request-scoped logging:
//
//	ctx = observability.WithRequestID(ctx, id)
//	observability.FromContext(ctx).Warn("Report build failed")
//
// # Prometheus Metrics
//
// Metrics register against the registry they are given, so tests can use a fresh
// one:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordCacheHit("memory", "weekly")
//
// A nil *Metrics is valid and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, fs, cacheRoot, buildinfo.Version(), clock)
//	status := checker.Check(ctx)
//
// # Shutdown
//
//	mgr := observability.NewShutdownManager(logger, server, 30*time.Second)
//	mgr.RegisterShutdownFunc(refresher.Stop)
//	mgr.WaitForShutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
