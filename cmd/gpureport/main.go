package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coder/quartz"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/platinummonkey/gpureport/pkg/api"
	"github.com/platinummonkey/gpureport/pkg/async"
	"github.com/platinummonkey/gpureport/pkg/buildinfo"
	"github.com/platinummonkey/gpureport/pkg/cache"
	"github.com/platinummonkey/gpureport/pkg/config"
	"github.com/platinummonkey/gpureport/pkg/observability"
	"github.com/platinummonkey/gpureport/pkg/refresher"
	"github.com/platinummonkey/gpureport/pkg/report"
	"github.com/platinummonkey/gpureport/pkg/source"
)

var showVersion = flag.Bool("version", false, "Print the build version and exit")

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(buildinfo.Version())
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("gpureport exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := quartz.NewReal()
	logger.WithFields(map[string]interface{}{
		"version":  buildinfo.Version(),
		"timezone": cfg.Report.Timezone,
		"source":   cfg.Source.Driver,
	}).Info("Starting gpureport")

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	src, db, err := openSource(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}

	// the version guard runs before the disk tier serves anything
	var (
		fs   afero.Fs
		disk *cache.DiskStore
	)
	if cfg.Cache.DiskEnabled {
		fs = afero.NewOsFs()
		guard := cache.NewVersionGuard(fs, cfg.Cache.Root, buildinfo.CurrentMajorVersion(), buildinfo.Version(), clock, logger).
			WithMetrics(metrics)
		if _, err := guard.Check(); err != nil {
			return fmt.Errorf("failed to check cache version: %w", err)
		}
		disk, err = cache.NewDiskStore(fs, cfg.Cache.Root, clock, logger)
		if err != nil {
			return err
		}
	}

	tiered, err := cache.NewTiered[*report.Report](cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		Disk:       disk,
		Clock:      clock,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	svc := report.NewService(src, tiered, clock, logger, cfg.ReportServiceConfig())

	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewServer(svc, api.Options{
			Clock:    clock,
			Logger:   logger,
			Metrics:  metrics,
			Registry: registry,
			Health:   observability.NewHealthChecker(db, fs, cfg.Cache.Root, buildinfo.Version(), clock),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)

	if cfg.Refresher.Enabled {
		ref := refresher.New(svc, clock, logger, cfg.RefresherConfig())
		if err := ref.Start(ctx); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc(ref.Stop)

		if cfg.Refresher.WarmOnStart {
			async.SafeGo(ctx, logger, cfg.Refresher.Timeout, "warm report cache", func(ctx context.Context) error {
				return errors.Join(ref.Warm(ctx)...)
			})
		}
	}
	if db != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return db.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

// openSource returns the task record source. db is nil for the memory driver.
func openSource(ctx context.Context, cfg *config.Config, clock quartz.Clock, logger *observability.Logger) (report.Source, *sql.DB, error) {
	if cfg.Source.Driver == config.DriverMemory {
		logger.Warn("Using the in-memory task source, reports will be empty")
		return source.NewMemorySource(), nil, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := source.Open(openCtx, cfg.SQLConfig())
	if err != nil {
		return nil, nil, err
	}
	src, err := source.NewSQLSource(db, cfg.Source.Driver, cfg.Source.Table, clock, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if cfg.Source.EnsureTable {
		if err := src.EnsureTable(openCtx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return src, db, nil
}
