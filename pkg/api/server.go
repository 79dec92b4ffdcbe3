package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/gpureport/pkg/cache"
	"github.com/platinummonkey/gpureport/pkg/httputil"
	"github.com/platinummonkey/gpureport/pkg/observability"
	"github.com/platinummonkey/gpureport/pkg/report"
)

// ReportService is the subset of report.Service the handlers use
type ReportService interface {
	GetReport(ctx context.Context, t report.ReportType, now time.Time) (*report.Report, error)
	Refresh(ctx context.Context, t report.ReportType, now time.Time) (*report.Report, error)
	InvalidateAll() error
	InvalidateByType(k report.Kind) error
	CacheStats() cache.Stats
}

// Options holds the optional collaborators of a Server
type Options struct {
	Clock  quartz.Clock
	Logger *observability.Logger
	// Metrics instruments every routed request when set
	Metrics *observability.Metrics
	// Registry is served on /metrics when set
	Registry *prometheus.Registry
	// Health is served on /healthz when set
	Health *observability.HealthChecker
}

// Server represents our API server
type Server struct {
	reports ReportService
	router  *mux.Router
	clock   quartz.Clock
	logger  *observability.Logger
	opts    Options
}

// NewServer creates a new API server
func NewServer(reports ReportService, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	s := &Server{
		reports: reports,
		router:  mux.NewRouter(),
		clock:   opts.Clock,
		logger:  opts.Logger.WithComponent("api"),
		opts:    opts,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
	)
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics, routeTemplate))
	}

	// Report routes
	s.router.HandleFunc("/api/v1/reports/{type}", s.getReport).Methods(http.MethodGet)

	// Cache administration
	s.router.HandleFunc("/api/v1/admin/cache/invalidate", s.invalidateAll).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/admin/cache/invalidate/{kind}", s.invalidateKind).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/admin/cache/stats", s.cacheStats).Methods(http.MethodGet)

	if s.opts.Health != nil {
		s.router.HandleFunc("/healthz", s.opts.Health.Readiness).Methods(http.MethodGet)
		s.router.HandleFunc("/healthz/live", s.opts.Health.Liveness).Methods(http.MethodGet)
	}
	if s.opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Registry)).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routeTemplate keeps metric labels bounded to the registered routes
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
