// Package api exposes GPU usage reports and cache administration over HTTP.
//
// # Routes
//
//	GET  /api/v1/reports/{type}                  24h, 48h, 72h, today, yesterday, weekly, monthly, yearly, custom
//	POST /api/v1/admin/cache/invalidate          drop every cached report
//	POST /api/v1/admin/cache/invalidate/{kind}   drop every cached report of one kind
//	GET  /api/v1/admin/cache/stats               cache hit counts and disk usage
//	GET  /healthz, /healthz/live                 readiness and liveness
//	GET  /metrics                                Prometheus exposition
//
// Custom reports take start and end as RFC 3339 query parameters. Any report
// request accepts refresh=true to rebuild the report instead of serving the
// cached copy.
//
// # Errors
//
// Errors are JSON bodies of the form {"error": "..."}. An unknown type or an
// invalid window is a 400, a failing task data source is a 503.
//
// # Usage
//
//	server := api.NewServer(reportService, api.Options{
//		Clock:    clock,
//		Logger:   logger,
//		Metrics:  metrics,
//		Registry: registry,
//		Health:   checker,
//	})
//	http.ListenAndServe(":8080", server)
package api
