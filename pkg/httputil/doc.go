// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, report)
//	httputil.WriteBadRequest(w, "Invalid report type")
//	httputil.WriteServiceUnavailable(w, "Task data unavailable")
//
// # Request Parsing
//
//	name, ok := httputil.ParsePathStringOrError(w, r, "type")
//	start, err := httputil.ParseQueryTime(r, "start")
//	refresh, err := httputil.ParseQueryBool(r, "refresh", false)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
