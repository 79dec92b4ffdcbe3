package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gpureport/pkg/httputil"
	"github.com/platinummonkey/gpureport/pkg/observability"
	"github.com/platinummonkey/gpureport/pkg/report"
)

// getReport handles GET /api/v1/reports/{type}
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "type")
	if !ok {
		return
	}
	start, err := httputil.ParseQueryTime(r, "start")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	end, err := httputil.ParseQueryTime(r, "end")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	refresh, err := httputil.ParseQueryBool(r, "refresh", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	t, err := report.ParseReportType(name, start, end)
	if err != nil {
		s.writeReportError(w, r, err)
		return
	}

	get := s.reports.GetReport
	if refresh {
		get = s.reports.Refresh
	}
	rep, err := get(r.Context(), t, s.clock.Now())
	if err != nil {
		s.writeReportError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, rep)
}

// invalidateAll handles POST /api/v1/admin/cache/invalidate
func (s *Server) invalidateAll(w http.ResponseWriter, r *http.Request) {
	if err := s.reports.InvalidateAll(); err != nil {
		s.writeReportError(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "All cached reports invalidated", nil)
}

// invalidateKind handles POST /api/v1/admin/cache/invalidate/{kind}
func (s *Server) invalidateKind(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "kind")
	if !ok {
		return
	}
	kind, err := report.ParseKind(name)
	if err != nil {
		s.writeReportError(w, r, err)
		return
	}
	if err := s.reports.InvalidateByType(kind); err != nil {
		s.writeReportError(w, r, err)
		return
	}
	_ = httputil.WriteSuccessMessage(w, "Cached reports invalidated", map[string]string{"kind": string(kind)})
}

// cacheStats handles GET /api/v1/admin/cache/stats
func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, s.reports.CacheStats())
}

func (s *Server) writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, report.ErrInvalidWindow), errors.Is(err, report.ErrUnknownType):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, report.ErrDataUnavailable):
		httputil.WriteServiceUnavailable(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		httputil.WriteInternalError(w, err)
	}
}
