// Package refresher recomputes reports on cron schedules so readers find them
// warm, and periodically drops expired cache entries.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gpureport/pkg/async"
	"github.com/platinummonkey/gpureport/pkg/observability"
	"github.com/platinummonkey/gpureport/pkg/report"
)

// ReportService is the part of report.Service the refresher drives
type ReportService interface {
	GetReport(ctx context.Context, t report.ReportType, now time.Time) (*report.Report, error)
	Refresh(ctx context.Context, t report.ReportType, now time.Time) (*report.Report, error)
	CleanupExpired() int
}

// Schedules are standard five-field cron expressions
type Schedules struct {
	// Hourly refreshes the rolling hourly reports and today
	Hourly  string
	Daily   string
	Weekly  string
	Monthly string
	Yearly  string
	Cleanup string
}

// DefaultSchedules refresh each calendar report a few minutes after its period
// rolls over.
func DefaultSchedules() Schedules {
	return Schedules{
		Hourly:  "0 * * * *",
		Daily:   "5 0 * * *",
		Weekly:  "10 0 * * 1",
		Monthly: "15 0 1 * *",
		Yearly:  "20 0 1 1 *",
		Cleanup: "30 * * * *",
	}
}

// Config tunes the refresher
type Config struct {
	Schedules Schedules
	// Location is the time zone schedules are evaluated in; nil means UTC
	Location *time.Location
	// Workers bounds concurrent refreshes within one job
	Workers int
	// Timeout bounds a single report refresh
	Timeout time.Duration
}

// DefaultConfig returns the default schedules in UTC
func DefaultConfig() Config {
	return Config{
		Schedules: DefaultSchedules(),
		Location:  time.UTC,
		Workers:   4,
		Timeout:   5 * time.Minute,
	}
}

type job struct {
	name     string
	schedule string
	run      func(context.Context)
}

// Refresher drives scheduled report refreshes
type Refresher struct {
	svc     ReportService
	clock   quartz.Clock
	logger  *observability.Logger
	cfg     Config
	cron    *cron.Cron
	started bool
}

// New creates a refresher. Nothing runs until Start.
func New(svc ReportService, clock quartz.Clock, logger *observability.Logger, cfg Config) *Refresher {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Refresher{
		svc:    svc,
		clock:  clock,
		logger: logger.WithComponent("refresher"),
		cfg:    cfg,
		cron:   cron.New(cron.WithLocation(cfg.Location)),
	}
}

// HourlyTypes are refreshed by the hourly job
func HourlyTypes() []report.ReportType {
	types := make([]report.ReportType, 0, len(report.HourlyLengths)+1)
	for _, n := range report.HourlyLengths {
		types = append(types, report.Hourly(n))
	}
	return append(types, report.Today())
}

// Start registers every job and starts the scheduler. Jobs run with ctx; a job
// with an empty schedule is disabled.
func (r *Refresher) Start(ctx context.Context) error {
	if r.started {
		return errors.New("refresher already started")
	}

	s := r.cfg.Schedules
	jobs := []job{
		{"hourly", s.Hourly, func(ctx context.Context) { r.RefreshHourly(ctx) }},
		{"daily", s.Daily, func(ctx context.Context) { r.RefreshDaily(ctx) }},
		{"weekly", s.Weekly, func(ctx context.Context) { r.RefreshWeekly(ctx) }},
		{"monthly", s.Monthly, func(ctx context.Context) { r.RefreshMonthly(ctx) }},
		{"yearly", s.Yearly, func(ctx context.Context) { r.RefreshYearly(ctx) }},
		{"cleanup", s.Cleanup, func(ctx context.Context) { r.Cleanup() }},
	}

	for _, j := range jobs {
		if j.schedule == "" {
			r.logger.WithField("job", j.name).Info("Job disabled")
			continue
		}
		if _, err := r.cron.AddFunc(j.schedule, func() { j.run(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule %s job %q: %w", j.name, j.schedule, err)
		}
		r.logger.WithFields(map[string]interface{}{
			"job":      j.name,
			"schedule": j.schedule,
		}).Info("Scheduled job")
	}

	r.cron.Start()
	r.started = true
	return nil
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (r *Refresher) Stop(ctx context.Context) error {
	if !r.started {
		return nil
	}
	select {
	case <-r.cron.Stop().Done():
		r.logger.Info("Refresher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("refresher stop interrupted: %w", ctx.Err())
	}
}

// Entries returns the number of scheduled jobs
func (r *Refresher) Entries() int {
	return len(r.cron.Entries())
}

// RefreshHourly refreshes the rolling hourly reports and today
func (r *Refresher) RefreshHourly(ctx context.Context) []error {
	return r.refresh(ctx, "hourly", HourlyTypes(), r.svc.Refresh)
}

// RefreshDaily refreshes yesterday
func (r *Refresher) RefreshDaily(ctx context.Context) []error {
	return r.refresh(ctx, "daily", []report.ReportType{report.Yesterday()}, r.svc.Refresh)
}

// RefreshWeekly refreshes last week
func (r *Refresher) RefreshWeekly(ctx context.Context) []error {
	return r.refresh(ctx, "weekly", []report.ReportType{report.Weekly()}, r.svc.Refresh)
}

// RefreshMonthly refreshes last month
func (r *Refresher) RefreshMonthly(ctx context.Context) []error {
	return r.refresh(ctx, "monthly", []report.ReportType{report.Monthly()}, r.svc.Refresh)
}

// RefreshYearly refreshes last year
func (r *Refresher) RefreshYearly(ctx context.Context) []error {
	return r.refresh(ctx, "yearly", []report.ReportType{report.Yearly()}, r.svc.Refresh)
}

// Warm loads every scheduled report once, typically at startup. Reports already
// persisted on disk are read back rather than rebuilt.
func (r *Refresher) Warm(ctx context.Context) []error {
	types := append(HourlyTypes(), report.Yesterday(), report.Weekly(), report.Monthly(), report.Yearly())
	return r.refresh(ctx, "warm", types, r.svc.GetReport)
}

// Cleanup drops expired cache entries and returns how many were removed
func (r *Refresher) Cleanup() int {
	removed := r.svc.CleanupExpired()
	r.logger.WithField("removed", removed).Debug("Cleaned up expired cache entries")
	return removed
}

type loadFunc func(ctx context.Context, t report.ReportType, now time.Time) (*report.Report, error)

func (r *Refresher) refresh(ctx context.Context, name string, types []report.ReportType, load loadFunc) []error {
	now := r.clock.Now().In(r.cfg.Location)
	start := r.clock.Now()

	errs := async.Batch(ctx, types, r.cfg.Workers, name+" refresh", r.cfg.Timeout,
		func(ctx context.Context, t report.ReportType) error {
			if _, err := load(ctx, t, now); err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			return nil
		})

	logger := r.logger.WithFields(map[string]interface{}{
		"job":         name,
		"reports":     len(types),
		"failed":      len(errs),
		"duration_ms": r.clock.Since(start).Milliseconds(),
	})
	if len(errs) > 0 {
		logger.WithError(errors.Join(errs...)).Error("Report refresh failed")
	} else {
		logger.Info("Refreshed reports")
	}
	return errs
}
