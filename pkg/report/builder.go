package report

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/gpureport/pkg/stats"
	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

const (
	dayLayout      = "2006-01-02"
	dayHourLayout  = "2006-01-02 15:04"
	secondsPerHour = 3600
)

// TopN bounds the ranked lists of a report per period length
type TopN struct {
	Daily   int
	Weekly  int
	Monthly int
	Yearly  int
}

// DefaultTopN returns the standard list lengths
func DefaultTopN() TopN {
	return TopN{Daily: 5, Weekly: 10, Monthly: 15, Yearly: 20}
}

// For returns the list length for a report of type t covering w. Hourly reports
// use the daily length; custom reports pick by the window's duration.
func (n TopN) For(t ReportType, w timewindow.Window) int {
	switch t.Kind {
	case KindHourly, KindToday, KindYesterday:
		return n.Daily
	case KindWeekly:
		return n.Weekly
	case KindMonthly:
		return n.Monthly
	case KindYearly:
		return n.Yearly
	}

	day := 24 * time.Hour
	switch d := w.Duration(); {
	case d <= 2*day:
		return n.Daily
	case d <= 8*day:
		return n.Weekly
	case d <= 32*day:
		return n.Monthly
	default:
		return n.Yearly
	}
}

// Builder turns aggregates into reports
type Builder struct {
	topN TopN
}

// NewBuilder creates a builder. Zero lengths in topN fall back to the defaults.
func NewBuilder(topN TopN) *Builder {
	def := DefaultTopN()
	if topN.Daily <= 0 {
		topN.Daily = def.Daily
	}
	if topN.Weekly <= 0 {
		topN.Weekly = def.Weekly
	}
	if topN.Monthly <= 0 {
		topN.Monthly = def.Monthly
	}
	if topN.Yearly <= 0 {
		topN.Yearly = def.Yearly
	}
	return &Builder{topN: topN}
}

// Build assembles the report of type t from agg. The aggregate lists are already
// ranked by runtime, Build only truncates them and rounds the averages.
func (b *Builder) Build(t ReportType, agg stats.Aggregates, generatedAt time.Time) *Report {
	w := agg.Window
	n := b.topN.For(t, w)

	r := &Report{
		Type:              t.String(),
		Kind:              t.Kind,
		Title:             title(t, w),
		Description:       describe(t, w),
		PeriodStart:       w.Start,
		PeriodEnd:         w.End,
		GeneratedAt:       generatedAt,
		TotalTasks:        agg.TotalTasks,
		TotalRuntimeSec:   agg.TotalRuntimeSec,
		TotalRuntimeHours: round2(float64(agg.TotalRuntimeSec) / secondsPerHour),
		ActiveUsers:       agg.ActiveUsers,
		SuccessCount:      agg.SuccessCount,
		FailCount:         agg.FailCount,
		SuccessRate:       successRate(agg.SuccessCount, agg.TotalTasks),
		TopUsers:          make([]stats.UserStats, 0, n),
		TopGpus:           make([]stats.GpuStats, 0, n),
		TopProjects:       make([]stats.ProjectStats, 0, n),
		TopServers:        make([]stats.ServerStats, 0, n),
		DailyTrend:        slices.Clone(agg.Daily),
		Sleep:             agg.Sleep,
	}

	for _, u := range head(agg.Users, n) {
		u.AvgRuntimeSec = round2(u.AvgRuntimeSec)
		r.TopUsers = append(r.TopUsers, u)
	}
	for _, g := range head(agg.Gpus, n) {
		g.AvgUsagePercent = round2(g.AvgUsagePercent)
		g.AvgMemPercent = round2(g.AvgMemPercent)
		g.TotalMemGB = round2(g.TotalMemGB)
		r.TopGpus = append(r.TopGpus, g)
	}
	for _, p := range head(agg.Projects, n) {
		p.AvgRuntimeSec = round2(p.AvgRuntimeSec)
		r.TopProjects = append(r.TopProjects, p)
	}
	for _, s := range head(agg.Servers, n) {
		s.AvgGpuUtilization = round2(s.AvgGpuUtilization)
		r.TopServers = append(r.TopServers, s)
	}
	for i := range r.DailyTrend {
		r.DailyTrend[i].PeakGpuUsage = round2(r.DailyTrend[i].PeakGpuUsage)
	}

	if !agg.FirstStart.IsZero() {
		first := agg.FirstStart
		r.FirstTaskStart = &first
	}
	if !agg.LastFinish.IsZero() {
		last := agg.LastFinish
		r.LastTaskFinish = &last
	}
	return r
}

func successRate(success, total int) float64 {
	if total == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(success)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2).
		InexactFloat64()
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func head[S ~[]E, E any](s S, n int) S {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func title(t ReportType, w timewindow.Window) string {
	switch t.Kind {
	case KindHourly:
		return fmt.Sprintf("GPU Usage Report - Last %d Hours", t.Hours)
	case KindToday:
		return "GPU Daily Report - Today"
	case KindYesterday:
		return "GPU Daily Report - Yesterday"
	case KindWeekly:
		return "GPU Weekly Report - Last Week"
	case KindMonthly:
		return "GPU Monthly Report - " + w.Start.Format("January 2006")
	case KindYearly:
		return "GPU Yearly Report - " + w.Start.Format("2006")
	default:
		return "GPU Usage Report - Custom Range"
	}
}

// describe renders the covered period. Calendar reports show inclusive dates.
func describe(t ReportType, w timewindow.Window) string {
	switch t.Kind {
	case KindToday, KindYesterday:
		return w.Start.Format(dayLayout)
	case KindWeekly, KindMonthly, KindYearly:
		lastDay := w.End.AddDate(0, 0, -1)
		return fmt.Sprintf("%s to %s", w.Start.Format(dayLayout), lastDay.Format(dayLayout))
	default:
		return fmt.Sprintf("%s to %s", w.Start.Format(dayHourLayout), w.End.Format(dayHourLayout))
	}
}
