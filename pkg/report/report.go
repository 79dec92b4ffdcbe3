package report

import (
	"slices"
	"time"

	"github.com/platinummonkey/gpureport/pkg/stats"
)

// Report is the summary served to callers. A Report handed out by the Service
// is a private copy; mutating it does not affect the cache.
type Report struct {
	Type        string    `json:"type"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	GeneratedAt time.Time `json:"generatedAt"`

	TotalTasks        int     `json:"totalTasks"`
	TotalRuntimeSec   int64   `json:"totalRuntimeSec"`
	TotalRuntimeHours float64 `json:"totalRuntimeHours"`
	ActiveUsers       int     `json:"activeUsers"`
	SuccessCount      int     `json:"successCount"`
	FailCount         int     `json:"failCount"`
	// SuccessRate is a percentage rounded to two decimals, 0 without tasks
	SuccessRate float64 `json:"successRate"`

	TopUsers    []stats.UserStats    `json:"topUsers"`
	TopGpus     []stats.GpuStats     `json:"topGpus"`
	TopProjects []stats.ProjectStats `json:"topProjects"`
	TopServers  []stats.ServerStats  `json:"topServers"`
	DailyTrend  []stats.DailyBucket  `json:"dailyTrend"`
	Sleep       stats.SleepAnalysis  `json:"sleep"`

	FirstTaskStart *time.Time `json:"firstTaskStart,omitempty"`
	LastTaskFinish *time.Time `json:"lastTaskFinish,omitempty"`
}

// Clone returns a deep copy
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.TopUsers = slices.Clone(r.TopUsers)
	c.TopGpus = slices.Clone(r.TopGpus)
	c.TopProjects = slices.Clone(r.TopProjects)
	c.TopServers = slices.Clone(r.TopServers)
	c.DailyTrend = slices.Clone(r.DailyTrend)
	c.Sleep.LateNightUsers = slices.Clone(r.Sleep.LateNightUsers)
	c.Sleep.EarlyMorningUsers = slices.Clone(r.Sleep.EarlyMorningUsers)
	c.Sleep.LateNightChampion = clonePtr(r.Sleep.LateNightChampion)
	c.Sleep.EarlyMorningChampion = clonePtr(r.Sleep.EarlyMorningChampion)
	c.FirstTaskStart = clonePtr(r.FirstTaskStart)
	c.LastTaskFinish = clonePtr(r.LastTaskFinish)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
