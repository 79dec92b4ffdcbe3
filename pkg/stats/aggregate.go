package stats

import (
	"sort"
	"time"

	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

const dateLayout = "2006-01-02"

// UserStats is the per-user rollup
type UserStats struct {
	User            string  `json:"user"`
	TotalTasks      int     `json:"totalTasks"`
	TotalRuntimeSec int64   `json:"totalRuntimeSec"`
	SuccessCount    int     `json:"successCount"`
	FailCount       int     `json:"failCount"`
	AvgRuntimeSec   float64 `json:"avgRuntimeSec"`
	FavoriteGpu     string  `json:"favoriteGpu"`
	FavoriteProject string  `json:"favoriteProject"`
}

// GpuStats is the rollup for one GPU model on one server
type GpuStats struct {
	GpuName         string  `json:"gpuName"`
	ServerName      string  `json:"serverName"`
	UsageCount      int     `json:"usageCount"`
	TotalRuntimeSec int64   `json:"totalRuntimeSec"`
	AvgUsagePercent float64 `json:"avgUsagePercent"`
	AvgMemPercent   float64 `json:"avgMemPercent"`
	TotalMemGB      float64 `json:"totalMemGB"`
}

// ServerStats is the per-server rollup
type ServerStats struct {
	ServerName        string  `json:"serverName"`
	TotalTasks        int     `json:"totalTasks"`
	TotalRuntimeSec   int64   `json:"totalRuntimeSec"`
	ActiveUserCount   int     `json:"activeUserCount"`
	AvgGpuUtilization float64 `json:"avgGpuUtilization"`
}

// ProjectStats is the per-project rollup
type ProjectStats struct {
	ProjectName     string  `json:"projectName"`
	TotalRuntimeSec int64   `json:"totalRuntimeSec"`
	TotalTasks      int     `json:"totalTasks"`
	ActiveUserCount int     `json:"activeUserCount"`
	AvgRuntimeSec   float64 `json:"avgRuntimeSec"`
}

// DailyBucket groups tasks by local calendar date
type DailyBucket struct {
	Date            string  `json:"date"`
	TotalTasks      int     `json:"totalTasks"`
	TotalRuntimeSec int64   `json:"totalRuntimeSec"`
	ActiveUserCount int     `json:"activeUserCount"`
	PeakGpuUsage    float64 `json:"peakGpuUsage"`
}

// Aggregates holds every view derived from one filtered record set
type Aggregates struct {
	Window          timewindow.Window
	Users           []UserStats
	Gpus            []GpuStats
	Servers         []ServerStats
	Projects        []ProjectStats
	Daily           []DailyBucket
	Sleep           SleepAnalysis
	TotalTasks      int
	TotalRuntimeSec int64
	SuccessCount    int
	FailCount       int
	ActiveUsers     int
	// FirstStart and LastFinish are zero when no task matched
	FirstStart time.Time
	LastFinish time.Time
}

// Aggregate filters records to window and opts and computes all rollups.
//
// Lists are sorted by total runtime, largest first, with the name as tie-breaker.
// Daily buckets cover every local calendar date touched by the window, oldest first,
// including days without tasks.
func Aggregate(records []TaskRecord, window timewindow.Window, opts Options) Aggregates {
	loc := window.Start.Location()
	filtered := Filter(records, window, opts)

	users := newRollup[*userAcc]()
	gpus := newRollup[*gpuAcc]()
	servers := newRollup[*serverAcc]()
	projects := newRollup[*projectAcc]()
	days := make(map[string]*dayAcc)
	sleep := newSleepTracker(loc)

	agg := Aggregates{Window: window}
	for _, r := range filtered {
		secs := r.RuntimeIn(window)
		agg.TotalTasks++
		agg.TotalRuntimeSec += secs
		if r.Succeeded() {
			agg.SuccessCount++
		}
		if agg.FirstStart.IsZero() || r.StartTime.Before(agg.FirstStart) {
			agg.FirstStart = r.StartTime
		}
		if r.FinishTime.After(agg.LastFinish) {
			agg.LastFinish = r.FinishTime
		}

		users.get(r.User, func() *userAcc { return newUserAcc(r.User) }).add(r, secs)
		gpus.get(r.GpuName+"\x00"+r.Server, func() *gpuAcc {
			return &gpuAcc{GpuStats: GpuStats{GpuName: r.GpuName, ServerName: r.Server}}
		}).add(r, secs)
		servers.get(r.Server, func() *serverAcc {
			return &serverAcc{ServerStats: ServerStats{ServerName: r.Server}, users: map[string]struct{}{}}
		}).add(r, secs)
		project := r.ProjectName()
		projects.get(project, func() *projectAcc {
			return &projectAcc{ProjectStats: ProjectStats{ProjectName: project}, users: map[string]struct{}{}}
		}).add(r, secs)

		date := r.StartTime.In(loc).Format(dateLayout)
		day, ok := days[date]
		if !ok {
			day = &dayAcc{DailyBucket: DailyBucket{Date: date}, users: map[string]struct{}{}}
			days[date] = day
		}
		day.add(r, secs)

		sleep.add(r)
	}
	agg.FailCount = agg.TotalTasks - agg.SuccessCount
	agg.ActiveUsers = len(users.order)

	for _, u := range users.values() {
		agg.Users = append(agg.Users, u.finish())
	}
	for _, g := range gpus.values() {
		agg.Gpus = append(agg.Gpus, g.GpuStats)
	}
	for _, s := range servers.values() {
		s.ActiveUserCount = len(s.users)
		agg.Servers = append(agg.Servers, s.ServerStats)
	}
	for _, p := range projects.values() {
		p.ActiveUserCount = len(p.users)
		if p.TotalTasks > 0 {
			p.AvgRuntimeSec = float64(p.TotalRuntimeSec) / float64(p.TotalTasks)
		}
		agg.Projects = append(agg.Projects, p.ProjectStats)
	}
	agg.Daily = dailyTrend(window, loc, days)
	agg.Sleep = sleep.result()

	sort.SliceStable(agg.Users, func(i, j int) bool {
		return byRuntime(agg.Users[i].TotalRuntimeSec, agg.Users[j].TotalRuntimeSec, agg.Users[i].User, agg.Users[j].User)
	})
	sort.SliceStable(agg.Gpus, func(i, j int) bool {
		a, b := agg.Gpus[i], agg.Gpus[j]
		return byRuntime(a.TotalRuntimeSec, b.TotalRuntimeSec, a.GpuName+"@"+a.ServerName, b.GpuName+"@"+b.ServerName)
	})
	sort.SliceStable(agg.Servers, func(i, j int) bool {
		return byRuntime(agg.Servers[i].TotalRuntimeSec, agg.Servers[j].TotalRuntimeSec, agg.Servers[i].ServerName, agg.Servers[j].ServerName)
	})
	sort.SliceStable(agg.Projects, func(i, j int) bool {
		return byRuntime(agg.Projects[i].TotalRuntimeSec, agg.Projects[j].TotalRuntimeSec, agg.Projects[i].ProjectName, agg.Projects[j].ProjectName)
	})

	return agg
}

func byRuntime(a, b int64, nameA, nameB string) bool {
	if a != b {
		return a > b
	}
	return nameA < nameB
}

func dailyTrend(window timewindow.Window, loc *time.Location, days map[string]*dayAcc) []DailyBucket {
	var out []DailyBucket
	for d := timewindow.Midnight(window.Start.In(loc)); d.Before(window.End); d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		if acc, ok := days[date]; ok {
			acc.ActiveUserCount = len(acc.users)
			out = append(out, acc.DailyBucket)
			continue
		}
		out = append(out, DailyBucket{Date: date})
	}
	return out
}

// rollup keeps accumulators in first-seen order so ties sort deterministically
type rollup[A any] struct {
	byKey map[string]A
	order []string
}

func newRollup[A any]() *rollup[A] {
	return &rollup[A]{byKey: make(map[string]A)}
}

func (r *rollup[A]) get(key string, create func() A) A {
	if acc, ok := r.byKey[key]; ok {
		return acc
	}
	acc := create()
	r.byKey[key] = acc
	r.order = append(r.order, key)
	return acc
}

func (r *rollup[A]) values() []A {
	out := make([]A, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// runningMean updates avg with the n-th sample without keeping the samples
func runningMean(avg float64, x float64, n int) float64 {
	return avg + (x-avg)/float64(n)
}

type userAcc struct {
	UserStats
	gpuRuntime     *tally
	projectRuntime *tally
}

func newUserAcc(user string) *userAcc {
	return &userAcc{UserStats: UserStats{User: user}, gpuRuntime: newTally(), projectRuntime: newTally()}
}

func (u *userAcc) add(r TaskRecord, secs int64) {
	u.TotalTasks++
	u.TotalRuntimeSec += secs
	if r.Succeeded() {
		u.SuccessCount++
	}
	u.gpuRuntime.add(r.GpuName, secs)
	u.projectRuntime.add(r.ProjectName(), secs)
}

func (u *userAcc) finish() UserStats {
	s := u.UserStats
	s.FailCount = s.TotalTasks - s.SuccessCount
	if s.TotalTasks > 0 {
		s.AvgRuntimeSec = float64(s.TotalRuntimeSec) / float64(s.TotalTasks)
	}
	s.FavoriteGpu = u.gpuRuntime.top()
	s.FavoriteProject = u.projectRuntime.top()
	return s
}

// tally sums runtime per value; top returns the largest, first-seen on ties
type tally struct {
	sums  map[string]int64
	order []string
}

func newTally() *tally {
	return &tally{sums: make(map[string]int64)}
}

func (t *tally) add(value string, seconds int64) {
	if _, ok := t.sums[value]; !ok {
		t.order = append(t.order, value)
	}
	t.sums[value] += seconds
}

func (t *tally) top() string {
	best := ""
	var bestSum int64 = -1
	for _, v := range t.order {
		if t.sums[v] > bestSum {
			best, bestSum = v, t.sums[v]
		}
	}
	return best
}

type gpuAcc struct {
	GpuStats
}

func (g *gpuAcc) add(r TaskRecord, secs int64) {
	g.UsageCount++
	g.TotalRuntimeSec += secs
	g.AvgUsagePercent = runningMean(g.AvgUsagePercent, r.GpuUsagePercent, g.UsageCount)
	g.AvgMemPercent = runningMean(g.AvgMemPercent, r.GpuMemPercent, g.UsageCount)
	g.TotalMemGB += r.GpuMemGB
}

type serverAcc struct {
	ServerStats
	users map[string]struct{}
}

func (s *serverAcc) add(r TaskRecord, secs int64) {
	s.TotalTasks++
	s.TotalRuntimeSec += secs
	s.users[r.User] = struct{}{}
	s.AvgGpuUtilization = runningMean(s.AvgGpuUtilization, r.GpuUsagePercent, s.TotalTasks)
}

type projectAcc struct {
	ProjectStats
	users map[string]struct{}
}

func (p *projectAcc) add(r TaskRecord, secs int64) {
	p.TotalTasks++
	p.TotalRuntimeSec += secs
	p.users[r.User] = struct{}{}
}

type dayAcc struct {
	DailyBucket
	users map[string]struct{}
}

func (d *dayAcc) add(r TaskRecord, secs int64) {
	d.TotalTasks++
	d.TotalRuntimeSec += secs
	d.users[r.User] = struct{}{}
	if r.GpuUsagePercent > d.PeakGpuUsage {
		d.PeakGpuUsage = r.GpuUsagePercent
	}
}
