package stats

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

var day = timewindow.Window{
	Start: time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC),
}

func task(id, user, project, server, gpu string, start time.Time, secs int64, usage, mem, memGB float64, status string) TaskRecord {
	return TaskRecord{
		ID:              id,
		User:            user,
		Project:         project,
		Server:          server,
		GpuName:         gpu,
		StartTime:       start,
		FinishTime:      start.Add(time.Duration(secs) * time.Second),
		RunningSeconds:  secs,
		GpuUsagePercent: usage,
		GpuMemPercent:   mem,
		GpuMemGB:        memGB,
		Status:          status,
	}
}

func clock(hour, min int) time.Time {
	return time.Date(2024, 6, 20, hour, min, 0, 0, time.UTC)
}

func fixture() []TaskRecord {
	return []TaskRecord{
		task("t1", "alice", "vision", "node1", "A100", clock(1, 30), 3600, 80, 50, 20, "success"),
		task("t2", "alice", "", "node1", "A100", clock(9, 0), 1800, 40, 30, 10, "FAILED"),
		task("t3", "bob", "nlp", "node2", "H100", clock(3, 45), 7200, 90, 70, 60, "Success"),
		task("t4", "bob", "nlp", "node1", "A100", clock(5, 10), 600, 20, 10, 5, "success"),
		task("t5", "carol", "nlp", "node2", "H100", day.End, 999, 99, 99, 99, "success"),
	}
}

func TestAggregate_Totals(t *testing.T) {
	agg := Aggregate(fixture(), day, Options{})

	assert.Equal(t, 4, agg.TotalTasks)
	assert.Equal(t, int64(13200), agg.TotalRuntimeSec)
	assert.Equal(t, 3, agg.SuccessCount)
	assert.Equal(t, 1, agg.FailCount)
	assert.Equal(t, 2, agg.ActiveUsers)
	assert.Equal(t, clock(1, 30), agg.FirstStart)
	assert.Equal(t, clock(9, 30), agg.LastFinish)
	assert.Equal(t, day, agg.Window)
}

func TestAggregate_Users(t *testing.T) {
	agg := Aggregate(fixture(), day, Options{})
	require.Len(t, agg.Users, 2)

	bob := agg.Users[0]
	assert.Equal(t, "bob", bob.User)
	assert.Equal(t, 2, bob.TotalTasks)
	assert.Equal(t, int64(7800), bob.TotalRuntimeSec)
	assert.Equal(t, 2, bob.SuccessCount)
	assert.Equal(t, 0, bob.FailCount)
	assert.InDelta(t, 3900, bob.AvgRuntimeSec, 1e-9)
	assert.Equal(t, "H100", bob.FavoriteGpu)
	assert.Equal(t, "nlp", bob.FavoriteProject)

	alice := agg.Users[1]
	assert.Equal(t, "alice", alice.User)
	assert.Equal(t, 1, alice.SuccessCount)
	assert.Equal(t, 1, alice.FailCount)
	assert.Equal(t, "A100", alice.FavoriteGpu)
	assert.Equal(t, "vision", alice.FavoriteProject)

	t.Run("favorite ties keep first seen", func(t *testing.T) {
		records := []TaskRecord{
			task("a", "dan", "p1", "n", "V100", clock(12, 0), 100, 0, 0, 0, "success"),
			task("b", "dan", "p2", "n", "T4", clock(13, 0), 100, 0, 0, 0, "success"),
		}
		agg := Aggregate(records, day, Options{})
		require.Len(t, agg.Users, 1)
		assert.Equal(t, "V100", agg.Users[0].FavoriteGpu)
		assert.Equal(t, "p1", agg.Users[0].FavoriteProject)
	})

	t.Run("favorite follows total runtime not single task", func(t *testing.T) {
		records := []TaskRecord{
			task("a", "dan", "p", "n", "V100", clock(12, 0), 500, 0, 0, 0, "success"),
			task("b", "dan", "p", "n", "T4", clock(13, 0), 300, 0, 0, 0, "success"),
			task("c", "dan", "p", "n", "T4", clock(14, 0), 300, 0, 0, 0, "success"),
		}
		agg := Aggregate(records, day, Options{})
		assert.Equal(t, "T4", agg.Users[0].FavoriteGpu)
	})
}

func TestAggregate_Gpus(t *testing.T) {
	agg := Aggregate(fixture(), day, Options{})
	require.Len(t, agg.Gpus, 2)

	assert.Equal(t, "H100", agg.Gpus[0].GpuName)
	assert.Equal(t, "node2", agg.Gpus[0].ServerName)

	a100 := agg.Gpus[1]
	assert.Equal(t, "A100", a100.GpuName)
	assert.Equal(t, "node1", a100.ServerName)
	assert.Equal(t, 3, a100.UsageCount)
	assert.Equal(t, int64(6000), a100.TotalRuntimeSec)
	assert.InDelta(t, 140.0/3, a100.AvgUsagePercent, 1e-9)
	assert.InDelta(t, 30, a100.AvgMemPercent, 1e-9)
	assert.InDelta(t, 35, a100.TotalMemGB, 1e-9)

	t.Run("same model on two servers is two entries", func(t *testing.T) {
		records := []TaskRecord{
			task("a", "u", "p", "n1", "A100", clock(12, 0), 10, 0, 0, 0, "success"),
			task("b", "u", "p", "n2", "A100", clock(12, 0), 10, 0, 0, 0, "success"),
		}
		assert.Len(t, Aggregate(records, day, Options{}).Gpus, 2)
	})
}

func TestAggregate_ServersAndProjects(t *testing.T) {
	agg := Aggregate(fixture(), day, Options{})

	require.Len(t, agg.Servers, 2)
	assert.Equal(t, "node2", agg.Servers[0].ServerName)
	node1 := agg.Servers[1]
	assert.Equal(t, "node1", node1.ServerName)
	assert.Equal(t, 3, node1.TotalTasks)
	assert.Equal(t, 2, node1.ActiveUserCount)
	assert.InDelta(t, 140.0/3, node1.AvgGpuUtilization, 1e-9)

	require.Len(t, agg.Projects, 3)
	assert.Equal(t, "nlp", agg.Projects[0].ProjectName)
	assert.Equal(t, 2, agg.Projects[0].TotalTasks)
	assert.Equal(t, 1, agg.Projects[0].ActiveUserCount)
	assert.InDelta(t, 3900, agg.Projects[0].AvgRuntimeSec, 1e-9)
	assert.Equal(t, "vision", agg.Projects[1].ProjectName)
	assert.Equal(t, UnknownProject, agg.Projects[2].ProjectName)
	assert.Equal(t, int64(1800), agg.Projects[2].TotalRuntimeSec)
}

func TestAggregate_Daily(t *testing.T) {
	t.Run("single day", func(t *testing.T) {
		agg := Aggregate(fixture(), day, Options{})
		require.Len(t, agg.Daily, 1)
		assert.Equal(t, DailyBucket{
			Date:            "2024-06-20",
			TotalTasks:      4,
			TotalRuntimeSec: 13200,
			ActiveUserCount: 2,
			PeakGpuUsage:    90,
		}, agg.Daily[0])
	})

	t.Run("empty days are filled", func(t *testing.T) {
		window := timewindow.Window{Start: day.Start, End: day.Start.AddDate(0, 0, 3)}
		records := []TaskRecord{
			task("a", "u", "p", "n", "g", day.Start.Add(2*time.Hour), 10, 30, 0, 0, "success"),
			task("b", "u", "p", "n", "g", day.Start.AddDate(0, 0, 2).Add(time.Hour), 10, 70, 0, 0, "success"),
		}
		agg := Aggregate(records, window, Options{})
		require.Len(t, agg.Daily, 3)
		assert.Equal(t, "2024-06-20", agg.Daily[0].Date)
		assert.Equal(t, DailyBucket{Date: "2024-06-21"}, agg.Daily[1])
		assert.Equal(t, 70.0, agg.Daily[2].PeakGpuUsage)
	})

	t.Run("dates follow the window location", func(t *testing.T) {
		cst := time.FixedZone("UTC+8", 8*3600)
		window := timewindow.TodayWindow(time.Date(2024, 6, 20, 12, 0, 0, 0, cst))
		records := []TaskRecord{
			// 01:00 local on the 20th
			task("a", "u", "p", "n", "g", time.Date(2024, 6, 19, 17, 0, 0, 0, time.UTC), 10, 0, 0, 0, "success"),
		}
		agg := Aggregate(records, window, Options{})
		require.Len(t, agg.Daily, 1)
		assert.Equal(t, "2024-06-20", agg.Daily[0].Date)
		assert.Equal(t, 1, agg.Sleep.LateNightTasks)
	})
}

func TestAggregate_Sleep(t *testing.T) {
	agg := Aggregate(fixture(), day, Options{})
	sleep := agg.Sleep

	assert.Equal(t, 2, sleep.LateNightTasks)
	assert.Equal(t, []string{"alice", "bob"}, sleep.LateNightUsers)
	require.NotNil(t, sleep.LateNightChampion)
	assert.Equal(t, "t3", sleep.LateNightChampion.TaskID)

	assert.Equal(t, 2, sleep.EarlyMorningTasks)
	assert.Equal(t, []string{"alice", "bob"}, sleep.EarlyMorningUsers)
	require.NotNil(t, sleep.EarlyMorningChampion)
	assert.Equal(t, "t4", sleep.EarlyMorningChampion.TaskID)

	t.Run("daytime work is ignored", func(t *testing.T) {
		records := []TaskRecord{task("a", "u", "p", "n", "g", clock(10, 0), 10, 0, 0, 0, "success")}
		sleep := Aggregate(records, day, Options{}).Sleep
		assert.Zero(t, sleep.LateNightTasks)
		assert.Zero(t, sleep.EarlyMorningTasks)
		assert.Nil(t, sleep.LateNightChampion)
		assert.Nil(t, sleep.EarlyMorningChampion)
		assert.Empty(t, sleep.LateNightUsers)
	})
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil, day, Options{})

	assert.Zero(t, agg.TotalTasks)
	assert.Zero(t, agg.ActiveUsers)
	assert.Empty(t, agg.Users)
	assert.True(t, agg.FirstStart.IsZero())
	assert.True(t, agg.LastFinish.IsZero())
	require.Len(t, agg.Daily, 1)
	assert.Zero(t, agg.Daily[0].TotalTasks)
}

func TestFilter(t *testing.T) {
	debug := task("d", "u", "p", "n", "g", clock(12, 0), 10, 0, 0, 0, "success")
	debug.IsDebug = true
	rank0 := task("r0", "u", "p", "n", "g", clock(12, 0), 10, 0, 0, 0, "success")
	rank0.IsMultiGpu, rank0.WorldSize = true, 2
	rank1 := rank0
	rank1.ID, rank1.LocalRank = "r1", 1
	outside := task("o", "u", "p", "n", "g", day.Start.Add(-time.Second), 10, 0, 0, 0, "success")
	idle := task("z", "u", "p", "n", "g", clock(12, 0), 0, 0, 0, 0, "success")

	records := []TaskRecord{debug, rank0, rank1, outside, idle}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"window only", Options{}, []string{"d", "r0", "r1"}},
		{"exclude debug", Options{ExcludeDebug: true}, []string{"r0", "r1"}},
		{"rank zero only", Options{FilterMultiGpu: true}, []string{"d", "r0"}},
		{"both", Options{ExcludeDebug: true, FilterMultiGpu: true}, []string{"r0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, r := range Filter(records, day, tt.opts) {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFilter_MultiGpu(t *testing.T) {
	tests := []struct {
		worldSize int
		localRank int
		flagged   bool
		kept      bool
	}{
		{worldSize: 0, localRank: 0, kept: true},
		{worldSize: 0, localRank: 1, kept: true},
		{worldSize: 1, localRank: 0, kept: true},
		{worldSize: 1, localRank: 1, kept: true},
		{worldSize: 1, localRank: 1, flagged: true, kept: true},
		{worldSize: 2, localRank: 0, kept: true},
		{worldSize: 2, localRank: 0, flagged: true, kept: true},
		{worldSize: 2, localRank: 1, kept: false},
		{worldSize: 2, localRank: 1, flagged: true, kept: false},
		{worldSize: 8, localRank: 7, kept: false},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("world %d rank %d flagged %t", tt.worldSize, tt.localRank, tt.flagged)
		t.Run(name, func(t *testing.T) {
			r := task("t", "u", "p", "n", "g", clock(12, 0), 10, 0, 0, 0, "success")
			r.WorldSize, r.LocalRank, r.IsMultiGpu = tt.worldSize, tt.localRank, tt.flagged

			assert.Len(t, Filter([]TaskRecord{r}, day, Options{FilterMultiGpu: true}), boolToLen(tt.kept))
			assert.Len(t, Filter([]TaskRecord{r}, day, Options{}), 1, "filter off keeps every rank")
		})
	}
}

func boolToLen(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestTaskRecord_RuntimeIn(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		secs  int64
		want  int64
	}{
		{"inside", clock(12, 0), 3600, 3600},
		{"runs past the end", clock(23, 50), 10 * 3600, 600},
		{"started before the start", day.Start.Add(-time.Hour), 2 * 3600, 3600},
		{"covers the whole window", day.Start.Add(-time.Hour), 26 * 3600, 24 * 3600},
		{"ends at the start", day.Start.Add(-time.Hour), 3600, 0},
		{"starts at the end", day.End, 3600, 0},
		{"zero runtime", clock(12, 0), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := task("t", "u", "p", "n", "g", tt.start, tt.secs, 0, 0, 0, "success")
			assert.Equal(t, tt.want, r.RuntimeIn(day))
		})
	}

	t.Run("running task falls back to running seconds", func(t *testing.T) {
		r := task("t", "u", "p", "n", "g", clock(23, 0), 7200, 0, 0, 0, "")
		r.FinishTime = time.Time{}
		assert.Equal(t, int64(3600), r.RuntimeIn(day))
	})
}

func TestAggregate_ClipsRuntimeToWindow(t *testing.T) {
	records := []TaskRecord{
		task("late", "alice", "vision", "node1", "A100", clock(23, 50), 10*3600, 50, 0, 0, "success"),
		task("short", "alice", "vision", "node1", "A100", clock(12, 0), 300, 50, 0, 0, "success"),
		task("idle", "bob", "nlp", "node2", "H100", clock(13, 0), 0, 50, 0, 0, "success"),
	}
	agg := Aggregate(records, day, Options{})

	assert.Equal(t, 2, agg.TotalTasks)
	assert.Equal(t, int64(900), agg.TotalRuntimeSec)
	assert.Equal(t, 1, agg.ActiveUsers, "a user with only zero-runtime tasks is not active")

	require.Len(t, agg.Users, 1)
	assert.Equal(t, int64(900), agg.Users[0].TotalRuntimeSec)
	require.Len(t, agg.Gpus, 1)
	assert.Equal(t, int64(900), agg.Gpus[0].TotalRuntimeSec)
	require.Len(t, agg.Projects, 1)
	assert.Equal(t, int64(900), agg.Projects[0].TotalRuntimeSec)
	require.Len(t, agg.Daily, 1)
	assert.Equal(t, int64(900), agg.Daily[0].TotalRuntimeSec)

	t.Run("ranked lists never carry zero runtime", func(t *testing.T) {
		for _, u := range agg.Users {
			assert.Positive(t, u.TotalRuntimeSec)
		}
		for _, s := range agg.Servers {
			assert.Positive(t, s.TotalRuntimeSec)
		}
	})
}

func TestAggregate_ViewsAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	window := timewindow.Window{Start: day.Start, End: day.Start.AddDate(0, 0, 7)}

	for round := 0; round < 20; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			n := rng.IntN(300)
			records := make([]TaskRecord, 0, n)
			for i := 0; i < n; i++ {
				// spread one day either side of the window
				offset := time.Duration(rng.Int64N(int64(9*24*time.Hour))) - 24*time.Hour
				r := task(
					fmt.Sprintf("t%d", i),
					fmt.Sprintf("user%d", rng.IntN(8)),
					[]string{"", "a", "b", "c"}[rng.IntN(4)],
					fmt.Sprintf("node%d", rng.IntN(3)),
					[]string{"A100", "H100", "T4"}[rng.IntN(3)],
					window.Start.Add(offset),
					rng.Int64N(10000),
					rng.Float64()*100, rng.Float64()*100, rng.Float64()*80,
					[]string{"success", "failed", "killed"}[rng.IntN(3)],
				)
				r.IsDebug = rng.IntN(5) == 0
				r.IsMultiGpu = rng.IntN(4) == 0
				if r.IsMultiGpu {
					r.WorldSize = 2
					r.LocalRank = rng.IntN(2)
				}
				records = append(records, r)
			}
			opts := Options{ExcludeDebug: round%2 == 0, FilterMultiGpu: round%3 == 0}

			agg := Aggregate(records, window, opts)
			want := len(Filter(records, window, opts))

			var users, gpus, servers, projects, daily int
			var userRuntime, gpuRuntime int64
			for _, u := range agg.Users {
				users += u.TotalTasks
				userRuntime += u.TotalRuntimeSec
				assert.Equal(t, u.TotalTasks, u.SuccessCount+u.FailCount)
			}
			for _, g := range agg.Gpus {
				gpus += g.UsageCount
				gpuRuntime += g.TotalRuntimeSec
			}
			for _, s := range agg.Servers {
				servers += s.TotalTasks
			}
			for _, p := range agg.Projects {
				projects += p.TotalTasks
			}
			for _, d := range agg.Daily {
				daily += d.TotalTasks
			}

			assert.Equal(t, want, agg.TotalTasks)
			assert.Equal(t, want, users)
			assert.Equal(t, want, gpus)
			assert.Equal(t, want, servers)
			assert.Equal(t, want, projects)
			assert.Equal(t, want, daily)
			assert.Equal(t, agg.TotalRuntimeSec, userRuntime)
			assert.Equal(t, agg.TotalRuntimeSec, gpuRuntime)
			assert.Len(t, agg.Daily, 7)
		})
	}
}
