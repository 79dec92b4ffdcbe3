package stats

import (
	"strings"
	"time"

	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

// UnknownProject names the bucket for tasks reported without a project
const UnknownProject = "Unknown"

// TaskRecord is one finished or running GPU task as reported by a cluster agent.
// The aggregator never modifies records.
type TaskRecord struct {
	ID              string    `json:"id"`
	User            string    `json:"user"`
	Project         string    `json:"project"`
	Server          string    `json:"server"`
	GpuName         string    `json:"gpuName"`
	StartTime       time.Time `json:"startTime"`
	FinishTime      time.Time `json:"finishTime"`
	RunningSeconds  int64     `json:"runningSeconds"`
	GpuUsagePercent float64   `json:"gpuUsagePercent"`
	GpuMemPercent   float64   `json:"gpuMemPercent"`
	GpuMemGB        float64   `json:"gpuMemGB"`
	IsMultiGpu      bool      `json:"isMultiGpu"`
	IsDebug         bool      `json:"isDebug"`
	Status          string    `json:"status"`
	LocalRank       int       `json:"localRank"`
	WorldSize       int       `json:"worldSize"`
}

// Succeeded reports whether the task finished with status "success"
func (r TaskRecord) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), "success")
}

// ProjectName returns the project, or UnknownProject when it is blank
func (r TaskRecord) ProjectName() string {
	if p := strings.TrimSpace(r.Project); p != "" {
		return p
	}
	return UnknownProject
}

// Finish returns when the task stopped. Records still running, or carrying a
// finish before their start, fall back to StartTime plus RunningSeconds.
func (r TaskRecord) Finish() time.Time {
	if r.FinishTime.After(r.StartTime) {
		return r.FinishTime
	}
	return r.StartTime.Add(time.Duration(r.RunningSeconds) * time.Second)
}

// RuntimeIn returns the whole seconds the task ran inside window.
// A task that outlives the window only counts up to window.End.
func (r TaskRecord) RuntimeIn(window timewindow.Window) int64 {
	start, end := r.StartTime, r.Finish()
	if start.Before(window.Start) {
		start = window.Start
	}
	if end.After(window.End) {
		end = window.End
	}
	if !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}

// Options controls which records take part in aggregation
type Options struct {
	// ExcludeDebug drops tasks flagged as debug runs
	ExcludeDebug bool
	// FilterMultiGpu keeps one record per distributed task: the rank 0 process.
	// Records with a WorldSize of one or less always pass.
	FilterMultiGpu bool
}

// Filter returns the records that start inside window, ran for at least a
// second of it and pass opts, in input order.
func Filter(records []TaskRecord, window timewindow.Window, opts Options) []TaskRecord {
	out := make([]TaskRecord, 0, len(records))
	for _, r := range records {
		if !window.Contains(r.StartTime) {
			continue
		}
		if opts.ExcludeDebug && r.IsDebug {
			continue
		}
		if opts.FilterMultiGpu && r.WorldSize > 1 && r.LocalRank != 0 {
			continue
		}
		if r.RuntimeIn(window) <= 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}
