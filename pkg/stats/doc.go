// Package stats turns raw GPU task records into usage rollups.
//
// Everything here is a pure function of its inputs: the same records and window
// always yield the same aggregates, and nothing reads the clock.
//
// # Aggregation
//
//	agg := stats.Aggregate(records, window, stats.Options{ExcludeDebug: true})
//	for _, u := range agg.Users {
//		fmt.Println(u.User, u.TotalRuntimeSec)
//	}
//
// Records are first filtered to the window (by start time) and by Options. Every
// view (users, GPUs, servers, projects, daily buckets) is then derived from the
// same filtered set, so their task counts always add up to the same total.
//
// Runtime is clipped to the window. A task started at 23:50 that runs for ten
// hours adds 600 seconds to that day's report, and a task with no runtime inside
// the window is left out entirely.
//
// # Sleep analysis
//
// Tasks started between 00:00 and 04:00 local time count as late-night work, tasks
// started between 04:00 and 10:00 as early-morning work. The local time zone is
// the location of the window's start.
package stats
