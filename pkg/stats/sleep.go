package stats

import (
	"sort"
	"time"
)

const (
	lateNightEndHour    = 4
	earlyMorningEndHour = 10
)

// TaskRef points at the task that earned a sleep-analysis title
type TaskRef struct {
	TaskID    string    `json:"taskId"`
	User      string    `json:"user"`
	StartTime time.Time `json:"startTime"`
}

// SleepAnalysis summarizes work started at unusual hours.
//
// The late-night champion is the task started latest in the night (closest to
// 04:00), the early-morning champion the task started earliest after 04:00. Times of
// day are compared regardless of date.
type SleepAnalysis struct {
	LateNightTasks       int      `json:"lateNightTasks"`
	LateNightUsers       []string `json:"lateNightUsers"`
	LateNightChampion    *TaskRef `json:"lateNightChampion,omitempty"`
	EarlyMorningTasks    int      `json:"earlyMorningTasks"`
	EarlyMorningUsers    []string `json:"earlyMorningUsers"`
	EarlyMorningChampion *TaskRef `json:"earlyMorningChampion,omitempty"`
}

type sleepTracker struct {
	loc        *time.Location
	acc        SleepAnalysis
	lateUsers  map[string]struct{}
	earlyUsers map[string]struct{}
	lateBest   time.Duration
	earlyBest  time.Duration
}

func newSleepTracker(loc *time.Location) *sleepTracker {
	return &sleepTracker{
		loc:        loc,
		lateUsers:  make(map[string]struct{}),
		earlyUsers: make(map[string]struct{}),
	}
}

func (s *sleepTracker) add(r TaskRecord) {
	local := r.StartTime.In(s.loc)
	clock := sinceMidnight(local)

	switch hour := local.Hour(); {
	case hour < lateNightEndHour:
		s.acc.LateNightTasks++
		s.lateUsers[r.User] = struct{}{}
		if s.acc.LateNightChampion == nil || clock > s.lateBest {
			s.lateBest = clock
			s.acc.LateNightChampion = &TaskRef{TaskID: r.ID, User: r.User, StartTime: r.StartTime}
		}
	case hour < earlyMorningEndHour:
		s.acc.EarlyMorningTasks++
		s.earlyUsers[r.User] = struct{}{}
		if s.acc.EarlyMorningChampion == nil || clock < s.earlyBest {
			s.earlyBest = clock
			s.acc.EarlyMorningChampion = &TaskRef{TaskID: r.ID, User: r.User, StartTime: r.StartTime}
		}
	}
}

func (s *sleepTracker) result() SleepAnalysis {
	out := s.acc
	out.LateNightUsers = sortedKeys(s.lateUsers)
	out.EarlyMorningUsers = sortedKeys(s.earlyUsers)
	return out
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
