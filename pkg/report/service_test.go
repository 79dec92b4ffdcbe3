package report

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gpureport/pkg/cache"
	"github.com/platinummonkey/gpureport/pkg/stats"
	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

const cacheRoot = "/cache/report"

type fakeSource struct {
	records []stats.TaskRecord
	queries atomic.Int32

	mu      sync.Mutex
	err     error
	windows []timewindow.Window
}

func (s *fakeSource) Query(_ context.Context, w timewindow.Window) ([]stats.TaskRecord, error) {
	s.queries.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, w)
	if s.err != nil {
		return nil, s.err
	}
	var out []stats.TaskRecord
	for _, r := range s.records {
		if w.Contains(r.StartTime) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func record(id, user string, start time.Time, secs int64, status string) stats.TaskRecord {
	return stats.TaskRecord{
		ID:              id,
		User:            user,
		Project:         "nlp",
		Server:          "node1",
		GpuName:         "A100",
		StartTime:       start,
		FinishTime:      start.Add(time.Duration(secs) * time.Second),
		RunningSeconds:  secs,
		GpuUsagePercent: 75,
		Status:          status,
	}
}

type harness struct {
	t      *testing.T
	fs     afero.Fs
	clock  *quartz.Mock
	source *fakeSource
	cfg    Config
	svc    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 6, 20, 14, 10, 0, 0, time.UTC))

	h := &harness{
		t:     t,
		fs:    afero.NewMemMapFs(),
		clock: clock,
		cfg:   DefaultConfig(),
		source: &fakeSource{records: []stats.TaskRecord{
			record("y1", "alice", time.Date(2024, 6, 19, 2, 0, 0, 0, time.UTC), 3600, "success"),
			record("y2", "bob", time.Date(2024, 6, 19, 11, 0, 0, 0, time.UTC), 1800, "failed"),
			record("t1", "alice", time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC), 600, "success"),
			record("w1", "carol", time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC), 7200, "success"),
		}},
	}
	h.restart()
	return h
}

// restart drops the memory tier and keeps the filesystem
func (h *harness) restart() {
	h.t.Helper()
	disk, err := cache.NewDiskStore(h.fs, cacheRoot, h.clock, nil)
	require.NoError(h.t, err)
	tiered, err := cache.NewTiered[*Report](cache.Options{Disk: disk, Clock: h.clock})
	require.NoError(h.t, err)
	h.svc = NewService(h.source, tiered, h.clock, nil, h.cfg)
}

func (h *harness) get(typ ReportType) *Report {
	h.t.Helper()
	r, err := h.svc.GetReport(context.Background(), typ, h.clock.Now())
	require.NoError(h.t, err)
	return r
}

func TestService_GetReport(t *testing.T) {
	h := newHarness(t)

	r := h.get(Yesterday())
	assert.Equal(t, "yesterday", r.Type)
	assert.Equal(t, 2, r.TotalTasks)
	assert.Equal(t, int64(5400), r.TotalRuntimeSec)
	assert.Equal(t, 50.0, r.SuccessRate)
	assert.Equal(t, 2, r.ActiveUsers)
	assert.Equal(t, time.Date(2024, 6, 19, 0, 0, 0, 0, time.UTC), r.PeriodStart)
	assert.Equal(t, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), r.PeriodEnd)
	assert.Equal(t, time.Date(2024, 6, 20, 14, 10, 0, 0, time.UTC), r.GeneratedAt)
	assert.Equal(t, 1, r.Sleep.LateNightTasks)

	require.Len(t, h.source.windows, 1)
	assert.Equal(t, timewindow.YesterdayWindow(h.clock.Now()), h.source.windows[0])
}

func TestService_Idempotent(t *testing.T) {
	h := newHarness(t)

	first := h.get(Today())
	second := h.get(Today())
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, h.source.queries.Load())

	t.Run("callers get private copies", func(t *testing.T) {
		first.TopUsers[0].User = "mallory"
		third := h.get(Today())
		assert.Equal(t, "alice", third.TopUsers[0].User)
	})
}

func TestService_MemoryTTL(t *testing.T) {
	h := newHarness(t)

	h.get(Today())
	h.clock.Advance(59 * time.Minute)
	h.get(Today())
	assert.EqualValues(t, 1, h.source.queries.Load())

	h.clock.Advance(2 * time.Minute)
	h.get(Today())
	assert.EqualValues(t, 2, h.source.queries.Load())
}

func TestService_Restart(t *testing.T) {
	h := newHarness(t)

	yesterday := h.get(Yesterday())
	h.get(Today())
	weekly := h.get(Weekly())
	require.EqualValues(t, 3, h.source.queries.Load())

	h.restart()
	h.clock.Advance(time.Minute)

	t.Run("yesterday is served from disk", func(t *testing.T) {
		r := h.get(Yesterday())
		assert.Equal(t, yesterday.GeneratedAt, r.GeneratedAt)
		assert.Equal(t, yesterday.TotalTasks, r.TotalTasks)
		assert.Equal(t, yesterday.TopUsers, r.TopUsers)
		assert.EqualValues(t, 3, h.source.queries.Load())
	})

	t.Run("completed week is served from disk", func(t *testing.T) {
		r := h.get(Weekly())
		assert.Equal(t, weekly.GeneratedAt, r.GeneratedAt)
		assert.Equal(t, 1, r.TotalTasks)
		assert.EqualValues(t, 3, h.source.queries.Load())
	})

	t.Run("today is recomputed", func(t *testing.T) {
		r := h.get(Today())
		assert.Equal(t, h.clock.Now(), r.GeneratedAt)
		assert.EqualValues(t, 4, h.source.queries.Load())
	})

	t.Run("previous month persists", func(t *testing.T) {
		_, err := h.svc.GetReport(context.Background(), Monthly(), h.clock.Now())
		require.NoError(t, err)
		h.restart()
		_, err = h.svc.GetReport(context.Background(), Monthly(), h.clock.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 5, h.source.queries.Load())
	})
}

func TestService_InvalidWindow(t *testing.T) {
	h := newHarness(t)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.svc.GetReport(context.Background(), Custom(at, at), h.clock.Now())
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = h.svc.Refresh(context.Background(), Hourly(12), h.clock.Now())
	assert.ErrorIs(t, err, ErrInvalidWindow)

	assert.Zero(t, h.source.queries.Load())
	assert.Zero(t, h.svc.CacheStats().Misses)
}

func TestService_CustomSpanLimit(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("default cap", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.svc.GetReport(context.Background(), Custom(start, start.AddDate(1, 0, 1)), h.clock.Now())
		assert.ErrorIs(t, err, ErrInvalidWindow)

		huge := Custom(time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
		_, err = h.svc.GetReport(context.Background(), huge, h.clock.Now())
		assert.ErrorIs(t, err, ErrInvalidWindow)

		assert.Zero(t, h.source.queries.Load())
		assert.Zero(t, h.svc.CacheStats().MemoryEntries)

		r, err := h.svc.GetReport(context.Background(), Custom(start, start.Add(DefaultMaxCustomSpan)), h.clock.Now())
		require.NoError(t, err)
		assert.Len(t, r.DailyTrend, 366)
	})

	t.Run("configured cap", func(t *testing.T) {
		h := newHarness(t)
		h.cfg.MaxCustomSpan = 7 * 24 * time.Hour
		h.restart()

		_, err := h.svc.GetReport(context.Background(), Custom(start, start.AddDate(0, 0, 8)), h.clock.Now())
		assert.ErrorIs(t, err, ErrInvalidWindow)

		_, err = h.svc.GetReport(context.Background(), Custom(start, start.AddDate(0, 0, 7)), h.clock.Now())
		assert.NoError(t, err)
	})
}

func TestService_SourceFailure(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("connection refused")
	h.source.setErr(boom)

	r, err := h.svc.GetReport(context.Background(), Yesterday(), h.clock.Now())
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.ErrorIs(t, err, boom)

	assert.Zero(t, h.svc.CacheStats().DiskFiles, "failures are not persisted")

	h.source.setErr(nil)
	r = h.get(Yesterday())
	assert.Equal(t, 2, r.TotalTasks)
	assert.EqualValues(t, 2, h.source.queries.Load())
}

func TestService_Refresh(t *testing.T) {
	h := newHarness(t)

	first := h.get(Yesterday())
	h.clock.Advance(time.Minute)

	refreshed, err := h.svc.Refresh(context.Background(), Yesterday(), h.clock.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.source.queries.Load())
	assert.True(t, refreshed.GeneratedAt.After(first.GeneratedAt))

	again := h.get(Yesterday())
	assert.Equal(t, refreshed.GeneratedAt, again.GeneratedAt)
	assert.EqualValues(t, 2, h.source.queries.Load())
}

func TestService_Invalidate(t *testing.T) {
	h := newHarness(t)

	h.get(Yesterday())
	h.get(Weekly())
	require.EqualValues(t, 2, h.source.queries.Load())

	require.NoError(t, h.svc.InvalidateByType(KindWeekly))
	h.get(Yesterday())
	assert.EqualValues(t, 2, h.source.queries.Load(), "other kinds stay cached")
	h.get(Weekly())
	assert.EqualValues(t, 3, h.source.queries.Load())

	assert.ErrorIs(t, h.svc.InvalidateByType("fortnightly"), ErrUnknownType)

	require.NoError(t, h.svc.InvalidateAll())
	assert.Zero(t, h.svc.CacheStats().MemoryEntries)
	assert.Zero(t, h.svc.CacheStats().DiskFiles)

	h.restart()
	h.get(Yesterday())
	h.get(Weekly())
	assert.EqualValues(t, 5, h.source.queries.Load())
}

func TestService_Concurrent(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	reports := make([]*Report, 32)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.svc.GetReport(context.Background(), Monthly(), h.clock.Now())
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, h.source.queries.Load())
	for _, r := range reports[1:] {
		assert.Equal(t, reports[0], r)
	}
}

func TestService_CleanupExpired(t *testing.T) {
	h := newHarness(t)

	h.get(Yesterday())
	h.get(Weekly())
	h.clock.Advance(25 * time.Hour)

	// memory entries for both kinds and the yesterday file
	assert.Equal(t, 3, h.svc.CleanupExpired())
	assert.Equal(t, 1, h.svc.CacheStats().DiskFiles)
}

func TestService_Config(t *testing.T) {
	t.Run("filters", func(t *testing.T) {
		h := newHarness(t)
		debug := record("d1", "dave", time.Date(2024, 6, 19, 12, 0, 0, 0, time.UTC), 60, "success")
		debug.IsDebug = true
		h.source.records = append(h.source.records, debug)
		h.cfg.Filter = stats.Options{ExcludeDebug: true}
		h.restart()

		assert.Equal(t, 2, h.get(Yesterday()).TotalTasks)
	})

	t.Run("location", func(t *testing.T) {
		h := newHarness(t)
		shanghai := time.FixedZone("UTC+8", 8*3600)
		h.cfg.Location = shanghai
		h.restart()

		r := h.get(Today())
		assert.True(t, time.Date(2024, 6, 20, 0, 0, 0, 0, shanghai).Equal(r.PeriodStart))
		assert.Equal(t, shanghai, r.PeriodStart.Location())
		// t1 at 09:00 UTC is 17:00 in Shanghai on the same date
		assert.Equal(t, 1, r.TotalTasks)
	})

	t.Run("top n", func(t *testing.T) {
		h := newHarness(t)
		h.cfg.TopN = TopN{Daily: 1}
		h.restart()

		assert.Len(t, h.get(Yesterday()).TopUsers, 1)
	})
}
