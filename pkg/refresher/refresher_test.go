package refresher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gpureport/pkg/report"
)

type fakeService struct {
	mu       sync.Mutex
	types    []string
	gets     []string
	nows     []time.Time
	failing  map[string]error
	cleanups atomic.Int32
}

func (f *fakeService) Refresh(_ context.Context, t report.ReportType, now time.Time) (*report.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, t.String())
	f.nows = append(f.nows, now)
	if err := f.failing[t.String()]; err != nil {
		return nil, err
	}
	return &report.Report{Type: t.String()}, nil
}

func (f *fakeService) GetReport(_ context.Context, t report.ReportType, _ time.Time) (*report.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, t.String())
	return &report.Report{Type: t.String()}, nil
}

func (f *fakeService) CleanupExpired() int {
	f.cleanups.Add(1)
	return 7
}

func (f *fakeService) refreshed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.types...)
	sort.Strings(out)
	return out
}

func newRefresher(t *testing.T, svc *fakeService, cfg Config) (*Refresher, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 6, 20, 14, 10, 0, 0, time.UTC))
	return New(svc, clock, nil, cfg), clock
}

func TestRefresher_Jobs(t *testing.T) {
	tests := []struct {
		name string
		run  func(*Refresher) []error
		want []string
	}{
		{"hourly", func(r *Refresher) []error { return r.RefreshHourly(context.Background()) }, []string{"24h", "48h", "72h", "today"}},
		{"daily", func(r *Refresher) []error { return r.RefreshDaily(context.Background()) }, []string{"yesterday"}},
		{"weekly", func(r *Refresher) []error { return r.RefreshWeekly(context.Background()) }, []string{"weekly"}},
		{"monthly", func(r *Refresher) []error { return r.RefreshMonthly(context.Background()) }, []string{"monthly"}},
		{"yearly", func(r *Refresher) []error { return r.RefreshYearly(context.Background()) }, []string{"yearly"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			r, _ := newRefresher(t, svc, DefaultConfig())
			assert.Empty(t, tt.run(r))
			assert.Equal(t, tt.want, svc.refreshed())
		})
	}
}

func TestRefresher_Warm(t *testing.T) {
	svc := &fakeService{}
	r, _ := newRefresher(t, svc, DefaultConfig())
	assert.Empty(t, r.Warm(context.Background()))

	svc.mu.Lock()
	gets := append([]string(nil), svc.gets...)
	svc.mu.Unlock()
	sort.Strings(gets)
	assert.Equal(t, []string{"24h", "48h", "72h", "monthly", "today", "weekly", "yearly", "yesterday"}, gets)
	assert.Empty(t, svc.refreshed(), "warming never evicts")
}

func TestRefresher_UsesClockInLocation(t *testing.T) {
	svc := &fakeService{}
	shanghai := time.FixedZone("UTC+8", 8*3600)
	cfg := DefaultConfig()
	cfg.Location = shanghai
	r, clock := newRefresher(t, svc, cfg)

	r.RefreshDaily(context.Background())
	require.Len(t, svc.nows, 1)
	assert.True(t, clock.Now().Equal(svc.nows[0]))
	assert.Equal(t, shanghai, svc.nows[0].Location())
}

func TestRefresher_Errors(t *testing.T) {
	boom := errors.New("source down")
	svc := &fakeService{failing: map[string]error{"48h": boom, "today": boom}}
	r, _ := newRefresher(t, svc, DefaultConfig())

	errs := r.RefreshHourly(context.Background())
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.Len(t, svc.refreshed(), 4, "one failure does not stop the others")
}

func TestRefresher_Cleanup(t *testing.T) {
	svc := &fakeService{}
	r, _ := newRefresher(t, svc, DefaultConfig())
	assert.Equal(t, 7, r.Cleanup())
	assert.EqualValues(t, 1, svc.cleanups.Load())
}

func TestRefresher_StartStop(t *testing.T) {
	t.Run("registers every job", func(t *testing.T) {
		r, _ := newRefresher(t, &fakeService{}, DefaultConfig())
		require.NoError(t, r.Start(context.Background()))
		assert.Equal(t, 6, r.Entries())
		assert.Error(t, r.Start(context.Background()), "second start")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, r.Stop(ctx))
	})

	t.Run("empty schedule disables a job", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Schedules.Yearly = ""
		cfg.Schedules.Cleanup = ""
		r, _ := newRefresher(t, &fakeService{}, cfg)
		require.NoError(t, r.Start(context.Background()))
		defer r.Stop(context.Background())
		assert.Equal(t, 4, r.Entries())
	})

	t.Run("invalid schedule", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Schedules.Weekly = "every monday"
		r, _ := newRefresher(t, &fakeService{}, cfg)
		err := r.Start(context.Background())
		assert.ErrorContains(t, err, "weekly")
	})

	t.Run("stop before start", func(t *testing.T) {
		r, _ := newRefresher(t, &fakeService{}, DefaultConfig())
		assert.NoError(t, r.Stop(context.Background()))
	})
}
