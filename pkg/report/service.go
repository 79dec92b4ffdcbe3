package report

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/platinummonkey/gpureport/pkg/cache"
	"github.com/platinummonkey/gpureport/pkg/observability"
	"github.com/platinummonkey/gpureport/pkg/stats"
	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

// Source returns every task record whose start time falls in the window
type Source interface {
	Query(ctx context.Context, window timewindow.Window) ([]stats.TaskRecord, error)
}

// DefaultMaxCustomSpan is the longest custom range served unless configured
const DefaultMaxCustomSpan = 366 * 24 * time.Hour

// Config tunes report generation
type Config struct {
	// Location sets calendar boundaries; nil means UTC
	Location *time.Location
	TopN     TopN
	Filter   stats.Options
	// MaxCustomSpan caps the length of custom ranges; zero means DefaultMaxCustomSpan
	MaxCustomSpan time.Duration
}

// DefaultConfig reports in UTC with the default list lengths and no filters
func DefaultConfig() Config {
	return Config{Location: time.UTC, TopN: DefaultTopN(), MaxCustomSpan: DefaultMaxCustomSpan}
}

// Service serves reports through a tiered cache
type Service struct {
	source  Source
	cache   *cache.Tiered[*Report]
	builder *Builder
	clock   quartz.Clock
	logger  *observability.Logger
	loc     *time.Location
	filter  stats.Options
	maxSpan time.Duration
}

// NewService creates a service. The cache must be dedicated to reports since
// report kinds are used as its tags.
func NewService(source Source, c *cache.Tiered[*Report], clock quartz.Clock, logger *observability.Logger, cfg Config) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	maxSpan := cfg.MaxCustomSpan
	if maxSpan <= 0 {
		maxSpan = DefaultMaxCustomSpan
	}
	return &Service{
		source:  source,
		cache:   c,
		builder: NewBuilder(cfg.TopN),
		clock:   clock,
		logger:  logger.WithComponent("report_service"),
		loc:     loc,
		filter:  cfg.Filter,
		maxSpan: maxSpan,
	}
}

// GetReport returns the report of type t as of now, from cache when possible.
//
// An invalid type fails with ErrInvalidWindow or ErrUnknownType before the cache
// is touched. A failing source yields ErrDataUnavailable and nothing is cached.
func (s *Service) GetReport(ctx context.Context, t ReportType, now time.Time) (*Report, error) {
	key, policy, compute, err := s.prepare(t, now)
	if err != nil {
		return nil, err
	}
	return s.cache.GetOrCompute(ctx, key, policy, compute)
}

// Refresh rebuilds the report of type t as of now, replacing any cached copy
func (s *Service) Refresh(ctx context.Context, t ReportType, now time.Time) (*Report, error) {
	key, policy, compute, err := s.prepare(t, now)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("key", key).Debug("Refreshing report")
	return s.cache.Refresh(ctx, key, policy, compute)
}

// InvalidateAll drops every cached report from memory and disk
func (s *Service) InvalidateAll() error {
	s.logger.Info("Invalidating all cached reports")
	return s.cache.InvalidateAll()
}

// InvalidateByType drops every cached report of kind k
func (s *Service) InvalidateByType(k Kind) error {
	if _, err := ParseKind(string(k)); err != nil {
		return err
	}
	s.logger.WithField("kind", k).Info("Invalidating cached reports")
	return s.cache.InvalidateTag(string(k))
}

// CacheStats reports cache activity
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// CleanupExpired removes expired entries from both tiers
func (s *Service) CleanupExpired() int {
	return s.cache.CleanupExpired(DiskTTLs())
}

func (s *Service) prepare(t ReportType, now time.Time) (string, cache.Policy, func(context.Context) (*Report, error), error) {
	now = now.In(s.loc)
	w, err := t.Window(now)
	if err != nil {
		return "", cache.Policy{}, nil, err
	}
	// Sub saturates, so ranges too long for a Duration still compare as too long
	if t.Kind == KindCustom && t.End.Sub(t.Start) > s.maxSpan {
		return "", cache.Policy{}, nil, fmt.Errorf("%w: custom range %s is longer than %s", ErrInvalidWindow, w, s.maxSpan)
	}
	key := t.Key(w)
	policy := PolicyFor(t, w, now)

	compute := func(ctx context.Context) (*Report, error) {
		return s.build(ctx, t, w)
	}
	return key, policy, compute, nil
}

func (s *Service) build(ctx context.Context, t ReportType, w timewindow.Window) (*Report, error) {
	records, err := s.source.Query(ctx, w)
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"type":   t.String(),
			"window": w.String(),
		}).Error("Failed to query task records")
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}

	agg := stats.Aggregate(records, w, s.filter)
	r := s.builder.Build(t, agg, s.clock.Now().In(s.loc))
	s.logger.WithFields(map[string]interface{}{
		"type":        r.Type,
		"window":      w.String(),
		"records":     len(records),
		"total_tasks": r.TotalTasks,
	}).Debug("Built report")
	return r, nil
}
