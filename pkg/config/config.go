package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	// zone names must resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gpureport/pkg/cache"
	"github.com/platinummonkey/gpureport/pkg/observability"
	"github.com/platinummonkey/gpureport/pkg/refresher"
	"github.com/platinummonkey/gpureport/pkg/report"
	"github.com/platinummonkey/gpureport/pkg/source"
	"github.com/platinummonkey/gpureport/pkg/stats"
)

const (
	// DriverMemory serves reports from an empty in-memory source, for local runs
	DriverMemory = "memory"

	// DefaultCacheRoot is where the disk tier lives unless configured
	DefaultCacheRoot = "./Cache/Report"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Cache         CacheConfig
	Report        ReportConfig
	Source        SourceConfig
	Refresher     RefresherConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CacheConfig holds report cache settings
type CacheConfig struct {
	Root        string
	MaxEntries  int
	DiskEnabled bool
}

// ReportConfig holds report generation settings
type ReportConfig struct {
	Timezone       string
	TopNDaily      int
	TopNWeekly     int
	TopNMonthly    int
	TopNYearly     int
	ExcludeDebug   bool
	FilterMultiGpu bool
	MaxCustomSpan  time.Duration

	location *time.Location
}

// SourceConfig holds task record source settings
type SourceConfig struct {
	Driver      string
	DSN         string
	Table       string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	EnsureTable bool
}

// RefresherConfig holds scheduled refresh settings
type RefresherConfig struct {
	Enabled     bool
	WarmOnStart bool
	Schedules   refresher.Schedules
	Workers     int
	Timeout     time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Cache:         loadCacheConfig(),
		Report:        loadReportConfig(),
		Source:        loadSourceConfig(),
		Refresher:     loadRefresherConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GPUREPORT_HOST", "0.0.0.0"),
		Port:            getEnv("GPUREPORT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GPUREPORT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GPUREPORT_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("GPUREPORT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GPUREPORT_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Root:        getEnv("GPUREPORT_CACHE_ROOT", DefaultCacheRoot),
		MaxEntries:  getEnvInt("GPUREPORT_CACHE_MAX_ENTRIES", cache.DefaultMaxEntries),
		DiskEnabled: getEnvBool("GPUREPORT_CACHE_DISK_ENABLED", true),
	}
}

func loadReportConfig() ReportConfig {
	topN := report.DefaultTopN()
	return ReportConfig{
		Timezone:       getEnv("GPUREPORT_TIMEZONE", "UTC"),
		TopNDaily:      getEnvInt("GPUREPORT_TOP_N_DAILY", topN.Daily),
		TopNWeekly:     getEnvInt("GPUREPORT_TOP_N_WEEKLY", topN.Weekly),
		TopNMonthly:    getEnvInt("GPUREPORT_TOP_N_MONTHLY", topN.Monthly),
		TopNYearly:     getEnvInt("GPUREPORT_TOP_N_YEARLY", topN.Yearly),
		ExcludeDebug:   getEnvBool("GPUREPORT_EXCLUDE_DEBUG", false),
		FilterMultiGpu: getEnvBool("GPUREPORT_FILTER_MULTI_GPU", true),
		MaxCustomSpan:  getEnvDuration("GPUREPORT_MAX_CUSTOM_SPAN", report.DefaultMaxCustomSpan),
	}
}

func loadSourceConfig() SourceConfig {
	return SourceConfig{
		Driver:      strings.ToLower(getEnv("GPUREPORT_SOURCE_DRIVER", DriverMemory)),
		DSN:         getEnv("GPUREPORT_SOURCE_DSN", ""),
		Table:       getEnv("GPUREPORT_SOURCE_TABLE", source.DefaultTable),
		MaxConns:    getEnvInt("GPUREPORT_SOURCE_MAX_CONNS", 10),
		MinConns:    getEnvInt("GPUREPORT_SOURCE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("GPUREPORT_SOURCE_TIMEOUT", 5*time.Second),
		EnsureTable: getEnvBool("GPUREPORT_SOURCE_ENSURE_TABLE", false),
	}
}

func loadRefresherConfig() RefresherConfig {
	def := refresher.DefaultConfig()
	s := def.Schedules
	return RefresherConfig{
		Enabled:     getEnvBool("GPUREPORT_REFRESHER_ENABLED", true),
		WarmOnStart: getEnvBool("GPUREPORT_REFRESHER_WARM_ON_START", false),
		Schedules: refresher.Schedules{
			Hourly:  getEnv("GPUREPORT_SCHEDULE_HOURLY", s.Hourly),
			Daily:   getEnv("GPUREPORT_SCHEDULE_DAILY", s.Daily),
			Weekly:  getEnv("GPUREPORT_SCHEDULE_WEEKLY", s.Weekly),
			Monthly: getEnv("GPUREPORT_SCHEDULE_MONTHLY", s.Monthly),
			Yearly:  getEnv("GPUREPORT_SCHEDULE_YEARLY", s.Yearly),
			Cleanup: getEnv("GPUREPORT_SCHEDULE_CLEANUP", s.Cleanup),
		},
		Workers: getEnvInt("GPUREPORT_REFRESHER_WORKERS", def.Workers),
		Timeout: getEnvDuration("GPUREPORT_REFRESHER_TIMEOUT", def.Timeout),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("GPUREPORT_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GPUREPORT_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid. It also resolves the report
// time zone.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Cache.DiskEnabled && c.Cache.Root == "" {
		return fmt.Errorf("cache root is required when the disk cache is enabled")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive, got %d", c.Cache.MaxEntries)
	}

	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return fmt.Errorf("invalid report timezone %q: %w", c.Report.Timezone, err)
	}
	c.Report.location = loc
	for name, n := range map[string]int{
		"daily":   c.Report.TopNDaily,
		"weekly":  c.Report.TopNWeekly,
		"monthly": c.Report.TopNMonthly,
		"yearly":  c.Report.TopNYearly,
	} {
		if n <= 0 {
			return fmt.Errorf("%s top-N must be positive, got %d", name, n)
		}
	}
	if c.Report.MaxCustomSpan <= 0 {
		return fmt.Errorf("max custom span must be positive, got %s", c.Report.MaxCustomSpan)
	}

	switch c.Source.Driver {
	case DriverMemory:
	case source.DriverPostgres, source.DriverSQLite:
		if c.Source.DSN == "" {
			return fmt.Errorf("source DSN is required for the %s driver", c.Source.Driver)
		}
	default:
		return fmt.Errorf("invalid source driver: %s (must be memory, postgres, or sqlite3)", c.Source.Driver)
	}

	if c.Refresher.Enabled {
		if c.Refresher.Workers <= 0 {
			return fmt.Errorf("refresher workers must be positive, got %d", c.Refresher.Workers)
		}
		s := c.Refresher.Schedules
		for name, spec := range map[string]string{
			"hourly":  s.Hourly,
			"daily":   s.Daily,
			"weekly":  s.Weekly,
			"monthly": s.Monthly,
			"yearly":  s.Yearly,
			"cleanup": s.Cleanup,
		} {
			if spec == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
			}
		}
	}

	return nil
}

// Location is the resolved report time zone, UTC before Validate succeeds
func (r ReportConfig) Location() *time.Location {
	if r.location == nil {
		return time.UTC
	}
	return r.location
}

// ReportServiceConfig converts the report settings for report.NewService
func (c *Config) ReportServiceConfig() report.Config {
	return report.Config{
		Location: c.Report.Location(),
		TopN: report.TopN{
			Daily:   c.Report.TopNDaily,
			Weekly:  c.Report.TopNWeekly,
			Monthly: c.Report.TopNMonthly,
			Yearly:  c.Report.TopNYearly,
		},
		Filter: stats.Options{
			ExcludeDebug:   c.Report.ExcludeDebug,
			FilterMultiGpu: c.Report.FilterMultiGpu,
		},
		MaxCustomSpan: c.Report.MaxCustomSpan,
	}
}

// RefresherConfig converts the refresher settings for refresher.New. Schedules
// are evaluated in the report time zone.
func (c *Config) RefresherConfig() refresher.Config {
	return refresher.Config{
		Schedules: c.Refresher.Schedules,
		Location:  c.Report.Location(),
		Workers:   c.Refresher.Workers,
		Timeout:   c.Refresher.Timeout,
	}
}

// SQLConfig converts the source settings for source.Open
func (c *Config) SQLConfig() source.SQLConfig {
	return source.SQLConfig{
		Driver:      c.Source.Driver,
		DSN:         c.Source.DSN,
		Table:       c.Source.Table,
		MaxConns:    c.Source.MaxConns,
		MinConns:    c.Source.MinConns,
		Timeout:     c.Source.Timeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
