package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/coder/quartz"

	"github.com/platinummonkey/gpureport/pkg/observability"
	"github.com/platinummonkey/gpureport/pkg/stats"
	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	// DefaultTable is the table written by the ingestion pipeline
	DefaultTable = "gpu_tasks"
)

var (
	// ErrInvalidTable is returned for table names that are not plain identifiers
	ErrInvalidTable = errors.New("invalid table name")

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

const columns = `id, user_name, project, server, gpu_name, start_time, finish_time,
	running_seconds, gpu_usage_percent, gpu_mem_percent, gpu_mem_gb,
	is_multi_gpu, is_debug, status, local_rank, world_size`

// SQLConfig holds database connection configuration
type SQLConfig struct {
	Driver      string
	DSN         string
	Table       string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Open connects to the database, configures the pool and pings it. The driver
// must have been registered by the caller.
func Open(ctx context.Context, cfg SQLConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// SQLSource reads task records from a SQL table
type SQLSource struct {
	db     *sql.DB
	table  string
	query  string
	clock  quartz.Clock
	logger *observability.Logger
}

// NewSQLSource creates a source reading table through db. driver selects the
// placeholder style: "$1" for postgres, "?" otherwise. clock times queries and
// defaults to the real clock.
func NewSQLSource(db *sql.DB, driver, table string, clock quartz.Clock, logger *observability.Logger) (*SQLSource, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	from, to := "?", "?"
	if driver == DriverPostgres {
		from, to = "$1", "$2"
	}
	return &SQLSource{
		db:     db,
		table:  table,
		query:  fmt.Sprintf("SELECT %s FROM %s WHERE start_time >= %s AND start_time < %s ORDER BY start_time", columns, table, from, to),
		clock:  clock,
		logger: logger.WithComponent("sql_source"),
	}, nil
}

// Query returns every record whose start time falls in w
func (s *SQLSource) Query(ctx context.Context, w timewindow.Window) ([]stats.TaskRecord, error) {
	start := s.clock.Now()
	rows, err := s.db.QueryContext(ctx, s.query, w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer rows.Close()

	var records []stats.TaskRecord
	for rows.Next() {
		var (
			r       stats.TaskRecord
			project sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.User, &project, &r.Server, &r.GpuName, &r.StartTime, &r.FinishTime,
			&r.RunningSeconds, &r.GpuUsagePercent, &r.GpuMemPercent, &r.GpuMemGB,
			&r.IsMultiGpu, &r.IsDebug, &r.Status, &r.LocalRank, &r.WorldSize,
		); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", s.table, err)
		}
		r.Project = project.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", s.table, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"window":      w.String(),
		"records":     len(records),
		"duration_ms": s.clock.Since(start).Milliseconds(),
	}).Debug("Queried task records")
	return records, nil
}

// EnsureTable creates the task table if it does not exist. It is meant for
// local sqlite databases; production tables are owned by the ingestion pipeline.
func (s *SQLSource) EnsureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL,
	project TEXT,
	server TEXT NOT NULL,
	gpu_name TEXT NOT NULL,
	start_time TIMESTAMP NOT NULL,
	finish_time TIMESTAMP NOT NULL,
	running_seconds BIGINT NOT NULL DEFAULT 0,
	gpu_usage_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	gpu_mem_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	gpu_mem_gb DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_multi_gpu BOOLEAN NOT NULL DEFAULT FALSE,
	is_debug BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	local_rank INTEGER NOT NULL DEFAULT 0,
	world_size INTEGER NOT NULL DEFAULT 1
)`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}
