// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	GPUREPORT_HOST="0.0.0.0"
//	GPUREPORT_PORT="8080"
//	GPUREPORT_READ_TIMEOUT="15s"
//	GPUREPORT_WRITE_TIMEOUT="60s"
//	GPUREPORT_SHUTDOWN_TIMEOUT="30s"
//
// Cache settings:
//
//	GPUREPORT_CACHE_ROOT="./Cache/Report"
//	GPUREPORT_CACHE_MAX_ENTRIES="256"
//	GPUREPORT_CACHE_DISK_ENABLED="true"
//
// Report settings:
//
//	GPUREPORT_TIMEZONE="Asia/Shanghai"
//	GPUREPORT_TOP_N_DAILY="5"
//	GPUREPORT_EXCLUDE_DEBUG="true"
//	GPUREPORT_FILTER_MULTI_GPU="true"
//	GPUREPORT_MAX_CUSTOM_SPAN="8784h"
//
// Source settings:
//
//	GPUREPORT_SOURCE_DRIVER="postgres"  # memory, postgres, sqlite3
//	GPUREPORT_SOURCE_DSN="postgres://localhost/gpu?sslmode=disable"
//	GPUREPORT_SOURCE_TABLE="gpu_tasks"
//
// Refresher settings:
//
//	GPUREPORT_REFRESHER_ENABLED="true"
//	GPUREPORT_SCHEDULE_DAILY="5 0 * * *"
//	GPUREPORT_REFRESHER_WORKERS="4"
//
// Observability settings:
//
//	GPUREPORT_LOG_LEVEL="info"
//	GPUREPORT_METRICS_ENABLED="true"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Unparseable numbers and durations fall back to their defaults; Validate catches
// values that parse but make no sense.
package config
