// Package report builds GPU usage reports and serves them through the tiered cache.
//
// Service.GetReport is the entry point. It resolves the report type to a time
// window, derives the cache key and policy, and on a miss queries the Source,
// aggregates the records and builds the Report:
//
//	svc := report.NewService(source, tiered, clock, logger, report.DefaultConfig())
//	r, err := svc.GetReport(ctx, report.Weekly(), clock.Now())
//
// Cache policy per type:
//
//	hourly, today, custom       memory 1h, never on disk
//	yesterday                   memory 24h, disk 24h
//	weekly, monthly, yearly     memory 1h, disk without expiry once the period ended
//
// Whether a calendar period has ended is decided against the lookup time, it is
// not stored on the report.
package report
