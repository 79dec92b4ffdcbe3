// Package async provides panic-safe background execution for the refresher.
//
// SafeGo runs a task in its own goroutine with a timeout and panic recovery:
//
//	async.SafeGo(ctx, logger, time.Minute, "cache cleanup", func(ctx context.Context) error {
//		return cleanup(ctx)
//	})
//
// Batch fans a slice of items out to a bounded number of goroutines and collects
// every error, including recovered panics:
//
//	errs := async.Batch(ctx, types, 4, "hourly refresh", 5*time.Minute, func(ctx context.Context, t report.ReportType) error {
//		_, err := svc.Refresh(ctx, t, now)
//		return err
//	})
package async
