package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gpureport/pkg/observability"
)

// SafeGo executes fn in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		if err := run(parentCtx, timeout, fn); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// Batch runs fn for every item with at most workers running at once and returns
// all errors encountered, in no particular order. Each call gets its own timeout;
// a panic in one call is returned as an error and does not stop the others.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() error {
			err := run(ctx, timeout, func(ctx context.Context) error {
				return fn(ctx, item)
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", taskName, err))
				mu.Unlock()
			}
			// errors are collected, never returned, so no item cancels the others
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// run calls fn with a timeout, converting a panic into an error
func run(parentCtx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	ctx, cancel := parentCtx, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
