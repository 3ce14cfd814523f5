package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

// SafeGo runs fn in a goroutine bounded by timeout. Panics are recovered and
// errors are logged with the logger carried by parentCtx. Cancelling
// parentCtx cancels fn.
//
//	async.SafeGo(ctx, 5*time.Second, "entitlement publish", func(ctx context.Context) error {
//	    return publisher.ServerChanged(ctx, db, serverID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)

	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}

// SafeGoDetached is SafeGo for work that must outlive the request that
// started it, such as notifications sent after the response is written.
// Context values (logger, request id) are kept; cancellation is not.
func SafeGoDetached(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	SafeGo(context.WithoutCancel(parentCtx), timeout, taskName, fn)
}

// Batch applies fn to every item with at most workers calls in flight, each
// under its own timeout. Unlike an errgroup, a failing item does not stop the
// others; every error is returned. A panicking item is reported as an error.
// Items not started before ctx is done are skipped and ctx.Err() is appended.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if ctx.Err() != nil {
			record(ctx.Err())
			break
		}
		item := item
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					record(fmt.Errorf("panic: %v", r))
				}
			}()
			itemCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := fn(itemCtx, item); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs
}
