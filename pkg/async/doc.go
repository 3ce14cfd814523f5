// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo runs a function in a goroutine with panic recovery, a timeout and
// error logging through the request logger found in the context:
//
//	async.SafeGoDetached(r.Context(), 10*time.Second, "discord notify", func(ctx context.Context) error {
//		return notifier.ApplicationSubmitted(ctx, job, app)
//	})
//
// SafeGoDetached keeps context values but drops cancellation, for work that
// must finish after the response has been written.
//
// Batch fans work out over a bounded number of goroutines and collects every
// error. The worker binary uses it to resolve entitlements for every server
// when it refreshes the plan gauges.
package async
