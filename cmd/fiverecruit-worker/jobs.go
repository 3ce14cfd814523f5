package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/La-R19/fiverecruit/pkg/async"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/servers"
)

const (
	// jobTimeout bounds a single scheduled run
	jobTimeout = 5 * time.Minute

	resolveWorkers = 4
	resolveTimeout = 10 * time.Second
)

// worker holds the dependencies of the scheduled jobs
type worker struct {
	db       *sql.DB
	servers  *servers.Service
	resolver *entitlements.Resolver
	metrics  *observability.Metrics
	logger   *observability.Logger

	inviteGrace time.Duration
	now         func() time.Time
}

// run executes one job, recording the outcome and containing panics so a
// bad run never stops the scheduler
func (w *worker) run(name string, fn func(context.Context) error) {
	logger := w.logger.WithField("job", name)
	status := "success"
	defer func() {
		if r := recover(); r != nil {
			logger.WithError(observability.MustRecover(r)).Error("Job panicked")
			status = "panic"
		}
		w.metrics.WorkerJobRunsTotal.WithLabelValues(name, status).Inc()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		status = "error"
		logger.WithError(err).Error("Job failed")
		return
	}
	logger.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Job completed")
}

// purgeInvites deletes invites that are used up or expired for longer than
// the grace period
func (w *worker) purgeInvites(ctx context.Context) error {
	cutoff := w.now().Add(-w.inviteGrace)
	n, err := w.servers.PurgeInvites(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.WithField("purged", n).Info("Purged invites")
	}
	return nil
}

// refreshPlanGauges resolves every server with the uncached resolver and
// publishes the per-plan counts. Nothing is written back.
func (w *worker) refreshPlanGauges(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx, `SELECT id FROM servers`)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan server: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	var mu sync.Mutex
	counts := make(map[entitlements.Plan]int, len(entitlements.AllPlans))
	errs := async.Batch(ctx, ids, resolveWorkers, resolveTimeout, func(ctx context.Context, id string) error {
		plan := w.resolver.ResolveEntitlement(ctx, id).Plan
		mu.Lock()
		counts[plan]++
		mu.Unlock()
		return nil
	})
	if len(errs) > 0 {
		return errs[0]
	}

	for _, plan := range entitlements.AllPlans {
		w.metrics.ServersByPlan.WithLabelValues(string(plan)).Set(float64(counts[plan]))
	}
	return nil
}
