package entitlements

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

// Resolver derives a server's entitlement from its bound license and
// subscription. A valid license always wins over a subscription; limits are
// never merged.
type Resolver struct {
	db      *sql.DB
	catalog *Catalog
	metrics *observability.Metrics
	now     func() time.Time
}

// NewResolver creates an uncached resolver. metrics may be nil.
func NewResolver(db *sql.DB, catalog *Catalog, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		db:      db,
		catalog: catalog,
		metrics: metrics,
		now:     time.Now,
	}
}

// Resolve returns the entitlement of serverID. On a storage failure it
// returns Free together with the error: never more than the floor.
func (r *Resolver) Resolve(ctx context.Context, serverID string) (Entitlement, error) {
	return r.ResolveWith(ctx, r.db, serverID)
}

// ResolveWith resolves through q, so quota checks can read inside the
// transaction that holds the server lock.
func (r *Resolver) ResolveWith(ctx context.Context, q postgres.Querier, serverID string) (Entitlement, error) {
	ctx, span := observability.Tracer().Start(ctx, "entitlements.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("server.id", serverID))

	ent, err := r.resolve(ctx, q, serverID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "entitlement resolution failed")
		if r.metrics != nil {
			r.metrics.EntitlementFailuresTotal.Inc()
		}
		return Free(), err
	}

	span.SetAttributes(
		attribute.String("entitlement.plan", string(ent.Plan)),
		attribute.String("entitlement.source", string(ent.Source)),
	)
	if r.metrics != nil {
		r.metrics.EntitlementResolutionsTotal.WithLabelValues(string(ent.Plan), string(ent.Source)).Inc()
	}
	return ent, nil
}

// ResolveEntitlement never fails: errors are logged and the floor returned
func (r *Resolver) ResolveEntitlement(ctx context.Context, serverID string) Entitlement {
	ent, err := r.Resolve(ctx, serverID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("server_id", serverID).
			Warn("entitlement resolution failed, falling back to free plan")
	}
	return ent
}

func (r *Resolver) resolve(ctx context.Context, q postgres.Querier, serverID string) (Entitlement, error) {
	now := r.now()

	lic, err := latestLicense(ctx, q, serverID)
	if err != nil {
		return Entitlement{}, err
	}
	if lic != nil && lic.ValidAt(now) && lic.Plan.Valid() {
		ent := newEntitlement(lic.Plan, lic.MaxJobs, SourceLicense)
		ent.LicenseID = lic.ID
		ent.ExpiresAt = lic.ExpiresAt
		return ent, nil
	}

	var (
		subID   string
		priceID string
	)
	err = q.QueryRowContext(ctx, `
		SELECT id, price_id FROM subscriptions
		WHERE server_id = $1 AND status IN ('active', 'trialing')
		ORDER BY updated_at DESC
		LIMIT 1
	`, serverID).Scan(&subID, &priceID)
	switch {
	case err == sql.ErrNoRows:
		return Free(), nil
	case err != nil:
		return Entitlement{}, fmt.Errorf("failed to load bound subscription: %w", err)
	}

	plan := r.catalog.PlanFor(priceID)
	ent := newEntitlement(plan, QuotaFor(plan), SourceSubscription)
	ent.SubscriptionID = subID
	return ent, nil
}

// latestLicense returns the most recently created license bound to the
// server, valid or not
func latestLicense(ctx context.Context, q postgres.Querier, serverID string) (*License, error) {
	var (
		lic       License
		expiresAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, plan, max_jobs, expires_at FROM licenses
		WHERE server_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, serverID).Scan(&lic.ID, &lic.Plan, &lic.MaxJobs, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bound license: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		lic.ExpiresAt = &t
	}
	return &lic, nil
}
