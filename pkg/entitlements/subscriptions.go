package entitlements

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

const subscriptionColumns = `id, user_id, server_id, status, price_id,
	current_period_start, current_period_end, cancel_at_period_end, updated_at`

// SubscriptionStore binds payment subscriptions to servers. Binding and
// unbinding are single conditional updates; at most one subscription is
// bound to a server, backed by the subscriptions_one_per_server index.
type SubscriptionStore struct {
	db          *sql.DB
	checker     permissions.Checker
	publisher   Publisher
	catalog     *Catalog
	auditLogger audit.Logger
	metrics     *observability.Metrics
}

// NewSubscriptionStore creates a subscription store. publisher,
// auditLogger and metrics may be nil.
func NewSubscriptionStore(db *sql.DB, checker permissions.Checker, publisher Publisher, catalog *Catalog, auditLogger audit.Logger, metrics *observability.Metrics) *SubscriptionStore {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &SubscriptionStore{
		db:          db,
		checker:     checker,
		publisher:   publisher,
		catalog:     catalog,
		auditLogger: auditLogger,
		metrics:     metrics,
	}
}

// Bind attaches the actor's active subscription to a server
func (s *SubscriptionStore) Bind(ctx context.Context, actorID, serverID, subscriptionID string) (sub *Subscription, err error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanManageSubscription); err != nil {
		return nil, err
	}
	defer func() { s.metrics.ObserveClaim("subscription_bind", err) }()

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE subscriptions SET server_id = $1, updated_at = $2
			WHERE id = $3 AND user_id = $4 AND server_id IS NULL
			  AND status IN ('active', 'trialing')
			  AND NOT EXISTS (SELECT 1 FROM subscriptions b WHERE b.server_id = $1)
			RETURNING `+subscriptionColumns,
			serverID, time.Now().UTC(), subscriptionID, actorID,
		)
		var scanErr error
		sub, scanErr = s.scan(row)
		if scanErr == sql.ErrNoRows {
			return s.diagnoseBind(ctx, tx, actorID, serverID, subscriptionID)
		}
		if postgres.IsUniqueViolation(scanErr) {
			return apperr.Conflict("subscription", "server already has a bound subscription")
		}
		if scanErr != nil {
			return fmt.Errorf("failed to bind subscription: %w", scanErr)
		}
		return s.publisher.ServerChanged(ctx, tx, serverID)
	})
	if err != nil {
		return nil, apperr.DataAccess("bind subscription", err)
	}

	s.audit(ctx, audit.EventTypeBillingSubscriptionBind, actorID, serverID, subscriptionID,
		map[string]interface{}{"server_id": nil}, map[string]interface{}{"server_id": serverID})
	return sub, nil
}

// diagnoseBind explains a bind that matched no row
func (s *SubscriptionStore) diagnoseBind(ctx context.Context, tx *sql.Tx, actorID, serverID, subscriptionID string) error {
	var (
		userID  string
		boundTo sql.NullString
		status  SubscriptionStatus
	)
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, server_id, status FROM subscriptions WHERE id = $1`, subscriptionID,
	).Scan(&userID, &boundTo, &status)
	if err == sql.ErrNoRows || (err == nil && userID != actorID) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	switch {
	case boundTo.Valid && boundTo.String == serverID:
		return apperr.Conflict("subscription", "already bound to this server")
	case boundTo.Valid:
		return apperr.Conflict("subscription", "bound to another server")
	case !status.Entitling():
		return apperr.Invalid("subscription_id", "subscription is not active")
	default:
		return apperr.Conflict("subscription", "server already has a bound subscription")
	}
}

// Unbind detaches the actor's subscription from a server
func (s *SubscriptionStore) Unbind(ctx context.Context, actorID, serverID, subscriptionID string) (err error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanManageSubscription); err != nil {
		return err
	}
	defer func() { s.metrics.ObserveClaim("subscription_unbind", err) }()

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE subscriptions SET server_id = NULL, updated_at = $1
			WHERE id = $2 AND server_id = $3 AND user_id = $4
		`, time.Now().UTC(), subscriptionID, serverID, actorID)
		if err != nil {
			return fmt.Errorf("failed to unbind subscription: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var userID string
			err := tx.QueryRowContext(ctx,
				`SELECT user_id FROM subscriptions WHERE id = $1`, subscriptionID,
			).Scan(&userID)
			if err == sql.ErrNoRows || (err == nil && userID != actorID) {
				return apperr.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to load subscription: %w", err)
			}
			return apperr.Conflict("subscription", "not bound to this server")
		}
		return s.publisher.ServerChanged(ctx, tx, serverID)
	})
	if err != nil {
		return apperr.DataAccess("unbind subscription", err)
	}

	s.audit(ctx, audit.EventTypeBillingSubscriptionUnbind, actorID, serverID, subscriptionID,
		map[string]interface{}{"server_id": serverID}, map[string]interface{}{"server_id": nil})
	return nil
}

// Sync upserts a record from the payment collaborator. The server binding
// is left untouched; a change to a bound subscription is published.
func (s *SubscriptionStore) Sync(ctx context.Context, rec SubscriptionRecord) (*Subscription, error) {
	if rec.ID == "" {
		return nil, apperr.Invalid("id", "is required")
	}
	if rec.UserID == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	if rec.Status == "" {
		return nil, apperr.Invalid("status", "is required")
	}
	if rec.PriceID != "" && !s.catalog.Known(rec.PriceID) {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"subscription_id": rec.ID,
			"price_id":        rec.PriceID,
		}).Warn("Unknown price id, subscription resolves to the standard plan")
	}

	var sub *Subscription
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO subscriptions (id, user_id, status, price_id,
				current_period_start, current_period_end, cancel_at_period_end, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				status = EXCLUDED.status,
				price_id = EXCLUDED.price_id,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				updated_at = EXCLUDED.updated_at
			RETURNING `+subscriptionColumns,
			rec.ID, rec.UserID, rec.Status, rec.PriceID,
			rec.CurrentPeriodStart, rec.CurrentPeriodEnd, rec.CancelAtPeriodEnd, time.Now().UTC(),
		)
		var err error
		if sub, err = s.scan(row); err != nil {
			return fmt.Errorf("failed to sync subscription: %w", err)
		}
		if sub.ServerID == "" {
			return nil
		}
		return s.publisher.ServerChanged(ctx, tx, sub.ServerID)
	})
	if err != nil {
		return nil, apperr.DataAccess("sync subscription", err)
	}
	return sub, nil
}

// ListForUser returns every subscription owned by userID
func (s *SubscriptionStore) ListForUser(ctx context.Context, userID string) ([]*Subscription, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthorized
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, apperr.DataAccess("list subscriptions", fmt.Errorf("failed to list subscriptions: %w", err))
	}
	defer rows.Close()

	subs := make([]*Subscription, 0)
	for rows.Next() {
		sub, err := s.scan(rows)
		if err != nil {
			return nil, apperr.DataAccess("list subscriptions", fmt.Errorf("failed to scan subscription: %w", err))
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("list subscriptions", err)
	}
	return subs, nil
}

// ForServer returns the subscription bound to serverID, if any. Requires
// can_manage_subscription.
func (s *SubscriptionStore) ForServer(ctx context.Context, actorID, serverID string) (*Subscription, error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanManageSubscription); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE server_id = $1`, serverID)
	sub, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.DataAccess("load server subscription", fmt.Errorf("failed to load subscription: %w", err))
	}
	return sub, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SubscriptionStore) scan(row rowScanner) (*Subscription, error) {
	var (
		sub      Subscription
		serverID sql.NullString
		start    sql.NullTime
		end      sql.NullTime
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&serverID,
		&sub.Status,
		&sub.PriceID,
		&start,
		&end,
		&sub.CancelAtPeriodEnd,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.ServerID = serverID.String
	if start.Valid {
		sub.CurrentPeriodStart = &start.Time
	}
	if end.Valid {
		sub.CurrentPeriodEnd = &end.Time
	}
	sub.Plan = s.catalog.PlanFor(sub.PriceID)
	return &sub, nil
}

func (s *SubscriptionStore) audit(ctx context.Context, eventType audit.EventType, actorID, serverID, subscriptionID string, before, after map[string]interface{}) {
	changes := &audit.ChangeDetails{Before: before, After: after}
	if err := s.auditLogger.LogDataMutation(ctx, eventType, actorID, serverID,
		audit.ResourceTypeSubscription, subscriptionID, changes, string(eventType)); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
