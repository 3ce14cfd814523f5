package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/internal/testdb"
	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/permissions"
)

type subscriptionFixture struct {
	db        *sql.DB
	store     *SubscriptionStore
	resolver  *Resolver
	publisher *recordingPublisher
	audit     *audit.MemoryLogger
	serverID  string
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	db := testdb.New(t)
	catalog := NewCatalog(premiumPrice)
	publisher := &recordingPublisher{}
	auditLogger := audit.NewMemoryLogger()

	serverID := testdb.InsertServer(t, db, "owner", "subs", "")
	testdb.InsertMember(t, db, serverID, "viewer", "viewer", "", "")

	return &subscriptionFixture{
		db:        db,
		store:     NewSubscriptionStore(db, permissions.NewResolver(db, nil, nil), publisher, catalog, auditLogger, nil),
		resolver:  NewResolver(db, catalog, nil),
		publisher: publisher,
		audit:     auditLogger,
		serverID:  serverID,
	}
}

func TestSubscriptionStore_Bind(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	testdb.InsertSubscription(t, f.db, "sub_1", "owner", "", "active", premiumPrice)

	sub, err := f.store.Bind(ctx, "owner", f.serverID, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, f.serverID, sub.ServerID)
	assert.Equal(t, PlanPremium, sub.Plan)
	assert.Equal(t, []string{f.serverID}, f.publisher.Servers())
	assert.Len(t, f.audit.ByType(audit.EventTypeBillingSubscriptionBind), 1)

	ent, err := f.resolver.Resolve(ctx, f.serverID)
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, ent.Plan)

	t.Run("same subscription again", func(t *testing.T) {
		_, err := f.store.Bind(ctx, "owner", f.serverID, "sub_1")
		assert.True(t, apperr.IsConflict(err), err)
	})

	t.Run("second subscription on a bound server", func(t *testing.T) {
		testdb.InsertSubscription(t, f.db, "sub_2", "owner", "", "active", "price_basic")
		_, err := f.store.Bind(ctx, "owner", f.serverID, "sub_2")
		assert.True(t, apperr.IsConflict(err), err)
	})

	t.Run("already bound elsewhere", func(t *testing.T) {
		other := testdb.InsertServer(t, f.db, "owner", "subs-other", "")
		_, err := f.store.Bind(ctx, "owner", other, "sub_1")
		assert.True(t, apperr.IsConflict(err), err)
	})

	t.Run("someone else's subscription", func(t *testing.T) {
		other := testdb.InsertServer(t, f.db, "owner", "subs-foreign", "")
		testdb.InsertSubscription(t, f.db, "sub_foreign", "stranger", "", "active", premiumPrice)
		_, err := f.store.Bind(ctx, "owner", other, "sub_foreign")
		assert.True(t, errors.Is(err, apperr.ErrNotFound), err)
	})

	t.Run("inactive subscription", func(t *testing.T) {
		other := testdb.InsertServer(t, f.db, "owner", "subs-lapsed", "")
		testdb.InsertSubscription(t, f.db, "sub_lapsed", "owner", "", "canceled", premiumPrice)
		_, err := f.store.Bind(ctx, "owner", other, "sub_lapsed")
		assert.True(t, apperr.IsValidation(err), err)
	})

	t.Run("viewer may not bind", func(t *testing.T) {
		testdb.InsertSubscription(t, f.db, "sub_viewer", "viewer", "", "active", premiumPrice)
		_, err := f.store.Bind(ctx, "viewer", f.serverID, "sub_viewer")
		assert.True(t, errors.Is(err, apperr.ErrPermissionDenied), err)
	})
}

func TestSubscriptionStore_Unbind(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	testdb.InsertSubscription(t, f.db, "sub_1", "owner", f.serverID, "active", premiumPrice)

	require.NoError(t, f.store.Unbind(ctx, "owner", f.serverID, "sub_1"))
	assert.Len(t, f.audit.ByType(audit.EventTypeBillingSubscriptionUnbind), 1)

	ent, err := f.resolver.Resolve(ctx, f.serverID)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, ent.Plan)

	err = f.store.Unbind(ctx, "owner", f.serverID, "sub_1")
	assert.True(t, apperr.IsConflict(err), err)

	err = f.store.Unbind(ctx, "owner", f.serverID, "sub_missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), err)

	// rebinding after an unbind is allowed
	_, err = f.store.Bind(ctx, "owner", f.serverID, "sub_1")
	assert.NoError(t, err)
}

func TestSubscriptionStore_Sync(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	sub, err := f.store.Sync(ctx, SubscriptionRecord{
		ID: "sub_sync", UserID: "owner", Status: SubscriptionStatusActive,
		PriceID: "price_basic", CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)
	assert.Equal(t, PlanStandard, sub.Plan)
	assert.Empty(t, sub.ServerID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, end.Equal(*sub.CurrentPeriodEnd))
	assert.Empty(t, f.publisher.Servers(), "unbound subscriptions publish nothing")

	_, err = f.store.Bind(ctx, "owner", f.serverID, "sub_sync")
	require.NoError(t, err)

	// an upgrade keeps the binding and changes the plan
	sub, err = f.store.Sync(ctx, SubscriptionRecord{
		ID: "sub_sync", UserID: "owner", Status: SubscriptionStatusActive, PriceID: premiumPrice,
	})
	require.NoError(t, err)
	assert.Equal(t, f.serverID, sub.ServerID)
	assert.Equal(t, PlanPremium, sub.Plan)
	assert.Equal(t, []string{f.serverID, f.serverID}, f.publisher.Servers())

	// cancellation revokes the plan while the row stays bound
	_, err = f.store.Sync(ctx, SubscriptionRecord{
		ID: "sub_sync", UserID: "owner", Status: SubscriptionStatusCanceled, PriceID: premiumPrice,
	})
	require.NoError(t, err)
	ent, err := f.resolver.Resolve(ctx, f.serverID)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, ent.Plan)

	_, err = f.store.Sync(ctx, SubscriptionRecord{UserID: "owner", Status: SubscriptionStatusActive})
	assert.True(t, apperr.IsValidation(err))
}

func TestSubscriptionStore_Queries(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	sub, err := f.store.ForServer(ctx, "owner", f.serverID)
	require.NoError(t, err)
	assert.Nil(t, sub)

	testdb.InsertSubscription(t, f.db, "sub_a", "owner", f.serverID, "active", premiumPrice)
	testdb.InsertSubscription(t, f.db, "sub_b", "owner", "", "trialing", "price_basic")
	testdb.InsertSubscription(t, f.db, "sub_c", "someone", "", "active", "price_basic")

	sub, err = f.store.ForServer(ctx, "owner", f.serverID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub_a", sub.ID)

	_, err = f.store.ForServer(ctx, "viewer", f.serverID)
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))

	subs, err := f.store.ListForUser(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = f.store.ListForUser(ctx, "")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}
