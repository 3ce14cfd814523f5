//go:build integration

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/servers"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

const (
	premiumPrice = "price_premium"
	channel      = "entitlement_changed"
)

// stack is a fully wired set of services against a migrated database
type stack struct {
	db         *sql.DB
	connString string
	metrics    *observability.Metrics
	logger     *observability.Logger

	permissions   *permissions.Resolver
	policies      *permissions.Store
	catalog       *entitlements.Catalog
	entitlements  *entitlements.Resolver
	subscriptions *entitlements.SubscriptionStore
	licenses      *entitlements.LicenseStore
	servers       *servers.Service
}

// setupPostgres starts a disposable PostgreSQL container and applies the
// migrations. The test is skipped when no container runtime is available.
func setupPostgres(t *testing.T) (*sql.DB, string) {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fiverecruit_test"),
		tcpostgres.WithUsername("fiverecruit"),
		tcpostgres.WithPassword("fiverecruit_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.Connect(ctx, postgres.ConnectionConfig{
		URL:      connString,
		MaxConns: 20,
		MinConns: 2,
		Timeout:  10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	require.NoError(t, postgres.RunMigrations(ctx, db, logger))
	return db, connString
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db, connString := setupPostgres(t)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	auditLogger, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	checker := permissions.NewResolver(db, metrics, auditLogger)
	catalog := entitlements.NewCatalog(premiumPrice)
	resolver := entitlements.NewResolver(db, catalog, metrics)
	publisher := entitlements.NewNotifyPublisher(channel)

	return &stack{
		db:            db,
		connString:    connString,
		metrics:       metrics,
		logger:        logger,
		permissions:   checker,
		policies:      permissions.NewStore(db, auditLogger),
		catalog:       catalog,
		entitlements:  resolver,
		subscriptions: entitlements.NewSubscriptionStore(db, checker, publisher, catalog, auditLogger, metrics),
		licenses:      entitlements.NewLicenseStore(db, checker, publisher, auditLogger, metrics),
		servers: servers.NewService(db, checker, resolver,
			servers.WithPublisher(publisher),
			servers.WithAuditLogger(auditLogger),
			servers.WithMetrics(metrics),
		),
	}
}

func (s *stack) createServer(t *testing.T, ownerID, slug string) *servers.Server {
	t.Helper()
	server, err := s.servers.CreateServer(context.Background(), ownerID, servers.CreateServerRequest{
		Name: "Server " + slug,
		Slug: slug,
	})
	require.NoError(t, err)
	return server
}

// join invites userID with role and redeems the invite
func (s *stack) join(t *testing.T, server *servers.Server, userID string, role permissions.Role) *servers.Member {
	t.Helper()
	ctx := context.Background()
	invite, err := s.servers.CreateInvite(ctx, server.OwnerID, server.ID, servers.CreateInviteRequest{Role: role})
	require.NoError(t, err)
	member, err := s.servers.RedeemInvite(ctx, invite.Code, userID)
	require.NoError(t, err)
	return member
}
