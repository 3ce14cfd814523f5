package servers

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/internal/testdb"
	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/permissions"
)

const premiumPrice = "price_premium"

type fixture struct {
	db      *sql.DB
	svc     *Service
	audit   *audit.MemoryLogger
	checker *permissions.Resolver
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := testdb.New(t)
	checker := permissions.NewResolver(db, nil, nil)
	resolver := entitlements.NewResolver(db, entitlements.NewCatalog(premiumPrice), nil)
	auditLogger := audit.NewMemoryLogger()

	svc := NewService(db, checker, resolver, append([]Option{WithAuditLogger(auditLogger)}, opts...)...)
	svc.serverLock = ""
	return &fixture{db: db, svc: svc, audit: auditLogger, checker: checker}
}

func TestCreateServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	server, err := f.svc.CreateServer(ctx, "owner", CreateServerRequest{
		Name:             "Los Santos PD",
		Slug:             " LSPD ",
		DiscordInviteURL: "https://discord.gg/lspd",
	})
	require.NoError(t, err)
	assert.Equal(t, "lspd", server.Slug)
	assert.Equal(t, "owner", server.OwnerID)
	assert.Len(t, f.audit.ByType(audit.EventTypeServerCreate), 1)

	t.Run("slug taken", func(t *testing.T) {
		_, err := f.svc.CreateServer(ctx, "other", CreateServerRequest{Name: "Another", Slug: "lspd"})
		assert.True(t, apperr.IsConflict(err), "got %v", err)
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			req  CreateServerRequest
		}{
			{"short name", CreateServerRequest{Name: "ab", Slug: "valid-slug"}},
			{"short slug", CreateServerRequest{Name: "Valid", Slug: "ab"}},
			{"bad slug", CreateServerRequest{Name: "Valid", Slug: "no_underscores"}},
			{"bad url", CreateServerRequest{Name: "Valid", Slug: "valid-slug", CoverImageURL: "ftp://x/y.png"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.CreateServer(ctx, "owner", tt.req)
				assert.True(t, apperr.IsValidation(err), "got %v", err)
			})
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := f.svc.CreateServer(ctx, "", CreateServerRequest{Name: "Valid", Slug: "valid"})
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})
}

func TestGetAndListServers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owned := testdb.InsertServer(t, f.db, "alice", "owned", "")
	joined := testdb.InsertServer(t, f.db, "bob", "joined", "")
	testdb.InsertServer(t, f.db, "bob", "foreign", "")
	testdb.InsertMember(t, f.db, joined, "alice", "viewer", "", "")

	servers, err := f.svc.ListServersForUser(ctx, "alice")
	require.NoError(t, err)
	ids := []string{}
	for _, s := range servers {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{owned, joined}, ids)

	bySlug, err := f.svc.GetServerBySlug(ctx, "OWNED")
	require.NoError(t, err)
	assert.Equal(t, owned, bySlug.ID)

	_, err = f.svc.GetServer(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.NoError(t, f.svc.RequireMember(ctx, "alice", joined))
	assert.ErrorIs(t, f.svc.RequireMember(ctx, "alice", testdb.InsertServer(t, f.db, "carol", "private", "")), apperr.ErrPermissionDenied)
}

func TestUpdateServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serverID := testdb.InsertServer(t, f.db, "owner", "before", "")
	testdb.InsertServer(t, f.db, "someone", "taken", "")
	testdb.InsertMember(t, f.db, serverID, "manager", "manager", "", "")

	name, slug := "Renamed server", "after"
	server, err := f.svc.UpdateServer(ctx, "owner", serverID, UpdateServerRequest{Name: &name, Slug: &slug})
	require.NoError(t, err)
	assert.Equal(t, "Renamed server", server.Name)
	assert.Equal(t, "after", server.Slug)

	taken := "taken"
	_, err = f.svc.UpdateServer(ctx, "owner", serverID, UpdateServerRequest{Slug: &taken})
	assert.True(t, apperr.IsConflict(err), "got %v", err)

	_, err = f.svc.UpdateServer(ctx, "manager", serverID, UpdateServerRequest{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestDeleteServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serverID := testdb.InsertServer(t, f.db, "owner", "doomed", "")
	jobID := testdb.InsertJob(t, f.db, serverID, "Officer")
	testdb.InsertMember(t, f.db, serverID, "restricted", "manager", jobID, "")
	testdb.InsertMember(t, f.db, serverID, "viewer", "viewer", "", "")
	testdb.InsertSubscription(t, f.db, "sub_doomed", "owner", serverID, "active", premiumPrice)
	licenseID := testdb.InsertLicense(t, f.db, testdb.License{Plan: "premium", MaxJobs: 10, ServerID: serverID})

	t.Run("viewers cannot delete", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.DeleteServer(ctx, "viewer", serverID), apperr.ErrPermissionDenied)
	})

	require.NoError(t, f.svc.DeleteServer(ctx, "owner", serverID))

	_, err := f.svc.GetServer(ctx, serverID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var subServer, licServer sql.NullString
	require.NoError(t, f.db.QueryRow(`SELECT server_id FROM subscriptions WHERE id = $1`, "sub_doomed").Scan(&subServer))
	require.NoError(t, f.db.QueryRow(`SELECT server_id FROM licenses WHERE id = $1`, licenseID).Scan(&licServer))
	assert.False(t, subServer.Valid, "subscription is detached, not deleted")
	assert.False(t, licServer.Valid, "license is detached, not deleted")

	var members int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM server_members WHERE server_id = $1`, serverID).Scan(&members))
	assert.Zero(t, members)
	assert.Len(t, f.audit.ByType(audit.EventTypeServerDelete), 1)
}
