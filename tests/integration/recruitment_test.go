//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/servers"
)

func TestPlansAndQuota(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	t.Run("free server stops at one job", func(t *testing.T) {
		server := s.createServer(t, "owner-a", "free-server")

		ent := s.entitlements.ResolveEntitlement(ctx, server.ID)
		assert.Equal(t, entitlements.PlanFree, ent.Plan)
		assert.Equal(t, 1, ent.MaxJobs)

		_, err := s.servers.CreateJob(ctx, "owner-a", server.ID, servers.CreateJobRequest{Title: "Police"})
		require.NoError(t, err)

		_, err = s.servers.CreateJob(ctx, "owner-a", server.ID, servers.CreateJobRequest{Title: "EMS"})
		var quota *apperr.QuotaExceededError
		require.True(t, errors.As(err, &quota), "got %v", err)
		assert.Equal(t, int64(1), quota.Current)
		assert.Equal(t, int64(1), quota.Limit)
	})

	t.Run("premium subscription is unlimited", func(t *testing.T) {
		server := s.createServer(t, "owner-b", "premium-server")
		_, err := s.subscriptions.Sync(ctx, entitlements.SubscriptionRecord{
			ID:      "sub_premium_b",
			UserID:  "owner-b",
			Status:  entitlements.SubscriptionStatusActive,
			PriceID: premiumPrice,
		})
		require.NoError(t, err)
		_, err = s.subscriptions.Bind(ctx, "owner-b", server.ID, "sub_premium_b")
		require.NoError(t, err)

		ent := s.entitlements.ResolveEntitlement(ctx, server.ID)
		assert.Equal(t, entitlements.PlanPremium, ent.Plan)
		assert.Equal(t, int64(-1), ent.Limit())

		for i := 0; i < 8; i++ {
			_, err := s.servers.CreateJob(ctx, "owner-b", server.ID, servers.CreateJobRequest{Title: fmt.Sprintf("Job %d", i)})
			require.NoError(t, err)
		}
	})

	t.Run("valid license wins over subscription", func(t *testing.T) {
		server := s.createServer(t, "owner-c", "licensed-server")
		_, err := s.subscriptions.Sync(ctx, entitlements.SubscriptionRecord{
			ID:      "sub_premium_c",
			UserID:  "owner-c",
			Status:  entitlements.SubscriptionStatusActive,
			PriceID: premiumPrice,
		})
		require.NoError(t, err)
		_, err = s.subscriptions.Bind(ctx, "owner-c", server.ID, "sub_premium_c")
		require.NoError(t, err)

		issued, err := s.licenses.Issue(ctx, entitlements.IssueLicenseRequest{Plan: entitlements.PlanStandard, MaxJobs: 3})
		require.NoError(t, err)
		_, err = s.licenses.Claim(ctx, "owner-c", server.ID, issued[0].Key)
		require.NoError(t, err)

		ent := s.entitlements.ResolveEntitlement(ctx, server.ID)
		assert.Equal(t, entitlements.PlanStandard, ent.Plan)
		assert.Equal(t, 3, ent.MaxJobs)
		assert.Equal(t, entitlements.SourceLicense, ent.Source)

		_, err = s.licenses.Claim(ctx, "owner-c", server.ID, issued[0].Key)
		assert.True(t, apperr.IsConflict(err), "second claim: %v", err)
	})
}

func TestCreateJob_ConcurrentQuota(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	server := s.createServer(t, "owner", "race-server")

	issued, err := s.licenses.Issue(ctx, entitlements.IssueLicenseRequest{Plan: entitlements.PlanStandard, MaxJobs: 3})
	require.NoError(t, err)
	_, err = s.licenses.Claim(ctx, "owner", server.ID, issued[0].Key)
	require.NoError(t, err)

	const callers = 12
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		denied     int
		unexpected []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.servers.CreateJob(ctx, "owner", server.ID, servers.CreateJobRequest{Title: fmt.Sprintf("Job %d", i)})
			mu.Lock()
			defer mu.Unlock()
			var quota *apperr.QuotaExceededError
			switch {
			case err == nil:
				created++
			case errors.As(err, &quota):
				denied++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Equal(t, 3, created)
	assert.Equal(t, callers-3, denied)

	jobs, err := s.servers.ListJobs(ctx, server.ID, false)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestRedeemInvite_ConcurrentSingleUse(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	server := s.createServer(t, "owner", "invite-server")

	invite, err := s.servers.CreateInvite(ctx, "owner", server.ID, servers.CreateInviteRequest{Role: permissions.RoleViewer})
	require.NoError(t, err)

	const callers = 2
	results := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = s.servers.RedeemInvite(ctx, invite.Code, fmt.Sprintf("user-%d", i))
		}(i)
	}
	close(start)
	wg.Wait()

	var joined, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			joined++
		case apperr.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	assert.Equal(t, 1, joined)
	assert.Equal(t, 1, conflicts)

	members, err := s.servers.ListMembers(ctx, "owner", server.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestPermissionResolution(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	server := s.createServer(t, "owner", "perm-server")

	t.Run("owner holds every capability", func(t *testing.T) {
		for _, c := range permissions.AllCapabilities {
			assert.True(t, s.permissions.HasPermission(ctx, "owner", server.ID, c), c)
		}
	})

	t.Run("member override beats role policy", func(t *testing.T) {
		require.NoError(t, s.policies.SetManagerDefaults(ctx, server.ID, "owner",
			permissions.Overrides{permissions.CanDeleteJobs: true}))

		manager := s.join(t, server, "manager-1", permissions.RoleManager)
		assert.True(t, s.permissions.HasPermission(ctx, "manager-1", server.ID, permissions.CanDeleteJobs))

		overrides := permissions.Overrides{permissions.CanDeleteJobs: false}
		_, err := s.servers.UpdateMember(ctx, "owner", server.ID, manager.ID, servers.UpdateMemberRequest{
			SpecificPermissions: &overrides,
		})
		require.NoError(t, err)
		assert.False(t, s.permissions.HasPermission(ctx, "manager-1", server.ID, permissions.CanDeleteJobs))
	})

	t.Run("unset manager keys fall back to defaults", func(t *testing.T) {
		defaults, err := s.policies.ManagerDefaults(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, permissions.DefaultManagerPermissions()[permissions.CanViewApplications], defaults[permissions.CanViewApplications])
		assert.True(t, defaults[permissions.CanDeleteJobs])
	})

	t.Run("viewer holds nothing", func(t *testing.T) {
		s.join(t, server, "viewer-1", permissions.RoleViewer)
		for _, c := range permissions.AllCapabilities {
			assert.False(t, s.permissions.HasPermission(ctx, "viewer-1", server.ID, c), c)
		}
	})

	t.Run("job restriction cannot be overridden", func(t *testing.T) {
		police, err := s.servers.CreateJob(ctx, "owner", server.ID, servers.CreateJobRequest{Title: "Police"})
		require.NoError(t, err)

		member := s.join(t, server, "restricted-1", permissions.RoleAdmin)
		overrides := permissions.Overrides{permissions.CanViewApplications: true}
		_, err = s.servers.UpdateMember(ctx, "owner", server.ID, member.ID, servers.UpdateMemberRequest{
			JobID:               &police.ID,
			SpecificPermissions: &overrides,
		})
		require.NoError(t, err)

		assert.True(t, s.permissions.HasPermission(ctx, "restricted-1", server.ID,
			permissions.CanViewApplications, permissions.WithJob(police.ID)))
		assert.False(t, s.permissions.HasPermission(ctx, "restricted-1", server.ID,
			permissions.CanViewApplications, permissions.WithJob("8d0c5e3a-1f2b-4c6d-9e7f-0a1b2c3d4e5f")))
	})

	t.Run("removal is immediate", func(t *testing.T) {
		member := s.join(t, server, "leaver", permissions.RoleAdmin)
		assert.True(t, s.permissions.HasPermission(ctx, "leaver", server.ID, permissions.CanEditServer))
		require.NoError(t, s.servers.RemoveMember(ctx, "owner", server.ID, member.ID))
		assert.False(t, s.permissions.HasPermission(ctx, "leaver", server.ID, permissions.CanEditServer))
	})
}

func TestEntitlementInvalidation(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := s.createServer(t, "owner", "cached-server")
	cache := entitlements.NewCachedResolver(s.entitlements, nil, entitlements.CacheConfig{TTL: time.Hour, Size: 16}, s.metrics)
	listener := entitlements.NewListener(s.connString, channel, cache, time.Second, s.logger)

	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	assert.Equal(t, entitlements.PlanFree, cache.Get(ctx, server.ID).Plan)

	// give the listener time to LISTEN before the notification is sent
	time.Sleep(500 * time.Millisecond)

	issued, err := s.licenses.Issue(ctx, entitlements.IssueLicenseRequest{Plan: entitlements.PlanPremium})
	require.NoError(t, err)
	_, err = s.licenses.Claim(ctx, "owner", server.ID, issued[0].Key)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return cache.Get(ctx, server.ID).Plan == entitlements.PlanPremium
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}
