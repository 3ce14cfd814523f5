package platformadmin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/internal/testdb"
	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
)

func newTestService(t *testing.T) (*Service, *audit.MemoryLogger) {
	t.Helper()
	db := testdb.New(t)
	store := NewStore(db)
	store.rowLock = ""
	auditLogger := audit.NewMemoryLogger()
	licenses := entitlements.NewLicenseStore(db, nil, nil, nil, nil)
	return NewService(store, licenses, auditLogger), auditLogger
}

func TestBootstrap(t *testing.T) {
	svc, auditLogger := newTestService(t)
	ctx := context.Background()

	assert.False(t, svc.IsAdmin(ctx, "root"))

	admin, err := svc.Bootstrap(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, "root", admin.UserID)
	assert.True(t, svc.IsAdmin(ctx, "root"))

	_, err = svc.Bootstrap(ctx, "intruder")
	assert.True(t, apperr.IsConflict(err), "got %v", err)
	assert.False(t, svc.IsAdmin(ctx, "intruder"))

	_, err = svc.Bootstrap(ctx, " ")
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	assert.Len(t, auditLogger.ByType(audit.EventTypeAdminGrant), 1)
}

func TestGrantAndRevoke(t *testing.T) {
	svc, auditLogger := newTestService(t)
	ctx := context.Background()

	_, err := svc.Bootstrap(ctx, "root")
	require.NoError(t, err)

	t.Run("non-admins cannot grant", func(t *testing.T) {
		_, err := svc.Grant(ctx, "mallory", "mallory", "")
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
		_, err = svc.Grant(ctx, "", "mallory", "")
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})

	admin, err := svc.Grant(ctx, "root", "ops", "on-call")
	require.NoError(t, err)
	assert.Equal(t, "root", admin.GrantedBy)

	_, err = svc.Grant(ctx, "root", "ops", "")
	assert.True(t, apperr.IsConflict(err), "got %v", err)

	admins, err := svc.ListAdmins(ctx, "ops")
	require.NoError(t, err)
	assert.Len(t, admins, 2)

	require.NoError(t, svc.Revoke(ctx, "ops", "root"))
	assert.False(t, svc.IsAdmin(ctx, "root"))

	err = svc.Revoke(ctx, "ops", "ops")
	assert.True(t, apperr.IsConflict(err), "the last admin stays, got %v", err)
	assert.ErrorIs(t, svc.Revoke(ctx, "ops", "nobody"), apperr.ErrNotFound)

	assert.Len(t, auditLogger.ByType(audit.EventTypeAdminRevoke), 1)
}

func TestLicenses(t *testing.T) {
	svc, auditLogger := newTestService(t)
	ctx := context.Background()

	_, err := svc.Bootstrap(ctx, "root")
	require.NoError(t, err)

	_, err = svc.IssueLicense(ctx, "someone", entitlements.IssueLicenseRequest{Plan: entitlements.PlanPremium})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	issued, err := svc.IssueLicense(ctx, "root", entitlements.IssueLicenseRequest{
		Plan:      entitlements.PlanStandard,
		ValidDays: 30,
		Count:     3,
	})
	require.NoError(t, err)
	require.Len(t, issued, 3)
	assert.Equal(t, 5, issued[0].MaxJobs)
	assert.NotNil(t, issued[0].ExpiresAt)
	assert.Len(t, auditLogger.ByType(audit.EventTypeAdminLicenseIssue), 3)

	_, err = svc.IssueLicense(ctx, "root", entitlements.IssueLicenseRequest{Plan: "gold"})
	assert.True(t, apperr.IsValidation(err), "got %v", err)

	licenses, err := svc.ListLicenses(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, licenses, 3)

	_, err = svc.ListLicenses(ctx, "someone")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}
