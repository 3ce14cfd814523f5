package platformadmin

import (
	"context"
	"strings"
	"time"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/observability"
)

// Service gates operator actions on platform admin rights
type Service struct {
	store       *Store
	licenses    *entitlements.LicenseStore
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates an admin service. A nil audit logger discards events.
func NewService(store *Store, licenses *entitlements.LicenseStore, auditLogger audit.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Service{
		store:       store,
		licenses:    licenses,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// IsAdmin reports whether userID is a platform admin. Lookup failures deny.
func (s *Service) IsAdmin(ctx context.Context, userID string) bool {
	ok, err := s.store.IsAdmin(ctx, userID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("platform admin check failed, denying")
		return false
	}
	return ok
}

// RequireAdmin returns ErrUnauthorized or ErrPermissionDenied unless
// actorID is an admin
func (s *Service) RequireAdmin(ctx context.Context, actorID string) error {
	if actorID == "" {
		return apperr.ErrUnauthorized
	}
	ok, err := s.store.IsAdmin(ctx, actorID)
	if err != nil {
		return apperr.DataAccess("check platform admin", err)
	}
	if !ok {
		return apperr.ErrPermissionDenied
	}
	return nil
}

// ListAdmins lists the platform admins
func (s *Service) ListAdmins(ctx context.Context, actorID string) ([]*Admin, error) {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	admins, err := s.store.List(ctx)
	if err != nil {
		return nil, apperr.DataAccess("list platform admins", err)
	}
	return admins, nil
}

// Grant makes userID a platform admin
func (s *Service) Grant(ctx context.Context, actorID, userID, note string) (*Admin, error) {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}

	admin := &Admin{UserID: userID, GrantedBy: actorID, GrantedAt: s.now().UTC(), Note: note}
	if err := s.store.Insert(ctx, admin); err != nil {
		return nil, apperr.DataAccess("grant platform admin", err)
	}
	s.logAction(ctx, audit.EventTypeAdminGrant, actorID, userID, "platform admin granted")
	return admin, nil
}

// Revoke removes userID from the platform admins. The last admin stays.
func (s *Service) Revoke(ctx context.Context, actorID, userID string) error {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		return apperr.DataAccess("revoke platform admin", err)
	}
	s.logAction(ctx, audit.EventTypeAdminRevoke, actorID, userID, "platform admin revoked")
	return nil
}

// Bootstrap makes userID the first platform admin. It fails with a
// ConflictError once any admin exists.
func (s *Service) Bootstrap(ctx context.Context, userID string) (*Admin, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	admin := &Admin{UserID: userID, GrantedBy: "bootstrap", GrantedAt: s.now().UTC(), Note: "bootstrap"}
	if err := s.store.InsertFirst(ctx, admin); err != nil {
		return nil, apperr.DataAccess("bootstrap platform admin", err)
	}
	s.logAction(ctx, audit.EventTypeAdminGrant, "bootstrap", userID, "first platform admin")
	return admin, nil
}

// IssueLicense mints licenses
func (s *Service) IssueLicense(ctx context.Context, actorID string, req entitlements.IssueLicenseRequest) ([]*entitlements.License, error) {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	issued, err := s.licenses.Issue(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, lic := range issued {
		s.logAction(ctx, audit.EventTypeAdminLicenseIssue, actorID, lic.ID, "issued "+string(lic.Plan)+" license")
	}
	return issued, nil
}

// ListLicenses lists every license with its bound server
func (s *Service) ListLicenses(ctx context.Context, actorID string) ([]*entitlements.License, error) {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.licenses.List(ctx)
}

func (s *Service) logAction(ctx context.Context, eventType audit.EventType, actorID, targetID, message string) {
	if err := s.auditLogger.LogAdminAction(ctx, eventType, actorID, targetID, message); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
