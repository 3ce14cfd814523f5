package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/observability"
)

// Checker answers capability questions. Services depend on this rather than
// on *Resolver so they can be tested with a stub.
type Checker interface {
	Check(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error)
	HasPermission(ctx context.Context, userID, serverID string, capability Capability, opts ...Option) bool
	Require(ctx context.Context, userID, serverID string, capability Capability, opts ...Option) error
}

// membership is everything the resolver reads for one decision
type membership struct {
	ownerID  string
	manager  Overrides
	isMember bool
	role     Role
	jobID    string
	specific Overrides
}

// errServerNotFound is internal; Require turns it into apperr.ErrNotFound
var errServerNotFound = errors.New("server not found")

// Resolver decides capability checks against current database state. It
// never caches: role policies and member overrides can change between
// requests.
type Resolver struct {
	db          *sql.DB
	metrics     *observability.Metrics
	auditLogger audit.Logger
}

// NewResolver creates a resolver. metrics and auditLogger may be nil.
func NewResolver(db *sql.DB, metrics *observability.Metrics, auditLogger audit.Logger) *Resolver {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Resolver{
		db:          db,
		metrics:     metrics,
		auditLogger: auditLogger,
	}
}

// Check resolves one capability. Storage failures deny and are returned
// alongside the denial.
func (r *Resolver) Check(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "permissions.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("server.id", check.ServerID),
		attribute.String("permission.capability", string(check.Capability)),
		attribute.String("job.id", check.JobID),
	)

	start := time.Now()
	result, err := r.check(ctx, check)
	r.metrics.ObservePermissionCheck(string(check.Capability), result.Allowed, time.Since(start))

	span.SetAttributes(
		attribute.Bool("permission.allowed", result.Allowed),
		attribute.String("permission.reason", result.Reason),
	)
	if err != nil && !errors.Is(err, errServerNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission check failed")
	}
	return result, err
}

func (r *Resolver) check(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	deny := func(reason string) *PermissionCheckResult {
		return &PermissionCheckResult{Allowed: false, Reason: reason, CheckedAt: time.Now()}
	}

	if check.UserID == "" {
		return deny(ReasonUnauthenticated), nil
	}
	if !check.Capability.Valid() {
		return deny(ReasonUnknownCapability), apperr.Invalid("capability", fmt.Sprintf("unknown capability %q", check.Capability))
	}

	m, err := r.loadMembership(ctx, check.ServerID, check.UserID)
	if errors.Is(err, errServerNotFound) {
		return deny(ReasonServerNotFound), err
	}
	if err != nil {
		return deny(ReasonCheckFailed), err
	}

	allowed, reason := decide(m, check)
	return &PermissionCheckResult{Allowed: allowed, Reason: reason, CheckedAt: time.Now()}, nil
}

// decide applies the resolution order to loaded state; first match wins
func decide(m *membership, check PermissionCheck) (bool, string) {
	if check.UserID == m.ownerID {
		return true, ReasonOwner
	}
	if !m.isMember {
		return false, ReasonNotMember
	}
	if m.jobID != "" && check.JobID != "" && m.jobID != check.JobID {
		return false, ReasonJobRestricted
	}
	if v, ok := m.specific.Lookup(check.Capability); ok {
		return v, ReasonSpecificOverride
	}

	switch m.role {
	case RoleAdmin:
		return true, ReasonAdminRole
	case RoleViewer:
		return false, ReasonViewerRole
	case RoleManager:
		if v, ok := m.manager.Lookup(check.Capability); ok {
			return v, ReasonManagerPolicy
		}
		return managerDefaults[check.Capability], ReasonManagerDefault
	default:
		return false, ReasonUnknownRole
	}
}

// loadMembership reads the server row and the caller's member row in one
// statement so a concurrent removal cannot be observed half-applied. Stored
// JSON is decoded only past the owner check, and only the parts the
// caller's role reads.
func (r *Resolver) loadMembership(ctx context.Context, serverID, userID string) (*membership, error) {
	query := `
		SELECT s.owner_id, s.role_permissions, m.role, m.job_id, m.specific_permissions
		FROM servers s
		LEFT JOIN server_members m ON m.server_id = s.id AND m.user_id = $1
		WHERE s.id = $2
	`

	var (
		m           membership
		policyJSON  []byte
		role        sql.NullString
		jobID       sql.NullString
		specificRaw []byte
	)
	err := r.db.QueryRowContext(ctx, query, userID, serverID).Scan(
		&m.ownerID,
		&policyJSON,
		&role,
		&jobID,
		&specificRaw,
	)
	if err == sql.ErrNoRows {
		return nil, errServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}

	if userID == m.ownerID || !role.Valid {
		return &m, nil
	}

	m.isMember = true
	m.role = Role(role.String)
	m.jobID = jobID.String
	if m.specific, err = ParseOverrides(specificRaw); err != nil {
		return nil, err
	}
	if m.role == RoleManager {
		if m.manager, err = managerOverrides(policyJSON); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// HasPermission is Check reduced to a boolean. Failures are logged and deny.
func (r *Resolver) HasPermission(ctx context.Context, userID, serverID string, capability Capability, opts ...Option) bool {
	check := newCheck(userID, serverID, capability, opts)
	result, err := r.Check(ctx, check)
	if err != nil && !errors.Is(err, errServerNotFound) {
		observability.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"server_id":  serverID,
			"capability": string(capability),
		}).Warn("permission check failed, denying")
		return false
	}
	return result.Allowed
}

// Require returns nil when the capability is granted. A denial is
// apperr.ErrPermissionDenied and is written to the audit log; a missing
// server is apperr.ErrNotFound; storage failures are DataAccessErrors.
func (r *Resolver) Require(ctx context.Context, userID, serverID string, capability Capability, opts ...Option) error {
	if userID == "" {
		return apperr.ErrUnauthorized
	}

	check := newCheck(userID, serverID, capability, opts)
	result, err := r.Check(ctx, check)
	switch {
	case errors.Is(err, errServerNotFound):
		return apperr.ErrNotFound
	case err != nil:
		observability.FromContext(ctx).WithError(err).WithField("server_id", serverID).
			Warn("permission check failed, denying")
		return apperr.DataAccess("check permission", err)
	case !result.Allowed:
		r.logDenial(ctx, check, result.Reason)
		return fmt.Errorf("%w: %s (%s)", apperr.ErrPermissionDenied, capability, result.Reason)
	}
	return nil
}

func (r *Resolver) logDenial(ctx context.Context, check PermissionCheck, reason string) {
	resourceType, resourceID := audit.ResourceTypeServer, check.ServerID
	if check.JobID != "" {
		resourceType, resourceID = audit.ResourceTypeJob, check.JobID
	}
	message := fmt.Sprintf("%s denied: %s", check.Capability, reason)
	if err := r.auditLogger.LogAuthorization(ctx, check.UserID, check.ServerID, resourceType, resourceID, audit.EventStatusDenied, message); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}

// UserPermissions evaluates every capability for the caller. The checks run
// concurrently; any storage failure fails the whole batch.
func (r *Resolver) UserPermissions(ctx context.Context, userID, serverID string, opts ...Option) (map[Capability]bool, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthorized
	}

	var (
		mu  sync.Mutex
		out = make(map[Capability]bool, len(AllCapabilities))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, capability := range AllCapabilities {
		capability := capability
		g.Go(func() error {
			result, err := r.Check(gctx, newCheck(userID, serverID, capability, opts))
			if err != nil {
				return err
			}
			mu.Lock()
			out[capability] = result.Allowed
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, errServerNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.DataAccess("load user permissions", err)
	}
	return out, nil
}

func newCheck(userID, serverID string, capability Capability, opts []Option) PermissionCheck {
	check := PermissionCheck{UserID: userID, ServerID: serverID, Capability: capability}
	for _, opt := range opts {
		opt(&check)
	}
	return check
}
