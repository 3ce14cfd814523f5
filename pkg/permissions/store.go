package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

// Store persists the per-server manager policy. Writes are owner-only and
// checked against servers.owner_id directly, never through the Resolver.
type Store struct {
	db          *sql.DB
	auditLogger audit.Logger
}

// NewStore creates a policy store. auditLogger may be nil.
func NewStore(db *sql.DB, auditLogger audit.Logger) *Store {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Store{db: db, auditLogger: auditLogger}
}

// SetManagerDefaults replaces the manager override map for a server.
// Capabilities left out revert to the built-in defaults on the next read.
func (s *Store) SetManagerDefaults(ctx context.Context, serverID, requesterID string, overrides Overrides) error {
	if requesterID == "" {
		return apperr.ErrUnauthorized
	}
	if err := overrides.Validate(); err != nil {
		return err
	}
	if overrides == nil {
		overrides = Overrides{}
	}

	encodedOverrides, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("failed to encode manager defaults: %w", err)
	}
	logger := observability.FromContext(ctx).WithField("server_id", serverID)

	var before Overrides
	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			ownerID    string
			policyJSON []byte
		)
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id, role_permissions FROM servers WHERE id = $1`, serverID,
		).Scan(&ownerID, &policyJSON)
		if err == sql.ErrNoRows {
			return apperr.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load role permissions: %w", err)
		}
		if ownerID != requesterID {
			return apperr.ErrPermissionDenied
		}

		// an undecodable stored policy is replaced rather than blocking its repair
		policy, err := parseRolePolicy(policyJSON)
		if err != nil {
			logger.WithError(err).Warn("Discarding undecodable role permissions")
			policy = rolePolicy{}
		}
		if before, err = ParseOverrides(policy[string(RoleManager)]); err != nil {
			logger.WithError(err).Warn("Replacing undecodable manager defaults")
			before = nil
		}
		policy[string(RoleManager)] = encodedOverrides

		encoded, err := json.Marshal(policy)
		if err != nil {
			return fmt.Errorf("failed to encode role permissions: %w", err)
		}

		// owner_id is repeated so a concurrent ownership change cannot slip in
		res, err := tx.ExecContext(ctx,
			`UPDATE servers SET role_permissions = $1, updated_at = $2 WHERE id = $3 AND owner_id = $4`,
			string(encoded), time.Now().UTC(), serverID, requesterID,
		)
		if err != nil {
			return fmt.Errorf("failed to update role permissions: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrPermissionDenied
		}
		return nil
	})
	if err != nil {
		return apperr.DataAccess("set manager defaults", err)
	}

	changes := &audit.ChangeDetails{
		Before: overridesToMap(before),
		After:  overridesToMap(overrides),
	}
	if err := s.auditLogger.LogDataMutation(ctx, audit.EventTypePolicyManagerEdit, requesterID, serverID,
		audit.ResourceTypePolicy, string(RoleManager), changes, "manager defaults replaced"); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
	return nil
}

// ManagerOverrides returns the stored manager overrides without defaults
func (s *Store) ManagerOverrides(ctx context.Context, serverID string) (Overrides, error) {
	var policyJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT role_permissions FROM servers WHERE id = $1`, serverID,
	).Scan(&policyJSON)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("load manager defaults", fmt.Errorf("failed to load role permissions: %w", err))
	}

	overrides, err := managerOverrides(policyJSON)
	if err != nil {
		return nil, apperr.DataAccess("load manager defaults", err)
	}
	return overrides, nil
}

// ManagerDefaults returns the effective manager table: the stored override
// where one exists, the built-in default otherwise.
func (s *Store) ManagerDefaults(ctx context.Context, serverID string) (map[Capability]bool, error) {
	overrides, err := s.ManagerOverrides(ctx, serverID)
	if err != nil {
		return nil, err
	}

	effective := DefaultManagerPermissions()
	for c, v := range overrides {
		effective[c] = v
	}
	return effective, nil
}

func overridesToMap(o Overrides) map[string]interface{} {
	if len(o) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(o))
	for c, v := range o {
		out[string(c)] = v
	}
	return out
}
