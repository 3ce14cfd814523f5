package servers

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

const (
	inviteCodeBytes = 32
	maxInviteUses   = 1000
)

const memberColumns = `id, server_id, user_id, role, job_id, specific_permissions, joined_at`

const inviteColumns = `id, server_id, code, role, job_id, max_uses, uses, expires_at, created_by, created_at`

// generateInviteCode returns 256 random bits, hex encoded
func generateInviteCode() (string, error) {
	b := make([]byte, inviteCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// membershipOf returns whether the actor owns the server and its member
// role, if any
func (s *Service) membershipOf(ctx context.Context, actorID, serverID string) (owner bool, role sql.NullString, err error) {
	if actorID == "" {
		return false, role, apperr.ErrUnauthorized
	}
	var ownerID string
	err = s.db.QueryRowContext(ctx, `
		SELECT s.owner_id, m.role
		FROM servers s
		LEFT JOIN server_members m ON m.server_id = s.id AND m.user_id = $1
		WHERE s.id = $2
	`, actorID, serverID).Scan(&ownerID, &role)
	if err == sql.ErrNoRows {
		return false, role, apperr.ErrNotFound
	}
	if err != nil {
		return false, role, apperr.DataAccess("load membership", fmt.Errorf("failed to load membership: %w", err))
	}
	return ownerID == actorID, role, nil
}

// RequireMember allows the owner and any member of the server
func (s *Service) RequireMember(ctx context.Context, actorID, serverID string) error {
	owner, role, err := s.membershipOf(ctx, actorID, serverID)
	if err != nil {
		return err
	}
	if owner || role.Valid {
		return nil
	}
	return apperr.ErrPermissionDenied
}

// requireTeamAdmin allows the owner and admin-role members. Invites are
// gated on the role itself, not on a capability that overrides could grant.
func (s *Service) requireTeamAdmin(ctx context.Context, actorID, serverID string) error {
	owner, role, err := s.membershipOf(ctx, actorID, serverID)
	if err != nil {
		return err
	}
	if owner || (role.Valid && permissions.Role(role.String) == permissions.RoleAdmin) {
		return nil
	}
	return apperr.ErrPermissionDenied
}

// jobBelongsTo validates a job restriction against the server
func jobBelongsTo(ctx context.Context, q postgres.Querier, jobID, serverID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return apperr.Invalid("job_id", "must be a job id")
	}
	var found string
	err := q.QueryRowContext(ctx, `SELECT id FROM jobs WHERE id = $1 AND server_id = $2`, jobID, serverID).Scan(&found)
	if err == sql.ErrNoRows {
		return apperr.Invalid("job_id", "job does not belong to this server")
	}
	if err != nil {
		return apperr.DataAccess("load job", fmt.Errorf("failed to load job: %w", err))
	}
	return nil
}

// CreateInvite creates an invite code. Only the owner and admins may invite.
func (s *Service) CreateInvite(ctx context.Context, actorID, serverID string, req CreateInviteRequest) (*Invite, error) {
	if err := s.requireTeamAdmin(ctx, actorID, serverID); err != nil {
		return nil, err
	}
	if !req.Role.Valid() {
		return nil, apperr.Invalid("role", "must be admin, manager or viewer")
	}
	if req.MaxUses == 0 {
		req.MaxUses = 1
	}
	if req.MaxUses < 1 || req.MaxUses > maxInviteUses {
		return nil, apperr.Invalid("max_uses", fmt.Sprintf("must be between 1 and %d", maxInviteUses))
	}
	if req.ExpiresIn < 0 {
		return nil, apperr.Invalid("expires_in", "must not be negative")
	}
	if req.JobID != "" {
		if err := jobBelongsTo(ctx, s.db, req.JobID, serverID); err != nil {
			return nil, err
		}
	}

	code, err := generateInviteCode()
	if err != nil {
		return nil, apperr.DataAccess("create invite", err)
	}
	now := s.now().UTC()
	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := now.Add(req.ExpiresIn)
		expiresAt = &t
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO server_invites (id, server_id, code, role, job_id, max_uses, expires_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+inviteColumns,
		uuid.NewString(), serverID, code, req.Role, nullable(req.JobID), req.MaxUses, expiresAt, actorID, now,
	)
	invite, err := scanInvite(row)
	if err != nil {
		return nil, apperr.DataAccess("create invite", fmt.Errorf("failed to create invite: %w", err))
	}

	s.audit(ctx, audit.EventTypeTeamInviteCreate, actorID, serverID, audit.ResourceTypeInvite, invite.ID,
		&audit.ChangeDetails{After: map[string]interface{}{"role": string(invite.Role), "job_id": invite.JobID, "max_uses": invite.MaxUses}})
	return invite, nil
}

// ListInvites lists a server's invites. Owner or admin only.
func (s *Service) ListInvites(ctx context.Context, actorID, serverID string) ([]*Invite, error) {
	if err := s.requireTeamAdmin(ctx, actorID, serverID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inviteColumns+` FROM server_invites WHERE server_id = $1 ORDER BY created_at DESC`, serverID)
	if err != nil {
		return nil, apperr.DataAccess("list invites", fmt.Errorf("failed to list invites: %w", err))
	}
	defer rows.Close()

	invites := make([]*Invite, 0)
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, apperr.DataAccess("list invites", fmt.Errorf("failed to scan invite: %w", err))
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("list invites", err)
	}
	return invites, nil
}

// RevokeInvite deletes an invite. Owner or admin only.
func (s *Service) RevokeInvite(ctx context.Context, actorID, serverID, inviteID string) error {
	if err := s.requireTeamAdmin(ctx, actorID, serverID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM server_invites WHERE id = $1 AND server_id = $2`, inviteID, serverID)
	if err != nil {
		return apperr.DataAccess("revoke invite", fmt.Errorf("failed to revoke invite: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	s.audit(ctx, audit.EventTypeTeamInviteRevoke, actorID, serverID, audit.ResourceTypeInvite, inviteID, nil)
	return nil
}

// RedeemInvite turns an invite into a membership. The use counter is
// claimed with a conditional update and the member inserted in the same
// transaction; a losing concurrent redemption gets a ConflictError and
// leaves no trace.
func (s *Service) RedeemInvite(ctx context.Context, code, userID string) (member *Member, err error) {
	if userID == "" {
		return nil, apperr.ErrUnauthorized
	}
	if code == "" {
		return nil, apperr.Invalid("code", "is required")
	}
	defer func() { s.metrics.ObserveClaim("invite", err) }()

	now := s.now().UTC()
	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			inviteID string
			serverID string
			role     permissions.Role
			jobID    sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			UPDATE server_invites SET uses = uses + 1
			WHERE code = $1 AND uses < max_uses AND (expires_at IS NULL OR expires_at > $2)
			RETURNING id, server_id, role, job_id
		`, code, now).Scan(&inviteID, &serverID, &role, &jobID)
		if err == sql.ErrNoRows {
			return apperr.Conflict("invite", "invalid, exhausted or expired code")
		}
		if err != nil {
			return fmt.Errorf("failed to claim invite: %w", err)
		}

		ownerID, err := ownerOf(ctx, tx, serverID)
		if err != nil {
			return err
		}
		if ownerID == userID {
			return apperr.Conflict("member", "already a member")
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO server_members (id, server_id, user_id, role, job_id, specific_permissions, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (server_id, user_id) DO NOTHING
			RETURNING `+memberColumns,
			uuid.NewString(), serverID, userID, role, jobID, "{}", now,
		)
		var scanErr error
		member, scanErr = scanMember(row)
		if scanErr == sql.ErrNoRows {
			return apperr.Conflict("member", "already a member")
		}
		if scanErr != nil {
			return fmt.Errorf("failed to add member: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.DataAccess("redeem invite", err)
	}

	s.audit(ctx, audit.EventTypeTeamInviteRedeem, userID, member.ServerID, audit.ResourceTypeMember, member.ID,
		&audit.ChangeDetails{After: map[string]interface{}{"role": string(member.Role), "job_id": member.JobID}})
	return member, nil
}

// PurgeInvites deletes invites that are used up or expired before cutoff
func (s *Service) PurgeInvites(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM server_invites
		WHERE uses >= max_uses OR (expires_at IS NOT NULL AND expires_at < $1)
	`, cutoff.UTC())
	if err != nil {
		return 0, apperr.DataAccess("purge invites", fmt.Errorf("failed to purge invites: %w", err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListMembers lists a server's members. Requires can_manage_team.
func (s *Service) ListMembers(ctx context.Context, actorID, serverID string) ([]*Member, error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanManageTeam); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM server_members WHERE server_id = $1 ORDER BY joined_at ASC`, serverID)
	if err != nil {
		return nil, apperr.DataAccess("list members", fmt.Errorf("failed to list members: %w", err))
	}
	defer rows.Close()

	members := make([]*Member, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, apperr.DataAccess("list members", fmt.Errorf("failed to scan member: %w", err))
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("list members", err)
	}
	return members, nil
}

// GetMember returns one member of a server. Requires can_manage_team.
func (s *Service) GetMember(ctx context.Context, actorID, serverID, memberID string) (*Member, error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanManageTeam); err != nil {
		return nil, err
	}
	return s.loadMember(ctx, s.db, serverID, memberID)
}

func (s *Service) loadMember(ctx context.Context, q postgres.Querier, serverID, memberID string) (*Member, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM server_members WHERE id = $1 AND server_id = $2`, memberID, serverID)
	member, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("load member", fmt.Errorf("failed to load member: %w", err))
	}
	return member, nil
}

// UpdateMember changes a member's role, job restriction or specific
// permissions. Owner only: the role system may not edit itself. Only the
// supplied columns are written, in one statement, so overlapping updates of
// different fields both survive.
func (s *Service) UpdateMember(ctx context.Context, actorID, serverID, memberID string, req UpdateMemberRequest) (*Member, error) {
	if err := s.requireOwner(ctx, actorID, serverID); err != nil {
		return nil, err
	}

	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Role != nil {
		if !req.Role.Valid() {
			return nil, apperr.Invalid("role", "must be admin, manager or viewer")
		}
		set("role", *req.Role)
	}
	switch {
	case req.ClearJob:
		set("job_id", nil)
	case req.JobID != nil:
		if err := jobBelongsTo(ctx, s.db, *req.JobID, serverID); err != nil {
			return nil, err
		}
		set("job_id", *req.JobID)
	}
	if req.SpecificPermissions != nil {
		if err := req.SpecificPermissions.Validate(); err != nil {
			return nil, err
		}
		overrides := *req.SpecificPermissions
		if overrides == nil {
			overrides = permissions.Overrides{}
		}
		encoded, err := json.Marshal(overrides)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal permissions: %w", err)
		}
		set("specific_permissions", string(encoded))
	}

	// before is for the audit trail only; the write does not depend on it
	before, err := s.loadMember(ctx, s.db, serverID, memberID)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return before, nil
	}

	args = append(args, memberID, serverID)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE server_members SET %s
		WHERE id = $%d AND server_id = $%d
		RETURNING `+memberColumns, strings.Join(sets, ", "), len(args)-1, len(args)),
		args...,
	)
	member, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("update member", fmt.Errorf("failed to update member: %w", err))
	}

	s.audit(ctx, audit.EventTypeTeamMemberUpdate, actorID, serverID, audit.ResourceTypeMember, memberID,
		&audit.ChangeDetails{Before: memberSnapshot(before), After: memberSnapshot(member)})
	return member, nil
}

// RemoveMember deletes a membership. Owner only; the next permission check
// already sees the removal.
func (s *Service) RemoveMember(ctx context.Context, actorID, serverID, memberID string) error {
	if err := s.requireOwner(ctx, actorID, serverID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM server_members WHERE id = $1 AND server_id = $2`, memberID, serverID)
	if err != nil {
		return apperr.DataAccess("remove member", fmt.Errorf("failed to remove member: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	s.audit(ctx, audit.EventTypeTeamMemberRemove, actorID, serverID, audit.ResourceTypeMember, memberID, nil)
	return nil
}

// LeaveServer removes the caller's own membership
func (s *Service) LeaveServer(ctx context.Context, userID, serverID string) error {
	if userID == "" {
		return apperr.ErrUnauthorized
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM server_members WHERE server_id = $1 AND user_id = $2`, serverID, userID)
	if err != nil {
		return apperr.DataAccess("leave server", fmt.Errorf("failed to leave server: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	s.audit(ctx, audit.EventTypeTeamMemberLeave, userID, serverID, audit.ResourceTypeMember, userID, nil)
	return nil
}

func memberSnapshot(m *Member) map[string]interface{} {
	overrides := make(map[string]interface{}, len(m.SpecificPermissions))
	for c, v := range m.SpecificPermissions {
		overrides[string(c)] = v
	}
	return map[string]interface{}{
		"role":                 string(m.Role),
		"job_id":               m.JobID,
		"specific_permissions": overrides,
	}
}

func scanMember(row interface{ Scan(...interface{}) error }) (*Member, error) {
	var (
		member    Member
		jobID     sql.NullString
		overrides []byte
	)
	if err := row.Scan(
		&member.ID,
		&member.ServerID,
		&member.UserID,
		&member.Role,
		&jobID,
		&overrides,
		&member.JoinedAt,
	); err != nil {
		return nil, err
	}
	member.JobID = jobID.String
	parsed, err := permissions.ParseOverrides(overrides)
	if err != nil {
		return nil, err
	}
	member.SpecificPermissions = parsed
	return &member, nil
}

func scanInvite(row interface{ Scan(...interface{}) error }) (*Invite, error) {
	var (
		invite    Invite
		jobID     sql.NullString
		expiresAt sql.NullTime
	)
	if err := row.Scan(
		&invite.ID,
		&invite.ServerID,
		&invite.Code,
		&invite.Role,
		&jobID,
		&invite.MaxUses,
		&invite.Uses,
		&expiresAt,
		&invite.CreatedBy,
		&invite.CreatedAt,
	); err != nil {
		return nil, err
	}
	invite.JobID = jobID.String
	if expiresAt.Valid {
		invite.ExpiresAt = &expiresAt.Time
	}
	return &invite, nil
}

// nullable maps an empty id to SQL NULL
func nullable(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}
