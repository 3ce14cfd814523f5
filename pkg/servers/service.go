package servers

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

const serverColumns = `id, owner_id, name, slug, description, cover_image_url, discord_invite_url, created_at, updated_at`

// Service manages servers, their members, jobs and applications. Every
// mutation checks the permission resolver first and aborts before writing
// on denial.
type Service struct {
	db           *sql.DB
	checker      permissions.Checker
	entitlements *entitlements.Resolver
	publisher    entitlements.Publisher
	notifier     Notifier
	auditLogger  audit.Logger
	metrics      *observability.Metrics

	// serverLock is appended to the quota lock query. SQLite has no row
	// locks and serializes writers on its own.
	serverLock string
	now        func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithNotifier sets the application notifier
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublisher sets the entitlement change publisher
func WithPublisher(p entitlements.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithAuditLogger sets the audit logger
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) { s.auditLogger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a server service
func NewService(db *sql.DB, checker permissions.Checker, resolver *entitlements.Resolver, opts ...Option) *Service {
	s := &Service{
		db:           db,
		checker:      checker,
		entitlements: resolver,
		publisher:    entitlements.NopPublisher{},
		notifier:     NopNotifier{},
		auditLogger:  audit.NoOpLogger{},
		serverLock:   " FOR UPDATE",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateServer(name, slug string, links ...string) error {
	if len(strings.TrimSpace(name)) < 3 {
		return apperr.Invalid("name", "must be at least 3 characters")
	}
	if len(slug) < 3 || !slugPattern.MatchString(slug) {
		return apperr.Invalid("slug", "must be at least 3 characters of a-z, 0-9 and -")
	}
	for _, link := range links {
		if link == "" {
			continue
		}
		if u, err := url.Parse(link); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return apperr.Invalid("url", "must be an absolute http(s) URL")
		}
	}
	return nil
}

// CreateServer creates a server owned by ownerID
func (s *Service) CreateServer(ctx context.Context, ownerID string, req CreateServerRequest) (*Server, error) {
	if ownerID == "" {
		return nil, apperr.ErrUnauthorized
	}
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if err := validateServer(req.Name, req.Slug, req.CoverImageURL, req.DiscordInviteURL); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO servers (id, owner_id, name, slug, description, cover_image_url, discord_invite_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+serverColumns,
		uuid.NewString(), ownerID, strings.TrimSpace(req.Name), req.Slug, req.Description,
		req.CoverImageURL, req.DiscordInviteURL, now,
	)
	server, err := scanServer(row)
	if postgres.IsUniqueViolation(err) {
		return nil, apperr.Conflict("server", "slug taken")
	}
	if err != nil {
		return nil, apperr.DataAccess("create server", fmt.Errorf("failed to create server: %w", err))
	}

	s.audit(ctx, audit.EventTypeServerCreate, ownerID, server.ID, audit.ResourceTypeServer, server.ID,
		&audit.ChangeDetails{After: map[string]interface{}{"name": server.Name, "slug": server.Slug}})
	return server, nil
}

// GetServer retrieves a server by ID
func (s *Service) GetServer(ctx context.Context, id string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	server, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("get server", fmt.Errorf("failed to get server: %w", err))
	}
	return server, nil
}

// GetServerBySlug retrieves a server by slug
func (s *Service) GetServerBySlug(ctx context.Context, slug string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE slug = $1`, strings.ToLower(slug))
	server, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("get server", fmt.Errorf("failed to get server: %w", err))
	}
	return server, nil
}

// ListServersForUser lists servers the user owns or is a member of
func (s *Service) ListServersForUser(ctx context.Context, userID string) ([]*Server, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthorized
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+serverColumns+` FROM servers
		WHERE owner_id = $1
		   OR id IN (SELECT server_id FROM server_members WHERE user_id = $1)
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, apperr.DataAccess("list servers", fmt.Errorf("failed to list servers: %w", err))
	}
	defer rows.Close()

	servers := make([]*Server, 0)
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, apperr.DataAccess("list servers", fmt.Errorf("failed to scan server: %w", err))
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("list servers", err)
	}
	return servers, nil
}

// UpdateServer updates a server. Requires can_edit_server.
func (s *Service) UpdateServer(ctx context.Context, actorID, id string, req UpdateServerRequest) (*Server, error) {
	if err := s.checker.Require(ctx, actorID, id, permissions.CanEditServer); err != nil {
		return nil, err
	}

	current, err := s.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *current
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Slug != nil {
		next.Slug = strings.ToLower(strings.TrimSpace(*req.Slug))
	}
	if req.Description != nil {
		next.Description = *req.Description
	}
	if req.CoverImageURL != nil {
		next.CoverImageURL = *req.CoverImageURL
	}
	if req.DiscordInviteURL != nil {
		next.DiscordInviteURL = *req.DiscordInviteURL
	}
	if err := validateServer(next.Name, next.Slug, next.CoverImageURL, next.DiscordInviteURL); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE servers
		SET name = $1, slug = $2, description = $3, cover_image_url = $4, discord_invite_url = $5, updated_at = $6
		WHERE id = $7
		RETURNING `+serverColumns,
		next.Name, next.Slug, next.Description, next.CoverImageURL, next.DiscordInviteURL, s.now().UTC(), id,
	)
	server, err := scanServer(row)
	switch {
	case err == sql.ErrNoRows:
		return nil, apperr.ErrNotFound
	case postgres.IsUniqueViolation(err):
		return nil, apperr.Conflict("server", "slug taken")
	case err != nil:
		return nil, apperr.DataAccess("update server", fmt.Errorf("failed to update server: %w", err))
	}
	return server, nil
}

// DeleteServer deletes a server and everything scoped to it. Bound
// subscriptions and licenses are detached first so they never point at a
// deleted server. Requires can_delete_server.
func (s *Service) DeleteServer(ctx context.Context, actorID, id string) error {
	if err := s.checker.Require(ctx, actorID, id, permissions.CanDeleteServer); err != nil {
		return err
	}

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET server_id = NULL, updated_at = $1 WHERE server_id = $2`, s.now().UTC(), id); err != nil {
			return fmt.Errorf("failed to detach subscriptions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE licenses SET server_id = NULL WHERE server_id = $1`, id); err != nil {
			return fmt.Errorf("failed to detach licenses: %w", err)
		}
		// restricted members reference jobs without cascade
		if _, err := tx.ExecContext(ctx, `DELETE FROM server_members WHERE server_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete members: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM servers WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete server: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		return s.publisher.ServerChanged(ctx, tx, id)
	})
	if err != nil {
		return apperr.DataAccess("delete server", err)
	}

	s.audit(ctx, audit.EventTypeServerDelete, actorID, id, audit.ResourceTypeServer, id, nil)
	return nil
}

// ownerOf returns the owner of a server
func ownerOf(ctx context.Context, q postgres.Querier, serverID string) (string, error) {
	var ownerID string
	err := q.QueryRowContext(ctx, `SELECT owner_id FROM servers WHERE id = $1`, serverID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load server owner: %w", err)
	}
	return ownerID, nil
}

// requireOwner allows only the server owner, independently of roles
func (s *Service) requireOwner(ctx context.Context, actorID, serverID string) error {
	if actorID == "" {
		return apperr.ErrUnauthorized
	}
	ownerID, err := ownerOf(ctx, s.db, serverID)
	if err != nil {
		return apperr.DataAccess("load server owner", err)
	}
	if ownerID != actorID {
		return apperr.ErrPermissionDenied
	}
	return nil
}

func scanServer(row interface{ Scan(...interface{}) error }) (*Server, error) {
	var server Server
	err := row.Scan(
		&server.ID,
		&server.OwnerID,
		&server.Name,
		&server.Slug,
		&server.Description,
		&server.CoverImageURL,
		&server.DiscordInviteURL,
		&server.CreatedAt,
		&server.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *Service) audit(ctx context.Context, eventType audit.EventType, actorID, serverID string, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails) {
	if err := s.auditLogger.LogDataMutation(ctx, eventType, actorID, serverID, resourceType, resourceID, changes, string(eventType)); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
