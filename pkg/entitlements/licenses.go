package entitlements

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

const (
	licenseAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	licenseGroups     = 4
	licenseGroupSize  = 4
	maxLicensesPerRun = 100
)

const licenseColumns = `id, key, plan, max_jobs, expires_at, server_id, claimed_at, created_at`

// LicenseStore mints and claims license keys. A key is claimable once; a
// detached license keeps claimed_at and stays spent.
type LicenseStore struct {
	db          *sql.DB
	checker     permissions.Checker
	publisher   Publisher
	auditLogger audit.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewLicenseStore creates a license store. checker may be nil for operator
// tooling that never claims; publisher, auditLogger and metrics may be nil.
func NewLicenseStore(db *sql.DB, checker permissions.Checker, publisher Publisher, auditLogger audit.Logger, metrics *observability.Metrics) *LicenseStore {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &LicenseStore{
		db:          db,
		checker:     checker,
		publisher:   publisher,
		auditLogger: auditLogger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Claim binds an unclaimed, unexpired license to a server
func (s *LicenseStore) Claim(ctx context.Context, actorID, serverID, key string) (lic *License, err error) {
	if s.checker == nil {
		return nil, apperr.ErrPermissionDenied
	}
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanManageSubscription); err != nil {
		return nil, err
	}
	defer func() { s.metrics.ObserveClaim("license", err) }()

	key = NormalizeLicenseKey(key)
	if key == "" {
		return nil, apperr.Invalid("key", "is required")
	}

	now := s.now().UTC()
	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE licenses SET server_id = $1, claimed_at = $2
			WHERE key = $3 AND server_id IS NULL AND claimed_at IS NULL
			  AND (expires_at IS NULL OR expires_at > $2)
			RETURNING `+licenseColumns,
			serverID, now, key,
		)
		var scanErr error
		lic, scanErr = scanLicense(row, false)
		if scanErr == sql.ErrNoRows {
			return diagnoseClaim(ctx, tx, key, now)
		}
		if scanErr != nil {
			return fmt.Errorf("failed to claim license: %w", scanErr)
		}
		return s.publisher.ServerChanged(ctx, tx, serverID)
	})
	if err != nil {
		return nil, apperr.DataAccess("claim license", err)
	}

	changes := &audit.ChangeDetails{After: map[string]interface{}{
		"server_id": serverID,
		"plan":      string(lic.Plan),
		"max_jobs":  lic.MaxJobs,
	}}
	if err := s.auditLogger.LogDataMutation(ctx, audit.EventTypeBillingLicenseClaim, actorID, serverID,
		audit.ResourceTypeLicense, lic.ID, changes, "license claimed"); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
	return lic, nil
}

func diagnoseClaim(ctx context.Context, tx *sql.Tx, key string, now time.Time) error {
	var (
		serverID  sql.NullString
		claimedAt sql.NullTime
		expiresAt sql.NullTime
	)
	err := tx.QueryRowContext(ctx,
		`SELECT server_id, claimed_at, expires_at FROM licenses WHERE key = $1`, key,
	).Scan(&serverID, &claimedAt, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		return apperr.Conflict("license", "invalid key")
	case err != nil:
		return fmt.Errorf("failed to load license: %w", err)
	case serverID.Valid || claimedAt.Valid:
		return apperr.Conflict("license", "already claimed")
	case expiresAt.Valid && !now.Before(expiresAt.Time):
		return apperr.Conflict("license", "expired")
	default:
		return apperr.Conflict("license", "not claimable")
	}
}

// Issue mints licenses. Callers gate this on platform admin rights.
func (s *LicenseStore) Issue(ctx context.Context, req IssueLicenseRequest) ([]*License, error) {
	if !req.Plan.Valid() {
		return nil, apperr.Invalid("plan", "must be free, standard or premium")
	}
	if req.MaxJobs == 0 {
		req.MaxJobs = QuotaFor(req.Plan)
	}
	if req.MaxJobs < 1 {
		return nil, apperr.Invalid("max_jobs", "must be at least 1")
	}
	if req.ValidDays < 0 {
		return nil, apperr.Invalid("valid_days", "must not be negative")
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > maxLicensesPerRun {
		return nil, apperr.Invalid("count", fmt.Sprintf("must be between 1 and %d", maxLicensesPerRun))
	}

	now := s.now().UTC()
	var expiresAt *time.Time
	if req.ValidDays > 0 {
		t := now.AddDate(0, 0, req.ValidDays)
		expiresAt = &t
	}

	issued := make([]*License, 0, req.Count)
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for i := 0; i < req.Count; i++ {
			lic, err := insertLicense(ctx, tx, req.Plan, req.MaxJobs, expiresAt, now)
			if err != nil {
				return err
			}
			issued = append(issued, lic)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.DataAccess("issue license", err)
	}
	return issued, nil
}

// insertLicense retries on the rare key collision
func insertLicense(ctx context.Context, tx *sql.Tx, plan Plan, maxJobs int, expiresAt *time.Time, now time.Time) (*License, error) {
	for attempt := 0; attempt < 3; attempt++ {
		key, err := GenerateLicenseKey()
		if err != nil {
			return nil, err
		}
		lic := &License{
			ID:        uuid.NewString(),
			Key:       key,
			Plan:      plan,
			MaxJobs:   maxJobs,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO licenses (id, key, plan, max_jobs, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, lic.ID, lic.Key, lic.Plan, lic.MaxJobs, lic.ExpiresAt, lic.CreatedAt)
		if err == nil {
			return lic, nil
		}
		if !postgres.IsUniqueViolation(err) || postgres.ConstraintName(err) == "licenses_pkey" {
			return nil, fmt.Errorf("failed to insert license: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to generate a unique license key")
}

// List returns every license with the name of the server it is bound to
func (s *LicenseStore) List(ctx context.Context) ([]*License, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.key, l.plan, l.max_jobs, l.expires_at, l.server_id, l.claimed_at, l.created_at,
		       COALESCE(s.name, '')
		FROM licenses l
		LEFT JOIN servers s ON s.id = l.server_id
		ORDER BY l.created_at DESC, l.id
	`)
	if err != nil {
		return nil, apperr.DataAccess("list licenses", fmt.Errorf("failed to list licenses: %w", err))
	}
	defer rows.Close()

	licenses := make([]*License, 0)
	for rows.Next() {
		lic, err := scanLicense(rows, true)
		if err != nil {
			return nil, apperr.DataAccess("list licenses", fmt.Errorf("failed to scan license: %w", err))
		}
		licenses = append(licenses, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("list licenses", err)
	}
	return licenses, nil
}

// ForServer returns the most recent license bound to serverID, if any.
// Requires can_manage_subscription.
func (s *LicenseStore) ForServer(ctx context.Context, actorID, serverID string) (*License, error) {
	if s.checker == nil {
		return nil, apperr.ErrPermissionDenied
	}
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanManageSubscription); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses
		WHERE server_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, serverID)
	lic, err := scanLicense(row, false)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.DataAccess("load server license", fmt.Errorf("failed to load license: %w", err))
	}
	return lic, nil
}

func scanLicense(row rowScanner, withServerName bool) (*License, error) {
	var (
		lic       License
		expiresAt sql.NullTime
		serverID  sql.NullString
		claimedAt sql.NullTime
	)
	dest := []interface{}{
		&lic.ID, &lic.Key, &lic.Plan, &lic.MaxJobs, &expiresAt, &serverID, &claimedAt, &lic.CreatedAt,
	}
	if withServerName {
		dest = append(dest, &lic.ServerName)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		lic.ExpiresAt = &expiresAt.Time
	}
	if claimedAt.Valid {
		lic.ClaimedAt = &claimedAt.Time
	}
	lic.ServerID = serverID.String
	return &lic, nil
}

// GenerateLicenseKey returns a key of the form XXXX-XXXX-XXXX-XXXX drawn
// uniformly from A-Z0-9
func GenerateLicenseKey() (string, error) {
	var b strings.Builder
	b.Grow(licenseGroups*licenseGroupSize + licenseGroups - 1)

	buf := make([]byte, 1)
	// 252 is the largest multiple of 36 below 256
	const limit = 252
	for n := 0; n < licenseGroups*licenseGroupSize; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate license key: %w", err)
		}
		if buf[0] >= limit {
			continue
		}
		if n > 0 && n%licenseGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(licenseAlphabet[int(buf[0])%len(licenseAlphabet)])
		n++
	}
	return b.String(), nil
}

// NormalizeLicenseKey upper-cases and trims a user-supplied key
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
