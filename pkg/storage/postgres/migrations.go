package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in version order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create servers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS servers (
					id UUID PRIMARY KEY,
					owner_id TEXT NOT NULL,
					name TEXT NOT NULL,
					slug TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					cover_image_url TEXT NOT NULL DEFAULT '',
					discord_invite_url TEXT NOT NULL DEFAULT '',
					role_permissions JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT servers_slug_key UNIQUE (slug)
				);

				CREATE INDEX IF NOT EXISTS idx_servers_owner_id ON servers(owner_id);
			`,
		},
		{
			Version:     2,
			Description: "Create jobs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS jobs (
					id UUID PRIMARY KEY,
					server_id UUID NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					contract_type TEXT NOT NULL DEFAULT '',
					icon TEXT NOT NULL DEFAULT '',
					is_open BOOLEAN NOT NULL DEFAULT TRUE,
					requires_whitelist BOOLEAN NOT NULL DEFAULT FALSE,
					discord_webhook_url TEXT NOT NULL DEFAULT '',
					form_schema JSONB NOT NULL DEFAULT '[]',
					schema_version INT NOT NULL DEFAULT 1,
					created_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_jobs_server_id ON jobs(server_id);
			`,
		},
		{
			Version:     3,
			Description: "Create server_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS server_members (
					id UUID PRIMARY KEY,
					server_id UUID NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('admin', 'manager', 'viewer')),
					-- NO ACTION: a job with restricted members cannot be deleted on its own
					job_id UUID REFERENCES jobs(id),
					specific_permissions JSONB NOT NULL DEFAULT '{}',
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT server_members_server_user_key UNIQUE (server_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_server_members_user_id ON server_members(user_id);
				CREATE INDEX IF NOT EXISTS idx_server_members_job_id ON server_members(job_id);
			`,
		},
		{
			Version:     4,
			Description: "Create server_invites table",
			SQL: `
				CREATE TABLE IF NOT EXISTS server_invites (
					id UUID PRIMARY KEY,
					server_id UUID NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
					code TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('admin', 'manager', 'viewer')),
					job_id UUID REFERENCES jobs(id) ON DELETE CASCADE,
					max_uses INT NOT NULL DEFAULT 1 CHECK (max_uses >= 1),
					uses INT NOT NULL DEFAULT 0,
					expires_at TIMESTAMPTZ,
					created_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT server_invites_code_key UNIQUE (code)
				);

				CREATE INDEX IF NOT EXISTS idx_server_invites_server_id ON server_invites(server_id);
			`,
		},
		{
			Version:     5,
			Description: "Create applications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS applications (
					id UUID PRIMARY KEY,
					job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
					server_id UUID NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
					candidate_id TEXT NOT NULL,
					answers JSONB NOT NULL,
					schema_version INT NOT NULL,
					schema_snapshot JSONB NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending'
						CHECK (status IN ('pending', 'interview', 'accepted', 'rejected')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_applications_job_id ON applications(job_id);
				CREATE INDEX IF NOT EXISTS idx_applications_server_id ON applications(server_id);
				CREATE INDEX IF NOT EXISTS idx_applications_candidate_id ON applications(candidate_id);
			`,
		},
		{
			Version:     6,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					server_id UUID REFERENCES servers(id) ON DELETE SET NULL,
					status TEXT NOT NULL,
					price_id TEXT NOT NULL DEFAULT '',
					current_period_start TIMESTAMPTZ,
					current_period_end TIMESTAMPTZ,
					cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);
				-- at most one bound subscription per server
				CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_one_per_server
					ON subscriptions(server_id) WHERE server_id IS NOT NULL;
			`,
		},
		{
			Version:     7,
			Description: "Create licenses table",
			SQL: `
				CREATE TABLE IF NOT EXISTS licenses (
					id UUID PRIMARY KEY,
					key TEXT NOT NULL,
					plan TEXT NOT NULL CHECK (plan IN ('free', 'standard', 'premium')),
					max_jobs INT NOT NULL CHECK (max_jobs >= 1),
					expires_at TIMESTAMPTZ,
					server_id UUID REFERENCES servers(id) ON DELETE SET NULL,
					claimed_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT licenses_key_key UNIQUE (key)
				);

				CREATE INDEX IF NOT EXISTS idx_licenses_server_id ON licenses(server_id, created_at DESC);
			`,
		},
		{
			Version:     8,
			Description: "Create platform_admins table",
			SQL: `
				CREATE TABLE IF NOT EXISTS platform_admins (
					user_id TEXT PRIMARY KEY,
					granted_by TEXT NOT NULL,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					note TEXT NOT NULL DEFAULT ''
				);
			`,
		},
		{
			Version:     9,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					user_id TEXT,
					server_id TEXT,
					resource_type TEXT,
					resource_id TEXT,
					request_id TEXT,
					message TEXT NOT NULL DEFAULT '',
					metadata JSONB,
					changes JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events(occurred_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_server_id ON audit_events(server_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("running migration")

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
