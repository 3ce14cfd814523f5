// Package testdb provides an in-memory SQLite database carrying the same
// tables as the PostgreSQL migrations, for behavioural tests of the stores.
//
// Queries exercised against it must stay portable: $N placeholders in
// ascending order of first use, times passed from Go, no FOR UPDATE and no
// jsonb operators.
package testdb

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE servers (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	cover_image_url TEXT NOT NULL DEFAULT '',
	discord_invite_url TEXT NOT NULL DEFAULT '',
	role_permissions TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE jobs (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	contract_type TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	is_open BOOLEAN NOT NULL DEFAULT 1,
	requires_whitelist BOOLEAN NOT NULL DEFAULT 0,
	discord_webhook_url TEXT NOT NULL DEFAULT '',
	form_schema TEXT NOT NULL DEFAULT '[]',
	schema_version INTEGER NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE server_members (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('admin', 'manager', 'viewer')),
	job_id TEXT REFERENCES jobs(id),
	specific_permissions TEXT NOT NULL DEFAULT '{}',
	joined_at TIMESTAMP NOT NULL,
	UNIQUE (server_id, user_id)
);

CREATE TABLE server_invites (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	code TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL CHECK (role IN ('admin', 'manager', 'viewer')),
	job_id TEXT REFERENCES jobs(id) ON DELETE CASCADE,
	max_uses INTEGER NOT NULL DEFAULT 1,
	uses INTEGER NOT NULL DEFAULT 0,
	expires_at TIMESTAMP,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE applications (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	candidate_id TEXT NOT NULL,
	answers TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	schema_snapshot TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'interview', 'accepted', 'rejected')),
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE subscriptions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	server_id TEXT REFERENCES servers(id) ON DELETE SET NULL,
	status TEXT NOT NULL,
	price_id TEXT NOT NULL DEFAULT '',
	current_period_start TIMESTAMP,
	current_period_end TIMESTAMP,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX subscriptions_one_per_server ON subscriptions(server_id) WHERE server_id IS NOT NULL;

CREATE TABLE licenses (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL UNIQUE,
	plan TEXT NOT NULL CHECK (plan IN ('free', 'standard', 'premium')),
	max_jobs INTEGER NOT NULL CHECK (max_jobs >= 1),
	expires_at TIMESTAMP,
	server_id TEXT REFERENCES servers(id) ON DELETE SET NULL,
	claimed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE platform_admins (
	user_id TEXT PRIMARY KEY,
	granted_by TEXT NOT NULL,
	granted_at TIMESTAMP NOT NULL,
	note TEXT NOT NULL DEFAULT ''
);

CREATE TABLE audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	status TEXT NOT NULL,
	user_id TEXT,
	server_id TEXT,
	resource_type TEXT,
	resource_id TEXT,
	request_id TEXT,
	message TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	changes TEXT
);
`

// New returns a private in-memory database with the schema applied. The
// pool is limited to one connection so transactions serialize.
func New(t testing.TB) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to apply test schema: %v", err)
	}
	return db
}

// Now is the clock value fixtures use; UTC so SQLite text comparisons order
// correctly.
func Now() time.Time {
	return time.Now().UTC()
}

// InsertServer adds a server owned by ownerID and returns its id.
// rolePermissions is the raw JSON column value.
func InsertServer(t testing.TB, db *sql.DB, ownerID, slug, rolePermissions string) string {
	t.Helper()
	if rolePermissions == "" {
		rolePermissions = "{}"
	}
	id := uuid.NewString()
	now := Now()
	_, err := db.Exec(`INSERT INTO servers (id, owner_id, name, slug, role_permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, ownerID, "Server "+slug, slug, rolePermissions, now, now)
	if err != nil {
		t.Fatalf("failed to insert server: %v", err)
	}
	return id
}

// InsertJob adds an open job without a form schema and returns its id
func InsertJob(t testing.TB, db *sql.DB, serverID, title string) string {
	t.Helper()
	id := uuid.NewString()
	now := Now()
	_, err := db.Exec(`INSERT INTO jobs (id, server_id, title, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, id, serverID, title, "fixture", now, now)
	if err != nil {
		t.Fatalf("failed to insert job: %v", err)
	}
	return id
}

// InsertMember adds a member row. jobID may be empty; specific is the raw
// JSON column value.
func InsertMember(t testing.TB, db *sql.DB, serverID, userID, role, jobID, specific string) string {
	t.Helper()
	if specific == "" {
		specific = "{}"
	}
	var job interface{}
	if jobID != "" {
		job = jobID
	}
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO server_members (id, server_id, user_id, role, job_id, specific_permissions, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, serverID, userID, role, job, specific, Now())
	if err != nil {
		t.Fatalf("failed to insert member: %v", err)
	}
	return id
}

// InsertSubscription adds a subscription row. serverID may be empty.
func InsertSubscription(t testing.TB, db *sql.DB, id, userID, serverID, status, priceID string) {
	t.Helper()
	var server interface{}
	if serverID != "" {
		server = serverID
	}
	_, err := db.Exec(`INSERT INTO subscriptions (id, user_id, server_id, status, price_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, id, userID, server, status, priceID, Now())
	if err != nil {
		t.Fatalf("failed to insert subscription: %v", err)
	}
}

// License describes a license fixture. Zero values mean unbound, unclaimed
// and never expiring.
type License struct {
	Key       string
	Plan      string
	MaxJobs   int
	ExpiresAt *time.Time
	ServerID  string
	CreatedAt time.Time
}

// InsertLicense adds a license row and returns its id. A bound license is
// marked claimed at its creation time.
func InsertLicense(t testing.TB, db *sql.DB, lic License) string {
	t.Helper()
	if lic.Key == "" {
		lic.Key = uuid.NewString()
	}
	if lic.CreatedAt.IsZero() {
		lic.CreatedAt = Now()
	}
	var server, claimed interface{}
	if lic.ServerID != "" {
		server = lic.ServerID
		claimed = lic.CreatedAt
	}
	var expires interface{}
	if lic.ExpiresAt != nil {
		expires = lic.ExpiresAt.UTC()
	}
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO licenses (id, key, plan, max_jobs, expires_at, server_id, claimed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, lic.Key, lic.Plan, lic.MaxJobs, expires, server, claimed, lic.CreatedAt.UTC())
	if err != nil {
		t.Fatalf("failed to insert license: %v", err)
	}
	return id
}
