package servers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

const jobColumns = `id, server_id, title, description, contract_type, icon, is_open, requires_whitelist,
	discord_webhook_url, form_schema, schema_version, created_by, created_at, updated_at`

// CanCreateJob reports whether the server's quota admits one more job.
// Resolution failures fall back to the free plan.
func (s *Service) CanCreateJob(ctx context.Context, serverID string) (*QuotaStatus, error) {
	current, err := countJobs(ctx, s.db, serverID)
	if err != nil {
		return nil, apperr.DataAccess("count jobs", err)
	}
	ent := s.entitlements.ResolveEntitlement(ctx, serverID)
	return &QuotaStatus{
		Allowed: ent.Allows(current),
		Current: current,
		Limit:   ent.Limit(),
		Plan:    ent.Plan,
	}, nil
}

// Quota is CanCreateJob for members of the server. Requires can_view_stats.
func (s *Service) Quota(ctx context.Context, actorID, serverID string) (*QuotaStatus, error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanViewStats); err != nil {
		return nil, err
	}
	return s.CanCreateJob(ctx, serverID)
}

func countJobs(ctx context.Context, q postgres.Querier, serverID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE server_id = $1`, serverID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

func validateWebhook(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return apperr.Invalid("discord_webhook_url", "must be an https URL")
	}
	return nil
}

func validateTitle(title string) error {
	if len(strings.TrimSpace(title)) < 2 {
		return apperr.Invalid("title", "must be at least 2 characters")
	}
	return nil
}

// ValidateFormSchema checks field ids, types, labels and select options
func ValidateFormSchema(fields []FormField) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		switch {
		case strings.TrimSpace(f.ID) == "":
			return apperr.Invalid(fmt.Sprintf("form_schema[%d].id", i), "is required")
		case seen[f.ID]:
			return apperr.Invalid(fmt.Sprintf("form_schema[%d].id", i), "duplicate field id "+f.ID)
		case !f.Type.Valid():
			return apperr.Invalid(fmt.Sprintf("form_schema[%d].type", i), "unknown field type "+string(f.Type))
		case strings.TrimSpace(f.Label) == "":
			return apperr.Invalid(fmt.Sprintf("form_schema[%d].label", i), "is required")
		case f.Type == FieldSelect && len(f.Options) == 0:
			return apperr.Invalid(fmt.Sprintf("form_schema[%d].options", i), "select fields need at least one option")
		}
		seen[f.ID] = true
	}
	return nil
}

// CreateJob creates a job within the server's quota. The server row is
// locked for the count and insert, so concurrent creations cannot overshoot.
func (s *Service) CreateJob(ctx context.Context, actorID, serverID string, req CreateJobRequest) (*Job, error) {
	ctx, span := observability.Tracer().Start(ctx, "servers.CreateJob")
	defer span.End()
	span.SetAttributes(attribute.String("server.id", serverID))

	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanCreateJobs); err != nil {
		return nil, err
	}
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}
	if err := validateWebhook(req.DiscordWebhookURL); err != nil {
		return nil, err
	}
	if req.FormSchema == nil {
		req.FormSchema = []FormField{}
	}
	if err := ValidateFormSchema(req.FormSchema); err != nil {
		return nil, err
	}
	schema, err := json.Marshal(req.FormSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal form schema: %w", err)
	}

	var job *Job
	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM servers WHERE id = $1`+s.serverLock, serverID).Scan(&locked)
		if err == sql.ErrNoRows {
			return apperr.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock server: %w", err)
		}

		current, err := countJobs(ctx, tx, serverID)
		if err != nil {
			return err
		}
		ent, err := s.entitlements.ResolveWith(ctx, tx, serverID)
		if err != nil {
			return err
		}
		if !ent.Allows(current) {
			return &apperr.QuotaExceededError{Resource: "jobs", Current: int64(current), Limit: ent.Limit()}
		}

		now := s.now().UTC()
		row := tx.QueryRowContext(ctx, `
			INSERT INTO jobs (id, server_id, title, description, contract_type, icon, discord_webhook_url,
				form_schema, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			RETURNING `+jobColumns,
			uuid.NewString(), serverID, strings.TrimSpace(req.Title), req.Description, req.ContractType,
			req.Icon, req.DiscordWebhookURL, string(schema), actorID, now,
		)
		var scanErr error
		if job, scanErr = scanJob(row); scanErr != nil {
			return fmt.Errorf("failed to create job: %w", scanErr)
		}
		return nil
	})
	if apperr.IsQuotaExceeded(err) && s.metrics != nil {
		s.metrics.QuotaDenialsTotal.WithLabelValues("jobs").Inc()
	}
	if err != nil {
		return nil, apperr.DataAccess("create job", err)
	}
	return job, nil
}

// GetJob returns a job. Public.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.loadJob(ctx, s.db, jobID)
}

func (s *Service) loadJob(ctx context.Context, q postgres.Querier, jobID string) (*Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperr.ErrNotFound
	}
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("load job", fmt.Errorf("failed to load job: %w", err))
	}
	return job, nil
}

// jobOf loads a job addressed under serverID; a job of another server is
// not found
func (s *Service) jobOf(ctx context.Context, serverID, jobID string) (*Job, error) {
	job, err := s.loadJob(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	if job.ServerID != serverID {
		return nil, apperr.ErrNotFound
	}
	return job, nil
}

// ListJobs lists a server's jobs. Public; openOnly hides closed jobs.
func (s *Service) ListJobs(ctx context.Context, serverID string, openOnly bool) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE server_id = $1`
	if openOnly {
		query += ` AND is_open = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, apperr.DataAccess("list jobs", fmt.Errorf("failed to list jobs: %w", err))
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.DataAccess("list jobs", fmt.Errorf("failed to scan job: %w", err))
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess("list jobs", err)
	}
	return jobs, nil
}

// UpdateJob edits a job's settings. Requires can_edit_jobs for that job.
func (s *Service) UpdateJob(ctx context.Context, actorID, serverID, jobID string, req UpdateJobRequest) (*Job, error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanEditJobs, permissions.WithJob(jobID)); err != nil {
		return nil, err
	}
	job, err := s.jobOf(ctx, serverID, jobID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		job.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		job.Description = *req.Description
	}
	if req.ContractType != nil {
		job.ContractType = *req.ContractType
	}
	if req.Icon != nil {
		job.Icon = *req.Icon
	}
	if req.IsOpen != nil {
		job.IsOpen = *req.IsOpen
	}
	if req.RequiresWhitelist != nil {
		job.RequiresWhitelist = *req.RequiresWhitelist
	}
	if req.DiscordWebhookURL != nil {
		job.DiscordWebhookURL = *req.DiscordWebhookURL
	}
	if err := validateTitle(job.Title); err != nil {
		return nil, err
	}
	if err := validateWebhook(job.DiscordWebhookURL); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET title = $1, description = $2, contract_type = $3, icon = $4, is_open = $5,
			requires_whitelist = $6, discord_webhook_url = $7, updated_at = $8
		WHERE id = $9 AND server_id = $10
		RETURNING `+jobColumns,
		job.Title, job.Description, job.ContractType, job.Icon, job.IsOpen,
		job.RequiresWhitelist, job.DiscordWebhookURL, s.now().UTC(), jobID, serverID,
	)
	updated, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("update job", fmt.Errorf("failed to update job: %w", err))
	}
	return updated, nil
}

// UpdateFormSchema replaces a job's application form and bumps its schema
// version. Requires can_edit_jobs for that job.
func (s *Service) UpdateFormSchema(ctx context.Context, actorID, serverID, jobID string, fields []FormField) (*Job, error) {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanEditJobs, permissions.WithJob(jobID)); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = []FormField{}
	}
	if err := ValidateFormSchema(fields); err != nil {
		return nil, err
	}
	schema, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal form schema: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET form_schema = $1, schema_version = schema_version + 1, updated_at = $2
		WHERE id = $3 AND server_id = $4
		RETURNING `+jobColumns,
		string(schema), s.now().UTC(), jobID, serverID,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("update form schema", fmt.Errorf("failed to update form schema: %w", err))
	}
	return job, nil
}

// DeleteJob deletes a job and its applications. Requires can_delete_jobs
// for that job. A job that members are restricted to cannot be deleted:
// their restriction would otherwise silently widen.
func (s *Service) DeleteJob(ctx context.Context, actorID, serverID, jobID string) error {
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanDeleteJobs, permissions.WithJob(jobID)); err != nil {
		return err
	}

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var restricted int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM server_members WHERE job_id = $1`, jobID).Scan(&restricted); err != nil {
			return fmt.Errorf("failed to count restricted members: %w", err)
		}
		if restricted > 0 {
			return apperr.Conflict("job", fmt.Sprintf("%d member(s) are restricted to this job", restricted))
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND server_id = $2`, jobID, serverID)
		if err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return apperr.DataAccess("delete job", err)
	}
	return nil
}

func scanJob(row interface{ Scan(...interface{}) error }) (*Job, error) {
	var (
		job    Job
		schema []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.ServerID,
		&job.Title,
		&job.Description,
		&job.ContractType,
		&job.Icon,
		&job.IsOpen,
		&job.RequiresWhitelist,
		&job.DiscordWebhookURL,
		&schema,
		&job.SchemaVersion,
		&job.CreatedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.FormSchema = []FormField{}
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &job.FormSchema); err != nil {
			return nil, fmt.Errorf("failed to decode form schema: %w", err)
		}
	}
	return &job, nil
}
