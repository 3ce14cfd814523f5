package servers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/async"
	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

const notifyTimeout = 10 * time.Second

const applicationColumns = `id, job_id, server_id, candidate_id, answers, schema_version, schema_snapshot,
	status, created_at, updated_at`

// ValidateAnswers checks answers against a form schema. Unknown field ids
// are rejected.
func ValidateAnswers(fields []FormField, answers map[string]json.RawMessage) error {
	byID := make(map[string]FormField, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	for id := range answers {
		if _, ok := byID[id]; !ok {
			return apperr.Invalid("answers."+id, "unknown field")
		}
	}

	for _, f := range fields {
		field := "answers." + f.ID
		raw, present := answers[f.ID]
		if !present || string(raw) == "null" {
			if f.Required {
				return apperr.Invalid(field, "is required")
			}
			continue
		}

		switch f.Type {
		case FieldText, FieldTextarea:
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return apperr.Invalid(field, "must be text")
			}
			if f.Required && strings.TrimSpace(v) == "" {
				return apperr.Invalid(field, "is required")
			}
		case FieldNumber:
			var v json.Number
			if err := json.Unmarshal(raw, &v); err != nil {
				return apperr.Invalid(field, "must be a number")
			}
			if _, err := v.Float64(); err != nil {
				return apperr.Invalid(field, "must be a number")
			}
		case FieldSelect:
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return apperr.Invalid(field, "must be one of the options")
			}
			if v == "" && !f.Required {
				continue
			}
			if !contains(f.Options, v) {
				return apperr.Invalid(field, "must be one of the options")
			}
		case FieldCheckbox:
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return apperr.Invalid(field, "must be true or false")
			}
			if f.Required && !v {
				return apperr.Invalid(field, "must be checked")
			}
		}
	}
	return nil
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

// SubmitApplication stores a candidate's answers to an open job, together
// with the schema they answered. The job's Discord webhook, if any, is
// notified in the background.
func (s *Service) SubmitApplication(ctx context.Context, candidateID, jobID string, answers map[string]json.RawMessage) (*Application, error) {
	if candidateID == "" {
		return nil, apperr.ErrUnauthorized
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOpen {
		return nil, apperr.Conflict("job", "not accepting applications")
	}
	if answers == nil {
		answers = map[string]json.RawMessage{}
	}
	if err := ValidateAnswers(job.FormSchema, answers); err != nil {
		return nil, err
	}

	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answers: %w", err)
	}
	snapshot, err := json.Marshal(job.FormSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema snapshot: %w", err)
	}

	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (id, job_id, server_id, candidate_id, answers, schema_version, schema_snapshot,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+applicationColumns,
		uuid.NewString(), job.ID, job.ServerID, candidateID, string(answersJSON), job.SchemaVersion,
		string(snapshot), StatusPending, now,
	)
	app, err := scanApplication(row)
	if err != nil {
		return nil, apperr.DataAccess("submit application", fmt.Errorf("failed to submit application: %w", err))
	}

	if job.DiscordWebhookURL != "" {
		async.SafeGoDetached(ctx, notifyTimeout, "application notification", func(ctx context.Context) error {
			server, err := s.GetServer(ctx, job.ServerID)
			if err != nil {
				return err
			}
			return s.notifier.ApplicationSubmitted(ctx, server, job, app)
		})
	}
	return app, nil
}

// ListApplications lists a server's applications, optionally for one job.
// Requires can_view_applications, checked against the job when given. A
// member restricted to a job only ever sees that job's applications.
func (s *Service) ListApplications(ctx context.Context, actorID, serverID, jobID string) ([]*Application, error) {
	var opts []permissions.Option
	if jobID != "" {
		opts = append(opts, permissions.WithJob(jobID))
	}
	if err := s.checker.Require(ctx, actorID, serverID, permissions.CanViewApplications, opts...); err != nil {
		return nil, err
	}

	if jobID == "" {
		restriction, err := s.jobRestriction(ctx, actorID, serverID)
		if err != nil {
			return nil, err
		}
		jobID = restriction
	}

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE server_id = $1`
	args := []interface{}{serverID}
	if jobID != "" {
		query += ` AND job_id = $2`
		args = append(args, jobID)
	}
	query += ` ORDER BY created_at DESC`

	return s.queryApplications(ctx, "list applications", query, args...)
}

// jobRestriction returns the job the user is restricted to on the server,
// or "" for owners and unrestricted members
func (s *Service) jobRestriction(ctx context.Context, userID, serverID string) (string, error) {
	var jobID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM server_members WHERE server_id = $1 AND user_id = $2`, serverID, userID,
	).Scan(&jobID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperr.DataAccess("load job restriction", fmt.Errorf("failed to load job restriction: %w", err))
	}
	return jobID.String, nil
}

// ListMyApplications lists the candidate's own applications
func (s *Service) ListMyApplications(ctx context.Context, candidateID string) ([]*Application, error) {
	if candidateID == "" {
		return nil, apperr.ErrUnauthorized
	}
	return s.queryApplications(ctx, "list my applications",
		`SELECT `+applicationColumns+` FROM applications WHERE candidate_id = $1 ORDER BY created_at DESC`, candidateID)
}

func (s *Service) queryApplications(ctx context.Context, op, query string, args ...interface{}) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.DataAccess(op, fmt.Errorf("failed to list applications: %w", err))
	}
	defer rows.Close()

	apps := make([]*Application, 0)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, apperr.DataAccess(op, fmt.Errorf("failed to scan application: %w", err))
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DataAccess(op, err)
	}
	return apps, nil
}

func (s *Service) loadApplication(ctx context.Context, q postgres.Querier, appID string) (*Application, error) {
	if _, err := uuid.Parse(appID); err != nil {
		return nil, apperr.ErrNotFound
	}
	row := q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, appID)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("load application", fmt.Errorf("failed to load application: %w", err))
	}
	return app, nil
}

// GetApplication returns one application. The candidate may always read
// their own; reviewers need can_view_applications for its job.
func (s *Service) GetApplication(ctx context.Context, actorID, appID string) (*Application, error) {
	if actorID == "" {
		return nil, apperr.ErrUnauthorized
	}
	app, err := s.loadApplication(ctx, s.db, appID)
	if err != nil {
		return nil, err
	}
	if app.CandidateID == actorID {
		return app, nil
	}
	if err := s.checker.Require(ctx, actorID, app.ServerID, permissions.CanViewApplications, permissions.WithJob(app.JobID)); err != nil {
		return nil, err
	}
	return app, nil
}

// UpdateApplicationStatus moves an application through review. Requires
// can_manage_applications for its job.
func (s *Service) UpdateApplicationStatus(ctx context.Context, actorID, appID string, status ApplicationStatus) (*Application, error) {
	if !status.Valid() {
		return nil, apperr.Invalid("status", "must be pending, interview, accepted or rejected")
	}
	app, err := s.loadApplication(ctx, s.db, appID)
	if err != nil {
		return nil, err
	}
	if err := s.checker.Require(ctx, actorID, app.ServerID, permissions.CanManageApplications, permissions.WithJob(app.JobID)); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3
		RETURNING `+applicationColumns,
		status, s.now().UTC(), appID,
	)
	updated, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.DataAccess("update application", fmt.Errorf("failed to update application: %w", err))
	}

	s.audit(ctx, audit.EventTypeApplicationStatus, actorID, app.ServerID, audit.ResourceTypeApplication, appID,
		&audit.ChangeDetails{
			Before: map[string]interface{}{"status": string(app.Status)},
			After:  map[string]interface{}{"status": string(updated.Status)},
		})
	return updated, nil
}

// DeleteApplication deletes an application. Requires
// can_delete_applications for its job.
func (s *Service) DeleteApplication(ctx context.Context, actorID, appID string) error {
	app, err := s.loadApplication(ctx, s.db, appID)
	if err != nil {
		return err
	}
	if err := s.checker.Require(ctx, actorID, app.ServerID, permissions.CanDeleteApplications, permissions.WithJob(app.JobID)); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, appID)
	if err != nil {
		return apperr.DataAccess("delete application", fmt.Errorf("failed to delete application: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"application_id": appID,
		"server_id":      app.ServerID,
	}).Info("application deleted")
	return nil
}

func scanApplication(row interface{ Scan(...interface{}) error }) (*Application, error) {
	var (
		app      Application
		answers  []byte
		snapshot []byte
	)
	if err := row.Scan(
		&app.ID,
		&app.JobID,
		&app.ServerID,
		&app.CandidateID,
		&answers,
		&app.SchemaVersion,
		&snapshot,
		&app.Status,
		&app.CreatedAt,
		&app.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &app.Answers); err != nil {
		return nil, fmt.Errorf("failed to decode answers: %w", err)
	}
	app.SchemaSnapshot = []FormField{}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &app.SchemaSnapshot); err != nil {
			return nil, fmt.Errorf("failed to decode schema snapshot: %w", err)
		}
	}
	return &app, nil
}
