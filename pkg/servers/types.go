package servers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/permissions"
)

// Server is a tenant recruitment workspace
type Server struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Description      string    `json:"description"`
	CoverImageURL    string    `json:"cover_image_url,omitempty"`
	DiscordInviteURL string    `json:"discord_invite_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Member is a non-owner principal of a server
type Member struct {
	ID                  string                `json:"id"`
	ServerID            string                `json:"server_id"`
	UserID              string                `json:"user_id"`
	Role                permissions.Role      `json:"role"`
	JobID               string                `json:"job_id,omitempty"`
	SpecificPermissions permissions.Overrides `json:"specific_permissions"`
	JoinedAt            time.Time             `json:"joined_at"`
}

// Invite is a redeemable membership code
type Invite struct {
	ID        string           `json:"id"`
	ServerID  string           `json:"server_id"`
	Code      string           `json:"code"`
	Role      permissions.Role `json:"role"`
	JobID     string           `json:"job_id,omitempty"`
	MaxUses   int              `json:"max_uses"`
	Uses      int              `json:"uses"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	CreatedBy string           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
}

// FieldType is the input type of a form field
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
)

// Valid reports whether t is a known field type
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldNumber, FieldSelect, FieldCheckbox:
		return true
	}
	return false
}

// FormField is one question of a job's application form
type FormField struct {
	ID          string    `json:"id"`
	Type        FieldType `json:"type"`
	Label       string    `json:"label"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []string  `json:"options,omitempty"`
}

// Job is an open position with its application form
type Job struct {
	ID                string      `json:"id"`
	ServerID          string      `json:"server_id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	ContractType      string      `json:"contract_type,omitempty"`
	Icon              string      `json:"icon,omitempty"`
	IsOpen            bool        `json:"is_open"`
	RequiresWhitelist bool        `json:"requires_whitelist"`
	DiscordWebhookURL string      `json:"discord_webhook_url,omitempty"`
	FormSchema        []FormField `json:"form_schema"`
	SchemaVersion     int         `json:"schema_version"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// ApplicationStatus is the review state of an application
type ApplicationStatus string

const (
	StatusPending   ApplicationStatus = "pending"
	StatusInterview ApplicationStatus = "interview"
	StatusAccepted  ApplicationStatus = "accepted"
	StatusRejected  ApplicationStatus = "rejected"
)

// Valid reports whether s is a known status
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInterview, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Application is a candidate's answers to a job form. The schema it was
// answered against is stored alongside.
type Application struct {
	ID             string                     `json:"id"`
	JobID          string                     `json:"job_id"`
	ServerID       string                     `json:"server_id"`
	CandidateID    string                     `json:"candidate_id"`
	Answers        map[string]json.RawMessage `json:"answers"`
	SchemaVersion  int                        `json:"schema_version"`
	SchemaSnapshot []FormField                `json:"schema_snapshot"`
	Status         ApplicationStatus          `json:"status"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// QuotaStatus is the job quota of a server at one instant
type QuotaStatus struct {
	Allowed bool              `json:"allowed"`
	Current int               `json:"current"`
	Limit   int64             `json:"limit"` // -1 when unlimited
	Plan    entitlements.Plan `json:"plan"`
}

// CreateServerRequest represents request to create a server
type CreateServerRequest struct {
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Description      string `json:"description,omitempty"`
	CoverImageURL    string `json:"cover_image_url,omitempty"`
	DiscordInviteURL string `json:"discord_invite_url,omitempty"`
}

// UpdateServerRequest represents request to update a server. Nil fields are
// left unchanged.
type UpdateServerRequest struct {
	Name             *string `json:"name,omitempty"`
	Slug             *string `json:"slug,omitempty"`
	Description      *string `json:"description,omitempty"`
	CoverImageURL    *string `json:"cover_image_url,omitempty"`
	DiscordInviteURL *string `json:"discord_invite_url,omitempty"`
}

// CreateInviteRequest represents request to create an invite
type CreateInviteRequest struct {
	Role      permissions.Role `json:"role"`
	JobID     string           `json:"job_id,omitempty"`
	MaxUses   int              `json:"max_uses,omitempty"`
	ExpiresIn time.Duration    `json:"-"`
}

// UpdateMemberRequest represents request to update a member. ClearJob
// removes the job restriction; SpecificPermissions, when set, replaces the
// whole override map.
type UpdateMemberRequest struct {
	Role                *permissions.Role      `json:"role,omitempty"`
	JobID               *string                `json:"job_id,omitempty"`
	ClearJob            bool                   `json:"clear_job,omitempty"`
	SpecificPermissions *permissions.Overrides `json:"specific_permissions,omitempty"`
}

// CreateJobRequest represents request to create a job
type CreateJobRequest struct {
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	ContractType      string      `json:"contract_type,omitempty"`
	Icon              string      `json:"icon,omitempty"`
	DiscordWebhookURL string      `json:"discord_webhook_url,omitempty"`
	FormSchema        []FormField `json:"form_schema,omitempty"`
}

// UpdateJobRequest represents request to update a job. Nil fields are left
// unchanged.
type UpdateJobRequest struct {
	Title             *string `json:"title,omitempty"`
	Description       *string `json:"description,omitempty"`
	ContractType      *string `json:"contract_type,omitempty"`
	Icon              *string `json:"icon,omitempty"`
	IsOpen            *bool   `json:"is_open,omitempty"`
	RequiresWhitelist *bool   `json:"requires_whitelist,omitempty"`
	DiscordWebhookURL *string `json:"discord_webhook_url,omitempty"`
}

// Notifier announces submitted applications. Calls run after the response
// is written and must not block the submit path.
type Notifier interface {
	ApplicationSubmitted(ctx context.Context, server *Server, job *Job, app *Application) error
}

// NopNotifier drops notifications
type NopNotifier struct{}

// ApplicationSubmitted does nothing
func (NopNotifier) ApplicationSubmitted(context.Context, *Server, *Job, *Application) error {
	return nil
}
