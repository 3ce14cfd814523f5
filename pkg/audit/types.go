package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"

	// Team events
	EventTypeTeamInviteCreate  EventType = "team.invite_create"
	EventTypeTeamInviteRevoke  EventType = "team.invite_revoke"
	EventTypeTeamInviteRedeem  EventType = "team.invite_redeem"
	EventTypeTeamMemberUpdate  EventType = "team.member_update"
	EventTypeTeamMemberRemove  EventType = "team.member_remove"
	EventTypeTeamMemberLeave   EventType = "team.member_leave"
	EventTypePolicyManagerEdit EventType = "policy.manager_defaults_update"

	// Billing events
	EventTypeBillingSubscriptionBind   EventType = "billing.subscription_bind"
	EventTypeBillingSubscriptionUnbind EventType = "billing.subscription_unbind"
	EventTypeBillingLicenseClaim       EventType = "billing.license_claim"

	// Server lifecycle events
	EventTypeServerCreate EventType = "server.create"
	EventTypeServerDelete EventType = "server.delete"

	// Recruitment events
	EventTypeApplicationStatus EventType = "application.status_update"

	// Platform admin events
	EventTypeAdminLicenseIssue EventType = "admin.license_issue"
	EventTypeAdminGrant        EventType = "admin.grant"
	EventTypeAdminRevoke       EventType = "admin.revoke"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeServer       ResourceType = "server"
	ResourceTypeMember       ResourceType = "member"
	ResourceTypeInvite       ResourceType = "invite"
	ResourceTypeJob          ResourceType = "job"
	ResourceTypeApplication  ResourceType = "application"
	ResourceTypeSubscription ResourceType = "subscription"
	ResourceTypeLicense      ResourceType = "license"
	ResourceTypePolicy       ResourceType = "policy"
	ResourceTypeAdmin        ResourceType = "admin"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor and tenant
	UserID   string `json:"user_id,omitempty"`
	ServerID string `json:"server_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Before/after for updates
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter narrows an audit query. Zero values are ignored.
type SearchFilter struct {
	ServerID   string
	UserID     string
	EventTypes []EventType
	Since      *time.Time
	Limit      int
}
