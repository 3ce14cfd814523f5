package audit

import (
	"context"
	"time"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records a fully built event
	Log(ctx context.Context, event *AuditEvent) error

	// LogAuthorization records a permission decision worth keeping, usually a denial
	LogAuthorization(ctx context.Context, userID, serverID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error

	// LogDataMutation records a successful change to server-scoped state
	LogDataMutation(ctx context.Context, eventType EventType, userID, serverID string, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error

	// LogAdminAction records a platform operator action
	LogAdminAction(ctx context.Context, eventType EventType, adminUserID, targetID string, message string) error

	// Close flushes and releases the logger
	Close() error
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, *AuditEvent) error { return nil }

func (NoOpLogger) LogAuthorization(context.Context, string, string, ResourceType, string, EventStatus, string) error {
	return nil
}

func (NoOpLogger) LogDataMutation(context.Context, EventType, string, string, ResourceType, string, *ChangeDetails, string) error {
	return nil
}

func (NoOpLogger) LogAdminAction(context.Context, EventType, string, string, string) error {
	return nil
}

func (NoOpLogger) Close() error { return nil }

// buildBaseEvent creates an event with the timestamp and request id set
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// NewAuthorizationEvent builds an authz.access_denied style event
func NewAuthorizationEvent(ctx context.Context, userID, serverID string, resourceType ResourceType, resourceID string, status EventStatus, message string) *AuditEvent {
	event := buildBaseEvent(ctx, EventTypeAuthzAccessDenied, status)
	event.UserID = userID
	event.ServerID = serverID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return event
}

// NewDataMutationEvent builds a successful mutation event
func NewDataMutationEvent(ctx context.Context, eventType EventType, userID, serverID string, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) *AuditEvent {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess)
	event.UserID = userID
	event.ServerID = serverID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message
	return event
}

// NewAdminActionEvent builds a platform admin event
func NewAdminActionEvent(ctx context.Context, eventType EventType, adminUserID, targetID string, message string) *AuditEvent {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess)
	event.UserID = adminUserID
	event.ResourceType = ResourceTypeAdmin
	event.ResourceID = targetID
	event.Message = message
	return event
}
