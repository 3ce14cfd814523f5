package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

// MultiLogger writes every event to several loggers. A failing destination
// does not stop the others; the errors are joined.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAuthorization logs an authorization event
func (m *MultiLogger) LogAuthorization(ctx context.Context, userID, serverID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return m.Log(ctx, NewAuthorizationEvent(ctx, userID, serverID, resourceType, resourceID, status, message))
}

// LogDataMutation logs a data mutation event
func (m *MultiLogger) LogDataMutation(ctx context.Context, eventType EventType, userID, serverID string, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return m.Log(ctx, NewDataMutationEvent(ctx, eventType, userID, serverID, resourceType, resourceID, changes, message))
}

// LogAdminAction logs an admin action event
func (m *MultiLogger) LogAdminAction(ctx context.Context, eventType EventType, adminUserID, targetID string, message string) error {
	return m.Log(ctx, NewAdminActionEvent(ctx, eventType, adminUserID, targetID, message))
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StructuredLogger mirrors audit events into the application log
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates a logger that writes events at Info level
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger.WithField("component", "audit")}
}

// Log writes the event as structured fields
func (s *StructuredLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.UserID != "" {
		fields["actor_id"] = event.UserID
	}
	if event.ServerID != "" {
		fields["server_id"] = event.ServerID
	}
	if event.ResourceID != "" {
		fields["resource"] = string(event.ResourceType) + ":" + event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	s.logger.WithFields(fields).Info(event.Message)
	return nil
}

// LogAuthorization logs an authorization event
func (s *StructuredLogger) LogAuthorization(ctx context.Context, userID, serverID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return s.Log(ctx, NewAuthorizationEvent(ctx, userID, serverID, resourceType, resourceID, status, message))
}

// LogDataMutation logs a data mutation event
func (s *StructuredLogger) LogDataMutation(ctx context.Context, eventType EventType, userID, serverID string, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return s.Log(ctx, NewDataMutationEvent(ctx, eventType, userID, serverID, resourceType, resourceID, changes, message))
}

// LogAdminAction logs an admin action event
func (s *StructuredLogger) LogAdminAction(ctx context.Context, eventType EventType, adminUserID, targetID string, message string) error {
	return s.Log(ctx, NewAdminActionEvent(ctx, eventType, adminUserID, targetID, message))
}

// Close is a no-op
func (s *StructuredLogger) Close() error {
	return nil
}
