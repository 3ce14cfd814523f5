package audit

import (
	"context"
	"sync"
)

// MemoryLogger keeps events in memory. It backs tests and local runs
// without a database.
type MemoryLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
}

// NewMemoryLogger creates an empty in-memory logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends the event
func (m *MemoryLogger) Log(ctx context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// LogAuthorization records an authorization decision
func (m *MemoryLogger) LogAuthorization(ctx context.Context, userID, serverID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return m.Log(ctx, NewAuthorizationEvent(ctx, userID, serverID, resourceType, resourceID, status, message))
}

// LogDataMutation records a mutation
func (m *MemoryLogger) LogDataMutation(ctx context.Context, eventType EventType, userID, serverID string, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return m.Log(ctx, NewDataMutationEvent(ctx, eventType, userID, serverID, resourceType, resourceID, changes, message))
}

// LogAdminAction records a platform admin action
func (m *MemoryLogger) LogAdminAction(ctx context.Context, eventType EventType, adminUserID, targetID, message string) error {
	return m.Log(ctx, NewAdminActionEvent(ctx, eventType, adminUserID, targetID, message))
}

// Close is a no-op
func (m *MemoryLogger) Close() error { return nil }

// Events returns a copy of the recorded events
func (m *MemoryLogger) Events() []*AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*AuditEvent(nil), m.events...)
}

// ByType returns the recorded events of one type
func (m *MemoryLogger) ByType(eventType EventType) []*AuditEvent {
	var out []*AuditEvent
	for _, e := range m.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
