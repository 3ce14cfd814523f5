// Package audit records security relevant actions: permission denials, team
// and policy changes, billing bindings, server lifecycle and platform admin
// operations.
//
// # Usage
//
//	logger := audit.NewMultiLogger(dbLogger, audit.NewStructuredLogger(appLogger))
//	_ = logger.LogDataMutation(ctx, audit.EventTypeTeamMemberRemove,
//		actorID, serverID, audit.ResourceTypeMember, memberID, nil, "member removed")
//
// Services write audit events after the mutating transaction commits. A
// failed audit write is logged and does not undo the action.
//
// DBLogger persists to the audit_events table and supports Search for the
// operator API. NoOpLogger is used when auditing is not configured.
package audit
