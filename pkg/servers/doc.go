// Package servers implements the recruitment workspaces: servers, their
// team (members and invites), jobs with their application forms, and the
// applications candidates submit.
//
// Every mutation asks the permission resolver first. Team membership edits
// are reserved to the server owner and invites to the owner and admins,
// independently of capabilities.
//
// Job creation is bounded by the server's entitlement. The count and the
// insert run in one transaction holding the server row lock, so two
// concurrent creations cannot both take the last slot. Invite redemption
// claims a use with a single conditional UPDATE in the same transaction as
// the member insert.
package servers
