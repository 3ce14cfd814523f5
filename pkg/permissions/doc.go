/*
Package permissions decides whether a user may perform a capability on a
server.

# Resolution

Every check reads current state and walks these layers; the first one that
matches decides:

 1. The server owner is allowed everything, with no member row needed.
 2. A user without a member row is denied.
 3. A member restricted to a job is denied when the check targets a
    different job. Checks without a job bypass this layer.
 4. A key present in the member's specific_permissions wins, true or false.
 5. The role decides: admin allows, viewer denies, manager reads the
    server's manager policy and falls back per key to the built-in table.
 6. Anything else is denied.

Decisions are never cached. Storage failures deny: Check and HasPermission
report false, Require returns a DataAccessError.

# Usage

	resolver := permissions.NewResolver(db, metrics, auditLogger)

	if err := resolver.Require(ctx, userID, serverID, permissions.CanEditJobs,
		permissions.WithJob(jobID)); err != nil {
		return err
	}

# Manager policy

Store.SetManagerDefaults is restricted to the owner and checked against
servers.owner_id, so a manager cannot grant itself rights through the role
system it is governed by. The whole map is replaced on each write.
*/
package permissions
