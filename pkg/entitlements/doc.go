/*
Package entitlements derives a server's plan and job quota from the license
and subscription rows bound to it.

Resolution order:

 1. The most recently created license bound to the server, if it has not
    expired. A license without expiry never expires. Its plan and max_jobs
    are used as issued.
 2. Otherwise an active or trialing subscription bound to the server. The
    Catalog maps its price id to premium (unlimited jobs) or standard (5).
 3. Otherwise the free plan with a single job.

The plan is never stored. Resolve returns Free together with the error on
any storage failure, and ResolveEntitlement swallows the error after
logging it, so a broken database can only ever reduce a quota.

CachedResolver memoizes results for display in a local expirable LRU and,
optionally, in Redis. Every bind, unbind, claim and server deletion
publishes the server id with pg_notify inside its transaction; a Listener on
each instance receives it and invalidates both layers. Quota enforcement
reads through Resolver.ResolveWith inside the locking transaction and never
touches the memo.
*/
package entitlements
