package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/httputil"
	"github.com/La-R19/fiverecruit/pkg/permissions"
)

// CapabilityRequirer is the part of permissions.Resolver the middleware uses
type CapabilityRequirer interface {
	Require(ctx context.Context, userID, serverID string, capability permissions.Capability, opts ...permissions.Option) error
}

// RequireCapability gates a route on a capability. The server comes from the
// {server_id} path variable; when jobVar is non-empty and that variable is
// present, the check is scoped to the job.
func RequireCapability(requirer CapabilityRequirer, capability permissions.Capability, jobVar string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vars := mux.Vars(r)
			serverID := vars["server_id"]
			if serverID == "" {
				httputil.WriteBadRequest(w, "missing path parameter: server_id")
				return
			}

			var opts []permissions.Option
			if jobVar != "" && vars[jobVar] != "" {
				opts = append(opts, permissions.WithJob(vars[jobVar]))
			}

			if err := requirer.Require(r.Context(), auth.UserID(r.Context()), serverID, capability, opts...); err != nil {
				httputil.WriteAppError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
