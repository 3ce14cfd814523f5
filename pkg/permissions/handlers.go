package permissions

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/httputil"
)

// Handlers exposes the caller's capabilities and the manager policy
type Handlers struct {
	resolver *Resolver
	store    *Store
}

// NewHandlers creates permission handlers
func NewHandlers(resolver *Resolver, store *Store) *Handlers {
	return &Handlers{resolver: resolver, store: store}
}

// RegisterRoutes registers permission routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/servers/{server_id}/permissions", h.GetMyPermissions).Methods("GET")
	router.HandleFunc("/servers/{server_id}/roles/manager", h.GetManagerDefaults).Methods("GET")
	router.HandleFunc("/servers/{server_id}/roles/manager", h.SetManagerDefaults).Methods("PUT")
}

// PermissionsResponse lists the caller's capabilities on a server
type PermissionsResponse struct {
	ServerID    string              `json:"server_id"`
	JobID       string              `json:"job_id,omitempty"`
	Permissions map[Capability]bool `json:"permissions"`
}

// GetMyPermissions returns every capability for the caller, optionally
// scoped to ?job_id=
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	jobID := httputil.ParseQueryString(r, "job_id", "")

	var opts []Option
	if jobID != "" {
		opts = append(opts, WithJob(jobID))
	}

	perms, err := h.resolver.UserPermissions(r.Context(), auth.UserID(r.Context()), serverID, opts...)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, PermissionsResponse{
		ServerID:    serverID,
		JobID:       jobID,
		Permissions: perms,
	})
}

// ManagerPolicyResponse is the effective manager table plus the stored
// overrides it was built from
type ManagerPolicyResponse struct {
	ServerID  string              `json:"server_id"`
	Effective map[Capability]bool `json:"effective"`
	Overrides Overrides           `json:"overrides"`
}

// GetManagerDefaults returns the manager policy. Requires can_manage_team.
func (h *Handlers) GetManagerDefaults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}

	if err := h.resolver.Require(ctx, auth.UserID(ctx), serverID, CanManageTeam); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.writePolicy(w, r, serverID)
}

// SetManagerDefaultsRequest replaces the manager override map
type SetManagerDefaultsRequest struct {
	Permissions map[string]bool `json:"permissions"`
}

// SetManagerDefaults replaces the manager policy. Owner only.
func (h *Handlers) SetManagerDefaults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}

	var req SetManagerDefaultsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	overrides := make(Overrides, len(req.Permissions))
	for k, v := range req.Permissions {
		c, err := ParseCapability(k)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		overrides[c] = v
	}

	if err := h.store.SetManagerDefaults(ctx, serverID, auth.UserID(ctx), overrides); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.writePolicy(w, r, serverID)
}

func (h *Handlers) writePolicy(w http.ResponseWriter, r *http.Request, serverID string) {
	overrides, err := h.store.ManagerOverrides(r.Context(), serverID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	effective := DefaultManagerPermissions()
	for c, v := range overrides {
		effective[c] = v
	}

	_ = httputil.WriteSuccess(w, ManagerPolicyResponse{
		ServerID:  serverID,
		Effective: effective,
		Overrides: overrides,
	})
}
