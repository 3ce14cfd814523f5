package permissions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/La-R19/fiverecruit/pkg/apperr"
)

// Capability is a privileged action inside a server
type Capability string

const (
	CanCreateJobs         Capability = "can_create_jobs"
	CanEditJobs           Capability = "can_edit_jobs"
	CanDeleteJobs         Capability = "can_delete_jobs"
	CanViewApplications   Capability = "can_view_applications"
	CanManageApplications Capability = "can_manage_applications"
	CanDeleteApplications Capability = "can_delete_applications"
	CanEditServer         Capability = "can_edit_server"
	CanManageTeam         Capability = "can_manage_team"
	CanViewStats          Capability = "can_view_stats"
	CanManageSubscription Capability = "can_manage_subscription"
	CanDeleteServer       Capability = "can_delete_server"
)

// AllCapabilities lists every capability in display order
var AllCapabilities = []Capability{
	CanCreateJobs,
	CanEditJobs,
	CanDeleteJobs,
	CanViewApplications,
	CanManageApplications,
	CanDeleteApplications,
	CanEditServer,
	CanManageTeam,
	CanViewStats,
	CanManageSubscription,
	CanDeleteServer,
}

// Valid reports whether c is a known capability
func (c Capability) Valid() bool {
	for _, known := range AllCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCapability converts a string to a Capability
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.Valid() {
		return "", apperr.Invalid("capability", fmt.Sprintf("unknown capability %q", s))
	}
	return c, nil
}

// Role is a member's role inside a server. The owner is not a role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

// Valid reports whether r is one of the member roles
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleViewer
}

// managerDefaults is the built-in capability table for the manager role
var managerDefaults = map[Capability]bool{
	CanCreateJobs:         true,
	CanEditJobs:           true,
	CanDeleteJobs:         true,
	CanViewApplications:   true,
	CanManageApplications: true,
	CanDeleteApplications: false,
	CanEditServer:         false,
	CanManageTeam:         false,
	CanViewStats:          true,
	CanManageSubscription: false,
	CanDeleteServer:       false,
}

// DefaultManagerPermissions returns a copy of the built-in manager table
func DefaultManagerPermissions() map[Capability]bool {
	out := make(map[Capability]bool, len(managerDefaults))
	for c, v := range managerDefaults {
		out[c] = v
	}
	return out
}

// Overrides is a sparse capability map. A present key is an explicit grant
// or denial; an absent key inherits from the next layer.
type Overrides map[Capability]bool

// Lookup returns the override for c and whether one is present
func (o Overrides) Lookup(c Capability) (value bool, ok bool) {
	if o == nil {
		return false, false
	}
	value, ok = o[c]
	return value, ok
}

// Validate rejects unknown capability keys
func (o Overrides) Validate() error {
	for c := range o {
		if !c.Valid() {
			return apperr.Invalid(string(c), "unknown capability")
		}
	}
	return nil
}

// UnmarshalJSON reads a stored override map. Null values are absent and
// unknown keys are dropped so that a removed capability never resurfaces.
func (o *Overrides) UnmarshalJSON(data []byte) error {
	var raw map[string]*bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Overrides, len(raw))
	for k, v := range raw {
		c := Capability(k)
		if v == nil || !c.Valid() {
			continue
		}
		out[c] = *v
	}
	*o = out
	return nil
}

// ParseOverrides decodes a JSON column value. Empty input is an empty map.
func ParseOverrides(data []byte) (Overrides, error) {
	if len(data) == 0 || string(data) == "null" {
		return Overrides{}, nil
	}
	var o Overrides
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to decode capability overrides: %w", err)
	}
	return o, nil
}

// rolePolicy is the servers.role_permissions column: role name to overrides.
// Entries stay raw until read so a bad entry for one role cannot break
// another.
type rolePolicy map[string]json.RawMessage

func parseRolePolicy(data []byte) (rolePolicy, error) {
	if len(data) == 0 || string(data) == "null" {
		return rolePolicy{}, nil
	}
	var p rolePolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode role permissions: %w", err)
	}
	if p == nil {
		p = rolePolicy{}
	}
	return p, nil
}

// managerOverrides decodes only the manager entry of a stored policy
func managerOverrides(data []byte) (Overrides, error) {
	policy, err := parseRolePolicy(data)
	if err != nil {
		return nil, err
	}
	return ParseOverrides(policy[string(RoleManager)])
}

// PermissionCheck is one question asked of the resolver
type PermissionCheck struct {
	UserID     string     `json:"user_id"`
	ServerID   string     `json:"server_id"`
	Capability Capability `json:"capability"`
	// JobID is the job the action targets, if any
	JobID string `json:"job_id,omitempty"`
}

// PermissionCheckResult is the resolver's decision
type PermissionCheckResult struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}

// Decision reasons
const (
	ReasonOwner             = "server owner"
	ReasonNotMember         = "not a member"
	ReasonServerNotFound    = "server not found"
	ReasonJobRestricted     = "restricted to another job"
	ReasonSpecificOverride  = "member override"
	ReasonAdminRole         = "admin role"
	ReasonViewerRole        = "viewer role"
	ReasonManagerPolicy     = "manager policy"
	ReasonManagerDefault    = "manager default"
	ReasonUnknownRole       = "unknown role"
	ReasonUnknownCapability = "unknown capability"
	ReasonUnauthenticated   = "unauthenticated"
	ReasonCheckFailed       = "check failed"
)

// Option adds context to a check
type Option func(*PermissionCheck)

// WithJob scopes a check to a job
func WithJob(jobID string) Option {
	return func(c *PermissionCheck) {
		c.JobID = jobID
	}
}
