package servers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/httputil"
	"github.com/La-R19/fiverecruit/pkg/permissions"
)

// Handlers serves the server, team, job and application API
type Handlers struct {
	service *Service
}

// NewHandlers creates server handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterPublicRoutes registers routes that need no authentication
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/public/servers/{slug}", h.GetServerBySlug).Methods("GET")
	router.HandleFunc("/public/servers/{slug}/jobs", h.ListPublicJobs).Methods("GET")
	router.HandleFunc("/public/jobs/{job_id}", h.GetJob).Methods("GET")
}

// RegisterRoutes registers routes on an authenticated router. redeemLimit,
// when non-nil, wraps invite redemption.
func (h *Handlers) RegisterRoutes(router *mux.Router, redeemLimit mux.MiddlewareFunc) {
	router.HandleFunc("/servers", h.ListServers).Methods("GET")
	router.HandleFunc("/servers", h.CreateServer).Methods("POST")
	router.HandleFunc("/servers/{server_id}", h.GetServer).Methods("GET")
	router.HandleFunc("/servers/{server_id}", h.UpdateServer).Methods("PATCH")
	router.HandleFunc("/servers/{server_id}", h.DeleteServer).Methods("DELETE")
	router.HandleFunc("/servers/{server_id}/quota", h.GetQuota).Methods("GET")

	// Team
	router.HandleFunc("/servers/{server_id}/invites", h.ListInvites).Methods("GET")
	router.HandleFunc("/servers/{server_id}/invites", h.CreateInvite).Methods("POST")
	router.HandleFunc("/servers/{server_id}/invites/{invite_id}", h.RevokeInvite).Methods("DELETE")
	router.HandleFunc("/servers/{server_id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/servers/{server_id}/members/me", h.LeaveServer).Methods("DELETE")
	router.HandleFunc("/servers/{server_id}/members/{member_id}", h.GetMember).Methods("GET")
	router.HandleFunc("/servers/{server_id}/members/{member_id}", h.UpdateMember).Methods("PATCH")
	router.HandleFunc("/servers/{server_id}/members/{member_id}", h.RemoveMember).Methods("DELETE")

	var redeem http.Handler = http.HandlerFunc(h.RedeemInvite)
	if redeemLimit != nil {
		redeem = redeemLimit(redeem)
	}
	router.Handle("/invites/{code}/redeem", redeem).Methods("POST")

	// Jobs
	router.HandleFunc("/servers/{server_id}/jobs", h.ListJobs).Methods("GET")
	router.HandleFunc("/servers/{server_id}/jobs", h.CreateJob).Methods("POST")
	router.HandleFunc("/servers/{server_id}/jobs/{job_id}", h.UpdateJob).Methods("PATCH")
	router.HandleFunc("/servers/{server_id}/jobs/{job_id}", h.DeleteJob).Methods("DELETE")
	router.HandleFunc("/servers/{server_id}/jobs/{job_id}/schema", h.UpdateFormSchema).Methods("PUT")

	// Applications
	router.HandleFunc("/jobs/{job_id}/applications", h.SubmitApplication).Methods("POST")
	router.HandleFunc("/servers/{server_id}/applications", h.ListApplications).Methods("GET")
	router.HandleFunc("/applications/{application_id}", h.GetApplication).Methods("GET")
	router.HandleFunc("/applications/{application_id}/status", h.UpdateApplicationStatus).Methods("PUT")
	router.HandleFunc("/applications/{application_id}", h.DeleteApplication).Methods("DELETE")
	router.HandleFunc("/me/applications", h.ListMyApplications).Methods("GET")
}

// ListServers lists the servers the caller owns or belongs to
func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	servers, err := h.service.ListServersForUser(ctx, auth.UserID(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, servers)
}

// CreateServer creates a server owned by the caller
func (h *Handlers) CreateServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateServerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	server, err := h.service.CreateServer(ctx, auth.UserID(ctx), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, server)
}

// GetServer returns a server. Requires membership.
func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	if err := h.service.RequireMember(ctx, auth.UserID(ctx), serverID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	server, err := h.service.GetServer(ctx, serverID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, server)
}

// GetServerBySlug returns a server's public page
func (h *Handlers) GetServerBySlug(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}
	server, err := h.service.GetServerBySlug(r.Context(), slug)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, server)
}

// UpdateServer edits a server's settings
func (h *Handlers) UpdateServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	var req UpdateServerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	server, err := h.service.UpdateServer(ctx, auth.UserID(ctx), serverID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, server)
}

// DeleteServer deletes a server
func (h *Handlers) DeleteServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	if err := h.service.DeleteServer(ctx, auth.UserID(ctx), serverID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetQuota returns the server's job quota
func (h *Handlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	quota, err := h.service.Quota(ctx, auth.UserID(ctx), serverID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, quota)
}

// createInviteBody is the wire form of CreateInviteRequest
type createInviteBody struct {
	Role           permissions.Role `json:"role"`
	JobID          string           `json:"job_id,omitempty"`
	MaxUses        int              `json:"max_uses,omitempty"`
	ExpiresInHours int              `json:"expires_in_hours,omitempty"`
}

// CreateInvite creates an invite code
func (h *Handlers) CreateInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	var body createInviteBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	invite, err := h.service.CreateInvite(ctx, auth.UserID(ctx), serverID, CreateInviteRequest{
		Role:      body.Role,
		JobID:     body.JobID,
		MaxUses:   body.MaxUses,
		ExpiresIn: time.Duration(body.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, invite)
}

// ListInvites lists a server's invites
func (h *Handlers) ListInvites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	invites, err := h.service.ListInvites(ctx, auth.UserID(ctx), serverID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, invites)
}

// RevokeInvite deletes an invite
func (h *Handlers) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	inviteID, ok := httputil.ParsePathIDOrError(w, r, "invite_id")
	if !ok {
		return
	}
	if err := h.service.RevokeInvite(ctx, auth.UserID(ctx), serverID, inviteID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RedeemInvite joins the caller to the invite's server
func (h *Handlers) RedeemInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	member, err := h.service.RedeemInvite(ctx, code, auth.UserID(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, member)
}

// ListMembers lists a server's members
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	members, err := h.service.ListMembers(ctx, auth.UserID(ctx), serverID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, members)
}

// GetMember returns one member
func (h *Handlers) GetMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathIDOrError(w, r, "member_id")
	if !ok {
		return
	}
	member, err := h.service.GetMember(ctx, auth.UserID(ctx), serverID, memberID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, member)
}

// updateMemberBody is the wire form of UpdateMemberRequest. Permission keys
// are kept as strings so unknown capabilities are rejected, not dropped.
type updateMemberBody struct {
	Role                *permissions.Role `json:"role,omitempty"`
	JobID               *string           `json:"job_id,omitempty"`
	ClearJob            bool              `json:"clear_job,omitempty"`
	SpecificPermissions *map[string]bool  `json:"specific_permissions,omitempty"`
}

// UpdateMember edits a member's role, job restriction or permissions
func (h *Handlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathIDOrError(w, r, "member_id")
	if !ok {
		return
	}
	var body updateMemberBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	req := UpdateMemberRequest{Role: body.Role, JobID: body.JobID, ClearJob: body.ClearJob}
	if body.SpecificPermissions != nil {
		overrides := make(permissions.Overrides, len(*body.SpecificPermissions))
		for k, v := range *body.SpecificPermissions {
			overrides[permissions.Capability(k)] = v
		}
		req.SpecificPermissions = &overrides
	}

	member, err := h.service.UpdateMember(ctx, auth.UserID(ctx), serverID, memberID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, member)
}

// RemoveMember removes a member
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathIDOrError(w, r, "member_id")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(ctx, auth.UserID(ctx), serverID, memberID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// LeaveServer removes the caller's own membership
func (h *Handlers) LeaveServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	if err := h.service.LeaveServer(ctx, auth.UserID(ctx), serverID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListJobs lists all of a server's jobs, closed ones included. Requires
// membership.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	if err := h.service.RequireMember(ctx, auth.UserID(ctx), serverID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	openOnly, err := httputil.ParseQueryBool(r, "open", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	jobs, err := h.service.ListJobs(ctx, serverID, openOnly)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, jobs)
}

// ListPublicJobs lists a server's open jobs by slug
func (h *Handlers) ListPublicJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}
	server, err := h.service.GetServerBySlug(ctx, slug)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	jobs, err := h.service.ListJobs(ctx, server.ID, true)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	for _, job := range jobs {
		job.DiscordWebhookURL = ""
	}
	_ = httputil.WriteSuccess(w, jobs)
}

// GetJob returns a job with its form. The webhook URL is not exposed.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := httputil.ParsePathIDOrError(w, r, "job_id")
	if !ok {
		return
	}
	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	job.DiscordWebhookURL = ""
	_ = httputil.WriteSuccess(w, job)
}

// CreateJob creates a job
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	var req CreateJobRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	job, err := h.service.CreateJob(ctx, auth.UserID(ctx), serverID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, job)
}

// UpdateJob edits a job
func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	jobID, ok := httputil.ParsePathIDOrError(w, r, "job_id")
	if !ok {
		return
	}
	var req UpdateJobRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	job, err := h.service.UpdateJob(ctx, auth.UserID(ctx), serverID, jobID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, job)
}

// UpdateFormSchemaRequest replaces a job's form
type UpdateFormSchemaRequest struct {
	Fields []FormField `json:"fields"`
}

// UpdateFormSchema replaces a job's application form
func (h *Handlers) UpdateFormSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	jobID, ok := httputil.ParsePathIDOrError(w, r, "job_id")
	if !ok {
		return
	}
	var req UpdateFormSchemaRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	job, err := h.service.UpdateFormSchema(ctx, auth.UserID(ctx), serverID, jobID, req.Fields)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, job)
}

// DeleteJob deletes a job
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	jobID, ok := httputil.ParsePathIDOrError(w, r, "job_id")
	if !ok {
		return
	}
	if err := h.service.DeleteJob(ctx, auth.UserID(ctx), serverID, jobID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SubmitApplicationRequest carries a candidate's answers keyed by field id
type SubmitApplicationRequest struct {
	Answers map[string]json.RawMessage `json:"answers"`
}

// SubmitApplication applies the caller to a job
func (h *Handlers) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID, ok := httputil.ParsePathIDOrError(w, r, "job_id")
	if !ok {
		return
	}
	var req SubmitApplicationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	app, err := h.service.SubmitApplication(ctx, auth.UserID(ctx), jobID, req.Answers)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, app)
}

// ListApplications lists a server's applications, optionally ?job_id=
func (h *Handlers) ListApplications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	jobID := httputil.ParseQueryString(r, "job_id", "")

	apps, err := h.service.ListApplications(ctx, auth.UserID(ctx), serverID, jobID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, apps)
}

// GetApplication returns one application
func (h *Handlers) GetApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := httputil.ParsePathIDOrError(w, r, "application_id")
	if !ok {
		return
	}
	app, err := h.service.GetApplication(ctx, auth.UserID(ctx), appID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, app)
}

// UpdateApplicationStatusRequest moves an application through review
type UpdateApplicationStatusRequest struct {
	Status ApplicationStatus `json:"status"`
}

// UpdateApplicationStatus changes an application's status
func (h *Handlers) UpdateApplicationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := httputil.ParsePathIDOrError(w, r, "application_id")
	if !ok {
		return
	}
	var req UpdateApplicationStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	app, err := h.service.UpdateApplicationStatus(ctx, auth.UserID(ctx), appID, req.Status)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, app)
}

// DeleteApplication deletes an application
func (h *Handlers) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := httputil.ParsePathIDOrError(w, r, "application_id")
	if !ok {
		return
	}
	if err := h.service.DeleteApplication(ctx, auth.UserID(ctx), appID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListMyApplications lists the caller's own applications
func (h *Handlers) ListMyApplications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apps, err := h.service.ListMyApplications(ctx, auth.UserID(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, apps)
}
