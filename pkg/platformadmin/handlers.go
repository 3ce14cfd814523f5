package platformadmin

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/httputil"
)

// Handlers serves the /admin API
type Handlers struct {
	service *Service
}

// NewHandlers creates admin handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers admin routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireAdmin)

	admin.HandleFunc("/licenses", h.ListLicenses).Methods("GET")
	admin.HandleFunc("/licenses", h.IssueLicense).Methods("POST")
	admin.HandleFunc("/admins", h.ListAdmins).Methods("GET")
	admin.HandleFunc("/admins", h.GrantAdmin).Methods("POST")
	admin.HandleFunc("/admins/{user_id}", h.RevokeAdmin).Methods("DELETE")
}

// requireAdmin rejects non-admins before any handler runs
func (h *Handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.RequireAdmin(r.Context(), auth.UserID(r.Context())); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListLicenses lists every license
func (h *Handlers) ListLicenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenses, err := h.service.ListLicenses(ctx, auth.UserID(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, licenses)
}

// IssueLicense mints licenses
func (h *Handlers) IssueLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req entitlements.IssueLicenseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	issued, err := h.service.IssueLicense(ctx, auth.UserID(ctx), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, issued)
}

// ListAdmins lists the platform admins
func (h *Handlers) ListAdmins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admins, err := h.service.ListAdmins(ctx, auth.UserID(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, admins)
}

// GrantAdminRequest names the user to promote
type GrantAdminRequest struct {
	UserID string `json:"user_id"`
	Note   string `json:"note,omitempty"`
}

// GrantAdmin promotes a user to platform admin
func (h *Handlers) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req GrantAdminRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	admin, err := h.service.Grant(ctx, auth.UserID(ctx), req.UserID, req.Note)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, admin)
}

// RevokeAdmin demotes a platform admin
func (h *Handlers) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	if err := h.service.Revoke(ctx, auth.UserID(ctx), userID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
