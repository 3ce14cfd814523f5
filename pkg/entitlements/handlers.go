package entitlements

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/httputil"
	"github.com/La-R19/fiverecruit/pkg/permissions"
)

// Handlers serves entitlement display and the bind/claim actions
type Handlers struct {
	cache         *CachedResolver
	checker       permissions.Checker
	subscriptions *SubscriptionStore
	licenses      *LicenseStore
}

// NewHandlers creates entitlement handlers
func NewHandlers(cache *CachedResolver, checker permissions.Checker, subscriptions *SubscriptionStore, licenses *LicenseStore) *Handlers {
	return &Handlers{
		cache:         cache,
		checker:       checker,
		subscriptions: subscriptions,
		licenses:      licenses,
	}
}

// RegisterRoutes registers entitlement routes on an authenticated router.
// claimLimit, when non-nil, wraps the license claim route.
func (h *Handlers) RegisterRoutes(router *mux.Router, claimLimit mux.MiddlewareFunc) {
	router.HandleFunc("/servers/{server_id}/entitlement", h.GetEntitlement).Methods("GET")
	router.HandleFunc("/servers/{server_id}/subscription", h.GetSubscription).Methods("GET")
	router.HandleFunc("/servers/{server_id}/subscription", h.BindSubscription).Methods("POST")
	router.HandleFunc("/servers/{server_id}/subscription/{subscription_id}", h.UnbindSubscription).Methods("DELETE")
	router.HandleFunc("/servers/{server_id}/license", h.GetLicense).Methods("GET")
	router.HandleFunc("/me/subscriptions", h.ListMySubscriptions).Methods("GET")

	var claim http.Handler = http.HandlerFunc(h.ClaimLicense)
	if claimLimit != nil {
		claim = claimLimit(claim)
	}
	router.Handle("/servers/{server_id}/license", claim).Methods("POST")
}

// GetEntitlement returns the memoized entitlement. Requires can_view_stats.
func (h *Handlers) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	if err := h.checker.Require(ctx, auth.UserID(ctx), serverID, permissions.CanViewStats); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, h.cache.Get(ctx, serverID))
}

// GetSubscription returns the subscription bound to the server, or null
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}

	sub, err := h.subscriptions.ForServer(ctx, auth.UserID(ctx), serverID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, sub)
}

// BindSubscriptionRequest names the caller's subscription to bind
type BindSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// BindSubscription binds one of the caller's subscriptions to the server
func (h *Handlers) BindSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}

	var req BindSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.SubscriptionID == "" {
		httputil.WriteBadRequest(w, "subscription_id is required")
		return
	}

	sub, err := h.subscriptions.Bind(ctx, auth.UserID(ctx), serverID, req.SubscriptionID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.cache.Invalidate(ctx, serverID, "local")
	_ = httputil.WriteSuccess(w, sub)
}

// UnbindSubscription detaches the caller's subscription from the server
func (h *Handlers) UnbindSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}
	subscriptionID, ok := httputil.ParsePathStringOrError(w, r, "subscription_id")
	if !ok {
		return
	}

	if err := h.subscriptions.Unbind(ctx, auth.UserID(ctx), serverID, subscriptionID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.cache.Invalidate(ctx, serverID, "local")
	httputil.WriteNoContent(w)
}

// GetLicense returns the latest license bound to the server, or null
func (h *Handlers) GetLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}

	lic, err := h.licenses.ForServer(ctx, auth.UserID(ctx), serverID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, lic)
}

// ClaimLicenseRequest carries the license key to claim
type ClaimLicenseRequest struct {
	Key string `json:"key"`
}

// ClaimLicense claims a license key for the server
func (h *Handlers) ClaimLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}

	var req ClaimLicenseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	lic, err := h.licenses.Claim(ctx, auth.UserID(ctx), serverID, req.Key)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.cache.Invalidate(ctx, serverID, "local")
	_ = httputil.WriteSuccess(w, lic)
}

// ListMySubscriptions returns the caller's subscriptions
func (h *Handlers) ListMySubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subs, err := h.subscriptions.ListForUser(ctx, auth.UserID(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, subs)
}
