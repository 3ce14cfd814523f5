package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/httputil"
	"github.com/La-R19/fiverecruit/pkg/middleware"
	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/platformadmin"
	"github.com/La-R19/fiverecruit/pkg/servers"
)

const maxBodyBytes = 1 << 20

// components are the services the HTTP surface is built from
type components struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	verifier     *auth.TokenVerifier
	claimLimiter middleware.Limiter
	corsOrigins  []string

	permissions      *permissions.Resolver
	permissionsStore *permissions.Store

	entitlements  *entitlements.CachedResolver
	subscriptions *entitlements.SubscriptionStore
	licenses      *entitlements.LicenseStore

	servers     *servers.Service
	admin       *platformadmin.Service
	auditSearch audit.Searcher
}

// newRouter assembles the /api/v1 surface. Middleware order: request id,
// logging, recovery, metrics, then bearer auth per subrouter and rate
// limiting on redeem and claim routes.
func newRouter(c components) http.Handler {
	root := mux.NewRouter()
	root.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(c.logger),
		observability.RecoveryMiddleware(c.logger),
		observability.HTTPMetricsMiddleware(c.metrics),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)

	api := root.PathPrefix("/api/v1").Subrouter()

	serverHandlers := servers.NewHandlers(c.servers)

	// Public job board; a token is honoured when present.
	public := api.NewRoute().Subrouter()
	public.Use(middleware.NewAuthMiddleware(c.verifier, true).Handler)
	serverHandlers.RegisterPublicRoutes(public)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.NewAuthMiddleware(c.verifier, false).Handler)

	claimLimit := mux.MiddlewareFunc(middleware.NewRateLimitMiddleware(c.claimLimiter, true).Handler)

	serverHandlers.RegisterRoutes(authed, claimLimit)
	permissions.NewHandlers(c.permissions, c.permissionsStore).RegisterRoutes(authed)
	entitlements.NewHandlers(c.entitlements, c.permissions, c.subscriptions, c.licenses).RegisterRoutes(authed, claimLimit)
	platformadmin.NewHandlers(c.admin).RegisterRoutes(authed)
	if c.auditSearch != nil {
		audit.NewHandlers(c.auditSearch).RegisterRoutes(authed,
			middleware.RequireCapability(c.permissions, permissions.CanManageTeam, ""))
	}

	var handler http.Handler = root
	handler = httputil.CORSMiddleware(c.corsOrigins)(handler)
	return otelhttp.NewHandler(handler, "fiverecruit-api")
}
