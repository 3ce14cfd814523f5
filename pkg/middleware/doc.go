// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Overview
//
// AuthMiddleware verifies HS256 bearer tokens from the identity provider and
// stores the caller in the request context. The token subject is the opaque
// user id used by every permission and ownership check.
//
//	authn := middleware.NewAuthMiddleware(verifier, false)
//	router.Use(authn.Handler)
//
// Public routes mount the middleware with optional set and wrap mutating
// handlers in RequireAuth.
//
// # Rate Limiting
//
// RateLimiter is an in-process token bucket keyed by user id, or client IP
// for anonymous callers. DistributedRateLimiter keeps a fixed window counter
// in Redis so limits hold across instances. Both satisfy Limiter:
//
//	limiter := middleware.NewRateLimiter(middleware.ClaimRateLimitConfig())
//	redeem := middleware.NewRateLimitMiddleware(limiter, true)
//	router.Handle("/invites/{code}/redeem", redeem.Handler(h))
//
// Exceeded limits return 429 with Retry-After and X-RateLimit-* headers.
package middleware
