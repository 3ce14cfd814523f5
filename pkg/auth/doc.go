// Package auth verifies bearer tokens and carries the authenticated identity
// through request contexts.
//
// Identity is owned by an external provider. The service only checks that a
// token is an HS256 JWT signed with the shared secret, unexpired, and issued
// for the configured issuer and audience. The sub claim is the opaque user id
// used everywhere else (server owner, member user id, candidate id).
//
//	verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
//	claims, err := verifier.Verify(raw)
//
// Handlers read the identity with auth.UserID(r.Context()).
package auth
