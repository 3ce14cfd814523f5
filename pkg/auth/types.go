package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/La-R19/fiverecruit/pkg/contextkeys"
)

// Claims are the bearer token claims the service relies on. The subject is
// the opaque user id issued by the identity provider.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// AuthContext holds the authenticated identity for a request
type AuthContext struct {
	UserID string
	Claims *Claims
}

// FromContext returns the AuthContext stored by the auth middleware, or nil
func FromContext(ctx context.Context) *AuthContext {
	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return authCtx
}

// UserID returns the authenticated user id, or "" when anonymous
func UserID(ctx context.Context) string {
	if authCtx := FromContext(ctx); authCtx != nil {
		return authCtx.UserID
	}
	return ""
}
