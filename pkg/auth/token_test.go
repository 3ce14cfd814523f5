package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/contextkeys"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenVerifier_Verify(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "https://auth.test", "fiverecruit")
	verifier := NewTokenVerifier(testSecret, "https://auth.test", "fiverecruit")

	t.Run("valid token", func(t *testing.T) {
		token, err := issuer.Issue("user-1", "alice", time.Hour)
		require.NoError(t, err)

		claims, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Equal(t, "alice", claims.Username)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := issuer.Issue("user-1", "alice", -time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewTokenIssuer("another-secret-another-secret-xx", "https://auth.test", "fiverecruit").
			Issue("user-1", "alice", time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token, err := NewTokenIssuer(testSecret, "https://auth.test", "other-app").Issue("user-1", "", time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewTokenIssuer(testSecret, "https://evil.test", "fiverecruit").Issue("user-1", "", time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := issuer.Issue("", "ghost", time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := verifier.Verify("not.a.jwt")
		assert.Error(t, err)
	})
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Equal(t, "", UserID(context.Background()))

	ctx := contextkeys.WithAuth(context.Background(), &AuthContext{UserID: "user-9"})
	assert.Equal(t, "user-9", UserID(ctx))
}
