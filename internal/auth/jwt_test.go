package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signHS256(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestValidate(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)

	token := signHS256(t, Claims{
		UserID:   "alice",
		Username: "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "Alice", claims.Username)
}

func TestValidateFailures(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		_, err := v.Validate("")
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signHS256(t, Claims{
			UserID: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})
		_, err := v.Validate(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.Validate("not.a.jwt")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "alice"})
		signed, err := other.SignedString([]byte("different-secret"))
		require.NoError(t, err)
		_, err = v.Validate(signed)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("missing user id", func(t *testing.T) {
		token := signHS256(t, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		_, err := v.Validate(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewHS256Validator("")
	assert.Error(t, err)
}
