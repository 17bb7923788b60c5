package broker

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
)

func TestAccessTokenExpiry(t *testing.T) {
	exp := time.Now().Add(48 * time.Hour).Truncate(time.Second)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "keylink",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, err := AccessTokenExpiry(signed)
	require.NoError(t, err)
	require.True(t, exp.Equal(got))

	t.Run("no exp claim", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "keylink"}).SignedString([]byte("secret"))
		require.NoError(t, err)

		got, err := AccessTokenExpiry(signed)
		require.NoError(t, err)
		require.True(t, got.IsZero())
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := AccessTokenExpiry("opaque-token")
		require.Error(t, err)
		require.True(t, errs.IsAuthorization(err))
	})
}
