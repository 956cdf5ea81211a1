package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	secret := "test-secret"
	tok, err := Sign(secret, "user-1", 42, time.Hour)
	require.NoError(t, err)

	v := NewVerifier(secret)
	claims, err := v.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, int64(42), claims.TelegramID)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := Sign("secret-a", "user-1", 1, time.Hour)
	require.NoError(t, err)

	v := NewVerifier("secret-b")
	_, err = v.Verify(tok)
	require.True(t, apperr.Is(err, apperr.KindAuthFailure))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	secret := "test-secret"
	tok, err := Sign(secret, "user-1", 1, -time.Minute)
	require.NoError(t, err)

	v := NewVerifier(secret)
	_, err = v.Verify(tok)
	require.True(t, apperr.Is(err, apperr.KindAuthFailure))
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	secret := "test-secret"
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)

	v := NewVerifier(secret)
	_, err = v.Verify(signed)
	require.True(t, apperr.Is(err, apperr.KindAuthFailure))
}

func TestVerifyRejectsUnsupportedSigningMethod(t *testing.T) {
	claims := &Claims{UserID: "user-1"}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v := NewVerifier("test-secret")
	_, err = v.Verify(signed)
	require.True(t, apperr.Is(err, apperr.KindAuthFailure))
}
