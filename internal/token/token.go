// Package token verifies the bearer tokens presented on every persistent
// connection, using the golang-jwt dependency the teacher already carried
// (referenced by its cmd/main.go as auth.InitJWT/auth.ValidateJWT, whose
// package body was not part of the retrieved snapshot).
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

// Claims is the payload anomchat signs into a session token.
type Claims struct {
	UserID     string `json:"userId"`
	TelegramID int64  `json:"telegramId"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and extracts the caller's identity.
type Verifier interface {
	Verify(tokenString string) (*Claims, error)
}

type jwtVerifier struct {
	secret []byte
}

// NewVerifier builds a Verifier backed by HMAC-signed JWTs.
func NewVerifier(secret string) Verifier {
	return &jwtVerifier{secret: []byte(secret)}
}

func (v *jwtVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, apperr.AuthFailure("invalid or expired token")
	}
	if !parsed.Valid {
		return nil, apperr.AuthFailure("invalid or expired token")
	}
	if claims.UserID == "" {
		return nil, apperr.AuthFailure("token missing subject")
	}
	return claims, nil
}

// Sign issues a token for userID/telegramID valid for ttl. Used by tests and
// by any future login endpoint; the core itself only verifies.
func Sign(secret, userID string, telegramID int64, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:     userID,
		TelegramID: telegramID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}
