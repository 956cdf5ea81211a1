package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractTokenPrefersHandshakeQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	r.Header.Set("token", "from-header")
	r.Header.Set("Authorization", "Bearer from-bearer")

	require.Equal(t, "from-query", extractToken(r))
}

func TestExtractTokenFallsBackToTokenHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("token", "from-header")
	r.Header.Set("Authorization", "Bearer from-bearer")

	require.Equal(t, "from-header", extractToken(r))
}

func TestExtractTokenFallsBackToAuthorizationBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer from-bearer")

	require.Equal(t, "from-bearer", extractToken(r))
}

func TestExtractTokenEmptyWhenNoneProvided(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	require.Equal(t, "", extractToken(r))
}

func TestOriginAllowedWildcard(t *testing.T) {
	s := &Server{allowOrigins: []string{"*"}}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	require.True(t, s.originAllowed(r))
}

func TestOriginAllowedNoOriginHeader(t *testing.T) {
	s := &Server{allowOrigins: []string{"https://allowed.example"}}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	require.True(t, s.originAllowed(r))
}

func TestOriginAllowedExactMatch(t *testing.T) {
	s := &Server{allowOrigins: []string{"https://allowed.example"}}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://allowed.example")
	require.True(t, s.originAllowed(r))
}

func TestOriginRejectedWhenNotInAllowList(t *testing.T) {
	s := &Server{allowOrigins: []string{"https://allowed.example"}}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	require.False(t, s.originAllowed(r))
}
