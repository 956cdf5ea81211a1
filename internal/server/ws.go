package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// handleWS checks the Origin header against the allow-list with
	// originAllowed before upgrading, so the upgrader accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// extractToken implements the §6 priority order: (a) handshake-auth field
// "token" (carried as a query parameter on the upgrade request, the
// WebSocket handshake's only place for client-supplied auth data), (b) the
// "token" header, (c) "Authorization: Bearer <token>".
func extractToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t := r.Header.Get("token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// originAllowed implements the §6 client-origin allow-list: "*" allows any
// origin, an empty Origin header (non-browser clients) is always allowed.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	tokenString := extractToken(r)
	if tokenString == "" {
		http.Error(w, "auth_error", http.StatusUnauthorized)
		return
	}

	claims, err := s.verifier.Verify(tokenString)
	if err != nil {
		http.Error(w, "auth_error", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	reconnect := r.URL.Query().Get("reconnect") == "true"
	sess := newSession(s, conn, claims.UserID, claims.TelegramID)

	s.hub.Register(sess, reconnect)
	go sess.WritePump()
	go sess.ReadPump()
}
