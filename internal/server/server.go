// Package server wires ConnectionHub, Matcher, ChatRouter and
// StatsBroadcaster behind an HTTP mux, generalizing the teacher's
// pkg/routes.NewRouter + pkg/handlers.HandleWS composition.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/balzhinimaev/anomchat/internal/chatrouter"
	"github.com/balzhinimaev/anomchat/internal/hub"
	"github.com/balzhinimaev/anomchat/internal/matcher"
	"github.com/balzhinimaev/anomchat/internal/stats"
	"github.com/balzhinimaev/anomchat/internal/store"
	"github.com/balzhinimaev/anomchat/internal/token"

	_ "github.com/swaggo/files"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	hub          *hub.Hub
	matcher      *matcher.Matcher
	chatRouter   *chatrouter.Router
	broadcaster  *stats.Broadcaster
	store        *store.Store
	verifier     token.Verifier
	log          *slog.Logger
	instanceID   string
	allowOrigins []string
}

func New(h *hub.Hub, m *matcher.Matcher, cr *chatrouter.Router, broadcaster *stats.Broadcaster, st *store.Store, verifier token.Verifier, allowOrigins []string, logger *slog.Logger) *Server {
	return &Server{
		hub:          h,
		matcher:      m,
		chatRouter:   cr,
		broadcaster:  broadcaster,
		store:        st,
		verifier:     verifier,
		log:          logger,
		instanceID:   uuid.New().String(),
		allowOrigins: allowOrigins,
	}
}

// NewRouter builds the full HTTP mux: health, admin/swagger introspection,
// and the WebSocket upgrade endpoint.
func (s *Server) NewRouter() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/swagger/", httpSwagger.WrapHandler)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	s.log.Info("routes configured", "endpoints", []string{"/health", "/swagger/", "/ws"})
	return mux
}

// handleHealth reports OK iff the Store is reachable and the hub's session
// counter is >= 0 (always true, but checked for parity with spec.md §6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.store.Healthy(ctx); err != nil {
		s.log.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
		return
	}
	if s.hub.UserCount() < 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
