package hub

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/balzhinimaev/anomchat/internal/events"
)

// Handler processes one inbound envelope from a session. Routing to
// Matcher/ChatRouter/StatsBroadcaster is composed at the server layer, kept
// out of the hub itself so the hub stays a pure session/room component.
type Handler func(s *Session, env events.Envelope)

// Session is one authenticated real-time connection. A user may hold many
// concurrently (spec.md §3 SessionEntry).
type Session struct {
	ID          string
	UserID      string
	TelegramID  int64
	Conn        *websocket.Conn
	Send        chan []byte
	Rooms       map[string]bool
	ConnectedAt time.Time

	hub     *Hub
	handler Handler
	log     *slog.Logger
}

func NewSession(hub *Hub, userID string, telegramID int64, conn *websocket.Conn, handler Handler, logger *slog.Logger, sessionID string) *Session {
	return &Session{
		ID:          sessionID,
		UserID:      userID,
		TelegramID:  telegramID,
		Conn:        conn,
		Send:        make(chan []byte, 32),
		Rooms:       make(map[string]bool),
		ConnectedAt: time.Now(),
		hub:         hub,
		handler:     handler,
		log:         logger,
	}
}

// ReadPump reads envelopes off the connection and hands each to the
// handler in order, so per-session FIFO ordering falls out of running this
// loop on a single goroutine rather than fanning messages out.
func (s *Session) ReadPump() {
	defer func() {
		s.hub.Unregister(s)
		s.Conn.Close()
	}()

	cfg := s.hub.cfg
	s.Conn.SetReadLimit(cfg.MaxMessageSize)
	deadline := cfg.HeartbeatInterval + cfg.HeartbeatTimeout
	s.Conn.SetReadDeadline(time.Now().Add(deadline))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read error", "user_id", s.UserID, "error", err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.hub.SendError(s, "malformed event")
			continue
		}
		env.Sender = s.UserID
		s.handler(s, env)
	}
}

// WritePump drains Send and pings the peer on the heartbeat interval,
// batching any messages queued during a single write the way the teacher's
// WritePump coalesces c.Send into one frame.
func (s *Session) WritePump() {
	cfg := s.hub.cfg
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(s.Send)
			for i := 0; i < n; i++ {
				w.Write(<-s.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
