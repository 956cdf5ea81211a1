// Package hub implements ConnectionHub: the set of authenticated sessions,
// server-to-user/room event routing, and reconnection grace. Generalized
// from the teacher's pkg/hub.Hub (channel-based Register/Unregister run
// loop, map[string]map[*Client]bool fan-out) onto this service's
// single-room-per-chat, per-user-timer semantics.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/balzhinimaev/anomchat/internal/directory"
	"github.com/balzhinimaev/anomchat/internal/events"
)

const statsRoom = "search_stats_room"

// SearchCanceller is the subset of Matcher the hub needs: cancelling a
// user's active search once the disconnect grace period elapses.
type SearchCanceller interface {
	CancelSearch(userID string) error
}

// StatsNudger is the subset of StatsBroadcaster the hub needs to trigger a
// rebroadcast on the activity heartbeat.
type StatsNudger interface {
	Nudge()
}

type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	DisconnectGrace   time.Duration
	RoomRetention     time.Duration
	ReconnectWindow   time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  20 * time.Second,
		WriteWait:         10 * time.Second,
		MaxMessageSize:    1024 * 1024,
		DisconnectGrace:   10 * time.Second,
		RoomRetention:     2 * time.Minute,
		ReconnectWindow:   2 * time.Minute,
	}
}

type registration struct {
	session   *Session
	reconnect bool
}

type Hub struct {
	cfg Config
	log *slog.Logger

	directory directory.Directory
	canceller SearchCanceller
	nudger    StatsNudger

	rdb       *redis.Client
	instanceID string

	mu              sync.RWMutex
	sessions        map[string]map[*Session]bool
	rooms           map[string]map[*Session]bool
	userRooms       map[string]map[string]bool
	lastDisconnect  map[string]time.Time
	graceTimers     map[string]*time.Timer
	retentionTimers map[string]*time.Timer

	register   chan registration
	unregister chan *Session

	done chan struct{}
}

func New(cfg Config, dir directory.Directory, canceller SearchCanceller, rdb *redis.Client, instanceID string, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:             cfg,
		log:             logger,
		directory:       dir,
		canceller:       canceller,
		rdb:             rdb,
		instanceID:      instanceID,
		sessions:        make(map[string]map[*Session]bool),
		rooms:           make(map[string]map[*Session]bool),
		userRooms:       make(map[string]map[string]bool),
		lastDisconnect:  make(map[string]time.Time),
		graceTimers:     make(map[string]*time.Timer),
		retentionTimers: make(map[string]*time.Timer),
		register:        make(chan registration),
		unregister:      make(chan *Session),
		done:            make(chan struct{}),
	}
}

// SetStatsNudger wires the stats broadcaster after construction, breaking
// the hub<->stats initialization cycle (stats.Broadcaster also takes the hub
// as its Notifier).
func (h *Hub) SetStatsNudger(n StatsNudger) { h.nudger = n }

// SetSearchCanceller wires the matcher after construction, breaking the
// hub<->matcher initialization cycle (Matcher also takes the hub as its
// Notifier).
func (h *Hub) SetSearchCanceller(c SearchCanceller) { h.canceller = c }

// Run drives the registration loop and the activity heartbeat. Blocks until
// ctx-driven shutdown closes h.done via Stop.
func (h *Hub) Run() {
	h.log.Info("connection hub started")
	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case reg := <-h.register:
			h.handleRegister(reg.session, reg.reconnect)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case <-heartbeat.C:
			h.refreshActivity()
		case <-h.done:
			return
		}
	}
}

func (h *Hub) Stop() { close(h.done) }

func (h *Hub) Register(s *Session, reconnect bool) { h.register <- registration{session: s, reconnect: reconnect} }
func (h *Hub) Unregister(s *Session)                { h.unregister <- s }

func (h *Hub) handleRegister(s *Session, reconnect bool) {
	h.mu.Lock()

	if h.sessions[s.UserID] == nil {
		h.sessions[s.UserID] = make(map[*Session]bool)
	}
	first := len(h.sessions[s.UserID]) == 0
	h.sessions[s.UserID][s] = true

	recovered := false
	if first {
		if t, ok := h.graceTimers[s.UserID]; ok {
			t.Stop()
			delete(h.graceTimers, s.UserID)
		}
		if reconnect {
			if last, ok := h.lastDisconnect[s.UserID]; ok && time.Since(last) <= h.cfg.ReconnectWindow {
				for room := range h.userRooms[s.UserID] {
					h.joinRoomLocked(s, room)
				}
				recovered = true
			}
		}
		if t, ok := h.retentionTimers[s.UserID]; ok {
			t.Stop()
			delete(h.retentionTimers, s.UserID)
		}
	}
	h.mu.Unlock()

	if err := h.directory.SetActive(s.UserID, true); err != nil {
		h.log.Warn("could not mark user active", "user_id", s.UserID, "error", err)
	}

	if recovered {
		h.sendToSession(s, events.KindConnectionRecovered, struct{}{})
	}

	h.log.Debug("session registered", "user_id", s.UserID, "session_id", s.ID, "reconnect", reconnect, "recovered", recovered)
}

func (h *Hub) handleUnregister(s *Session) {
	h.mu.Lock()
	userID := s.UserID

	if sessions, ok := h.sessions[userID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.sessions, userID)
		}
	}
	// Only drop the session from each room's live delivery set here.
	// userRooms (the user's room membership, independent of any one
	// session) survives a disconnect so a reconnect within the window can
	// restore it; it is cleared explicitly by LeaveRoom or by
	// onRetentionExpire once the window lapses.
	for room := range s.Rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, s)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	_, stillHasSessions := h.sessions[userID]
	h.mu.Unlock()

	close(s.Send)

	if stillHasSessions {
		return
	}

	if err := h.directory.SetActive(userID, false); err != nil {
		h.log.Warn("could not mark user inactive", "user_id", userID, "error", err)
	}

	h.mu.Lock()
	h.lastDisconnect[userID] = time.Now()
	h.graceTimers[userID] = time.AfterFunc(h.cfg.DisconnectGrace, func() { h.onGraceExpire(userID) })
	h.retentionTimers[userID] = time.AfterFunc(h.cfg.RoomRetention, func() { h.onRetentionExpire(userID) })
	h.mu.Unlock()

	h.log.Debug("session unregistered", "user_id", userID, "session_id", s.ID)
}

func (h *Hub) onGraceExpire(userID string) {
	h.mu.RLock()
	_, stillConnected := h.sessions[userID]
	h.mu.RUnlock()
	if stillConnected {
		return
	}
	if err := h.canceller.CancelSearch(userID); err != nil {
		h.log.Warn("disconnect-triggered cancel failed", "user_id", userID, "error", err)
	}
}

func (h *Hub) onRetentionExpire(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, stillConnected := h.sessions[userID]; stillConnected {
		return
	}
	delete(h.userRooms, userID)
}

func (h *Hub) refreshActivity() {
	h.mu.RLock()
	userIDs := make([]string, 0, len(h.sessions))
	for userID := range h.sessions {
		userIDs = append(userIDs, userID)
	}
	h.mu.RUnlock()

	if len(userIDs) == 0 {
		return
	}
	for _, userID := range userIDs {
		if err := h.directory.Touch(userID); err != nil {
			h.log.Warn("could not refresh last active", "user_id", userID, "error", err)
		}
	}
	if h.nudger != nil {
		h.nudger.Nudge()
	}
}

// JoinRoom adds s to room, restoring it on reconnection within the window.
func (h *Hub) JoinRoom(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinRoomLocked(s, room)
}

func (h *Hub) joinRoomLocked(s *Session, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Session]bool)
	}
	h.rooms[room][s] = true
	s.Rooms[room] = true

	if h.userRooms[s.UserID] == nil {
		h.userRooms[s.UserID] = make(map[string]bool)
	}
	h.userRooms[s.UserID][room] = true
}

// LeaveRoom removes s from room.
func (h *Hub) LeaveRoom(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(s, room)
}

func (h *Hub) leaveRoomLocked(s *Session, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(s.Rooms, room)

	stillHeld := false
	if sessions, ok := h.sessions[s.UserID]; ok {
		for other := range sessions {
			if other != s && other.Rooms[room] {
				stillHeld = true
				break
			}
		}
	}
	if !stillHeld {
		delete(h.userRooms[s.UserID], room)
	}
}

// SendToUser delivers payload to every session of userID, in dispatch order
// per session. No-op if the user has no sessions.
func (h *Hub) SendToUser(userID string, kind events.Kind, payload any) {
	h.deliverToUser(userID, kind, payload)
	h.publishCrossInstance("user", userID, kind, payload)
}

func (h *Hub) deliverToUser(userID string, kind events.Kind, payload any) {
	env, err := events.New(kind, payload)
	if err != nil {
		h.log.Error("could not marshal event", "kind", kind, "error", err)
		return
	}
	data, _ := json.Marshal(env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[userID] {
		h.enqueue(s, data)
	}
}

func (h *Hub) sendToSession(s *Session, kind events.Kind, payload any) {
	env, err := events.New(kind, payload)
	if err != nil {
		h.log.Error("could not marshal event", "kind", kind, "error", err)
		return
	}
	data, _ := json.Marshal(env)
	h.enqueue(s, data)
}

// BroadcastToRoom delivers payload to every session currently joined to room.
func (h *Hub) BroadcastToRoom(room string, kind events.Kind, payload any) {
	h.deliverToRoom(room, kind, payload)
	h.publishCrossInstance("room", room, kind, payload)
}

// BroadcastToRoomExcept is BroadcastToRoom but skips exceptUserID's sessions
// (used for chat:typing, which must not echo back to the sender).
func (h *Hub) BroadcastToRoomExcept(room, exceptUserID string, kind events.Kind, payload any) {
	h.deliverToRoomExcept(room, exceptUserID, kind, payload)
	h.publishCrossInstanceExcept("room", room, exceptUserID, kind, payload)
}

func (h *Hub) deliverToRoom(room string, kind events.Kind, payload any) {
	h.deliverToRoomExcept(room, "", kind, payload)
}

func (h *Hub) deliverToRoomExcept(room, exceptUserID string, kind events.Kind, payload any) {
	env, err := events.New(kind, payload)
	if err != nil {
		h.log.Error("could not marshal event", "kind", kind, "error", err)
		return
	}
	data, _ := json.Marshal(env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[room] {
		if exceptUserID != "" && s.UserID == exceptUserID {
			continue
		}
		h.enqueue(s, data)
	}
}

func (h *Hub) enqueue(s *Session, data []byte) {
	select {
	case s.Send <- data:
	default:
		h.log.Warn("session send buffer full, dropping", "user_id", s.UserID, "session_id", s.ID)
	}
}

// SendError delivers an error{message} event to a single session — per
// §4.4, violations never reach the room, only the caller.
func (h *Hub) SendError(s *Session, message string) {
	h.sendToSession(s, events.KindError, events.ErrorPayload{Message: message})
}

// UserCount returns the number of distinct users with at least one live
// session, used by the /health check.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// IsOnline reports whether userID currently holds at least one session.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}
