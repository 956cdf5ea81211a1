package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/balzhinimaev/anomchat/internal/apperr"
	"github.com/balzhinimaev/anomchat/internal/chatrouter"
	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/geo"
	"github.com/balzhinimaev/anomchat/internal/hub"
	"github.com/balzhinimaev/anomchat/internal/matcher"
	"github.com/balzhinimaev/anomchat/internal/stats"
)

func newSession(s *Server, conn *websocket.Conn, userID string, telegramID int64) *hub.Session {
	sessionID := uuid.New().String()
	return hub.NewSession(s.hub, userID, telegramID, conn, s.dispatch, s.log, sessionID)
}

// dispatch routes one decoded inbound envelope to the matcher, chat router,
// or stats broadcaster, and translates any resulting error into a wire-level
// error{message} event (or a connection close for AuthFailure) per §7.
func (s *Server) dispatch(sess *hub.Session, env events.Envelope) {
	var err error

	switch env.Type {
	case events.KindConnectionAck:
		// Acknowledgement only; no state change.
		return

	case events.KindSearchStart:
		err = s.handleSearchStart(sess, env)

	case events.KindSearchCancel:
		err = s.matcher.CancelSearch(sess.UserID)

	case events.KindSearchSubscribeStats:
		err = s.handleSubscribeStats(sess)

	case events.KindSearchUnsubscribeStats:
		s.hub.LeaveRoom(sess, "search_stats_room")
		return

	case events.KindChatJoin:
		err = s.handleChatJoin(sess, env)

	case events.KindChatLeave:
		var p events.ChatLeavePayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			err = apperr.Validation("malformed chat:leave payload")
			break
		}
		s.hub.LeaveRoom(sess, chatrouter.RoomName(p.ChatID))
		return

	case events.KindChatMessage:
		var p events.ChatMessagePayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			err = apperr.Validation("malformed chat:message payload")
			break
		}
		err = s.chatRouter.Message(sess.UserID, p.ChatID, p.Content)

	case events.KindChatTyping:
		var p events.ChatTypingPayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			err = apperr.Validation("malformed chat:typing payload")
			break
		}
		err = s.chatRouter.Typing(sess.UserID, p.ChatID)

	case events.KindChatRead:
		var p events.ChatReadPayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			err = apperr.Validation("malformed chat:read payload")
			break
		}
		err = s.chatRouter.Read(sess.UserID, p.ChatID, time.UnixMilli(p.Timestamp))

	case events.KindChatEnd:
		var p events.ChatEndPayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			err = apperr.Validation("malformed chat:end payload")
			break
		}
		err = s.chatRouter.End(sess.UserID, p.ChatID, p.Reason)

	case events.KindChatRate:
		var p events.ChatRatePayload
		if jsonErr := json.Unmarshal(env.Payload, &p); jsonErr != nil {
			err = apperr.Validation("malformed chat:rate payload")
			break
		}
		err = s.chatRouter.Rate(sess.UserID, p.ChatID, p.Score, p.Comment)

	case events.KindContactRequest, events.KindContactRespond:
		// Profile/contact management is an out-of-scope external
		// collaborator; the envelope stays closed and complete, but
		// there is nothing behind it in this core.
		err = apperr.Validation("not implemented")

	default:
		err = apperr.Validation("unknown event type")
	}

	if err != nil {
		if apperr.Is(err, apperr.KindAuthFailure) {
			sess.Conn.Close()
			return
		}
		s.hub.SendError(sess, apperr.ClientMessage(err))
	}
}

func (s *Server) handleSearchStart(sess *hub.Session, env events.Envelope) error {
	var p events.SearchStartPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return apperr.Validation("malformed search:start payload")
	}

	criteria := matcher.Criteria{
		Gender:        p.Gender,
		Age:           p.Age,
		DesiredGender: p.DesiredGender,
		DesiredAgeMin: p.DesiredAgeMin,
		DesiredAgeMax: p.DesiredAgeMax,
		UseGeolocation: p.UseGeolocation,
	}
	if p.Rating != nil {
		criteria.Rating = *p.Rating
	}
	if p.MinAcceptableRating != nil {
		criteria.MinAcceptableRating = *p.MinAcceptableRating
	} else {
		criteria.MinAcceptableRating = -1
	}
	if p.Location != nil {
		criteria.Location = &geo.Point{Lat: p.Location.Latitude, Lng: p.Location.Longitude}
	}
	if p.MaxDistance != nil {
		criteria.MaxDistanceKm = *p.MaxDistance
	}

	result, err := s.matcher.StartSearch(sess.UserID, criteria)
	if err != nil {
		return err
	}

	s.hub.JoinRoom(sess, "search:"+sess.UserID)
	return s.announceSearchStatus(sess, result)
}

func (s *Server) announceSearchStatus(sess *hub.Session, result *matcher.Result) error {
	s.hub.SendToUser(sess.UserID, events.KindSearchStatus, events.SearchStatusPayload{Status: string(result.Status)})
	return nil
}

func (s *Server) handleSubscribeStats(sess *hub.Session) error {
	s.hub.JoinRoom(sess, "search_stats_room")

	active, err := s.store.GetActiveSearch(sess.UserID)
	if err != nil {
		return err
	}

	var gender string
	if active != nil {
		gender = active.Gender
	}
	snap, err := s.broadcaster.SnapshotForSubscriber(active != nil, gender)
	if err != nil {
		return err
	}
	s.hub.SendToUser(sess.UserID, events.KindSearchStats, stats.ToPayload(snap))
	return nil
}

func (s *Server) handleChatJoin(sess *hub.Session, env events.Envelope) error {
	var p events.ChatJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return apperr.Validation("malformed chat:join payload")
	}
	chat, err := s.store.GetChat(p.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(sess.UserID) {
		return apperr.Precondition("not a participant in this chat")
	}
	s.hub.JoinRoom(sess, chatrouter.RoomName(p.ChatID))
	return nil
}
