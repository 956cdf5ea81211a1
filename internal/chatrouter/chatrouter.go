// Package chatrouter implements ChatRouter: validated two-party chat
// operations. Generalizes the teacher's hub.handleChatMessage/
// handleTypingIndicator/handleStatusUpdate (which operate over a
// multi-member Chat) onto the exactly-two-participant ChatRecord this
// service uses instead (no group chat, per spec.md Non-goals).
package chatrouter

import (
	"log/slog"
	"time"

	"github.com/balzhinimaev/anomchat/internal/apperr"
	"github.com/balzhinimaev/anomchat/internal/breaker"
	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/store"
)

// Notifier is the subset of ConnectionHub ChatRouter needs: room fan-out
// (optionally skipping one user's sessions) and delivery to a single user.
type Notifier interface {
	BroadcastToRoom(room string, kind events.Kind, payload any)
	BroadcastToRoomExcept(room, exceptUserID string, kind events.Kind, payload any)
	SendToUser(userID string, kind events.Kind, payload any)
}

func RoomName(chatID string) string { return "chat:" + chatID }

type Router struct {
	store    *store.Store
	notifier Notifier
	breaker  *breaker.Breaker
	log      *slog.Logger
}

func New(st *store.Store, notifier Notifier, br *breaker.Breaker, logger *slog.Logger) *Router {
	return &Router{store: st, notifier: notifier, breaker: br, log: logger}
}

func (r *Router) guarded(fn func() error) error {
	if !r.breaker.Allow() {
		return apperr.TransientStore("chat service is temporarily unavailable", nil)
	}
	err := fn()
	if err != nil {
		if apperr.Is(err, apperr.KindTransientStore) || apperr.Is(err, apperr.KindInternal) {
			r.breaker.RecordFailure()
		}
		return err
	}
	r.breaker.RecordSuccess()
	return nil
}

// Message validates and applies chat:message, then broadcasts chat:message
// to the room.
func (r *Router) Message(callerID, chatID, content string) error {
	if content == "" {
		return apperr.Validation("content must not be empty")
	}
	return r.guarded(func() error {
		chat, err := r.authorize(callerID, chatID, true)
		if err != nil {
			return err
		}
		if _, err := r.store.SaveMessage(chat.ID, callerID, content); err != nil {
			return err
		}
		r.notifier.BroadcastToRoom(RoomName(chat.ID), events.KindChatMessage, events.ChatMessageOutPayload{
			ChatID:  chat.ID,
			Content: content,
			UserID:  callerID,
		})
		return nil
	})
}

// Typing validates chat:typing and relays it to everyone but the sender.
func (r *Router) Typing(callerID, chatID string) error {
	return r.guarded(func() error {
		if _, err := r.authorize(callerID, chatID, false); err != nil {
			return err
		}
		r.notifier.BroadcastToRoomExcept(RoomName(chatID), callerID, events.KindChatTyping, events.ChatTypingOutPayload{
			ChatID: chatID,
			UserID: callerID,
		})
		return nil
	})
}

// Read validates chat:read, marks messages read, and relays chat:read.
func (r *Router) Read(callerID, chatID string, ts time.Time) error {
	return r.guarded(func() error {
		if _, err := r.authorize(callerID, chatID, false); err != nil {
			return err
		}
		if err := r.store.MarkRead(chatID, callerID, ts); err != nil {
			return err
		}
		r.notifier.BroadcastToRoom(RoomName(chatID), events.KindChatRead, events.ChatReadOutPayload{
			ChatID:    chatID,
			UserID:    callerID,
			Timestamp: ts.UnixMilli(),
		})
		return nil
	})
}

// End validates chat:end, closes the chat, and relays chat:ended.
func (r *Router) End(callerID, chatID string, reason *string) error {
	return r.guarded(func() error {
		if _, err := r.authorize(callerID, chatID, true); err != nil {
			return err
		}
		if _, err := r.store.EndChat(chatID, callerID, reason); err != nil {
			return err
		}
		r.notifier.BroadcastToRoom(RoomName(chatID), events.KindChatEnded, events.ChatEndedPayload{
			ChatID:  chatID,
			EndedBy: callerID,
			Reason:  reason,
		})
		return nil
	})
}

// Rate validates chat:rate, inserts the rating, and notifies the rated
// participant.
func (r *Router) Rate(callerID, chatID string, score int, comment *string) error {
	if score < 1 || score > 5 {
		return apperr.Validation("score must be between 1 and 5")
	}
	return r.guarded(func() error {
		chat, err := r.authorize(callerID, chatID, false)
		if err != nil {
			return err
		}
		already, err := r.store.HasRated(chatID, callerID)
		if err != nil {
			return err
		}
		if already {
			return apperr.Precondition("already rated this chat")
		}

		ratedUserID := chat.OtherParticipant(callerID)
		if _, err := r.store.InsertRating(chatID, ratedUserID, callerID, score, comment); err != nil {
			return err
		}

		r.notifier.SendToUser(ratedUserID, events.KindChatRated, events.ChatRatedPayload{
			ChatID:  chatID,
			RatedBy: callerID,
			Score:   score,
		})
		return nil
	})
}

// authorize loads the chat and enforces caller-is-participant (and,
// optionally, isActive) per the §4.4 precondition column.
func (r *Router) authorize(callerID, chatID string, requireActive bool) (*store.ChatRecord, error) {
	chat, err := r.store.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(callerID) {
		return nil, apperr.Precondition("not a participant in this chat")
	}
	if requireActive && !chat.IsActive {
		return nil, apperr.Precondition("chat has ended")
	}
	return chat, nil
}
