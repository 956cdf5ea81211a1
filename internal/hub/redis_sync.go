package hub

import (
	"context"
	"encoding/json"

	"github.com/balzhinimaev/anomchat/internal/events"
)

const syncChannel = "anomchat_sync"

type syncMessage struct {
	Origin     string      `json:"origin"`
	TargetType string      `json:"targetType"` // "user" or "room"
	Target     string      `json:"target"`
	Except     string      `json:"except,omitempty"`
	Kind       events.Kind `json:"kind"`
	Payload    any         `json:"payload"`
}

// publishCrossInstance fans a delivered event out to peer instances so a
// user connected to a different process still receives it, generalizing
// the teacher's Redis "chat_sync" publish in handleChatMessage.
func (h *Hub) publishCrossInstance(targetType, target string, kind events.Kind, payload any) {
	if h.rdb == nil {
		return
	}
	h.publishCrossInstanceExcept(targetType, target, "", kind, payload)
}

func (h *Hub) publishCrossInstanceExcept(targetType, target, except string, kind events.Kind, payload any) {
	if h.rdb == nil {
		return
	}
	msg := syncMessage{
		Origin:     h.instanceID,
		TargetType: targetType,
		Target:     target,
		Except:     except,
		Kind:       kind,
		Payload:    payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("could not marshal sync message", "error", err)
		return
	}
	if err := h.rdb.Publish(context.Background(), syncChannel, data).Err(); err != nil {
		h.log.Warn("could not publish sync message", "error", err)
	}
}

// ListenToRedis subscribes to the cross-instance sync channel and relays
// messages from peer instances to this instance's local sessions only —
// it never re-publishes, which is what keeps this from looping forever.
func (h *Hub) ListenToRedis() {
	if h.rdb == nil {
		return
	}
	sub := h.rdb.Subscribe(context.Background(), syncChannel)
	ch := sub.Channel()

	for msg := range ch {
		var sm syncMessage
		if err := json.Unmarshal([]byte(msg.Payload), &sm); err != nil {
			h.log.Warn("could not unmarshal sync message", "error", err)
			continue
		}
		if sm.Origin == h.instanceID {
			continue
		}

		env := events.Envelope{Type: sm.Kind}
		raw, err := json.Marshal(sm.Payload)
		if err != nil {
			continue
		}
		env.Payload = raw
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}

		switch sm.TargetType {
		case "user":
			h.mu.RLock()
			for s := range h.sessions[sm.Target] {
				h.enqueue(s, data)
			}
			h.mu.RUnlock()
		case "room":
			h.mu.RLock()
			for s := range h.rooms[sm.Target] {
				if sm.Except != "" && s.UserID == sm.Except {
					continue
				}
				h.enqueue(s, data)
			}
			h.mu.RUnlock()
		}
	}
}
