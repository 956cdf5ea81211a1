// Package events defines the closed set of inbound and outbound WebSocket
// event kinds and their typed payloads. No interface{}/any payload reaches
// the wire layer; Envelope.Payload is deferred json.RawMessage decoding,
// the same shape as the teacher's hub.WsMessage{Type, Payload, RoomID, Sender}.
package events

import "encoding/json"

type Kind string

const (
	// Client -> server
	KindConnectionAck          Kind = "connection:ack"
	KindSearchStart            Kind = "search:start"
	KindSearchCancel           Kind = "search:cancel"
	KindSearchSubscribeStats   Kind = "search:subscribe_stats"
	KindSearchUnsubscribeStats Kind = "search:unsubscribe_stats"
	KindChatJoin               Kind = "chat:join"
	KindChatLeave              Kind = "chat:leave"
	KindChatMessage            Kind = "chat:message"
	KindChatTyping             Kind = "chat:typing"
	KindChatRead               Kind = "chat:read"
	KindChatEnd                Kind = "chat:end"
	KindChatRate               Kind = "chat:rate"
	KindContactRequest         Kind = "contact:request"
	KindContactRespond         Kind = "contact:respond"

	// Server -> client
	KindConnectionRecovered Kind = "connection:recovered"
	KindSearchStatus        Kind = "search:status"
	KindSearchMatched       Kind = "search:matched"
	KindSearchExpired       Kind = "search:expired"
	KindSearchStats         Kind = "search:stats"
	KindChatEnded           Kind = "chat:ended"
	KindChatRated           Kind = "chat:rated"
	KindContactStatus       Kind = "contact:status"
	KindError               Kind = "error"
)

// Envelope is the wire-level message shape, generalized from the teacher's
// hub.WsMessage. RoomID and Sender are populated by the hub on dispatch, not
// by the client.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	Sender  string          `json:"sender,omitempty"`
}

func New(kind Kind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: kind, Payload: raw}, nil
}

// --- Client -> server payloads ---

type Location struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

type SearchStartPayload struct {
	Gender              string    `json:"gender"`
	Age                 int       `json:"age"`
	Rating              *float64  `json:"rating,omitempty"`
	DesiredGender       []string  `json:"desiredGender"`
	DesiredAgeMin       int       `json:"desiredAgeMin"`
	DesiredAgeMax       int       `json:"desiredAgeMax"`
	MinAcceptableRating *float64  `json:"minAcceptableRating,omitempty"`
	UseGeolocation      bool      `json:"useGeolocation"`
	Location            *Location `json:"location,omitempty"`
	MaxDistance         *int      `json:"maxDistance,omitempty"`
}

type ChatJoinPayload struct {
	ChatID string `json:"chatId"`
}

type ChatLeavePayload struct {
	ChatID string `json:"chatId"`
}

type ChatMessagePayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type ChatTypingPayload struct {
	ChatID string `json:"chatId"`
}

type ChatReadPayload struct {
	ChatID    string `json:"chatId"`
	Timestamp int64  `json:"timestamp"`
}

type ChatEndPayload struct {
	ChatID string  `json:"chatId"`
	Reason *string `json:"reason,omitempty"`
}

type ChatRatePayload struct {
	ChatID  string  `json:"chatId"`
	Score   int     `json:"score"`
	Comment *string `json:"comment,omitempty"`
}

type ContactRequestPayload struct {
	To     string `json:"to"`
	ChatID string `json:"chatId"`
}

type ContactRespondPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// --- Server -> client payloads ---

type SearchStatusPayload struct {
	Status string `json:"status"`
}

type MatchedUser struct {
	TelegramID int64  `json:"telegramId"`
	Gender     string `json:"gender"`
	Age        int    `json:"age"`
	ChatID     string `json:"chatId"`
}

type SearchMatchedPayload struct {
	MatchedUser MatchedUser `json:"matchedUser"`
}

type OnlineCounts struct {
	Total  int `json:"t"`
	Male   int `json:"m"`
	Female int `json:"f"`
}

type AvgSearchTime struct {
	Total     float64 `json:"t"`
	Male      float64 `json:"m"`
	Female    float64 `json:"f"`
	Matches24h int    `json:"matches24h"`
}

type SearchStatsPayload struct {
	Total         int           `json:"t"`
	Male          int           `json:"m"`
	Female        int           `json:"f"`
	Online        OnlineCounts  `json:"online"`
	AvgSearchTime AvgSearchTime `json:"avgSearchTime"`
}

type ChatMessageOutPayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	UserID  string `json:"userId"`
}

type ChatTypingOutPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type ChatReadOutPayload struct {
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type ChatEndedPayload struct {
	ChatID  string  `json:"chatId"`
	EndedBy string  `json:"endedBy"`
	Reason  *string `json:"reason,omitempty"`
}

type ChatRatedPayload struct {
	ChatID   string `json:"chatId"`
	RatedBy  string `json:"ratedBy"`
	Score    int    `json:"score"`
}

type ContactRequestOutPayload struct {
	From   string `json:"from"`
	ChatID string `json:"chatId"`
}

type ContactStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
