package store

import "time"

// User mirrors a row of the external user directory. The core reads
// gender/age/rating/presence for matching; its only writes to these rows are
// the presence fields (internal/directory) and the recomputed rating
// (InsertRating).
type User struct {
	ID         string
	TelegramID int64
	Gender     string
	Age        int
	Rating     float64
	IsActive   bool
	LastActive time.Time
}

type SearchStatus string

const (
	SearchStatusSearching SearchStatus = "searching"
	SearchStatusMatched   SearchStatus = "matched"
	SearchStatusCancelled SearchStatus = "cancelled"
	SearchStatusExpired   SearchStatus = "expired"
)

// SearchRecord is a declared intent to be paired. At most one record per
// user may be in SearchStatusSearching at a time.
type SearchRecord struct {
	ID                  string
	UserID              string
	TelegramID          int64
	Status              SearchStatus
	Gender              string
	Age                 int
	Rating              float64
	DesiredGender       []string
	DesiredAgeMin       int
	DesiredAgeMax       int
	MinAcceptableRating float64
	UseGeolocation      bool
	Longitude           *float64
	Latitude            *float64
	MaxDistanceKm       *int
	MatchedUserID       *string
	MatchedTelegramID   *int64
	MatchedChatID       *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// WantsAny reports whether the search's desired-gender set is universal.
func (s *SearchRecord) WantsAny() bool {
	for _, g := range s.DesiredGender {
		if g == "any" {
			return true
		}
	}
	return false
}

// DesiredSet returns the concrete genders this search will accept, expanding
// "any" to both known genders per the desiredSet() definition.
func (s *SearchRecord) DesiredSet() map[string]bool {
	if s.WantsAny() {
		return map[string]bool{"male": true, "female": true}
	}
	set := make(map[string]bool, len(s.DesiredGender))
	for _, g := range s.DesiredGender {
		if g == "male" || g == "female" {
			set[g] = true
		}
	}
	return set
}

type ChatType string

const (
	ChatTypeAnonymous ChatType = "anonymous"
	ChatTypePermanent ChatType = "permanent"
)

// ChatRecord is a two-party conversation created atomically with a match.
type ChatRecord struct {
	ID             string
	ParticipantOne string
	ParticipantTwo string
	Type           ChatType
	IsActive       bool
	ExpiresAt      *time.Time
	LastMessage    *string
	StartedAt      time.Time
	EndedAt        *time.Time
	EndedBy        *string
	EndReason      *string
}

// Participants returns the two participant ids.
func (c *ChatRecord) Participants() [2]string {
	return [2]string{c.ParticipantOne, c.ParticipantTwo}
}

// HasParticipant reports whether userID is one of the chat's two parties.
func (c *ChatRecord) HasParticipant(userID string) bool {
	return c.ParticipantOne == userID || c.ParticipantTwo == userID
}

// OtherParticipant returns the counterpart of userID, or "" if userID is not
// a participant.
func (c *ChatRecord) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantOne:
		return c.ParticipantTwo
	case c.ParticipantTwo:
		return c.ParticipantOne
	default:
		return ""
	}
}

// ChatMessage is one append-only entry in a chat's message list.
type ChatMessage struct {
	ID       string
	ChatID   string
	SenderID string
	Content  string
	SentAt   time.Time
	IsRead   bool
}

// Rating is a single 1-5 score left by one chat participant about the other.
type Rating struct {
	ID            string
	RatedUserID   string
	RaterUserID   string
	ChatID        string
	Score         int
	Comment       *string
	CreatedAt     time.Time
}

// StatsSnapshot is the derivable, cached view of system-wide search and
// presence counters.
type StatsSnapshot struct {
	SearchingTotal  int
	SearchingMale   int
	SearchingFemale int
	OnlineTotal     int
	OnlineMale      int
	OnlineFemale    int
	AvgSearchTimeMale   float64
	AvgSearchTimeFemale float64
	AvgSearchTimeTotal  float64
	Matches24h      int
	CachedAt        time.Time
}
