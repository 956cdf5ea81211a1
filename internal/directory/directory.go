// Package directory is the core's view of the external user profile system:
// gender, age, rating and presence lookups the matcher and hub need but
// never own, plus the presence updates (isActive, lastActive) the hub makes. Kept separate from internal/store's search/chat/rating tables
// because spec.md §3 marks User as "read-only for the core."
package directory

import (
	"database/sql"
	"errors"
	"time"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

type User struct {
	ID         string
	TelegramID int64
	Gender     string
	Age        int
	Rating     float64
	IsActive   bool
	LastActive time.Time
}

// Directory resolves users and tracks their liveness.
type Directory interface {
	GetUser(userID string) (*User, error)
	SetActive(userID string, active bool) error
	Touch(userID string) error
}

type pgDirectory struct {
	db *sql.DB
}

func New(db *sql.DB) Directory {
	return &pgDirectory{db: db}
}

func (d *pgDirectory) GetUser(userID string) (*User, error) {
	var u User
	err := d.db.QueryRow(
		`SELECT id, telegram_id, gender, age, rating, is_active, last_active FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.TelegramID, &u.Gender, &u.Age, &u.Rating, &u.IsActive, &u.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.TransientStore("could not load user", err)
	}
	return &u, nil
}

// SetActive flips the user's presence flag, set true on first session and
// false once the last session is gone.
func (d *pgDirectory) SetActive(userID string, active bool) error {
	_, err := d.db.Exec(`UPDATE users SET is_active = $1, last_active = now() WHERE id = $2`, active, userID)
	if err != nil {
		return apperr.TransientStore("could not update user activity", err)
	}
	return nil
}

// Touch refreshes lastActive without changing isActive, called on the
// hub's 10s heartbeat tick for every connected user.
func (d *pgDirectory) Touch(userID string) error {
	_, err := d.db.Exec(`UPDATE users SET last_active = now() WHERE id = $1`, userID)
	if err != nil {
		return apperr.TransientStore("could not touch user activity", err)
	}
	return nil
}
