package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

// InsertRating records score as ratedUserID's rating from raterUserID for
// chatID, enforcing the one-rating-per-rater-per-chat uniqueness at the
// database level, and returns the ratedUserID's recomputed mean rating.
func (s *Store) InsertRating(chatID, ratedUserID, raterUserID string, score int, comment *string) (float64, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return 0, apperr.TransientStore("could not begin rating transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO ratings (id, rated_user_id, rater_user_id, chat_id, score, comment, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.New().String(), ratedUserID, raterUserID, chatID, score, comment, time.Now(),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, apperr.Precondition("rating already submitted for this chat")
		}
		return 0, apperr.TransientStore("could not insert rating", err)
	}

	var mean float64
	if err := tx.QueryRow(`SELECT COALESCE(AVG(score), 0) FROM ratings WHERE rated_user_id = $1`, ratedUserID).Scan(&mean); err != nil {
		return 0, apperr.TransientStore("could not recompute rating", err)
	}

	if _, err := tx.Exec(`UPDATE users SET rating = $1 WHERE id = $2`, mean, ratedUserID); err != nil {
		return 0, apperr.TransientStore("could not persist recomputed rating", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.TransientStore("could not commit rating", err)
	}
	return mean, nil
}

// HasRated reports whether raterUserID has already rated chatID.
func (s *Store) HasRated(chatID, raterUserID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM ratings WHERE chat_id = $1 AND rater_user_id = $2)`,
		chatID, raterUserID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.TransientStore("could not check existing rating", err)
	}
	return exists, nil
}
