package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

// CreateSearch cancels any existing searching record for the user, then
// inserts a fresh one. Mirrors the teacher's tx.Begin/defer Rollback/Commit
// shape used throughout pkg/store.
func (s *Store) CreateSearch(rec *SearchRecord) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return apperr.TransientStore("could not begin search transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE searches SET status = 'cancelled', updated_at = now() WHERE user_id = $1 AND status = 'searching'`,
		rec.UserID,
	); err != nil {
		return apperr.TransientStore("could not cancel prior search", err)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now()
	rec.Status = SearchStatusSearching
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err = tx.Exec(
		`INSERT INTO searches (
			id, user_id, telegram_id, status, gender, age, rating, desired_gender,
			desired_age_min, desired_age_max, min_acceptable_rating, use_geolocation,
			longitude, latitude, max_distance_km, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		rec.ID, rec.UserID, rec.TelegramID, rec.Status, rec.Gender, rec.Age, rec.Rating,
		pq.Array(rec.DesiredGender), rec.DesiredAgeMin, rec.DesiredAgeMax, rec.MinAcceptableRating,
		rec.UseGeolocation, rec.Longitude, rec.Latitude, rec.MaxDistanceKm, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return apperr.TransientStore("could not insert search", err)
	}

	return tx.Commit()
}

func scanSearch(row interface {
	Scan(dest ...any) error
}) (*SearchRecord, error) {
	var rec SearchRecord
	var desired pq.StringArray
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.TelegramID, &rec.Status, &rec.Gender, &rec.Age, &rec.Rating,
		&desired, &rec.DesiredAgeMin, &rec.DesiredAgeMax, &rec.MinAcceptableRating, &rec.UseGeolocation,
		&rec.Longitude, &rec.Latitude, &rec.MaxDistanceKm,
		&rec.MatchedUserID, &rec.MatchedTelegramID, &rec.MatchedChatID,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.DesiredGender = desired
	return &rec, nil
}

const searchColumns = `id, user_id, telegram_id, status, gender, age, rating, desired_gender,
	desired_age_min, desired_age_max, min_acceptable_rating, use_geolocation,
	longitude, latitude, max_distance_km, matched_user_id, matched_telegram_id, matched_chat_id,
	created_at, updated_at`

// GetActiveSearch returns the user's current searching record, or nil if none.
func (s *Store) GetActiveSearch(userID string) (*SearchRecord, error) {
	row := s.DB.QueryRow(`SELECT `+searchColumns+` FROM searches WHERE user_id = $1 AND status = 'searching'`, userID)
	rec, err := scanSearch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.TransientStore("could not load active search", err)
	}
	return rec, nil
}

// GetSearch returns a search record by id.
func (s *Store) GetSearch(id string) (*SearchRecord, error) {
	row := s.DB.QueryRow(`SELECT `+searchColumns+` FROM searches WHERE id = $1`, id)
	rec, err := scanSearch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("search not found")
	}
	if err != nil {
		return nil, apperr.TransientStore("could not load search", err)
	}
	return rec, nil
}

// FindCandidates returns every other user's searching record for coarse
// prefiltering by gender; the matcher applies the rest of the predicate
// in-process (age window, geolocation, rating) since it needs per-pair math.
func (s *Store) FindCandidates(excludeUserID string, genders []string) ([]*SearchRecord, error) {
	rows, err := s.DB.Query(
		`SELECT `+searchColumns+` FROM searches WHERE status = 'searching' AND user_id != $1 AND gender = ANY($2) ORDER BY created_at ASC`,
		excludeUserID, pq.Array(genders),
	)
	if err != nil {
		return nil, apperr.TransientStore("could not query candidates", err)
	}
	defer rows.Close()

	var out []*SearchRecord
	for rows.Next() {
		rec, err := scanSearch(rows)
		if err != nil {
			return nil, apperr.TransientStore("could not scan candidate", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CancelSearch transitions the user's searching record to cancelled. It is
// idempotent: if the record is already matched, it is left untouched and the
// existing matchedWith is returned; if none exists, it is a no-op.
func (s *Store) CancelSearch(userID string) (*SearchRecord, error) {
	active, err := s.GetActiveSearch(userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}

	res, err := s.DB.Exec(
		`UPDATE searches SET status = 'cancelled', updated_at = now() WHERE id = $1 AND status = 'searching'`,
		active.ID,
	)
	if err != nil {
		return nil, apperr.TransientStore("could not cancel search", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Lost the race to a concurrent match transition; reload and return it.
		return s.GetSearch(active.ID)
	}
	active.Status = SearchStatusCancelled
	return active, nil
}

// CreateMatchAtomic creates the chat and transitions both search records to
// matched in a single transaction. If either update affects zero rows (the
// record already left searching, e.g. a concurrent match or cancellation),
// the whole transaction rolls back and an apperr.Precondition error is
// returned.
func (s *Store) CreateMatchAtomic(a, b *SearchRecord) (*ChatRecord, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, apperr.TransientStore("could not begin match transaction", err)
	}
	defer tx.Rollback()

	chat := &ChatRecord{
		ID:             uuid.New().String(),
		ParticipantOne: a.UserID,
		ParticipantTwo: b.UserID,
		Type:           ChatTypeAnonymous,
		IsActive:       true,
		StartedAt:      time.Now(),
	}
	expiresAt := chat.StartedAt.Add(24 * time.Hour)
	chat.ExpiresAt = &expiresAt

	if _, err := tx.Exec(
		`INSERT INTO chats (id, participant_one, participant_two, type, is_active, expires_at, started_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		chat.ID, chat.ParticipantOne, chat.ParticipantTwo, chat.Type, chat.IsActive, chat.ExpiresAt, chat.StartedAt,
	); err != nil {
		return nil, apperr.TransientStore("could not create chat", err)
	}

	if err := transitionToMatched(tx, a.ID, b.UserID, b.TelegramID, chat.ID); err != nil {
		return nil, err
	}
	if err := transitionToMatched(tx, b.ID, a.UserID, a.TelegramID, chat.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.TransientStore("could not commit match", err)
	}
	return chat, nil
}

func transitionToMatched(tx *sql.Tx, searchID, matchedUserID string, matchedTelegramID int64, chatID string) error {
	res, err := tx.Exec(
		`UPDATE searches SET status = 'matched', matched_user_id = $1, matched_telegram_id = $2,
		 matched_chat_id = $3, updated_at = now() WHERE id = $4 AND status = 'searching'`,
		matchedUserID, matchedTelegramID, chatID, searchID,
	)
	if err != nil {
		return apperr.TransientStore("could not transition search to matched", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperr.TransientStore("could not confirm match transition", err)
	}
	if affected == 0 {
		return apperr.Precondition("search already left the searching state")
	}
	return nil
}

// ExpireOldSearches transitions every searching record older than ttl to
// expired and returns the affected user ids.
func (s *Store) ExpireOldSearches(ttl time.Duration) ([]string, error) {
	rows, err := s.DB.Query(
		`UPDATE searches SET status = 'expired', updated_at = now()
		 WHERE status = 'searching' AND created_at <= $1
		 RETURNING user_id`,
		time.Now().Add(-ttl),
	)
	if err != nil {
		return nil, apperr.TransientStore("could not expire searches", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.TransientStore("could not scan expired search", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}
