package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

const chatColumns = `id, participant_one, participant_two, type, is_active, expires_at,
	last_message, started_at, ended_at, ended_by, end_reason`

func scanChat(row interface{ Scan(dest ...any) error }) (*ChatRecord, error) {
	var c ChatRecord
	if err := row.Scan(
		&c.ID, &c.ParticipantOne, &c.ParticipantTwo, &c.Type, &c.IsActive, &c.ExpiresAt,
		&c.LastMessage, &c.StartedAt, &c.EndedAt, &c.EndedBy, &c.EndReason,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChat loads a chat by id.
func (s *Store) GetChat(chatID string) (*ChatRecord, error) {
	row := s.DB.QueryRow(`SELECT `+chatColumns+` FROM chats WHERE id = $1`, chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("chat not found")
	}
	if err != nil {
		return nil, apperr.TransientStore("could not load chat", err)
	}
	return chat, nil
}

// SaveMessage appends a message to the chat and updates its lastMessage,
// following the teacher's SaveMessage tx shape.
func (s *Store) SaveMessage(chatID, senderID, content string) (*ChatMessage, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, apperr.TransientStore("could not begin message transaction", err)
	}
	defer tx.Rollback()

	msg := &ChatMessage{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		SentAt:   time.Now(),
	}

	if _, err := tx.Exec(
		`INSERT INTO chat_messages (id, chat_id, sender_id, content, sent_at) VALUES ($1,$2,$3,$4,$5)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.SentAt,
	); err != nil {
		return nil, apperr.TransientStore("could not insert message", err)
	}

	if _, err := tx.Exec(`UPDATE chats SET last_message = $1 WHERE id = $2`, content, chatID); err != nil {
		return nil, apperr.TransientStore("could not update last message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.TransientStore("could not commit message", err)
	}
	return msg, nil
}

// MarkRead marks every message in chatID not sent by callerID and sent at or
// before ts as read.
func (s *Store) MarkRead(chatID, callerID string, ts time.Time) error {
	_, err := s.DB.Exec(
		`UPDATE chat_messages SET is_read = TRUE WHERE chat_id = $1 AND sender_id != $2 AND sent_at <= $3`,
		chatID, callerID, ts,
	)
	if err != nil {
		return apperr.TransientStore("could not mark messages read", err)
	}
	return nil
}

// EndChat marks a chat inactive with the given ender and optional reason.
func (s *Store) EndChat(chatID, endedBy string, reason *string) (*ChatRecord, error) {
	now := time.Now()
	res, err := s.DB.Exec(
		`UPDATE chats SET is_active = FALSE, ended_at = $1, ended_by = $2, end_reason = $3
		 WHERE id = $4 AND is_active = TRUE`,
		now, endedBy, reason, chatID,
	)
	if err != nil {
		return nil, apperr.TransientStore("could not end chat", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, apperr.Precondition("chat already ended")
	}
	return s.GetChat(chatID)
}

// ExpireChats marks every chat whose expiresAt has passed as inactive and
// returns the affected chat ids.
func (s *Store) ExpireChats() ([]string, error) {
	rows, err := s.DB.Query(
		`UPDATE chats SET is_active = FALSE, ended_at = now(), end_reason = 'expired'
		 WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= now()
		 RETURNING id`,
	)
	if err != nil {
		return nil, apperr.TransientStore("could not expire chats", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.TransientStore("could not scan expired chat", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
