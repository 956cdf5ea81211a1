package chatrouter

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/balzhinimaev/anomchat/internal/apperr"
	"github.com/balzhinimaev/anomchat/internal/breaker"
	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/store"
)

func chatColumnNames() []string {
	return []string{
		"id", "participant_one", "participant_two", "type", "is_active", "expires_at",
		"last_message", "started_at", "ended_at", "ended_by", "end_reason",
	}
}

type fakeNotifier struct {
	mu        sync.Mutex
	toRoom    []string
	toRoomExc []string
	toUser    []string
}

func (f *fakeNotifier) BroadcastToRoom(room string, kind events.Kind, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRoom = append(f.toRoom, room)
}

func (f *fakeNotifier) BroadcastToRoomExcept(room, exceptUserID string, kind events.Kind, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRoomExc = append(f.toRoomExc, room)
}

func (f *fakeNotifier) SendToUser(userID string, kind events.Kind, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toUser = append(f.toUser, userID)
}

func newTestRouter(t *testing.T) (*Router, sqlmock.Sqlmock, *fakeNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := &store.Store{DB: db}
	notifier := &fakeNotifier{}
	br := breaker.New(1000, time.Hour, 1)
	r := New(st, notifier, br, slog.Default())
	return r, mock, notifier
}

func TestMessageRejectsNonParticipant(t *testing.T) {
	r, mock, notifier := newTestRouter(t)

	rows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", true, nil, nil, time.Now(), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(rows)

	err := r.Message("user-c", "chat-1", "hello")
	require.True(t, apperr.Is(err, apperr.KindPrecondition))
	require.Empty(t, notifier.toRoom)
}

func TestMessageRejectsEmptyContent(t *testing.T) {
	r, _, _ := newTestRouter(t)
	err := r.Message("user-a", "chat-1", "")
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMessageAppendsAndBroadcasts(t *testing.T) {
	r, mock, notifier := newTestRouter(t)

	rows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", true, nil, nil, time.Now(), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(rows)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE chats SET last_message").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := r.Message("user-a", "chat-1", "hello")
	require.NoError(t, err)
	require.Equal(t, []string{"chat:chat-1"}, notifier.toRoom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRejectsWhenChatEnded(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	rows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", false, nil, nil, time.Now(), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(rows)

	err := r.Message("user-a", "chat-1", "hello")
	require.True(t, apperr.Is(err, apperr.KindPrecondition))
}

func TestTypingExcludesSender(t *testing.T) {
	r, mock, notifier := newTestRouter(t)

	rows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", true, nil, nil, time.Now(), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(rows)

	err := r.Typing("user-a", "chat-1")
	require.NoError(t, err)
	require.Equal(t, []string{"chat:chat-1"}, notifier.toRoomExc)
}

func TestRateRejectsOutOfRangeScore(t *testing.T) {
	r, _, _ := newTestRouter(t)
	err := r.Rate("user-a", "chat-1", 6, nil)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRateRejectsDoubleRating(t *testing.T) {
	r, mock, _ := newTestRouter(t)

	rows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", true, nil, nil, time.Now(), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(rows)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("chat-1", "user-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := r.Rate("user-a", "chat-1", 5, nil)
	require.True(t, apperr.Is(err, apperr.KindPrecondition))
}

func TestRateNotifiesOtherParticipant(t *testing.T) {
	r, mock, notifier := newTestRouter(t)

	rows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", true, nil, nil, time.Now(), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(rows)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("chat-1", "user-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ratings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COALESCE\\(AVG").WithArgs("user-b").
		WillReturnRows(sqlmock.NewRows([]string{"mean"}).AddRow(4.5))
	mock.ExpectExec("UPDATE users SET rating").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := r.Rate("user-a", "chat-1", 5, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"user-b"}, notifier.toUser)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEndChatBroadcastsEnded(t *testing.T) {
	r, mock, notifier := newTestRouter(t)

	rows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", true, nil, nil, time.Now(), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(rows)
	mock.ExpectExec("UPDATE chats SET is_active = FALSE").WillReturnResult(sqlmock.NewResult(1, 1))

	endedRows := sqlmock.NewRows(chatColumnNames()).AddRow(
		"chat-1", "user-a", "user-b", "anonymous", false, nil, nil, time.Now(), time.Now(), "user-a", nil,
	)
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = \\$1").WithArgs("chat-1").WillReturnRows(endedRows)

	err := r.End("user-a", "chat-1", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"chat:chat-1"}, notifier.toRoom)
}
