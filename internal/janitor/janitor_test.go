package janitor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/store"
)

type fakeExpirer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeExpirer) ExpireOldSearches() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeExpirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	rooms []string
}

func (f *fakeNotifier) BroadcastToRoom(room string, kind events.Kind, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, room)
}

func (f *fakeNotifier) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.rooms))
	copy(out, f.rooms)
	return out
}

func newTestLoop(t *testing.T, cfg Config) (*Loop, sqlmock.Sqlmock, *fakeExpirer, *fakeNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := &store.Store{DB: db}
	expirer := &fakeExpirer{}
	notifier := &fakeNotifier{}
	loop := New(cfg, st, expirer, notifier, slog.Default())
	return loop, mock, expirer, notifier
}

func TestJanitorRunsSearchExpirySweep(t *testing.T) {
	loop, mock, expirer, _ := newTestLoop(t, Config{
		SearchExpiryInterval: 10 * time.Millisecond,
		ChatExpiryInterval:   time.Hour,
		RetentionInterval:    time.Hour,
	})
	mock.MatchExpectationsInOrder(false)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	require.GreaterOrEqual(t, expirer.count(), 2)
}

func TestJanitorExpireChatsBroadcastsEnded(t *testing.T) {
	loop, mock, _, notifier := newTestLoop(t, Config{
		SearchExpiryInterval: time.Hour,
		ChatExpiryInterval:   10 * time.Millisecond,
		RetentionInterval:    time.Hour,
	})
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("UPDATE chats SET is_active = FALSE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("chat-1")).
		RowsWillBeClosed()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	require.Contains(t, notifier.snapshot(), "chat:chat-1")
}

func TestJanitorStopsOnContextCancel(t *testing.T) {
	loop, _, _, _ := newTestLoop(t, Config{
		SearchExpiryInterval: time.Hour,
		ChatExpiryInterval:   time.Hour,
		RetentionInterval:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor loop did not stop after context cancellation")
	}
}
