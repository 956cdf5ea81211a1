// Package janitor runs the periodic sweeps spec.md §4.6 calls JanitorLoop,
// generalizing the teacher's store.StartCleanupWorker(interval, maxAge)
// single-ticker pattern into three independently-scheduled tickers.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/store"
)

// SearchExpirer is the subset of Matcher the janitor needs for the search
// sweep (kept as an interface so janitor doesn't import matcher directly).
type SearchExpirer interface {
	ExpireOldSearches() error
}

// Notifier is the subset of ConnectionHub the janitor needs to announce
// chat expiry to a room.
type Notifier interface {
	BroadcastToRoom(room string, kind events.Kind, payload any)
}

type Config struct {
	SearchExpiryInterval time.Duration
	ChatExpiryInterval   time.Duration
	RetentionInterval    time.Duration
}

type Loop struct {
	cfg      Config
	store    *store.Store
	expirer  SearchExpirer
	notifier Notifier
	log      *slog.Logger
}

func New(cfg Config, st *store.Store, expirer SearchExpirer, notifier Notifier, logger *slog.Logger) *Loop {
	return &Loop{cfg: cfg, store: st, expirer: expirer, notifier: notifier, log: logger}
}

// Run starts the three sweeps and blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	searchTicker := time.NewTicker(l.cfg.SearchExpiryInterval)
	chatTicker := time.NewTicker(l.cfg.ChatExpiryInterval)
	retentionTicker := time.NewTicker(l.cfg.RetentionInterval)
	defer searchTicker.Stop()
	defer chatTicker.Stop()
	defer retentionTicker.Stop()

	l.log.Info("janitor loop started",
		"search_expiry_interval", l.cfg.SearchExpiryInterval,
		"chat_expiry_interval", l.cfg.ChatExpiryInterval,
		"retention_interval", l.cfg.RetentionInterval)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("janitor loop stopped")
			return
		case <-searchTicker.C:
			if err := l.expirer.ExpireOldSearches(); err != nil {
				l.log.Error("search expiry sweep failed", "error", err)
			}
		case <-chatTicker.C:
			l.expireChats()
		case <-retentionTicker.C:
			l.retention()
		}
	}
}

func (l *Loop) expireChats() {
	chatIDs, err := l.store.ExpireChats()
	if err != nil {
		l.log.Error("chat expiry sweep failed", "error", err)
		return
	}
	for _, chatID := range chatIDs {
		l.notifier.BroadcastToRoom("chat:"+chatID, events.KindChatEnded, events.ChatEndedPayload{
			ChatID:  chatID,
			EndedBy: "",
			Reason:  strPtr("expired"),
		})
	}
}

// retention is the out-of-scope-for-the-core long-term retention hook
// spec.md §4.6 calls out ("delete tokens/records past retention"); there is
// no token store in this core, so the hook currently has nothing to do.
func (l *Loop) retention() {
	l.log.Debug("retention sweep ran", "note", "no retained records in this core")
}

func strPtr(s string) *string { return &s }
