// Package stats implements StatsBroadcaster: a cached, debounced view of
// system-wide search and presence counters. Grounded in the teacher's
// ticker-loop idiom (store.StartCleanupWorker) but driven by explicit deltas
// plus a short debounce rather than a fixed interval.
package stats

import (
	"sync"
	"time"

	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/store"
)

const statsRoom = "search_stats_room"

// Notifier is the subset of ConnectionHub the broadcaster needs to fan out
// snapshots to room subscribers.
type Notifier interface {
	BroadcastToRoom(room string, kind events.Kind, payload any)
}

type Action string

const (
	ActionStart  Action = "start"
	ActionCancel Action = "cancel"
	ActionMatch  Action = "match"
)

type Broadcaster struct {
	store    *store.Store
	notifier Notifier

	cacheTTL       time.Duration
	debounceWindow time.Duration

	mu        sync.Mutex
	snapshot  *store.StatsSnapshot
	cachedAt  time.Time
	updating  bool
	pending   bool
	timer     *time.Timer
}

func New(st *store.Store, notifier Notifier, cacheTTL, debounceWindow time.Duration) *Broadcaster {
	return &Broadcaster{
		store:          st,
		notifier:       notifier,
		cacheTTL:       cacheTTL,
		debounceWindow: debounceWindow,
	}
}

// Snapshot returns the current cached snapshot, recomputing it synchronously
// if the cache is stale or empty.
func (b *Broadcaster) Snapshot() (*store.StatsSnapshot, error) {
	b.mu.Lock()
	fresh := b.snapshot != nil && time.Since(b.cachedAt) < b.cacheTTL
	if fresh {
		snap := *b.snapshot
		b.mu.Unlock()
		return &snap, nil
	}
	b.mu.Unlock()
	return b.refresh()
}

func (b *Broadcaster) refresh() (*store.StatsSnapshot, error) {
	snap, err := b.store.ComputeStatsSnapshot()
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.snapshot = snap
	b.cachedAt = snap.CachedAt
	b.mu.Unlock()
	return snap, nil
}

// Apply applies an incremental delta for the given action/gender and
// schedules a debounced broadcast. Matches the §4.3 incremental rules:
// start/cancel adjust only the affected user's own count, match adjusts both
// (but the counterpart's gender bucket self-corrects on the next full
// refresh, since the caller only knows one side).
func (b *Broadcaster) Apply(action Action, gender string) {
	b.mu.Lock()
	if b.snapshot == nil {
		b.mu.Unlock()
		b.scheduleBroadcast()
		return
	}

	switch action {
	case ActionStart:
		b.snapshot.SearchingTotal++
		bumpGender(b.snapshot, gender, 1)
	case ActionCancel:
		b.snapshot.SearchingTotal = max0(b.snapshot.SearchingTotal - 1)
		bumpGender(b.snapshot, gender, -1)
	case ActionMatch:
		b.snapshot.SearchingTotal = max0(b.snapshot.SearchingTotal - 2)
		bumpGender(b.snapshot, gender, -1)
		b.snapshot.Matches24h++
	}
	b.mu.Unlock()

	b.scheduleBroadcast()
}

// Nudge schedules a debounced rebroadcast without applying any delta, used
// by ConnectionHub's activity heartbeat to refresh the online counts (which
// only change via a full recompute, never incrementally).
func (b *Broadcaster) Nudge() {
	b.scheduleBroadcast()
}

func bumpGender(snap *store.StatsSnapshot, gender string, delta int) {
	switch gender {
	case "male":
		snap.SearchingMale = max0(snap.SearchingMale + delta)
	case "female":
		snap.SearchingFemale = max0(snap.SearchingFemale + delta)
	}
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// scheduleBroadcast coalesces bursts of Apply calls into a single broadcast
// debounceWindow after the first one in a burst, using the re-entrance guard
// described in §4.3 (updating/pending flags).
func (b *Broadcaster) scheduleBroadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		return
	}
	if b.updating {
		b.pending = true
		return
	}
	b.timer = time.AfterFunc(b.debounceWindow, b.fire)
}

func (b *Broadcaster) fire() {
	b.mu.Lock()
	b.timer = nil
	b.updating = true
	b.mu.Unlock()

	snap, err := b.refresh()

	b.mu.Lock()
	b.updating = false
	pending := b.pending
	b.pending = false
	b.mu.Unlock()

	if err == nil {
		b.notifier.BroadcastToRoom(statsRoom, events.KindSearchStats, toPayload(snap))
	}

	if pending {
		b.scheduleBroadcast()
	}
}

// SnapshotForSubscriber returns the current snapshot with an extra delta
// applied if the subscribing user's own active search is not yet reflected
// in the cached snapshot, avoiding the self-under-reporting race described
// in §4.3. The correction is applied to the returned copy only.
func (b *Broadcaster) SnapshotForSubscriber(hasActiveSearch bool, gender string) (*store.StatsSnapshot, error) {
	snap, err := b.Snapshot()
	if err != nil {
		return nil, err
	}
	if !hasActiveSearch {
		return snap, nil
	}
	corrected := *snap
	corrected.SearchingTotal++
	bumpGender(&corrected, gender, 1)
	return &corrected, nil
}

func toPayload(snap *store.StatsSnapshot) events.SearchStatsPayload {
	return events.SearchStatsPayload{
		Total:  snap.SearchingTotal,
		Male:   snap.SearchingMale,
		Female: snap.SearchingFemale,
		Online: events.OnlineCounts{
			Total:  snap.OnlineTotal,
			Male:   snap.OnlineMale,
			Female: snap.OnlineFemale,
		},
		AvgSearchTime: events.AvgSearchTime{
			Total:      round2(snap.AvgSearchTimeTotal),
			Male:       round2(snap.AvgSearchTimeMale),
			Female:     round2(snap.AvgSearchTimeFemale),
			Matches24h: snap.Matches24h,
		},
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// ToPayload exposes toPayload for callers outside the package (e.g. the
// search:subscribe_stats handler sending the immediate, corrected snapshot).
func ToPayload(snap *store.StatsSnapshot) events.SearchStatsPayload {
	return toPayload(snap)
}
