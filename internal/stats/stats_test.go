package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/balzhinimaev/anomchat/internal/events"
	"github.com/balzhinimaev/anomchat/internal/store"
)

type fakeNotifier struct {
	broadcasts int
}

func (f *fakeNotifier) BroadcastToRoom(room string, kind events.Kind, payload any) {
	f.broadcasts++
}

// newTestBroadcasterWithSeed builds a Broadcaster with a pre-populated cached
// snapshot so Apply's incremental path never calls into the (nil) store, and
// a debounce window long enough that fire() never runs mid-test.
func newTestBroadcasterWithSeed(t *testing.T) *Broadcaster {
	t.Helper()
	b := New(nil, &fakeNotifier{}, time.Hour, time.Hour)
	b.snapshot = &store.StatsSnapshot{
		SearchingTotal: 5, SearchingMale: 3, SearchingFemale: 2,
	}
	b.cachedAt = time.Now()
	return b
}

func TestApplyStartBumpsGenderAndTotal(t *testing.T) {
	b := newTestBroadcasterWithSeed(t)
	b.Apply(ActionStart, "male")

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, 6, b.snapshot.SearchingTotal)
	require.Equal(t, 4, b.snapshot.SearchingMale)
}

func TestApplyCancelNeverGoesNegative(t *testing.T) {
	b := newTestBroadcasterWithSeed(t)
	b.snapshot.SearchingFemale = 0
	b.Apply(ActionCancel, "female")

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, 0, b.snapshot.SearchingFemale)
}

func TestApplyMatchDecrementsTotalByTwoAndBumpsMatches(t *testing.T) {
	b := newTestBroadcasterWithSeed(t)
	b.Apply(ActionMatch, "male")

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, 3, b.snapshot.SearchingTotal)
	require.Equal(t, 2, b.snapshot.SearchingMale)
	require.Equal(t, 1, b.snapshot.Matches24h)
}

func TestSnapshotForSubscriberCorrectsSelfUnderReporting(t *testing.T) {
	b := newTestBroadcasterWithSeed(t)
	snap, err := b.SnapshotForSubscriber(true, "female")
	require.NoError(t, err)
	require.Equal(t, 6, snap.SearchingTotal)
	require.Equal(t, 3, snap.SearchingFemale)
}

func TestSnapshotForSubscriberNoCorrectionWithoutActiveSearch(t *testing.T) {
	b := newTestBroadcasterWithSeed(t)
	snap, err := b.SnapshotForSubscriber(false, "female")
	require.NoError(t, err)
	require.Equal(t, 5, snap.SearchingTotal)
}

func TestRound2(t *testing.T) {
	require.Equal(t, 1.23, round2(1.2345))
	require.Equal(t, 1.24, round2(1.235))
}

func TestToPayloadMapsFields(t *testing.T) {
	snap := &store.StatsSnapshot{
		SearchingTotal: 5, SearchingMale: 3, SearchingFemale: 2,
		OnlineTotal: 10, OnlineMale: 6, OnlineFemale: 4,
		AvgSearchTimeTotal: 12.005, Matches24h: 7,
	}
	p := ToPayload(snap)
	require.Equal(t, 5, p.Total)
	require.Equal(t, 10, p.Online.Total)
	require.Equal(t, 7, p.AvgSearchTime.Matches24h)
}
