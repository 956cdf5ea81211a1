package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New(3, 50*time.Millisecond, 2)
	require.Equal(t, Closed, b.Current())
	require.True(t, b.Allow())
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New(3, 50*time.Millisecond, 2)
	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, Open, b.Current())
	require.False(t, b.Allow())
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := New(3, 50*time.Millisecond, 2)
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.Current())
	require.True(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCountWhenClosed(t *testing.T) {
	b := New(3, 50*time.Millisecond, 2)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.Current())
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	b := New(1, 20*time.Millisecond, 2)
	b.RecordFailure()
	require.Equal(t, Open, b.Current())

	time.Sleep(30 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.Current())
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	b := New(1, 10*time.Millisecond, 2)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordSuccess()
	require.Equal(t, HalfOpen, b.Current())
	b.RecordSuccess()
	require.Equal(t, Closed, b.Current())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := New(1, 10*time.Millisecond, 2)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordFailure()
	require.Equal(t, Open, b.Current())
}
