// Package breaker implements the closed/open/half_open circuit breaker
// guarding Matcher and ChatRouter calls into the store. No example repo in
// the retrieved pack ships a breaker and introducing a third-party one (e.g.
// sony/gobreaker) would be an ungrounded dependency, so this is a plain
// mutex-and-timer state machine instead.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker counts consecutive failures and trips from Closed to Open once
// FailureThreshold is reached; after ResetTimeout it allows HalfOpenMaxAttempts
// trial calls, closing again on HalfOpenMaxAttempts consecutive successes or
// reopening on any single failure.
type Breaker struct {
	mu sync.Mutex

	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenMaxAttempts int

	state           State
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
}

func New(failureThreshold int, resetTimeout time.Duration, halfOpenMaxAttempts int) *Breaker {
	return &Breaker{
		FailureThreshold:    failureThreshold,
		ResetTimeout:        resetTimeout,
		HalfOpenMaxAttempts: halfOpenMaxAttempts,
		state:               Closed,
	}
}

// Allow reports whether a call may proceed. It transitions Open -> HalfOpen
// once ResetTimeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.ResetTimeout {
			b.state = HalfOpen
			b.consecutiveOK = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.HalfOpenMaxAttempts {
			b.state = Closed
			b.consecutiveFail = 0
			b.consecutiveOK = 0
		}
	case Closed:
		b.consecutiveFail = 0
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFail = 0
	b.consecutiveOK = 0
}

// Current returns the breaker's current state.
func (b *Breaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
