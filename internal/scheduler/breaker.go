package scheduler

import (
	"sync"
	"time"
)

// breaker is a consecutive-failure circuit breaker per subscription:
//   - on success: failures reset and the circuit closes.
//   - on failure: once failures >= trip, the circuit opens for an
//     exponentially growing cooldown.
type breaker struct {
	mu sync.Mutex
	m  map[string]*circuitState

	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	enabled    bool
}

type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func newBreaker(cfg Config) *breaker {
	b := &breaker{m: map[string]*circuitState{}}
	trip := cfg.BreakerTripFailures
	if trip == 0 {
		trip = 3
	}
	if trip < 0 {
		return b
	}
	b.enabled = true
	b.trip = trip
	b.baseDelay = cfg.BreakerBaseDelay
	if b.baseDelay <= 0 {
		b.baseDelay = 5 * time.Minute
	}
	b.maxDelay = cfg.BreakerMaxDelay
	if b.maxDelay <= 0 {
		b.maxDelay = 6 * time.Hour
	}
	b.resetAfter = cfg.BreakerResetAfter
	if b.resetAfter <= 0 {
		b.resetAfter = 24 * time.Hour
	}
	return b
}

// resetIfStaleLocked forgets failures that are older than resetAfter.
func (b *breaker) resetIfStaleLocked(now time.Time, st *circuitState) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (b *breaker) isOpen(now time.Time, id string) (bool, time.Time) {
	if !b.enabled {
		return false, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[id]
	if st == nil {
		return false, time.Time{}
	}
	b.resetIfStaleLocked(now, st)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (b *breaker) success(id string) {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	delete(b.m, id)
	b.mu.Unlock()
}

// failure records a failure and returns the open-until time when the circuit is open.
func (b *breaker) failure(now time.Time, id string) time.Time {
	if !b.enabled {
		return time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[id]
	if st == nil {
		st = &circuitState{}
		b.m[id] = st
	}
	b.resetIfStaleLocked(now, st)

	st.fails++
	st.lastFailure = now
	if st.fails < b.trip {
		return time.Time{}
	}

	d := b.baseDelay
	for i := 0; i < st.fails-b.trip; i++ {
		d *= 2
		if d >= b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	st.openUntil = now.Add(d)
	return st.openUntil
}

func (b *breaker) counts(now time.Time) (total, open int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total = len(b.m)
	for _, st := range b.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
