// Package circuitbreaker protects the router from hammering a
// deployment that is already failing. Each deployment gets its own
// breaker with three states — closed, open, half-open — following the
// standard circuit breaker pattern; thresholds are grounded on
// CircuitBreakerConfig in original_source's routing config (failure
// threshold, recovery timeout, half-open max requests).
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// State is the circuit breaker's current posture.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config tunes one breaker's thresholds.
type Config struct {
	FailureThreshold   uint32        // consecutive failures that trip the breaker
	RecoveryTimeout    time.Duration // how long Open waits before probing again
	HalfOpenMaxRequests uint32       // concurrent probes allowed while half-open
	SuccessThreshold   uint32        // consecutive half-open successes to close
}

// DefaultConfig matches the original's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
		SuccessThreshold:    2,
	}
}

// Breaker is one deployment's circuit breaker. All counters are
// lock-free atomics so Allow/RecordSuccess/RecordFailure never block
// each other under concurrent request load; the mutex only guards the
// rarer state-transition bookkeeping (openedAt and the moves into and out
// of Open). Half-open admission is a compare-and-swap on halfOpenInFlight.
type Breaker struct {
	cfg Config

	state             atomic.Int32
	consecutiveFails  atomic.Uint32
	consecutiveOK     atomic.Uint32
	halfOpenInFlight  atomic.Uint32

	mu       sync.Mutex
	openedAt time.Time
}

// New builds a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	return &Breaker{cfg: cfg}
}

// State returns the breaker's current state, transitioning Open to
// HalfOpen first if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	s := State(b.state.Load())
	if s != StateOpen {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			b.halfOpenInFlight.Store(0)
			b.consecutiveOK.Store(0)
		}
		return StateHalfOpen
	}
	return StateOpen
}

// Allow reports whether a new request may proceed against this
// deployment, admitting at most HalfOpenMaxRequests concurrent probes
// while half-open.
func (b *Breaker) Allow() bool {
	switch b.State() {
	case StateClosed:
		return true
	case StateOpen:
		return false
	default: // half-open
		for {
			cur := b.halfOpenInFlight.Load()
			if cur >= b.cfg.HalfOpenMaxRequests {
				return false
			}
			if b.halfOpenInFlight.CompareAndSwap(cur, cur+1) {
				return true
			}
		}
	}
}

// RecordSuccess reports a successful call. Enough consecutive successes
// while half-open closes the breaker; a success while closed just resets
// the failure streak.
func (b *Breaker) RecordSuccess() {
	b.consecutiveFails.Store(0)

	if State(b.state.Load()) != StateHalfOpen {
		return
	}

	ok := b.consecutiveOK.Add(1)
	if ok >= b.cfg.SuccessThreshold {
		b.mu.Lock()
		b.state.Store(int32(StateClosed))
		b.consecutiveFails.Store(0)
		b.consecutiveOK.Store(0)
		b.halfOpenInFlight.Store(0)
		b.mu.Unlock()
		return
	}

	// This probe didn't close the breaker but it did complete; free its
	// slot so the next Allow() can admit another probe instead of
	// wedging at HalfOpenMaxRequests forever.
	for {
		cur := b.halfOpenInFlight.Load()
		if cur == 0 {
			break
		}
		if b.halfOpenInFlight.CompareAndSwap(cur, cur-1) {
			break
		}
	}
}

// RecordFailure reports a failed call. Enough consecutive failures
// trips the breaker open; any failure while half-open immediately
// re-opens it (the probe didn't pan out).
func (b *Breaker) RecordFailure() {
	if State(b.state.Load()) == StateHalfOpen {
		b.trip()
		return
	}

	fails := b.consecutiveFails.Add(1)
	if fails >= b.cfg.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Store(int32(StateOpen))
	b.openedAt = time.Now()
	b.consecutiveOK.Store(0)
	b.halfOpenInFlight.Store(0)
}

// Reset forces the breaker back to closed, used by admin endpoints or
// tests that need a known starting state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Store(int32(StateClosed))
	b.consecutiveFails.Store(0)
	b.consecutiveOK.Store(0)
	b.halfOpenInFlight.Store(0)
}
