// Package circuitbreaker stops publishing to a platform after repeated
// transport failures and lets a single probe through once the cooldown ends.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/djlord-it/easy-post/internal/domain"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

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

type platformState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[domain.Platform]*platformState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

// New creates a breaker that opens after threshold consecutive failures.
// A threshold <= 0 disables the breaker.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[domain.Platform]*platformState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

func (cb *CircuitBreaker) Allow(p domain.Platform) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[p]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(p domain.Platform) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[p]
	if !ok {
		return
	}
	s.state = StateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(p domain.Platform) {
	if cb.threshold <= 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[p]
	if !ok {
		s = &platformState{}
		cb.states[p] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = StateOpen
		s.openedAt = cb.clock()
	}
}

// States reports every platform that has recorded a failure.
func (cb *CircuitBreaker) States() map[domain.Platform]State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	out := make(map[domain.Platform]State, len(cb.states))
	for p, s := range cb.states {
		out[p] = s.state
	}
	return out
}
