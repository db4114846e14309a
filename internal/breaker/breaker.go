// Package breaker stops calling a failing backend for a cooldown period.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpenState is returned by Execute while the breaker rejects calls.
var ErrOpenState = errors.New("circuit breaker is open")

// Settings configures the CircuitBreaker
type Settings struct {
	Name        string
	MaxRequests uint32        // Max requests in Half-Open state
	Timeout     time.Duration // Time to wait before switching from Open to Half-Open
	ReadyToTrip func(counts Counts) bool
	// IsFailure decides which errors count against the backend. Nil counts
	// every non-nil error.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from State, to State)
}

// Counts holds the numbers of requests and their results
type Counts struct {
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker is a state machine to prevent cascading failures
type CircuitBreaker struct {
	settings Settings

	mutex  sync.Mutex
	state  State
	counts Counts
	expiry time.Time
	// generation changes with every state change; results of calls admitted
	// in an older generation are dropped.
	generation uint64
}

// NewCircuitBreaker creates a new CircuitBreaker
func NewCircuitBreaker(st Settings) *CircuitBreaker {
	if st.MaxRequests == 0 {
		st.MaxRequests = 1
	}
	if st.Timeout == 0 {
		st.Timeout = 60 * time.Second
	}
	if st.ReadyToTrip == nil {
		st.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}
	if st.IsFailure == nil {
		st.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{settings: st}
}

// Name returns the name of the CircuitBreaker
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// State returns the current state of the CircuitBreaker
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.currentState(time.Now())
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	if cb.state == StateOpen && cb.expiry.Before(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state
}

// setState resets the counts; callers hold the mutex.
func (cb *CircuitBreaker) setState(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	cb.expiry = time.Time{}
	if to == StateOpen {
		cb.expiry = now.Add(cb.settings.Timeout)
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// acquire reserves a slot for one call and returns the generation it runs in.
func (cb *CircuitBreaker) acquire() (uint64, bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.currentState(time.Now()) {
	case StateOpen:
		return 0, false
	case StateHalfOpen:
		if cb.counts.Requests >= cb.settings.MaxRequests {
			return 0, false
		}
	}
	cb.counts.Requests++
	return cb.generation, true
}

// Allow reports whether a call would currently be admitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.currentState(time.Now()) {
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.counts.Requests < cb.settings.MaxRequests
	}
	return true
}

// Execute runs req when the breaker admits it and records the outcome. The
// outcome is ignored when the breaker changed state while req ran.
func (cb *CircuitBreaker) Execute(req func() error) error {
	generation, ok := cb.acquire()
	if !ok {
		return ErrOpenState
	}

	err := req()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	cb.currentState(now)
	if generation != cb.generation {
		return err
	}
	if cb.settings.IsFailure(err) {
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		switch cb.state {
		case StateClosed:
			if cb.settings.ReadyToTrip(cb.counts) {
				cb.setState(StateOpen, now)
			}
		case StateHalfOpen:
			cb.setState(StateOpen, now)
		}
		return err
	}

	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
	return err
}
