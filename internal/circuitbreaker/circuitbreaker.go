package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// State is the circuit breaker state (Closed, HalfOpen, Open). The numeric values
// are exported as the circuitBreakerState gauge.
type State int

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

// CircuitBreaker protects upstream calls by opening after repeated failures
// and allowing probe requests in half-open state.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            State
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	now              func() time.Time
	onStateChange    func(component string, from, to State)
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	// OnStateChange is optional; called outside the lock with the breaker's component name.
	OnStateChange func(component string, from, to State)
}

// New creates a CircuitBreaker for the named component.
func New(component string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        component,
		now:              time.Now,
		onStateChange:    cfg.OnStateChange,
	}
}

// Call runs fn when the circuit allows it. When open, returns ErrOpen until the
// timeout has elapsed, then moves to half-open and lets probes through.
// Context cancellation by the caller is not counted as an upstream failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
			cb.mu.Unlock()
			return fmt.Errorf("%s: %w", cb.component, ErrOpen)
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.mu.Unlock()
		cb.notify(StateOpen, StateHalfOpen)
	} else {
		cb.mu.Unlock()
	}

	err := fn()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}

	cb.mu.Lock()
	from := cb.state
	to := from
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			cb.failureCount = 0
			to = StateOpen
		}
	} else {
		cb.successCount++
		cb.failureCount = 0
		if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			to = StateClosed
		}
	}
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
	return err
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.component, from, to)
	}
}

// State returns the current state (for metrics and health).
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Set lazily creates one breaker per upstream model, all sharing a Config.
// A nil *Set is valid and runs calls unguarded.
type Set struct {
	cfg      Config
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewSet returns an empty Set.
func NewSet(cfg Config) *Set {
	return &Set{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// For returns the breaker for the named component.
func (s *Set) For(component string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[component]
	if !ok {
		cb = New(component, s.cfg)
		s.breakers[component] = cb
	}
	return cb
}

// Call runs fn through the component's breaker.
func (s *Set) Call(ctx context.Context, component string, fn func() error) error {
	if s == nil {
		return fn()
	}
	return s.For(component).Call(ctx, fn)
}

// Open returns the sorted components whose breaker is currently open.
func (s *Set) Open() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []string
	for name, cb := range s.breakers {
		if cb.State() == StateOpen {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}
