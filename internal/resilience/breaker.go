package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned synchronously while a breaker rejects calls.
var ErrBreakerOpen = errors.New("Circuit breaker is open")

// ErrHalfOpenSaturated is returned when the half-open probe cap is reached.
var ErrHalfOpenSaturated = errors.New("circuit breaker half-open call limit reached")

// BreakerState is the three-state automaton position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig holds the automaton thresholds.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to open
	SuccessThreshold int           // half-open successes required to close
	Timeout          time.Duration // open -> half-open cooldown
	HalfOpenMaxCalls int           // concurrent probe cap while half-open
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// StateChange describes one breaker transition; delivered to the notify
// callback as a "state-change" event.
type StateChange struct {
	Name string
	From BreakerState
	To   BreakerState
}

// CircuitBreaker short-circuits calls to a failing dependency.
//
// Closed -> Open when failures reach FailureThreshold. Open rejects every
// call until the cooldown elapses; the first call after that transitions to
// Half-open. Half-open closes after SuccessThreshold successes within the
// window and reopens on any failure. Probe concurrency while half-open is
// capped at HalfOpenMaxCalls.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	notify func(StateChange)

	mu              sync.Mutex
	state           BreakerState
	failures        int
	successes       int
	lastFailureTime time.Time
	halfOpenCalls   int
}

func NewCircuitBreaker(name string, cfg BreakerConfig, notify func(StateChange)) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerConfig().Timeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultBreakerConfig().HalfOpenMaxCalls
	}
	return &CircuitBreaker{name: name, cfg: cfg, state: StateClosed, notify: notify}
}

// Execute runs fn under the breaker's admission policy.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.settle(err)
	return err
}

func (b *CircuitBreaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailureTime) < b.cfg.Timeout {
			return ErrBreakerOpen
		}
		b.transition(StateHalfOpen)
		b.successes = 0
		b.halfOpenCalls = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return ErrHalfOpenSaturated
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (b *CircuitBreaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}

	if err != nil {
		b.failures++
		b.lastFailureTime = time.Now()
		switch b.state {
		case StateHalfOpen:
			b.transition(StateOpen)
			b.successes = 0
		case StateClosed:
			if b.failures >= b.cfg.FailureThreshold {
				b.transition(StateOpen)
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// transition assumes the lock is held.
func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.notify != nil {
		change := StateChange{Name: b.name, From: from, To: to}
		// Notify outside the lock to keep callbacks re-entrant safe.
		go b.notify(change)
	}
}

// BreakerSnapshot is the observable breaker state.
type BreakerSnapshot struct {
	Name            string       `json:"name"`
	State           BreakerState `json:"state"`
	Failures        int          `json:"failures"`
	Successes       int          `json:"successes"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	HalfOpenCalls   int          `json:"half_open_calls"`
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:            b.name,
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailureTime: b.lastFailureTime,
		HalfOpenCalls:   b.halfOpenCalls,
	}
}

// State returns the current automaton position.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet is a named collection of breakers sharing a config default.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	notify   func(StateChange)
	breakers map[string]*CircuitBreaker
}

func NewBreakerSet(cfg BreakerConfig, notify func(StateChange)) *BreakerSet {
	return &BreakerSet{cfg: cfg, notify: notify, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *BreakerSet) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, s.cfg, s.notify)
	s.breakers[name] = b
	return b
}

// Snapshots lists the state of every known breaker.
func (s *BreakerSet) Snapshots() []BreakerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BreakerSnapshot, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
