// Package circuit implements a circuit breaker. The gateway uses it to stop
// calling a shared cache tier that keeps failing, falling back to local-only
// caching until the tier recovers.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected
	StateOpen
	// StateHalfOpen - one probe request is allowed to test recovery
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Consecutive failures that open the breaker
	MaxFailures uint32 `yaml:"max_failures"`

	// Period of the open state after which the breaker enters half-open state
	Timeout time.Duration `yaml:"timeout"`

	// Called when state changes
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// Clock used for state expiry
	Now func() time.Time `yaml:"-"`
}

// Counts holds the numbers of requests and their outcomes since the last state change
type Counts struct {
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

var (
	// ErrOpenState is returned when the circuit breaker is open
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned while the half-open probe is in flight
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config Config

	mu      sync.Mutex
	state   State
	counts  Counts
	expiry  time.Time
	probing bool
}

// NewBreaker creates a new circuit breaker instance
func NewBreaker(name string, config Config) *Breaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Breaker{name: name, config: config, state: StateClosed}
}

// Execute runs fn if the breaker allows it and records the outcome. Context
// cancellation is not counted as a failure of the guarded service.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterRequest(err == nil || errors.Is(err, context.Canceled))
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState(b.config.Now()) {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		if b.probing {
			return ErrTooManyRequests
		}
		b.probing = true
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) afterRequest(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Now()
	state := b.currentState(now)
	if success {
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.MaxFailures {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && !now.Before(b.expiry) {
		b.setState(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	prev := b.state
	if prev == state {
		return
	}
	b.state = state
	b.counts = Counts{}
	b.probing = false
	if state == StateOpen {
		b.expiry = now.Add(b.config.Timeout)
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.config.Now())
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed, b.config.Now())
	b.counts = Counts{}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}
