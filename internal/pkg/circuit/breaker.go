// Package circuit 为后端调用提供简单的熔断器。
package circuit

import (
	"errors"
	"sync"
	"time"

	"brokergw/internal/logger"
)

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("circuit open")

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

// Breaker opens after threshold consecutive failures and lets one trial call
// through once cooldown has elapsed.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
	onChange    func(name string, from, to State)
}

// New builds a breaker. A threshold <= 0 disables tripping.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     StateClosed,
	}
}

// OnStateChange installs a hook invoked synchronously on every transition.
// The hook must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed, moving open to half-open after
// the cooldown. Half-open admits a single trial call until Success or Failure.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.transition(StateHalfOpen)
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	switch b.state {
	case StateClosed:
		if b.threshold > 0 && b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// Do runs fn when allowed. trip decides which errors count as failures;
// nil counts every error.
func (b *Breaker) Do(fn func() error, trip func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && (trip == nil || trip(err)) {
		b.Failure()
		return err
	}
	b.Success()
	return err
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil {
		b.onChange(b.name, from, to)
		return
	}
	logger.Warnf("[circuit] name=%s %s -> %s failures=%d/%d cooldown=%s",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
}
