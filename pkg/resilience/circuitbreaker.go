// Package resilience wraps network-source calls with bounded retries,
// circuit breaking, and timeouts. The policy engine routes every network
// read and write through this package.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
)

// BreakerState represents the breaker's position.
type BreakerState int

const (
	// BreakerClosed lets all calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets one probe call through to test recovery.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when the breaker rejects a call outright.
// It is classified as a retryable network failure so the retry schedule
// still applies to calls rejected while the backend recovers.
var ErrBreakerOpen = errors.New("network source circuit open")

// Breaker shields a flapping network source: after threshold consecutive
// transient failures it rejects calls for cooldown, then probes with a
// single call. Terminal failures (not-found, validation) pass through
// without counting against the threshold — a missing record says nothing
// about backend health.
type Breaker struct {
	mu        sync.RWMutex
	threshold int
	cooldown  time.Duration
	state     BreakerState
	failures  int
	openedAt  time.Time
	countable func(error) bool
	clock     func() time.Time
}

// NewBreaker creates a closed breaker tripping after threshold consecutive
// transient failures and cooling down for the given duration.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		countable: func(err error) bool { return errors.Is(err, datasource.ErrNetwork) },
		clock:     time.Now,
	}
}

// WithClock overrides the time source for tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Execute runs fn when the breaker permits it.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return datasource.NewNetworkError("circuit", true, ErrBreakerOpen)
	}

	err := fn()
	if err != nil && b.countable(err) {
		b.recordFailure()
		return err
	}
	if err == nil {
		b.recordSuccess()
	}
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) > b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.openedAt = b.clock()
	if b.state == BreakerHalfOpen {
		// The probe failed; stay open for another cooldown.
		b.state = BreakerOpen
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.failures = 0
	case BreakerClosed:
		b.failures = 0
	}
}

// State returns the breaker's current position.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}
