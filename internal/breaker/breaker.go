// Package breaker implements a per-provider circuit breaker: closed calls
// pass through, open calls fail fast without I/O, half-open allows a single
// probe. No retry policy lives here. The Orchestrator does not retry either:
// the internal/research clients run research.WithRetry inside the function
// they pass to Do, so one Do call covers a whole retry sequence.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/aris-project/aris/internal/errs"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config configures the failure threshold, failure window, and cooldown for
// one provider's breaker.
type Config struct {
	FailureThreshold int           // consecutive failures within Window before tripping to Open.
	Window           time.Duration // the window over which consecutive failures are counted.
	Cooldown         time.Duration // time spent Open before a probe is allowed.
}

// DefaultConfig is a reasonable default for an external HTTP provider.
var DefaultConfig = Config{FailureThreshold: 5, Window: time.Minute, Cooldown: 30 * time.Second}

// Breaker wraps one outbound provider (search, reasoning, or embedding).
// Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	windowStart     time.Time
	openedAt        time.Time
	halfOpenInFlight bool
}

// New creates a closed breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the breaker's current state, applying the open→half_open
// cooldown transition as a side effect if the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.halfOpenInFlight = false
	}
}

// Allow reports whether a call may proceed, reserving the single half-open
// probe slot if the breaker just transitioned. Returns ErrProviderUnavailable
// when the breaker is open (including when another probe already owns the
// half-open slot).
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.halfOpenInFlight {
			return errs.ErrProviderUnavailable
		}
		b.halfOpenInFlight = true
		return nil
	default: // Open
		return errs.ErrProviderUnavailable
	}
}

// Success records a successful call, closing the breaker on a successful
// half-open probe and resetting the failure window.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.halfOpenInFlight = false
	}
	b.consecutiveFail = 0
	b.windowStart = time.Time{}
}

// Failure records a failed call, tripping the breaker open on threshold
// breach (or immediately, from a failed half-open probe).
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trip()
		return
	}

	now := time.Now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.cfg.Window {
		b.windowStart = now
		b.consecutiveFail = 0
	}
	b.consecutiveFail++
	if b.consecutiveFail >= b.cfg.FailureThreshold {
		b.trip()
	}
}

// trip must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.halfOpenInFlight = false
	b.consecutiveFail = 0
}

// Do runs fn if the breaker allows it, recording success/failure. It does
// not retry. The internal/research clients call research.WithRetry inside
// fn, so the breaker records one success or failure per retry sequence, not
// per attempt.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}
