// Package resilience provides the circuit breaker that guards calls to the
// detection server.
//
// [Breaker] is a classic three-state breaker (closed → open → half-open).
// When the server becomes unreachable the breaker trips after a run of
// consecutive failures and rejects further calls immediately, so the feed,
// settings saver, and status endpoint degrade without piling up timeouts.
// After a cooldown a limited number of probe calls are let through; if they
// succeed the breaker closes again.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("detection server circuit is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state; calls are forwarded.
	StateClosed State = iota

	// StateOpen means the breaker has tripped. Calls fail fast with
	// [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state after the cooldown: a bounded number
	// of calls pass through to test whether the server recovered.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker]. Zero-value fields are
// replaced with defaults by [NewBreaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages (e.g. "api").
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker trips. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// ProbeBudget is the number of half-open probe calls that must succeed
	// before the breaker closes again. Default: 3.
	ProbeBudget int
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	probeBudget      int

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker creates a [Breaker] from cfg, filling in defaults for zero
// fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &Breaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		probeBudget:      cfg.ProbeBudget,
		state:            StateClosed,
	}
}

// Do runs fn if the breaker allows it. In the open state it returns [ErrOpen]
// without calling fn. In the half-open state only the probe budget's worth of
// calls are permitted.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker probing after cooldown", "name", b.name)

	case StateHalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure updates failure accounting. Caller holds b.mu.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		// A failed probe re-opens immediately.
		b.state = StateOpen
		b.failures = b.failureThreshold
		slog.Warn("breaker re-opened: probe failed", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess updates success accounting. Caller holds b.mu.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = StateClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("breaker closed: server recovered", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current [State]. An open breaker whose cooldown
// has elapsed reports [StateHalfOpen]; the actual transition happens on the
// next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
}
