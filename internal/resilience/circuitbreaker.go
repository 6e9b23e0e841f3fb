// Package resilience provides circuit breaker and provider failover primitives
// for Aura's external collaborators.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open).
// [FallbackGroup] chains instances of one provider type, each behind its own
// breaker; when every entry fails the group reports [ErrAllFailed] wrapping
// the first entry's error, since the primary's failure is the one operators
// need to see. [STTFallback], [LLMFallback] and [TTSFallback] adapt the group
// to the provider contracts.
//
// A call that ends with [context.Canceled] was abandoned by the pipeline
// (shutdown, or a turn that was superseded), not refused by the provider, so
// it neither trips a breaker nor moves on to the next provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call and counts consecutive failures.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since it opened.
	StateOpen

	// StateHalfOpen admits up to HalfOpenMax probe calls. That many
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker]. Zero
// values take the defaults noted on each field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, normally the provider name.
	Name string

	// MaxFailures consecutive failures open a closed breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state. Default 3.
	HalfOpenMax int

	// Now is the clock. Default time.Now.
	Now func() time.Time

	// OnStateChange is called under the breaker lock on every transition.
	// It must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards one provider.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time
	onChange     func(name string, from, to State)
	log          *slog.Logger

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // when the breaker last opened
	probes   int       // probes admitted in this half-open period
	passed   int       // probes that succeeded
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          cfg.Now,
		onChange:     cfg.OnStateChange,
		log:          slog.Default().With("component", "breaker", "provider", cfg.Name),
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.halfOpenMax <= 0 {
		cb.halfOpenMax = 3
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker rejects the call, and returns fn's
// error unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may run and whether it is a half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle accounts for a finished call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		// Abandoned by the caller: hand the probe slot back.
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}

	case err != nil:
		switch cb.state {
		case StateHalfOpen:
			cb.transition(StateOpen)
		case StateClosed:
			cb.failures++
			if cb.failures >= cb.maxFailures {
				cb.transition(StateOpen)
			}
		}

	case cb.state == StateClosed:
		cb.failures = 0

	case probe && cb.state == StateHalfOpen:
		cb.passed++
		if cb.passed >= cb.halfOpenMax {
			cb.transition(StateClosed)
		}
	}
}

// transition moves to state to and resets the counters that state starts
// from. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.log.Warn("circuit opened", "from", from, "consecutive_failures", cb.failures)
	case StateHalfOpen:
		cb.probes, cb.passed = 0, 0
		cb.log.Info("circuit half-open, probing")
	case StateClosed:
		cb.failures, cb.probes, cb.passed = 0, 0, 0
		cb.log.Info("circuit closed", "from", from)
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
}
