package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func tripBreaker(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errTest })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after %d failures, want open", cb.State(), n)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "elevenlabs"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "elevenlabs" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Now: newFakeClock().Now})
	tripBreaker(t, cb, 3)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3})
	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return errTest })

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []error
		want   State
	}{
		{name: "successful probes close", probes: []error{nil, nil}, want: StateClosed},
		{name: "failed probe re-opens", probes: []error{errTest}, want: StateOpen},
		{name: "partial probes stay half-open", probes: []error{nil}, want: StateHalfOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				MaxFailures:  2,
				ResetTimeout: 10 * time.Second,
				HalfOpenMax:  2,
				Now:          clock.Now,
			})
			tripBreaker(t, cb, 2)

			clock.Advance(9 * time.Second)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v before timeout, want open", cb.State())
			}
			clock.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v after timeout, want half-open", cb.State())
			}

			for _, probe := range tt.probes {
				_ = cb.Execute(func() error { return probe })
			}

			cb.mu.Lock()
			got := cb.state
			cb.mu.Unlock()
			if got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          clock.Now,
	})
	tripBreaker(t, cb, 1)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestCircuitBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()

	t.Run("closed", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2})
		for range 5 {
			if err := cb.Execute(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
				t.Fatalf("err = %v, want context.Canceled", err)
			}
		}
		if cb.State() != StateClosed {
			t.Errorf("state = %v after cancellations, want closed", cb.State())
		}
		_ = cb.Execute(func() error { return errTest })
		if cb.State() != StateClosed {
			t.Error("one failure after cancellations opened the breaker")
		}
	})

	t.Run("half-open returns the probe slot", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Second,
			HalfOpenMax:  1,
			Now:          clock.Now,
		})
		tripBreaker(t, cb, 1)
		clock.Advance(time.Second)

		_ = cb.Execute(func() error { return context.Canceled })
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe after cancellation: %v", err)
		}
		if cb.State() != StateClosed {
			t.Errorf("state = %v, want closed", cb.State())
		}
	})
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "deepgram",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	tripBreaker(t, cb, 1)
	clock.Advance(time.Second)
	_ = cb.Execute(func() error { return nil })

	want := []string{
		"deepgram:closed->open",
		"deepgram:open->half-open",
		"deepgram:half-open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	tripBreaker(t, cb, 2)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
