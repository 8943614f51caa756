package llm

import (
	"errors"
	"testing"
	"time"
)

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.failureThreshold != 5 {
		t.Errorf("failureThreshold = %d, want 5", cb.failureThreshold)
	}
	if cb.successThreshold != 2 {
		t.Errorf("successThreshold = %d, want 2", cb.successThreshold)
	}
	if cb.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cb.timeout)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("initial state = %v, want closed", got)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		cb.Failure()
		if got := cb.State(); got != CircuitClosed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, got)
		}
	}

	cb.Failure()
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("state after 3 failures = %v, want open", got)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	cb.Failure()
	cb.Success()
	cb.Failure()

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state = %v, want closed (success reset the count)", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	cb.Failure()
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() = nil right after opening, want ErrCircuitOpen")
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want half-open probe", err)
	}
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open", got)
	}

	// One success is not enough to close with threshold 2.
	cb.Success()
	if got := cb.State(); got != CircuitHalfOpen {
		t.Errorf("state after 1 success = %v, want half-open", got)
	}

	cb.Success()
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state after 2 successes = %v, want closed", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	cb.Failure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want half-open probe", err)
	}

	cb.Failure()
	if got := cb.State(); got != CircuitOpen {
		t.Errorf("state after half-open failure = %v, want open", got)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() right after reopening = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	cb.Failure()
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state = %v, want open", got)
	}

	cb.Reset()
	if got := cb.State(); got != CircuitClosed {
		t.Errorf("state after Reset = %v, want closed", got)
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after Reset = %v, want nil", err)
	}
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
