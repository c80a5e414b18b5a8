package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)
	fail := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Call(fail)
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected open state after 3 failures, got %v", cb.GetState())
	}

	err := cb.Call(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)

	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return errors.New("boom") })

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %v", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected probe to be allowed after reset timeout, got %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected half-open state, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	_ = cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Probe %d rejected: %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after successful probes, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)

	_ = cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still down") })

	if cb.GetState() != StateOpen {
		t.Errorf("Expected open state after failed probe, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)

	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %v", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after reset, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, time.Second)

	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("boom") })

	state, requests, failures, rate := cb.GetStats()
	if state != StateClosed {
		t.Errorf("Expected closed state, got %v", state)
	}
	if requests != 2 {
		t.Errorf("Expected 2 requests, got %d", requests)
	}
	if failures != 1 {
		t.Errorf("Expected 1 failure, got %d", failures)
	}
	if rate != 50.0 {
		t.Errorf("Expected 50%% failure rate, got %f", rate)
	}
}

func TestCircuitState_String(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("Unexpected state names")
	}
}
