package staterequest

import (
	"testing"
	"time"
)

func TestCircuitBreakerStartsClosedAndAdmits(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.State() != StateClosed {
		t.Fatalf("expected initial state CLOSED, got %s", cb.State())
	}
	if !cb.CanExecute() {
		t.Errorf("expected CLOSED breaker to admit")
	}
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 50,
		MinimumRequests:            4,
		RecoveryTimeoutMs:          100,
	})
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected breaker to open at 50%% failure rate with minimumRequests met, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Errorf("expected an OPEN breaker to deny admission immediately after opening")
	}
}

func TestCircuitBreakerStaysClosedBelowMinimumRequests(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 1,
		MinimumRequests:            10,
	})
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("expected breaker to remain CLOSED below minimumRequests, got %s", cb.State())
	}
}

func TestCircuitBreakerTransitionsToHalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 50,
		MinimumRequests:            1,
		RecoveryTimeoutMs:          100,
	})
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected breaker to open, got %s", cb.State())
	}
	time.Sleep(120 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected breaker to admit after the recovery timeout elapses")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("expected breaker to be HALF_OPEN after recovery timeout, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenClosesOnSuccessfulWindow(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 50,
		MinimumRequests:            1,
		RecoveryTimeoutMs:          100,
		SuccessThresholdPercentage: 60,
		HalfOpenMaxRequests:        3,
	})
	cb.RecordFailure()
	time.Sleep(120 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected breaker to admit into half-open")
	}
	cb.RecordAttemptSuccess()
	cb.RecordAttemptSuccess()
	cb.RecordAttemptSuccess()
	if cb.State() != StateClosed {
		t.Errorf("expected breaker to close after a successful half-open window, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenWaitsForFullWindowBeforeDeciding(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 50,
		MinimumRequests:            1,
		RecoveryTimeoutMs:          100,
		SuccessThresholdPercentage: 50,
		HalfOpenMaxRequests:        5,
	})
	cb.RecordFailure()
	time.Sleep(120 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected breaker to admit into half-open")
	}
	cb.RecordAttemptFailure()
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected the breaker to stay HALF_OPEN until the full window of outcomes is observed, got %s", cb.State())
	}
	cb.RecordAttemptSuccess()
	cb.RecordAttemptSuccess()
	cb.RecordAttemptSuccess()
	cb.RecordAttemptSuccess()
	// fail, ok, ok, ok, ok over a 5-request window is 80% success, which
	// clears a 50% threshold even though the window opened with a failure.
	if cb.State() != StateClosed {
		t.Errorf("expected the breaker to close once the full window's success rate clears the threshold, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenReopensWhenWindowFailsMajority(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 50,
		MinimumRequests:            1,
		RecoveryTimeoutMs:          100,
		SuccessThresholdPercentage: 50,
		HalfOpenMaxRequests:        5,
	})
	cb.RecordFailure()
	time.Sleep(120 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected breaker to admit into half-open")
	}
	cb.RecordAttemptFailure()
	cb.RecordAttemptFailure()
	cb.RecordAttemptFailure()
	cb.RecordAttemptSuccess()
	cb.RecordAttemptSuccess()
	// fail, fail, fail, ok, ok is 40% success, below the 50% threshold.
	if cb.State() != StateOpen {
		t.Errorf("expected the breaker to reopen when the full window's success rate misses the threshold, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenLimitsAdmissionToMaxRequests(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 50,
		MinimumRequests:            1,
		RecoveryTimeoutMs:          100,
		HalfOpenMaxRequests:        2,
		SuccessThresholdPercentage: 100,
	})
	cb.RecordFailure()
	time.Sleep(120 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected first half-open admission")
	}
	cb.RecordAttemptSuccess()
	if !cb.CanExecute() {
		t.Fatalf("expected second half-open admission")
	}
	// The window fills and evaluates to CLOSED here, since
	// SuccessThresholdPercentage=100 and both outcomes (so far) succeeded.
	cb.RecordAttemptSuccess()
	if cb.State() != StateClosed {
		t.Errorf("expected breaker to close once the half-open window fills successfully, got %s", cb.State())
	}
}

func TestCircuitBreakerExecuteDeniesWithDedicatedError(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThresholdPercentage: 1,
		MinimumRequests:            1,
		RecoveryTimeoutMs:          100000,
	})
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected breaker to open")
	}
	err := cb.Execute(func() error { return nil })
	if _, ok := err.(*CircuitBreakerOpenError); !ok {
		t.Fatalf("expected CircuitBreakerOpenError, got %T: %v", err, err)
	}
}

func TestCircuitBreakerExecuteRecordsOutcome(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := cb.Stats()
	if stats.RequestCounts.Succeeded != 1 {
		t.Errorf("expected 1 recorded success, got %+v", stats.RequestCounts)
	}
}

func TestClampCircuitBreakerConfigDefaults(t *testing.T) {
	c := clampCircuitBreakerConfig(CircuitBreakerConfig{FailureThresholdPercentage: -5, RecoveryTimeoutMs: 1})
	if c.FailureThresholdPercentage != 0 {
		t.Errorf("expected negative threshold clamped to 0, got %v", c.FailureThresholdPercentage)
	}
	if c.MinimumRequests != 1 {
		t.Errorf("expected default minimumRequests of 1, got %d", c.MinimumRequests)
	}
	if c.RecoveryTimeoutMs != 100 {
		t.Errorf("expected recoveryTimeoutMs clamped up to 100, got %d", c.RecoveryTimeoutMs)
	}
	if c.SuccessThresholdPercentage != 50 {
		t.Errorf("expected default successThresholdPercentage of 50, got %v", c.SuccessThresholdPercentage)
	}
	if c.HalfOpenMaxRequests != 5 {
		t.Errorf("expected default halfOpenMaxRequests of 5, got %d", c.HalfOpenMaxRequests)
	}

	over := clampCircuitBreakerConfig(CircuitBreakerConfig{FailureThresholdPercentage: 150})
	if over.FailureThresholdPercentage != 100 {
		t.Errorf("expected threshold clamped to 100, got %v", over.FailureThresholdPercentage)
	}
}

type fakeBreakerPersistence struct {
	loaded *BreakerStateRecord
}

func (f *fakeBreakerPersistence) Load() (*BreakerStateRecord, error) { return f.loaded, nil }
func (f *fakeBreakerPersistence) Store(state BreakerStateRecord) error { return nil }

func TestCircuitBreakerRestoresPersistedStateAtConstruction(t *testing.T) {
	p := &fakeBreakerPersistence{loaded: &BreakerStateRecord{State: StateOpen, LastFailureTime: time.Now()}}
	cb := NewCircuitBreaker(CircuitBreakerConfig{Persistence: p, RecoveryTimeoutMs: 100000})
	if cb.State() != StateOpen {
		t.Errorf("expected restored state OPEN, got %s", cb.State())
	}
}
