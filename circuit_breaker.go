package staterequest

import (
	"sync"
	"time"
)

// BreakerPersistence is the storage contract for breaker state. An
// implementation that also satisfies TransactionalPersistence is
// preferred by CoordinatedBreakerPersistence over plain Load/Store.
type BreakerPersistence interface {
	Load() (*BreakerStateRecord, error)
	Store(state BreakerStateRecord) error
}

// CircuitBreakerConfig configures a CircuitBreaker. Zero-value fields take
// sane defaults via clampCircuitBreakerConfig.
type CircuitBreakerConfig struct {
	FailureThresholdPercentage float64
	MinimumRequests            int64
	RecoveryTimeoutMs          int64
	SuccessThresholdPercentage float64
	HalfOpenMaxRequests        int64
	TrackIndividualAttempts    bool
	Persistence                BreakerPersistence
	Logger                     Logger
}

func clampCircuitBreakerConfig(c CircuitBreakerConfig) CircuitBreakerConfig {
	if c.FailureThresholdPercentage < 0 {
		c.FailureThresholdPercentage = 0
	}
	if c.FailureThresholdPercentage > 100 {
		c.FailureThresholdPercentage = 100
	}
	if c.MinimumRequests < 1 {
		c.MinimumRequests = 1
	}
	if c.RecoveryTimeoutMs < 100 {
		c.RecoveryTimeoutMs = 100
	}
	if c.SuccessThresholdPercentage <= 0 {
		c.SuccessThresholdPercentage = 50
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 5
	}
	return c
}

// CircuitBreaker is the CLOSED/OPEN/HALF_OPEN state machine.
// Every mutation holds mu for the duration, rather than using lock-free
// atomics, because correctness here depends on several counters moving
// together under one decision — see DESIGN.md.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    CircuitBreakerConfig
	logger Logger

	state CircuitState

	requestCounts OutcomeCounts
	attemptCounts OutcomeCounts
	halfOpen      HalfOpenCounts

	lastFailureTime time.Time

	stateChange StateChangeStats
	recovery    RecoveryStats
}

// NewCircuitBreaker builds a CircuitBreaker with cfg, clamped to sane
// defaults, and restores persisted state if Persistence is supplied.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg = clampCircuitBreakerConfig(cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	cb := &CircuitBreaker{cfg: cfg, logger: logger, state: StateClosed}
	if cfg.Persistence != nil {
		cb.initialize()
	}
	return cb
}

// CanExecute implements admission.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.canExecuteLocked()
}

func (cb *CircuitBreaker) canExecuteLocked() bool {
	now := time.Now()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(cb.lastFailureTime) >= time.Duration(cb.cfg.RecoveryTimeoutMs)*time.Millisecond {
			cb.transitionTo(StateHalfOpen, now)
			return true
		}
		return false
	case StateHalfOpen:
		return cb.halfOpen.Total < cb.cfg.HalfOpenMaxRequests
	default:
		return false
	}
}

// RecordSuccess increments the request-level triplet.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.requestCounts.Total++
	cb.requestCounts.Succeeded++
	cb.afterOutcomeLocked(&cb.requestCounts, true)
	cb.persistAsync()
}

// RecordFailure increments the request-level triplet.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureTime = time.Now()
	cb.requestCounts.Total++
	cb.requestCounts.Failed++
	cb.afterOutcomeLocked(&cb.requestCounts, false)
	cb.persistAsync()
}

// RecordAttemptSuccess increments the attempt-level triplet, and if
// TrackIndividualAttempts, evaluates the threshold against it.
func (cb *CircuitBreaker) RecordAttemptSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.attemptCounts.Total++
	cb.attemptCounts.Succeeded++
	if cb.state == StateHalfOpen {
		cb.recordHalfOpenLocked(true)
	} else if cb.cfg.TrackIndividualAttempts {
		cb.afterOutcomeLocked(&cb.attemptCounts, true)
	}
	cb.persistAsync()
}

// RecordAttemptFailure increments the attempt-level triplet, and if
// TrackIndividualAttempts, evaluates the threshold against it.
func (cb *CircuitBreaker) RecordAttemptFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureTime = time.Now()
	cb.attemptCounts.Total++
	cb.attemptCounts.Failed++
	if cb.state == StateHalfOpen {
		cb.recordHalfOpenLocked(false)
	} else if cb.cfg.TrackIndividualAttempts {
		cb.afterOutcomeLocked(&cb.attemptCounts, false)
	}
	cb.persistAsync()
}

// State returns the current state under lock.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// afterOutcomeLocked applies the CLOSED threshold check and
// the 10x-minimumRequests counter-hygiene reset. Must be called with mu
// held, and only against a triplet relevant to the current (CLOSED) state
// — half-open accounting goes through recordHalfOpenLocked instead.
func (cb *CircuitBreaker) afterOutcomeLocked(triplet *OutcomeCounts, _ bool) {
	if cb.state != StateClosed {
		return
	}
	if triplet.Total >= cb.cfg.MinimumRequests {
		failurePct := float64(triplet.Failed) / float64(triplet.Total) * 100
		if failurePct >= cb.cfg.FailureThresholdPercentage {
			cb.transitionTo(StateOpen, time.Now())
			return
		}
	}
	if triplet.Total >= 10*cb.cfg.MinimumRequests {
		cb.requestCounts = OutcomeCounts{}
		cb.attemptCounts = OutcomeCounts{}
	}
}

// recordHalfOpenLocked accumulates one half-open outcome and, once exactly
// HalfOpenMaxRequests outcomes have been observed, evaluates the recovery
// decision against the full window's success percentage.
func (cb *CircuitBreaker) recordHalfOpenLocked(success bool) {
	cb.halfOpen.Total++
	if success {
		cb.halfOpen.Succeeded++
	} else {
		cb.halfOpen.Failed++
	}
	if cb.halfOpen.Total < cb.cfg.HalfOpenMaxRequests {
		return
	}
	successPct := float64(cb.halfOpen.Succeeded) / float64(cb.halfOpen.Total) * 100
	cb.recovery.RecoveryAttempts++
	if successPct >= cb.cfg.SuccessThresholdPercentage {
		cb.recovery.Successful++
		cb.transitionTo(StateClosed, time.Now())
	} else {
		cb.recovery.Failed++
		cb.transitionTo(StateOpen, time.Now())
	}
}

// transitionTo moves the breaker to next, updating stats and resetting
// counters as appropriate for the transition. Must be called with mu
// held.
func (cb *CircuitBreaker) transitionTo(next CircuitState, now time.Time) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.stateChange.Transitions++
	cb.stateChange.LastStateChangeTime = now

	if prev == StateOpen {
		cb.stateChange.TotalOpenDuration += now.Sub(cb.stateChange.LastOpenTime)
	}

	switch next {
	case StateOpen:
		cb.stateChange.OpenCount++
		cb.stateChange.LastOpenTime = now
	case StateHalfOpen:
		cb.stateChange.HalfOpenCount++
		cb.recovery.RecoveryAttempts++
		if prev == StateOpen {
			// consume the increment recordHalfOpenLocked would otherwise
			// double-count; entering half-open is not itself an attempt
			cb.recovery.RecoveryAttempts--
		}
	case StateClosed:
		if prev == StateHalfOpen {
			cb.requestCounts = OutcomeCounts{}
			cb.attemptCounts = OutcomeCounts{}
		}
	}

	cb.halfOpen = HalfOpenCounts{}
	cb.state = next
}

// CircuitBreakerStats is the read-only snapshot exposing all derived
// statistics a caller might want for observability or debugging.
type CircuitBreakerStats struct {
	State                CircuitState
	RequestCounts        OutcomeCounts
	AttemptCounts        OutcomeCounts
	HalfOpen             HalfOpenCounts
	LastFailureTime      time.Time
	StateChange          StateChangeStats
	Recovery             RecoveryStats
	AverageOpenDurationMs float64
	RecoverySuccessRate   float64
	OpenUntil             time.Time
}

func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := CircuitBreakerStats{
		State:           cb.state,
		RequestCounts:   cb.requestCounts,
		AttemptCounts:   cb.attemptCounts,
		HalfOpen:        cb.halfOpen,
		LastFailureTime: cb.lastFailureTime,
		StateChange:     cb.stateChange,
		Recovery:        cb.recovery,
	}
	if cb.stateChange.OpenCount > 0 {
		stats.AverageOpenDurationMs = float64(cb.stateChange.TotalOpenDuration.Milliseconds()) / float64(cb.stateChange.OpenCount)
	}
	if cb.recovery.RecoveryAttempts > 0 {
		stats.RecoverySuccessRate = float64(cb.recovery.Successful) / float64(cb.recovery.RecoveryAttempts) * 100
	}
	if cb.state == StateOpen {
		stats.OpenUntil = cb.lastFailureTime.Add(time.Duration(cb.cfg.RecoveryTimeoutMs) * time.Millisecond)
	}
	return stats
}

// Execute is the convenience wrapper: it checks admission,
// runs fn, records the outcome, and rethrows fn's error. Admission denial
// raises a dedicated CircuitBreakerOpenError instead of calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.CanExecute() {
		stats := cb.Stats()
		return &CircuitBreakerOpenError{State: stats.State, OpenUntil: stats.OpenUntil}
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

func (cb *CircuitBreaker) snapshot() BreakerStateRecord {
	return BreakerStateRecord{
		State:           cb.state,
		RequestCounts:   cb.requestCounts,
		AttemptCounts:   cb.attemptCounts,
		HalfOpen:        cb.halfOpen,
		LastFailureTime: cb.lastFailureTime,
		StateChange:     cb.stateChange,
		Recovery:        cb.recovery,
	}
}

// persistAsync stores the current snapshot without blocking the caller.
// Must be called with mu held; it copies before spawning the goroutine.
func (cb *CircuitBreaker) persistAsync() {
	if cb.cfg.Persistence == nil {
		return
	}
	snap := cb.snapshot()
	go func() {
		if err := cb.cfg.Persistence.Store(snap); err != nil {
			cb.logger.Warn("circuit breaker persistence store failed", "error", err)
		}
	}()
}

func (cb *CircuitBreaker) initialize() {
	state, err := cb.cfg.Persistence.Load()
	if err != nil {
		cb.logger.Warn("circuit breaker persistence load failed", "error", err)
		return
	}
	if state == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = state.State
	cb.requestCounts = state.RequestCounts
	cb.attemptCounts = state.AttemptCounts
	cb.halfOpen = state.HalfOpen
	cb.lastFailureTime = state.LastFailureTime
	cb.stateChange = state.StateChange
	cb.recovery = state.Recovery
}
