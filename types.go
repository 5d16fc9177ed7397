package staterequest

import (
	"context"
	"time"
)

// RequestDescriptor is the caller-facing description of one logical HTTP
// request. It is converted internally into a TransportConfig with explicit
// defaults filled in (see buildTransportConfig).
type RequestDescriptor struct {
	Hostname string // required
	Protocol string // "http" | "https", default "https"
	Method   string // GET|POST|PUT|PATCH|DELETE, default GET
	Path     string // must begin with "/"
	Port     int    // default 443
	Headers  map[string]string
	Query    map[string]string
	Body     any
	TimeoutMs int // default 15000

	// Cancel, if non-nil, is observed by the transport and by the attempt
	// loop between suspension points. Its firing is a non-retryable
	// transport failure.
	Cancel context.Context
}

// TransportConfig is the fully-resolved, defaulted request the transport
// contract consumes.
type TransportConfig struct {
	Method  string
	URL     string
	BaseURL string
	Headers map[string]string
	Params  map[string]string
	Data    any
	Timeout time.Duration
	Cancel  context.Context
}

// AttemptResult is the normalized outcome of one transport call.
// OK=true means the transport returned a response; it does not mean the
// response was accepted by the response analyzer.
type AttemptResult struct {
	OK              bool
	IsRetryable     bool
	Timestamp       time.Time
	ExecutionTimeMs int64
	StatusCode      int
	Error           error
	Data            any
	FromCache       bool
}

// ErrorLogType distinguishes why an attempt was logged as an error.
type ErrorLogType string

const (
	ErrorLogHTTPError       ErrorLogType = "HTTP_ERROR"
	ErrorLogInvalidContent  ErrorLogType = "INVALID_CONTENT"
)

// ErrorLogEntry records one failed or rejected attempt.
type ErrorLogEntry struct {
	Timestamp       time.Time
	Attempt         string // "i/N"
	Error           string
	Type            ErrorLogType
	IsRetryable     bool
	ExecutionTimeMs int64
	StatusCode      int
}

// SuccessLogEntry records one accepted attempt.
type SuccessLogEntry struct {
	Attempt         string
	Timestamp       time.Time
	Data            any
	ExecutionTimeMs int64
	StatusCode      int
}

// CacheEntry is one stored response. Invariant: ExpiresAt > Timestamp for
// any entry actually stored; entries observed with ExpiresAt <= now at read
// time are deleted and counted as a miss + expiration.
type CacheEntry struct {
	Data       any
	Status     int
	StatusText string
	Headers    map[string]string
	Timestamp  time.Time
	ExpiresAt  time.Time

	// MaxAge records the TTL that StoreFromResponse resolved for this entry
	// (from max-age, Expires or the default TTL); the cache's derived age
	// counters do not read it.
	MaxAge *time.Duration
}

// CircuitState is one of the three circuit breaker states.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// OutcomeCounts is one request-level or attempt-level counter triplet.
// Invariant: Failed + Succeeded <= Total.
type OutcomeCounts struct {
	Total     int64
	Failed    int64
	Succeeded int64
}

// HalfOpenCounts tracks the fixed-size half-open admission window.
type HalfOpenCounts struct {
	Total     int64
	Succeeded int64
	Failed    int64
}

// StateChangeStats tracks breaker transition history.
type StateChangeStats struct {
	Transitions         int64
	LastStateChangeTime time.Time
	OpenCount           int64
	HalfOpenCount       int64
	TotalOpenDuration   time.Duration
	LastOpenTime        time.Time
}

// RecoveryStats tracks half-open recovery outcomes.
type RecoveryStats struct {
	RecoveryAttempts int64
	Successful       int64
	Failed           int64
}

// BreakerStateRecord is the persistence shape of a CircuitBreaker: a
// complete, serializable snapshot of its state. Invariants:
// Failed+Succeeded <= Total in each triplet; State==StateOpen implies
// LastOpenTime is non-zero.
type BreakerStateRecord struct {
	State           CircuitState
	RequestCounts   OutcomeCounts
	AttemptCounts   OutcomeCounts
	HalfOpen        HalfOpenCounts
	LastFailureTime time.Time
	StateChange     StateChangeStats
	Recovery        RecoveryStats
}

// CacheStateRecord is the persistence shape of a Cache: entries, access
// order, and observable counters.
type CacheStateRecord struct {
	Entries    map[string]CacheEntry
	AccessOrder []string
	Counters   CacheCounters
}

// TransactionLog is one completed StableBuffer transaction record.
// Invariants: QueuedAt <= StartedAt <= FinishedAt; DurationMs =
// FinishedAt-StartedAt; QueueWaitMs = StartedAt-QueuedAt; on success
// ErrorMessage is empty.
type TransactionLog struct {
	TransactionID string
	QueuedAt      time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	DurationMs    int64
	QueueWaitMs   int64
	Success       bool
	ErrorMessage  string
	StateBefore   map[string]any
	StateAfter    map[string]any
	Activity      string
	HookName      string
	HookParams    any

	WorkflowID string
	BranchID   string
	PhaseID    string
	RequestID  string
}

// ExecutionContext is an optional correlation tuple carried through all
// hooks and logs. It never affects engine behavior.
type ExecutionContext struct {
	WorkflowID string
	BranchID   string
	PhaseID    string
	RequestID  string
}
