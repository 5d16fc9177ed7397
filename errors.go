package staterequest

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies a ClientError for programmatic handling.
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "NETWORK"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeServer      ErrorType = "SERVER"
	ErrorTypeClient      ErrorType = "CLIENT"
	ErrorTypeCircuitOpen ErrorType = "CIRCUIT_OPEN"
	ErrorTypeValidation  ErrorType = "VALIDATION"
	ErrorTypeCancelled   ErrorType = "CANCELLED"
	ErrorTypePersistence ErrorType = "PERSISTENCE"
)

// Sentinel errors for common failure scenarios.
var (
	ErrCacheMiss         = errors.New("staterequest: cache miss")
	ErrCancelled         = errors.New("staterequest: request cancelled")
	ErrBufferTimeout     = errors.New("staterequest: transaction timed out waiting in queue")
	ErrPreExecutionAbort = errors.New("staterequest: pre-execution hook aborted the request")
)

// ClientError is the single structured error type the engine and its
// collaborators raise. It carries enough context to reconstruct the
// error log entry without re-deriving it from a generic error.
type ClientError struct {
	Type       ErrorType
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
	StatusCode int
}

func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares by Type so errors.Is(err, &ClientError{Type: ErrorTypeCircuitOpen}) works.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ClientError); ok {
		return e.Type == t.Type
	}
	return false
}

// CircuitBreakerOpenError is the dedicated error raised when the breaker
// denies admission.
type CircuitBreakerOpenError struct {
	State      CircuitState
	OpenUntil  time.Time
	RequestID  string
}

func (e *CircuitBreakerOpenError) Error() string {
	if e.OpenUntil.IsZero() {
		return fmt.Sprintf("staterequest: circuit breaker is %s", e.State)
	}
	return fmt.Sprintf("staterequest: circuit breaker is %s until %s", e.State, e.OpenUntil.Format(time.RFC3339))
}

// IsRetryableError reports whether err represents a retryable transport
// failure per the classifier below. It is distinct from the analyzer's
// accept/retry verdict, which concerns validation, not transport failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// TransportError is what the transport contract throws on
// failure: it carries the HTTP response status (if any) and a transport
// code distinguishing network-level failures from HTTP-level ones.
type TransportError struct {
	Code       string // e.g. ECONNRESET, ETIMEDOUT; empty for HTTP-level failures
	StatusCode int    // HTTP status, 0 if the call never produced a response
	Cancelled  bool
	Retryable  bool
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Cancelled {
		return "staterequest: request cancelled"
	}
	if e.Code != "" {
		return fmt.Sprintf("staterequest: transport error %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("staterequest: http status %d: %v", e.StatusCode, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// retryableTransportCodes are the network-level codes the classifier
// treats as retryable.
var retryableTransportCodes = map[string]bool{
	"ECONNRESET":  true,
	"ETIMEDOUT":   true,
	"ECONNREFUSED": true,
	"ENOTFOUND":   true,
	"EAI_AGAIN":   true,
}

// isRetryableStatus reports whether an HTTP status is retryable: 408,
// 409, 429, and any 5xx.
func isRetryableStatus(status int) bool {
	switch status {
	case 408, 409, 429:
		return true
	}
	return status >= 500 && status < 600
}

// classifyTransportFailure builds a TransportError with Retryable set per
// the classifier below. Cancellation is always non-retryable.
func classifyTransportFailure(code string, statusCode int, cancelled bool, cause error) *TransportError {
	if cancelled {
		return &TransportError{Cancelled: true, Retryable: false, Cause: ErrCancelled}
	}
	retryable := retryableTransportCodes[code] || isRetryableStatus(statusCode)
	return &TransportError{Code: code, StatusCode: statusCode, Retryable: retryable, Cause: cause}
}
