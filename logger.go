package staterequest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// Logger is the minimal logging contract the engine and its collaborators
// depend on. Callers may supply their own implementation (e.g. wrapping
// zap or logrus); SimpleLogger is the zero-dependency implementation.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// SimpleLogger writes level-prefixed lines to a standard *log.Logger.
// Request options do not default to it: a nil Logger becomes noopLogger.
type SimpleLogger struct {
	out   *log.Logger
	debug bool
}

// NewSimpleLogger builds a SimpleLogger writing to stderr. When debug is
// false, Debug calls are no-ops.
func NewSimpleLogger(debug bool) *SimpleLogger {
	return &SimpleLogger{
		out:   log.New(os.Stderr, "", log.LstdFlags),
		debug: debug,
	}
}

func (l *SimpleLogger) logf(level, msg string, fields ...any) {
	if len(fields) > 0 {
		l.out.Printf("[%s] %s %v", level, msg, fields)
		return
	}
	l.out.Printf("[%s] %s", level, msg)
}

func (l *SimpleLogger) Debug(msg string, fields ...any) {
	if !l.debug {
		return
	}
	l.logf("DEBUG", msg, fields...)
}

func (l *SimpleLogger) Info(msg string, fields ...any) {
	l.logf("INFO", msg, fields...)
}

func (l *SimpleLogger) Warn(msg string, fields ...any) {
	l.logf("WARN", msg, fields...)
}

func (l *SimpleLogger) Error(msg string, fields ...any) {
	l.logf("ERROR", msg, fields...)
}

// noopLogger discards everything. Used when RequestOptions.Logger is nil
// and the caller has not opted into debug output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DebugConfig gates which internal subsystems emit verbose logging.
// Each flag is independent so a caller chasing one collaborator (say, the
// circuit breaker) is not drowned in buffer transaction traces.
type DebugConfig struct {
	LogAttempts       bool
	LogCache          bool
	LogCircuitBreaker bool
	LogBuffer         bool
	LogHooks          bool
	LogPersistence    bool
}

// DefaultDebugConfig returns every flag disabled.
func DefaultDebugConfig() DebugConfig {
	return DebugConfig{}
}

// AllDebugConfig returns every flag enabled, for local troubleshooting.
func AllDebugConfig() DebugConfig {
	return DebugConfig{
		LogAttempts:       true,
		LogCache:          true,
		LogCircuitBreaker: true,
		LogBuffer:         true,
		LogHooks:          true,
		LogPersistence:    true,
	}
}

var requestIDCounter atomic.Uint64

// generateRequestID returns a process-unique, roughly sortable identifier
// of the form "req_<unixnano hex>_<counter>_<4 random bytes hex>". The
// counter and random suffix exist so two IDs generated within the same
// nanosecond (observed under load on coarse-grained clocks) still differ.
func generateRequestID() string {
	seq := requestIDCounter.Add(1)
	var randSuffix [4]byte
	if _, err := rand.Read(randSuffix[:]); err != nil {
		// crypto/rand failure is not something we retry; fall back to the
		// timestamp/counter pair, which is already unique in practice.
		return fmt.Sprintf("req_%x_%d", time.Now().UnixNano(), seq)
	}
	return fmt.Sprintf("req_%x_%d_%s", time.Now().UnixNano(), seq, hex.EncodeToString(randSuffix[:]))
}
