package staterequest

import (
	"context"
	"sync"
)

// CloneFunc deep-copies a buffer state map. The default, cloneState,
// performs a structural deep copy; callers with richer state (custom
// types that don't round-trip through the default walker) may supply
// their own.
type CloneFunc func(map[string]any) map[string]any

// RunOptions configures one Buffer.Run call.
type RunOptions struct {
	Activity   string
	HookName   string
	HookParams any
}

// Buffer is the polymorphic state-holder the hook runner and persistence
// coordinator depend on ("one polymorphic buffer
// abstraction with two implementations"). PlainBuffer serves callers that
// need no serialization or logging; StableBuffer (stable_buffer.go)
// serializes every mutation through a single-writer queue with logging
// and metrics.
type Buffer interface {
	// Read returns a deep clone of the current state.
	Read() map[string]any
	// GetState returns the live state reference. Callers must not mutate
	// it concurrently with a running transaction.
	GetState() map[string]any
	// SetState atomically replaces the state reference.
	SetState(state map[string]any)
	// Run enqueues fn behind all prior runs (for StableBuffer) or simply
	// executes fn under lock (for PlainBuffer), awaits its result, and
	// returns it.
	Run(ctx context.Context, fn func(state map[string]any) (any, error), opts RunOptions) (any, error)
}

// PlainBuffer is a mutex-guarded map with no transaction logging, queue
// metrics, or replay support — the cheap option when a caller just needs
// a shared mutable state object without the StableBuffer's bookkeeping.
type PlainBuffer struct {
	mu    sync.Mutex
	state map[string]any
	clone CloneFunc
}

// NewPlainBuffer builds a PlainBuffer seeded with initial (or an empty map
// if nil).
func NewPlainBuffer(initial map[string]any) *PlainBuffer {
	if initial == nil {
		initial = make(map[string]any)
	}
	return &PlainBuffer{state: initial, clone: cloneState}
}

func (b *PlainBuffer) Read() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clone(b.state)
}

func (b *PlainBuffer) GetState() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *PlainBuffer) SetState(state map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

func (b *PlainBuffer) Run(_ context.Context, fn func(map[string]any) (any, error), _ RunOptions) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b.state)
}

// cloneState performs a recursive structural deep copy of a
// buffer state map: nested maps and slices are copied, scalar and other
// reference values are assigned as-is (they are expected to be immutable
// value types by convention).
func cloneState(state map[string]any) map[string]any {
	return cloneAny(state).(map[string]any)
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneAny(val)
		}
		return out
	default:
		return v
	}
}
