package staterequest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPersistenceCoordinatorExecutesOncePerOpID(t *testing.T) {
	buffer := NewPlainBuffer(nil)
	coord := NewPersistenceCoordinator[int](buffer, "test", nil)

	var calls atomic.Int32
	fn := func(opID string) (int, error) {
		calls.Add(1)
		return 7, nil
	}

	v1, skipped1, err1 := coord.Execute(context.Background(), "op-1", "store", fn)
	v2, skipped2, err2 := coord.Execute(context.Background(), "op-1", "store", fn)

	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if skipped1 {
		t.Errorf("expected the first execution to not be skipped")
	}
	if !skipped2 {
		t.Errorf("expected the second execution with the same opID to be skipped")
	}
	if v1 != 7 {
		t.Errorf("expected the first call's result to be 7, got %d", v1)
	}
	if v2 != 0 {
		t.Errorf("expected the skipped call's result to be the zero value, got %d", v2)
	}
	if calls.Load() != 1 {
		t.Errorf("expected fn to run exactly once, ran %d times", calls.Load())
	}
}

func TestPersistenceCoordinatorGeneratesOpIDWhenEmpty(t *testing.T) {
	buffer := NewPlainBuffer(nil)
	coord := NewPersistenceCoordinator[int](buffer, "test", nil)

	var calls atomic.Int32
	fn := func(opID string) (int, error) { calls.Add(1); return 1, nil }

	_, skipped1, _ := coord.Execute(context.Background(), "", "load", fn)
	_, skipped2, _ := coord.Execute(context.Background(), "", "load", fn)

	if skipped1 || skipped2 {
		t.Errorf("expected two calls with distinct auto-generated opIDs to both run")
	}
	if calls.Load() != 2 {
		t.Errorf("expected fn to run twice, ran %d times", calls.Load())
	}
}

func TestPersistenceCoordinatorPropagatesFnError(t *testing.T) {
	buffer := NewPlainBuffer(nil)
	coord := NewPersistenceCoordinator[int](buffer, "test", nil)

	_, _, err := coord.Execute(context.Background(), "op-err", "store", func(opID string) (int, error) {
		return 0, ErrCacheMiss
	})
	if err != ErrCacheMiss {
		t.Errorf("expected the underlying fn error to propagate, got %v", err)
	}

	// A retry with the same opID after a failure must not be treated as
	// already-applied, since the failed attempt never recorded the op id.
	ran := false
	_, skipped, err2 := coord.Execute(context.Background(), "op-err", "store", func(opID string) (int, error) {
		ran = true
		return 9, nil
	})
	if err2 != nil {
		t.Fatalf("unexpected error on retry: %v", err2)
	}
	if skipped {
		t.Errorf("expected a retry after failure to actually run, not be skipped")
	}
	if !ran {
		t.Errorf("expected fn to run on retry")
	}
}

func TestPersistenceCoordinatorConcurrentSameOpIDCollapses(t *testing.T) {
	buffer := NewPlainBuffer(nil)
	coord := NewPersistenceCoordinator[int](buffer, "test", nil)

	var calls atomic.Int32
	var wg sync.WaitGroup
	skippedCount := atomic.Int32{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, skipped, err := coord.Execute(context.Background(), "shared-op", "store", func(opID string) (int, error) {
				calls.Add(1)
				return 1, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if skipped {
				skippedCount.Add(1)
			}
		}()
	}
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 underlying execution for a shared opID, got %d", calls.Load())
	}
}

type countingBreakerPersistence struct {
	mu        sync.Mutex
	loadCount int
	stored    BreakerStateRecord
}

func (c *countingBreakerPersistence) Load() (*BreakerStateRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadCount++
	return &BreakerStateRecord{State: StateOpen}, nil
}

func (c *countingBreakerPersistence) Store(state BreakerStateRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = state
	return nil
}

func TestCoordinatedBreakerPersistenceRoundTrips(t *testing.T) {
	buffer := NewPlainBuffer(nil)
	inner := &countingBreakerPersistence{}
	coordinated := NewCoordinatedBreakerPersistence(buffer, "breaker", inner, nil)

	loaded, err := coordinated.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.State != StateOpen {
		t.Errorf("expected loaded state OPEN, got %s", loaded.State)
	}

	if err := coordinated.Store(BreakerStateRecord{State: StateHalfOpen}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.stored.State != StateHalfOpen {
		t.Errorf("expected the inner persistence to have received the stored state")
	}
}

// transactionalBreakerPersistence implements both BreakerPersistence and
// TransactionalPersistence; the coordinator must prefer Transaction.
type transactionalBreakerPersistence struct {
	mu      sync.Mutex
	ops     []PersistenceOp
	stored  *BreakerStateRecord
	loadErr error
}

func (t *transactionalBreakerPersistence) Load() (*BreakerStateRecord, error) {
	panic("Load should never be called when Transaction is available")
}

func (t *transactionalBreakerPersistence) Store(state BreakerStateRecord) error {
	panic("Store should never be called when Transaction is available")
}

func (t *transactionalBreakerPersistence) Transaction(op PersistenceOp) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
	switch op.Type {
	case "load":
		if t.loadErr != nil {
			return nil, t.loadErr
		}
		return t.stored, nil
	case "store":
		state := op.State.(BreakerStateRecord)
		t.stored = &state
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected op type %q", op.Type)
	}
}

func TestCoordinatedBreakerPersistencePrefersTransaction(t *testing.T) {
	buffer := NewPlainBuffer(nil)
	inner := &transactionalBreakerPersistence{stored: &BreakerStateRecord{State: StateHalfOpen}}
	coordinated := NewCoordinatedBreakerPersistence(buffer, "breaker", inner, nil)

	loaded, err := coordinated.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.State != StateHalfOpen {
		t.Errorf("expected the loaded state to come from Transaction, got %v", loaded)
	}

	if err := coordinated.Store(BreakerStateRecord{State: StateOpen}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.stored.State != StateOpen {
		t.Errorf("expected the stored state to have gone through Transaction, got %v", inner.stored)
	}

	if len(inner.ops) != 2 || inner.ops[0].Type != "load" || inner.ops[1].Type != "store" {
		t.Errorf("expected exactly one load op and one store op through Transaction, got %+v", inner.ops)
	}
	for _, op := range inner.ops {
		if op.OperationID == "" {
			t.Errorf("expected every PersistenceOp to carry a resolved operation id")
		}
	}
}
