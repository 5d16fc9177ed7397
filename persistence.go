package staterequest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Emmvish/stable-request/internal/singleflight"
)

// reservedOpsStateKey is the sub-key of buffer state the coordinator uses
// to remember which operation ids have already executed: it records the
// op id in a reserved sub-key of buffer state.
const reservedOpsStateKey = "__persistence_ops__"

// PersistenceOp describes one load/store operation passed to a
// caller-supplied transaction hook.
type PersistenceOp struct {
	OperationID string
	Type        string // "load" | "store"
	Timestamp   time.Time
	State       any
}

// TransactionalPersistence is implemented by a persistence backend that
// prefers one combined entrypoint over separate Load/Store calls. When a
// BreakerPersistence or CachePersistence also implements this interface,
// CoordinatedBreakerPersistence/CoordinatedCachePersistence call
// Transaction for both load and store instead of Load/Store.
type TransactionalPersistence interface {
	Transaction(op PersistenceOp) (any, error)
}

// PersistenceCoordinator wraps a component's load/store calls in a
// StableBuffer transaction, tagging each with a unique operation id and
// short-circuiting replays of the same id. A singleflight
// group collapses concurrent calls that share an explicit (caller-
// supplied, e.g. replay-driven) operation id onto one execution instead
// of letting each queue separately behind the buffer.
type PersistenceCoordinator[T any] struct {
	buffer Buffer
	label  string
	seq    atomic.Uint64
	sf     *singleflight.Group
	logger Logger
}

// NewPersistenceCoordinator builds a coordinator over buffer, tagging
// operation ids with label (e.g. "breaker:default" or "cache:default").
func NewPersistenceCoordinator[T any](buffer Buffer, label string, logger Logger) *PersistenceCoordinator[T] {
	if logger == nil {
		logger = noopLogger{}
	}
	return &PersistenceCoordinator[T]{
		buffer: buffer,
		label:  label,
		sf:     singleflight.New(),
		logger: logger,
	}
}

func (p *PersistenceCoordinator[T]) nextOpID(opType string) string {
	seq := p.seq.Add(1)
	return fmt.Sprintf("%s-%s-%d-%d", p.label, opType, time.Now().UnixMilli(), seq)
}

// persistenceOutcome is the value threaded back out of the buffer
// transaction closure.
type persistenceOutcome[T any] struct {
	value   T
	skipped bool
}

// Execute runs fn at most once for opID (generating one if empty) inside
// a buffer transaction. Calls that arrive while an execution for opID is
// in flight share its result; a call made after it has completed — e.g. a
// later crash-retry replay — observes skipped=true and never calls fn
// again. fn receives the resolved opID so a
// TransactionalPersistence backend can tag its PersistenceOp with it.
func (p *PersistenceCoordinator[T]) Execute(ctx context.Context, opID, opType string, fn func(opID string) (T, error)) (result T, skipped bool, err error) {
	if opID == "" {
		opID = p.nextOpID(opType)
	}

	raw, sfErr := p.sf.Do(opID, func() (any, error) {
		return p.buffer.Run(ctx, func(state map[string]any) (any, error) {
			ops := reservedOpsSet(state)
			if ops[opID] {
				var zero T
				return persistenceOutcome[T]{value: zero, skipped: true}, nil
			}
			val, err := fn(opID)
			if err != nil {
				return persistenceOutcome[T]{}, err
			}
			ops[opID] = true
			state[reservedOpsStateKey] = ops
			return persistenceOutcome[T]{value: val, skipped: false}, nil
		}, RunOptions{Activity: "persistence", HookName: p.label + ":" + opType})
	})
	// Forget the finished call at once, so a later call with the same opID
	// reaches the buffer's op-id record rather than this call's outcome.
	p.sf.ForgetKey(opID)
	if sfErr != nil {
		return result, false, sfErr
	}
	outcome, ok := raw.(persistenceOutcome[T])
	if !ok {
		return result, false, fmt.Errorf("staterequest: unexpected persistence outcome type %T", raw)
	}
	return outcome.value, outcome.skipped, nil
}

func reservedOpsSet(state map[string]any) map[string]bool {
	raw, ok := state[reservedOpsStateKey]
	if !ok {
		set := make(map[string]bool)
		state[reservedOpsStateKey] = set
		return set
	}
	set, ok := raw.(map[string]bool)
	if !ok {
		set = make(map[string]bool)
		state[reservedOpsStateKey] = set
	}
	return set
}

// CoordinatedBreakerPersistence decorates a BreakerPersistence with the
// at-most-once buffer transaction described above. If inner also
// implements TransactionalPersistence, its Transaction method is called
// in place of Load/Store.
type CoordinatedBreakerPersistence struct {
	inner         BreakerPersistence
	transactional TransactionalPersistence
	coordinator   *PersistenceCoordinator[*BreakerStateRecord]
}

// NewCoordinatedBreakerPersistence wraps inner so every Load/Store goes
// through buffer under label.
func NewCoordinatedBreakerPersistence(buffer Buffer, label string, inner BreakerPersistence, logger Logger) *CoordinatedBreakerPersistence {
	c := &CoordinatedBreakerPersistence{
		inner:       inner,
		coordinator: NewPersistenceCoordinator[*BreakerStateRecord](buffer, label, logger),
	}
	if t, ok := inner.(TransactionalPersistence); ok {
		c.transactional = t
	}
	return c
}

func (c *CoordinatedBreakerPersistence) Load() (*BreakerStateRecord, error) {
	result, _, err := c.coordinator.Execute(context.Background(), "", "load", func(opID string) (*BreakerStateRecord, error) {
		if c.transactional != nil {
			raw, err := c.transactional.Transaction(PersistenceOp{OperationID: opID, Type: "load", Timestamp: time.Now()})
			if err != nil {
				return nil, err
			}
			state, _ := raw.(*BreakerStateRecord)
			return state, nil
		}
		return c.inner.Load()
	})
	return result, err
}

func (c *CoordinatedBreakerPersistence) Store(state BreakerStateRecord) error {
	_, _, err := c.coordinator.Execute(context.Background(), "", "store", func(opID string) (*BreakerStateRecord, error) {
		if c.transactional != nil {
			_, err := c.transactional.Transaction(PersistenceOp{OperationID: opID, Type: "store", Timestamp: time.Now(), State: state})
			return nil, err
		}
		return nil, c.inner.Store(state)
	})
	return err
}

// CoordinatedCachePersistence decorates a CachePersistence the same way,
// also preferring a Transaction method over Load/Store when inner
// implements TransactionalPersistence.
type CoordinatedCachePersistence struct {
	inner         CachePersistence
	transactional TransactionalPersistence
	coordinator   *PersistenceCoordinator[*CacheStateRecord]
}

func NewCoordinatedCachePersistence(buffer Buffer, label string, inner CachePersistence, logger Logger) *CoordinatedCachePersistence {
	c := &CoordinatedCachePersistence{
		inner:       inner,
		coordinator: NewPersistenceCoordinator[*CacheStateRecord](buffer, label, logger),
	}
	if t, ok := inner.(TransactionalPersistence); ok {
		c.transactional = t
	}
	return c
}

func (c *CoordinatedCachePersistence) Load() (*CacheStateRecord, error) {
	result, _, err := c.coordinator.Execute(context.Background(), "", "load", func(opID string) (*CacheStateRecord, error) {
		if c.transactional != nil {
			raw, err := c.transactional.Transaction(PersistenceOp{OperationID: opID, Type: "load", Timestamp: time.Now()})
			if err != nil {
				return nil, err
			}
			state, _ := raw.(*CacheStateRecord)
			return state, nil
		}
		return c.inner.Load()
	})
	return result, err
}

func (c *CoordinatedCachePersistence) Store(state CacheStateRecord) error {
	_, _, err := c.coordinator.Execute(context.Background(), "", "store", func(opID string) (*CacheStateRecord, error) {
		if c.transactional != nil {
			_, err := c.transactional.Transaction(PersistenceOp{OperationID: opID, Type: "store", Timestamp: time.Now(), State: state})
			return nil, err
		}
		return nil, c.inner.Store(state)
	})
	return err
}
