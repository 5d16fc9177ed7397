package staterequest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// LogTransactionFunc receives one completed transaction record. Logger
// errors must never break the transaction's observed outcome;
// StableBuffer enforces that by calling it outside the critical section
// and recovering from panics.
type LogTransactionFunc func(TransactionLog)

// StableBufferOptions configures a StableBuffer.
type StableBufferOptions struct {
	Initial              map[string]any
	Clone                CloneFunc
	TransactionTimeoutMs int64
	LogTransaction       LogTransactionFunc
	QueueCapacity        int // 0 defaults to 4096
}

// StableBuffer is the serialized single-writer transaction queue. One
// background goroutine drains jobs in strict enqueue order; every Run
// call is a job. This is a dedicated type rather than a plain mapping
// passed around ad hoc.
type StableBuffer struct {
	mu    sync.Mutex // guards state; held by the worker for each job and briefly by Read/GetState/SetState
	state map[string]any
	clone CloneFunc

	jobs chan *bufferJob

	seq atomic.Uint64

	transactionTimeout time.Duration
	logTransaction     LogTransactionFunc

	totalTransactions atomic.Int64
	totalQueueWaitMs   atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

type bufferJob struct {
	txID     string
	queuedAt time.Time
	fn       func(map[string]any) (any, error)
	opts     RunOptions
	done     chan bufferResult
}

type bufferResult struct {
	val any
	err error
}

// NewStableBuffer builds a StableBuffer and starts its worker goroutine.
func NewStableBuffer(opts StableBufferOptions) *StableBuffer {
	state := opts.Initial
	if state == nil {
		state = make(map[string]any)
	}
	clone := opts.Clone
	if clone == nil {
		clone = cloneState
	}
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	b := &StableBuffer{
		state:              state,
		clone:              clone,
		jobs:               make(chan *bufferJob, capacity),
		transactionTimeout: time.Duration(opts.TransactionTimeoutMs) * time.Millisecond,
		logTransaction:     opts.LogTransaction,
		closed:             make(chan struct{}),
	}
	go b.worker()
	return b
}

func (b *StableBuffer) worker() {
	for job := range b.jobs {
		b.runJob(job)
	}
}

func (b *StableBuffer) runJob(job *bufferJob) {
	startedAt := time.Now()

	b.mu.Lock()
	stateBefore := b.clone(b.state)
	val, err := job.fn(b.state)
	stateAfter := b.clone(b.state)
	b.mu.Unlock()

	finishedAt := time.Now()

	b.totalTransactions.Add(1)
	queueWaitMs := startedAt.Sub(job.queuedAt).Milliseconds()
	b.totalQueueWaitMs.Add(queueWaitMs)

	if b.logTransaction != nil {
		b.safeLog(TransactionLog{
			TransactionID: job.txID,
			QueuedAt:      job.queuedAt,
			StartedAt:     startedAt,
			FinishedAt:    finishedAt,
			DurationMs:    finishedAt.Sub(startedAt).Milliseconds(),
			QueueWaitMs:   queueWaitMs,
			Success:       err == nil,
			ErrorMessage:  errString(err),
			StateBefore:   stateBefore,
			StateAfter:    stateAfter,
			Activity:      job.opts.Activity,
			HookName:      job.opts.HookName,
			HookParams:    job.opts.HookParams,
		})
	}

	job.done <- bufferResult{val: val, err: err}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// safeLog invokes logTransaction, recovering from any panic so a broken
// logger never corrupts the observed transaction outcome.
func (b *StableBuffer) safeLog(entry TransactionLog) {
	defer func() { _ = recover() }()
	b.logTransaction(entry)
}

func (b *StableBuffer) nextTransactionID() string {
	seq := b.seq.Add(1)
	return fmt.Sprintf("stable-buffer-%d-%d", time.Now().UnixMilli(), seq)
}

// Read returns a deep clone of the current state. It does not go through
// the job queue — it is safe to call concurrently with a running
// transaction since it only needs the lock briefly.
func (b *StableBuffer) Read() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clone(b.state)
}

// GetState returns the live state reference.
func (b *StableBuffer) GetState() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState atomically replaces the state reference.
func (b *StableBuffer) SetState(state map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

// Run enqueues fn behind all prior runs and awaits its result. If
// TransactionTimeoutMs > 0, the caller's wait times out and returns
// ErrBufferTimeout, but the job keeps running in the background and
// subsequent Run calls still wait for it.
func (b *StableBuffer) Run(ctx context.Context, fn func(map[string]any) (any, error), opts RunOptions) (any, error) {
	job := &bufferJob{
		txID:     b.nextTransactionID(),
		queuedAt: time.Now(),
		fn:       fn,
		opts:     opts,
		done:     make(chan bufferResult, 1),
	}
	b.jobs <- job

	if b.transactionTimeout > 0 {
		timer := time.NewTimer(b.transactionTimeout)
		defer timer.Stop()
		select {
		case r := <-job.done:
			return r.val, r.err
		case <-timer.C:
			return nil, ErrBufferTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case r := <-job.done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Update runs fn and discards its return value.
func (b *StableBuffer) Update(ctx context.Context, fn func(map[string]any) (any, error), opts RunOptions) error {
	_, err := b.Run(ctx, fn, opts)
	return err
}

// Transaction is an alias of Run kept for readability at call sites that
// want to emphasize the transactional nature of the call.
func (b *StableBuffer) Transaction(ctx context.Context, fn func(map[string]any) (any, error), opts RunOptions) (any, error) {
	return b.Run(ctx, fn, opts)
}

// BufferMetrics is the snapshot exposed for observability.
type BufferMetrics struct {
	TotalTransactions   int64
	AverageQueueWaitMs  float64
}

func (b *StableBuffer) Metrics() BufferMetrics {
	total := b.totalTransactions.Load()
	m := BufferMetrics{TotalTransactions: total}
	if total > 0 {
		m.AverageQueueWaitMs = float64(b.totalQueueWaitMs.Load()) / float64(total)
	}
	return m
}

// Close stops the worker goroutine once the queue drains. It is safe to
// call multiple times.
func (b *StableBuffer) Close() {
	b.closeOnce.Do(func() {
		close(b.jobs)
		close(b.closed)
	})
}
