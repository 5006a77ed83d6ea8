package scheduler

import (
	"sync"
	"sync/atomic"
)

// entry is one queued transaction request: the caller-supplied body wrapped
// with the full begin/commit/rollback/finalize protocol. run executes the
// body under exclusion and returns its settlement error; it never panics.
// The worker delivers the settlement on done only after completion
// bookkeeping, so a submitter never observes a handle still in progress
// for its own finished transaction.
type entry struct {
	run  func() error
	done chan error
}

// txQueue is a thread-safe FIFO queue of pending transaction entries.
//
// The queue is unbounded so a burst of submissions is fully queued without
// blocking any submitter. Thread-safety covers external enqueuing from
// arbitrary goroutines while the handle worker dequeues.
//
// The signal channel enables the worker to wait without spinning; a buffer
// of one coalesces multiple signals.
type txQueue struct {
	mu      sync.Mutex
	entries []*entry
	closed  bool
	signal  chan struct{}
}

func newTxQueue() *txQueue {
	return &txQueue{
		entries: make([]*entry, 0, 8),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends an entry at the tail.
// Returns false if the queue is closed.
func (q *txQueue) Enqueue(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.entries = append(q.entries, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the head entry without blocking.
// Returns (nil, false) if the queue is empty.
func (q *txQueue) TryDequeue() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil, false
	}

	e := q.entries[0]

	// Nil out the slot so the backing array does not retain the entry.
	q.entries[0] = nil
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}

	return e, true
}

// Wait returns a channel that signals when entries may be available.
// The channel is closed when the queue closes.
func (q *txQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *txQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close marks the queue closed and wakes the worker.
// Entries already queued remain dequeueable.
func (q *txQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// lockState is the per-handle scheduling metadata: the pending FIFO queue
// plus the in-progress flag. Created atomically with registration, destroyed
// on unregistration. The scheduler owns it exclusively.
type lockState struct {
	name       string
	queue      *txQueue
	inProgress atomic.Bool
	workerDone chan struct{}
}

func newLockState(name string) *lockState {
	return &lockState{
		name:       name,
		queue:      newTxQueue(),
		workerDone: make(chan struct{}),
	}
}

// acquire dequeues the next entry and raises the in-progress flag in one
// step under the queue lock. Pairing the two under the lock closes the
// window where closeIfIdle would see an empty queue while an entry is
// between dequeue and execution.
func (st *lockState) acquire() (*entry, bool) {
	st.queue.mu.Lock()
	defer st.queue.mu.Unlock()

	if len(st.queue.entries) == 0 {
		return nil, false
	}

	e := st.queue.entries[0]
	st.queue.entries[0] = nil
	if len(st.queue.entries) == 1 {
		st.queue.entries = st.queue.entries[:0]
	} else {
		st.queue.entries = st.queue.entries[1:]
	}

	st.inProgress.Store(true)
	return e, true
}

// closeIfIdle closes the queue only when no body is executing and nothing
// is queued, deciding under the queue lock. An enqueue concurrent with
// unregistration therefore lands on one side or the other: either it wins
// the lock first and closeIfIdle refuses, or the close wins and the
// enqueue is rejected. Returns false when the handle is busy.
func (st *lockState) closeIfIdle() bool {
	st.queue.mu.Lock()
	defer st.queue.mu.Unlock()

	if st.inProgress.Load() || len(st.queue.entries) > 0 {
		return false
	}

	if !st.queue.closed {
		st.queue.closed = true
		close(st.queue.signal)
	}
	return true
}
