package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/turnstile/internal/engine"
)

// Executor is the slice of the engine facade the scheduler consumes.
// The transaction protocol (BEGIN TRANSACTION, COMMIT, ROLLBACK) and every
// caller statement all funnel through this single operation.
//
// Implemented by *engine.Engine in production and by recording fakes in
// tests.
type Executor interface {
	Exec(ctx context.Context, name, query string, params ...any) (engine.Result, error)
}

// Scheduler admits one transaction body per handle at a time while handles
// progress independently of each other.
//
// The registry is constructor-injected so isolated scheduler instances can
// coexist. The scheduler exclusively owns all lock state reachable through
// its registry.
type Scheduler struct {
	reg       *Registry
	exec      Executor
	tokens    TokenGenerator
	txTimeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTokenGenerator overrides the transaction token source.
// Tests use FixedGenerator for deterministic traces.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Scheduler) {
		s.tokens = g
	}
}

// WithTxTimeout bounds each transaction body's context with a deadline.
// Opt-in hardening against bodies that never settle; zero (the default)
// preserves the no-timeout behavior, where a stuck body permanently
// starves its handle's queue.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.txTimeout = d
	}
}

// New creates a scheduler over the given registry and executor.
func New(reg *Registry, exec Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:    reg,
		exec:   exec,
		tokens: UUIDv7Generator{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register creates scheduling state for a handle name and starts its worker.
// Must be called exactly once per successful engine open, after the open
// succeeds. Fails with AlreadyRegisteredError for a live name.
func (s *Scheduler) Register(name string) error {
	st, err := s.reg.register(name)
	if err != nil {
		return err
	}

	go s.runHandle(st)

	slog.Debug("handle registered", "handle", st.name)
	return nil
}

// Unregister removes scheduling state for a handle name.
// Called after the underlying engine close succeeds.
//
// Policy for close-with-pending-work: refused. Unregister fails with
// HandleBusyError while a transaction is in progress or entries remain
// queued, so queued work can never become unreachable.
func (s *Scheduler) Unregister(name string) error {
	st, err := s.reg.get(name)
	if err != nil {
		return err
	}

	// closeIfIdle decides busy-or-close atomically under the queue lock, so
	// a submission racing with unregistration either refuses the close here
	// or fails its enqueue against the already-closed queue.
	if !st.closeIfIdle() {
		return &HandleBusyError{Name: name, Pending: st.queue.Len()}
	}

	if _, err := s.reg.unregister(name); err != nil {
		return err
	}

	<-st.workerDone

	slog.Debug("handle unregistered", "handle", st.name)
	return nil
}

// Pending returns the number of queued (not yet started) transactions for a
// handle. Diagnostic; the value may be stale by the time it is read.
func (s *Scheduler) Pending(name string) (int, error) {
	st, err := s.reg.get(name)
	if err != nil {
		return 0, err
	}
	return st.queue.Len(), nil
}

// InProgress reports whether a transaction body is currently executing or
// finishing for the handle.
func (s *Scheduler) InProgress(name string) (bool, error) {
	st, err := s.reg.get(name)
	if err != nil {
		return false, err
	}
	return st.inProgress.Load(), nil
}

// Transaction runs body inside an exclusive transaction against the named
// handle, blocking until the transaction has fully settled.
//
// If body returns nil and never finalized the context, the transaction is
// committed on its behalf. If body returns an error (or panics), the
// transaction is rolled back and the original error is returned to the
// caller. Engine errors from BEGIN or the auto-commit propagate the same
// way. Queue bookkeeping runs regardless of outcome.
func (s *Scheduler) Transaction(ctx context.Context, name string, body func(*Tx) error) error {
	st, err := s.reg.get(name)
	if err != nil {
		return err
	}

	e := &entry{
		run: func() error {
			return s.runSync(ctx, st.name, body)
		},
		done: make(chan error, 1),
	}

	if !st.queue.Enqueue(e) {
		return &UnknownHandleError{Name: name}
	}

	return <-e.done
}

// TransactionAsync queues body without waiting for it to run.
//
// Guard errors (unknown handle) are returned immediately. Body and engine
// failures are NOT raised at the submission point: the transaction is rolled
// back, the failure is logged, and the error is delivered on the returned
// channel for callers that choose to observe it. The channel receives
// exactly one value (nil on success) once the transaction settles.
func (s *Scheduler) TransactionAsync(ctx context.Context, name string, body func(*AsyncTx) error) (<-chan error, error) {
	st, err := s.reg.get(name)
	if err != nil {
		return nil, err
	}

	e := &entry{
		run: func() error {
			err := s.runAsync(ctx, st.name, body)
			if err != nil {
				slog.Error("async transaction failed",
					"handle", st.name,
					"error", err,
				)
			}
			return err
		},
		done: make(chan error, 1),
	}

	if !st.queue.Enqueue(e) {
		return nil, &UnknownHandleError{Name: name}
	}

	return e.done, nil
}

// runHandle is the per-handle worker loop: the pump.
//
// It dequeues entries in strict FIFO order and runs each to completion
// before admitting the next. The in-progress flag is true exactly while an
// entry runs. Exits once the queue is closed and drained.
func (s *Scheduler) runHandle(st *lockState) {
	defer close(st.workerDone)

	for {
		// acquire raises the in-progress flag under the queue lock, so
		// closeIfIdle can never observe the handle idle while an entry is
		// on its way to execution.
		e, ok := st.acquire()
		if ok {
			err := e.run()
			st.inProgress.Store(false)
			e.done <- err
			continue
		}

		// The signal channel closes when the queue closes, so this also
		// fires for shutdown; loop back to drain anything left.
		if _, open := <-st.queue.Wait(); !open && st.queue.Len() == 0 {
			return
		}
	}
}

// bodyContext derives the context a transaction body runs under,
// applying the opt-in timeout when configured.
func (s *Scheduler) bodyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.txTimeout > 0 {
		return context.WithTimeout(ctx, s.txTimeout)
	}
	return context.WithCancel(ctx)
}
