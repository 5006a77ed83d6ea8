package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/turnstile/internal/engine"
)

// AsyncTx is the transaction context for non-blocking bodies.
//
// It carries the same ACTIVE -> (COMMITTED | ROLLED_BACK) state machine and
// auto-commit/auto-rollback policy as Tx, and additionally exposes
// ExecAsync, which returns a future instead of blocking.
//
// All statements for one AsyncTx - async and blocking alike - are serialized
// through a single statement goroutine in issue order, so an async body can
// fan statements out without ever hitting the engine concurrently. The
// handle lock is held from BEGIN until the whole statement chain has
// settled, not merely until the body function returns.
type AsyncTx struct {
	handle string
	token  string
	ctx    context.Context
	// finalCtx survives body cancellation so COMMIT/ROLLBACK still reach
	// the engine after a timeout; finalization is not skippable.
	finalCtx context.Context
	exec     Executor

	mu    sync.Mutex
	state State

	jobs       *txQueue
	workerDone chan struct{}
	inflight   sync.WaitGroup
}

func newAsyncTx(ctx context.Context, handle, token string, exec Executor) *AsyncTx {
	tx := &AsyncTx{
		handle:     handle,
		token:      token,
		ctx:        ctx,
		finalCtx:   context.WithoutCancel(ctx),
		exec:       exec,
		jobs:       newTxQueue(),
		workerDone: make(chan struct{}),
	}
	go tx.runStatements()
	return tx
}

// Handle returns the bound handle name.
func (tx *AsyncTx) Handle() string { return tx.handle }

// Token returns the transaction's correlation token.
func (tx *AsyncTx) Token() string { return tx.token }

// State returns the current state machine position.
func (tx *AsyncTx) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// ExecAsync queues a statement and returns a future for its result.
// Statements run in issue order on the transaction's statement goroutine.
// Fails (via the future) with TransactionFinalizedError once terminal.
func (tx *AsyncTx) ExecAsync(query string, params ...any) *Pending {
	p := newPending()

	tx.mu.Lock()
	if tx.state.Terminal() {
		st := tx.state
		tx.mu.Unlock()
		p.settle(engine.Result{}, &TransactionFinalizedError{Handle: tx.handle, Token: tx.token, State: st})
		return p
	}

	tx.inflight.Add(1)
	ok := tx.jobs.Enqueue(&entry{run: func() error {
		defer tx.inflight.Done()
		p.settle(tx.exec.Exec(tx.ctx, tx.handle, query, params...))
		return nil
	}})
	tx.mu.Unlock()

	if !ok {
		// Queue already sealed; the context is as good as finalized.
		tx.inflight.Done()
		p.settle(engine.Result{}, &TransactionFinalizedError{Handle: tx.handle, Token: tx.token, State: tx.State()})
	}

	return p
}

// Exec is the blocking convenience: queue the statement and wait for it.
func (tx *AsyncTx) Exec(query string, params ...any) (engine.Result, error) {
	return tx.ExecAsync(query, params...).Wait(tx.ctx)
}

// Commit waits for every outstanding statement to settle, then forwards
// COMMIT and transitions to COMMITTED. Like the synchronous context, an
// extra Commit is forwarded rather than guarded.
func (tx *AsyncTx) Commit() (engine.Result, error) {
	tx.inflight.Wait()

	res, err := tx.exec.Exec(tx.finalCtx, tx.handle, stmtCommit)
	if err != nil {
		return res, err
	}

	tx.mu.Lock()
	tx.state = StateCommitted
	tx.mu.Unlock()
	return res, nil
}

// Rollback waits for every outstanding statement to settle, then forwards
// ROLLBACK and transitions to ROLLED_BACK.
func (tx *AsyncTx) Rollback() error {
	tx.inflight.Wait()

	if _, err := tx.exec.Exec(tx.finalCtx, tx.handle, stmtRollback); err != nil {
		return err
	}

	tx.mu.Lock()
	tx.state = StateRolledBack
	tx.mu.Unlock()
	return nil
}

// runStatements is the per-transaction statement loop.
// Statement entries settle through their futures, so the run error and
// done channel are unused here.
func (tx *AsyncTx) runStatements() {
	defer close(tx.workerDone)

	for {
		e, ok := tx.jobs.TryDequeue()
		if ok {
			_ = e.run()
			continue
		}

		if _, open := <-tx.jobs.Wait(); !open && tx.jobs.Len() == 0 {
			return
		}
	}
}

// seal shuts the statement queue down. A fresh context is issued per
// transaction, so rather than resetting any flag the sealed context simply
// rejects everything from here on.
func (tx *AsyncTx) seal() {
	tx.jobs.Close()
	<-tx.workerDone
}

// runAsync drives one asynchronous transaction through the full protocol.
// Runs on the handle worker. The returned error is what the scheduler logs
// and delivers on the submission's channel; it is never raised at the
// submission point.
func (s *Scheduler) runAsync(ctx context.Context, name string, body func(*AsyncTx) error) error {
	ctx, cancel := s.bodyContext(ctx)
	defer cancel()

	token := s.tokens.Generate()
	slog.Debug("transaction starting", "handle", name, "token", token, "mode", "async")

	if _, err := s.exec.Exec(ctx, name, stmtBegin); err != nil {
		return fmt.Errorf("begin transaction %s: %w", token, err)
	}

	tx := newAsyncTx(ctx, name, token, s.exec)
	defer tx.seal()

	var bodyErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				bodyErr = fmt.Errorf("transaction %s body panic: %v", token, r)
			}
		}()
		bodyErr = body(tx)
	}()

	// The exclusion flag stays set until the body's whole asynchronous
	// chain settles, not merely its initial synchronous portion.
	tx.inflight.Wait()

	if bodyErr != nil {
		if !tx.State().Terminal() {
			if rerr := tx.Rollback(); rerr != nil {
				slog.Error("rollback failed",
					"handle", name,
					"token", token,
					"error", rerr,
				)
			}
		}
		return bodyErr
	}

	if !tx.State().Terminal() {
		if _, cerr := tx.Commit(); cerr != nil {
			// A failed COMMIT leaves the transaction open on the handle's
			// session; roll it back so the next entry gets a usable handle.
			if rerr := tx.Rollback(); rerr != nil {
				slog.Error("rollback failed",
					"handle", name,
					"token", token,
					"error", rerr,
				)
			}
			return fmt.Errorf("auto-commit transaction %s: %w", token, cerr)
		}
	}

	slog.Debug("transaction finished", "handle", name, "token", token, "state", tx.State())
	return nil
}

// Pending is a future for one statement issued through an AsyncTx.
// It settles exactly once; Wait may be called any number of times.
type Pending struct {
	ch     chan struct{}
	result engine.Result
	err    error
}

func newPending() *Pending {
	return &Pending{ch: make(chan struct{})}
}

func (p *Pending) settle(res engine.Result, err error) {
	p.result = res
	p.err = err
	close(p.ch)
}

// Wait blocks until the statement settles or the context is cancelled.
func (p *Pending) Wait(ctx context.Context) (engine.Result, error) {
	select {
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	case <-p.ch:
		return p.result, p.err
	}
}

// Done returns a channel closed when the statement has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.ch
}
