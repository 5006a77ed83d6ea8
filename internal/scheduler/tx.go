package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/turnstile/internal/engine"
)

// Transaction protocol statements. Everything the protocol issues goes
// through Executor.Exec like any caller statement.
const (
	stmtBegin    = "BEGIN TRANSACTION"
	stmtCommit   = "COMMIT"
	stmtRollback = "ROLLBACK"
)

// State is the transaction context state machine:
// ACTIVE -> (COMMITTED | ROLLED_BACK), both terminal.
type State int32

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the state is COMMITTED or ROLLED_BACK.
func (s State) Terminal() bool {
	return s != StateActive
}

// Tx is the synchronous transaction context handed to a transaction body.
//
// A Tx is exclusively owned by the single body it was created for. The body
// runs in one turn on the handle worker, so no internal locking is needed.
// Once finalized (explicitly or by the scheduler's auto-commit/rollback),
// every further Exec fails; finalization is never reset.
type Tx struct {
	handle string
	token  string
	ctx    context.Context
	// finalCtx survives body cancellation so COMMIT/ROLLBACK still reach
	// the engine after a timeout; finalization is not skippable.
	finalCtx context.Context
	exec     Executor
	state    State
}

// Handle returns the bound handle name.
func (tx *Tx) Handle() string { return tx.handle }

// Token returns the transaction's correlation token.
func (tx *Tx) Token() string { return tx.token }

// State returns the current state machine position.
func (tx *Tx) State() State { return tx.state }

// Exec forwards a statement to the engine within this transaction.
// Fails with TransactionFinalizedError once the state is terminal.
func (tx *Tx) Exec(query string, params ...any) (engine.Result, error) {
	if tx.state.Terminal() {
		return engine.Result{}, &TransactionFinalizedError{Handle: tx.handle, Token: tx.token, State: tx.state}
	}
	return tx.exec.Exec(tx.ctx, tx.handle, query, params...)
}

// Commit forwards COMMIT and transitions to COMMITTED.
//
// Calling Commit on an already-finalized context forwards COMMIT again and
// surfaces the engine's own failure; double-commit is not guarded locally.
// A failed COMMIT leaves the state ACTIVE so the scheduler's rollback path
// can still run.
func (tx *Tx) Commit() (engine.Result, error) {
	res, err := tx.exec.Exec(tx.finalCtx, tx.handle, stmtCommit)
	if err != nil {
		return res, err
	}
	tx.state = StateCommitted
	return res, nil
}

// Rollback forwards ROLLBACK and transitions to ROLLED_BACK.
func (tx *Tx) Rollback() error {
	_, err := tx.exec.Exec(tx.finalCtx, tx.handle, stmtRollback)
	if err != nil {
		return err
	}
	tx.state = StateRolledBack
	return nil
}

// runSync drives one synchronous transaction through the full protocol.
// Runs on the handle worker; returning hands the handle to the next entry,
// so settlement here IS the completion bookkeeping.
func (s *Scheduler) runSync(ctx context.Context, name string, body func(*Tx) error) (err error) {
	ctx, cancel := s.bodyContext(ctx)
	defer cancel()

	token := s.tokens.Generate()
	slog.Debug("transaction starting", "handle", name, "token", token, "mode", "sync")

	if _, berr := s.exec.Exec(ctx, name, stmtBegin); berr != nil {
		return fmt.Errorf("begin transaction %s: %w", token, berr)
	}

	tx := &Tx{
		handle:   name,
		token:    token,
		ctx:      ctx,
		finalCtx: context.WithoutCancel(ctx),
		exec:     s.exec,
	}

	defer func() {
		if r := recover(); r != nil {
			s.rollbackActive(tx)
			err = fmt.Errorf("transaction %s body panic: %v", token, r)
		}
	}()

	if berr := body(tx); berr != nil {
		// Auto-rollback, then propagate the original error untouched.
		s.rollbackActive(tx)
		return berr
	}

	if tx.state == StateActive {
		if _, cerr := tx.Commit(); cerr != nil {
			// A failed COMMIT leaves the transaction open on the handle's
			// session; roll it back so the next entry gets a usable handle.
			s.rollbackActive(tx)
			return fmt.Errorf("auto-commit transaction %s: %w", token, cerr)
		}
	}

	slog.Debug("transaction finished", "handle", name, "token", token, "state", tx.state)
	return nil
}

// rollbackActive rolls the transaction back if it is still ACTIVE.
// A rollback failure is logged, never propagated: it must not mask the
// body's error, and completion bookkeeping is not skippable.
func (s *Scheduler) rollbackActive(tx *Tx) {
	if tx.state.Terminal() {
		return
	}
	if rerr := tx.Rollback(); rerr != nil {
		slog.Error("rollback failed",
			"handle", tx.handle,
			"token", tx.token,
			"error", rerr,
		)
	}
}
