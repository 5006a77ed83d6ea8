package harness

import (
	"context"
	"fmt"

	"github.com/roach88/turnstile/internal/scheduler"
)

// Result captures one scenario execution.
type Result struct {
	Scenario string

	// Calls is the full ordered engine call log.
	Calls []Call

	// TxErrors holds each transaction's settlement error, index-aligned
	// with Scenario.Transactions (nil for clean commits).
	TxErrors []error
}

// Run executes a scenario against a fresh scheduler wired to a Recorder.
//
// Sync transactions settle before the next submission; async transactions
// are all queued first and awaited afterwards, so same-handle async bursts
// exercise the FIFO queue. Run fails if a transaction's settlement does not
// match its ExpectError flag, if the scenario's expected call list does not
// match, or if the call log shows interleaved transactions.
func Run(sc *Scenario) (*Result, error) {
	rec := NewRecorder()
	reg := scheduler.NewRegistry()
	sched := scheduler.New(reg, rec,
		scheduler.WithTokenGenerator(scheduler.NewFixedGenerator()),
	)

	for _, h := range sc.Handles {
		if err := sched.Register(h); err != nil {
			return nil, fmt.Errorf("register %q: %w", h, err)
		}
	}

	ctx := context.Background()
	txErrs := make([]error, len(sc.Transactions))

	type settlement struct {
		idx int
		ch  <-chan error
	}
	var pending []settlement

	for i, spec := range sc.Transactions {
		switch spec.Mode {
		case "", ModeSync:
			txErrs[i] = sched.Transaction(ctx, spec.Handle, syncBody(spec))
		case ModeAsync:
			ch, err := sched.TransactionAsync(ctx, spec.Handle, asyncBody(spec))
			if err != nil {
				return nil, fmt.Errorf("submit async transaction %d: %w", i, err)
			}
			pending = append(pending, settlement{idx: i, ch: ch})
		}
	}

	for _, p := range pending {
		txErrs[p.idx] = <-p.ch
	}

	result := &Result{
		Scenario: sc.Name,
		Calls:    rec.Calls(),
		TxErrors: txErrs,
	}

	if err := result.verify(sc); err != nil {
		return result, err
	}

	return result, nil
}

// syncBody builds the transaction body for a sync spec.
func syncBody(spec TxSpec) func(*scheduler.Tx) error {
	return func(tx *scheduler.Tx) error {
		for j, stmt := range spec.Statements {
			if spec.FailAfter != nil && j == *spec.FailAfter {
				return fmt.Errorf("injected body failure after %d statement(s)", j)
			}
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		if spec.FailAfter != nil && *spec.FailAfter == len(spec.Statements) {
			return fmt.Errorf("injected body failure after %d statement(s)", len(spec.Statements))
		}

		switch spec.Finalize {
		case FinalizeCommit:
			_, err := tx.Commit()
			return err
		case FinalizeRollback:
			return tx.Rollback()
		}
		return nil
	}
}

// asyncBody builds the transaction body for an async spec.
// Statements are issued through ExecAsync and awaited in issue order, so
// the scheduler's hold-until-settled behavior is exercised on every run.
func asyncBody(spec TxSpec) func(*scheduler.AsyncTx) error {
	return func(tx *scheduler.AsyncTx) error {
		var futures []*scheduler.Pending
		for j, stmt := range spec.Statements {
			if spec.FailAfter != nil && j == *spec.FailAfter {
				return fmt.Errorf("injected body failure after %d statement(s)", j)
			}
			futures = append(futures, tx.ExecAsync(stmt))
		}
		if spec.FailAfter != nil && *spec.FailAfter == len(spec.Statements) {
			return fmt.Errorf("injected body failure after %d statement(s)", len(spec.Statements))
		}

		for _, f := range futures {
			if _, err := f.Wait(context.Background()); err != nil {
				return err
			}
		}

		switch spec.Finalize {
		case FinalizeCommit:
			_, err := tx.Commit()
			return err
		case FinalizeRollback:
			return tx.Rollback()
		}
		return nil
	}
}

// verify checks settlement expectations, the expected call list, and
// structural serialization.
func (r *Result) verify(sc *Scenario) error {
	for i, spec := range sc.Transactions {
		err := r.TxErrors[i]
		if spec.ExpectError && err == nil {
			return fmt.Errorf("transaction %d: expected an error, got none", i)
		}
		if !spec.ExpectError && err != nil {
			return fmt.Errorf("transaction %d: unexpected error: %w", i, err)
		}
	}

	if len(sc.ExpectCalls) > 0 {
		if err := CheckExpected(r.Calls, sc.ExpectCalls); err != nil {
			return err
		}
	}

	return AssertSerialized(r.Calls)
}
