package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnstile/internal/engine"
)

// fakeExec is an in-memory Executor that records every statement in arrival
// order. Failures and blocking gates are keyed by query substring so tests
// can target individual statements.
type fakeExec struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	gate  map[string]chan struct{}
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		fail: make(map[string]error),
		gate: make(map[string]chan struct{}),
	}
}

func (f *fakeExec) Exec(ctx context.Context, name, query string, params ...any) (engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+": "+query)
	var gate chan struct{}
	var ferr error
	for sub, ch := range f.gate {
		if strings.Contains(query, sub) {
			gate = ch
		}
	}
	for sub, err := range f.fail {
		if strings.Contains(query, sub) {
			ferr = err
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}
	if ferr != nil {
		return engine.Result{}, ferr
	}
	return engine.Result{RowsAffected: 1}, nil
}

// failOn makes any statement containing sub fail with err.
// A nil err clears a previous failure.
func (f *fakeExec) failOn(sub string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[sub] = err
}

// gateOn blocks any statement containing sub until the returned channel is
// closed (or the statement's context is cancelled).
func (f *fakeExec) gateOn(sub string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate[sub] = ch
	return ch
}

func (f *fakeExec) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestScheduler(t *testing.T, handles ...string) (*Scheduler, *fakeExec) {
	t.Helper()
	exec := newFakeExec()
	s := New(NewRegistry(), exec, WithTokenGenerator(NewFixedGenerator()))
	for _, h := range handles {
		require.NoError(t, s.Register(h))
	}
	return s, exec
}

func TestScheduler_RegisterUnregister(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.Register("db1"))

	err := s.Register("db1")
	require.Error(t, err)
	assert.True(t, IsAlreadyRegistered(err))

	require.NoError(t, s.Unregister("db1"))

	err = s.Unregister("db1")
	assert.True(t, IsUnknownHandle(err))
}

func TestScheduler_Transaction_UnknownHandle(t *testing.T) {
	s, exec := newTestScheduler(t)

	err := s.Transaction(context.Background(), "nope", func(tx *Tx) error {
		t.Fatal("body must not run")
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsUnknownHandle(err))
	assert.Empty(t, exec.Calls(), "failed submission must leave no queue entry and no statements")
}

func TestScheduler_Transaction_AutoCommit(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (1)",
		"db1: COMMIT",
	}, exec.Calls())
}

func TestScheduler_Transaction_AutoRollback(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	boom := errors.New("boom")
	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
		if _, err := tx.Exec("INSERT INTO t VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom, "body error must propagate unwrapped")

	assert.Equal(t, []string{
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (1)",
		"db1: ROLLBACK",
	}, exec.Calls())
}

func TestScheduler_Transaction_StatementErrorRollsBack(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	boom := errors.New("constraint violation")
	exec.failOn("INSERT", boom)

	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (1)",
		"db1: ROLLBACK",
	}, exec.Calls())
}

func TestScheduler_Transaction_BeginFailure(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	boom := errors.New("database is locked")
	exec.failOn("BEGIN", boom)

	bodyRan := false
	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
		bodyRan = true
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, bodyRan, "body must not run when BEGIN fails")
	assert.Equal(t, []string{"db1: BEGIN TRANSACTION"}, exec.Calls())

	// A failed BEGIN leaves the handle usable.
	exec.failOn("BEGIN", nil)
	err = s.Transaction(context.Background(), "db1", func(tx *Tx) error { return nil })
	assert.NoError(t, err)
}

func TestScheduler_Transaction_AutoCommitFailure(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	boom := errors.New("disk I/O error")
	exec.failOn("COMMIT", boom)

	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "auto-commit")

	// The failed COMMIT leaves the transaction open on the handle's single
	// session, so a ROLLBACK must follow before the handle is handed on.
	assert.Equal(t, []string{
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (1)",
		"db1: COMMIT",
		"db1: ROLLBACK",
	}, exec.Calls())

	// The next transaction starts on a clean session.
	exec.failOn("COMMIT", nil)
	err = s.Transaction(context.Background(), "db1", func(tx *Tx) error { return nil })
	assert.NoError(t, err)
}

func TestScheduler_Transaction_BodyPanic(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
		panic("wat")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body panic")
	assert.Contains(t, err.Error(), "wat")

	assert.Equal(t, []string{
		"db1: BEGIN TRANSACTION",
		"db1: ROLLBACK",
	}, exec.Calls())

	// The worker survives the panic.
	err = s.Transaction(context.Background(), "db1", func(tx *Tx) error { return nil })
	assert.NoError(t, err)
}

func TestScheduler_FIFO_SameHandle(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	release := exec.gateOn("VALUES (1)")

	first, err := s.TransactionAsync(context.Background(), "db1", func(tx *AsyncTx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.NoError(t, err)

	// Queued behind the first from the same goroutine, so queue order is
	// submission order.
	second, err := s.TransactionAsync(context.Background(), "db1", func(tx *AsyncTx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (2)")
		return err
	})
	require.NoError(t, err)

	third, err := s.TransactionAsync(context.Background(), "db1", func(tx *AsyncTx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (3)")
		return err
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	require.NoError(t, <-third)

	assert.Equal(t, []string{
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (1)",
		"db1: COMMIT",
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (2)",
		"db1: COMMIT",
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (3)",
		"db1: COMMIT",
	}, exec.Calls())
}

func TestScheduler_MutualExclusion(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	release := exec.gateOn("VALUES (1)")

	done, err := s.TransactionAsync(context.Background(), "db1", func(tx *AsyncTx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.NoError(t, err)

	// First transaction is mid-body: the handle reports in progress and the
	// second submission stays queued.
	require.Eventually(t, func() bool {
		busy, err := s.InProgress("db1")
		return err == nil && busy
	}, time.Second, time.Millisecond)

	second, err := s.TransactionAsync(context.Background(), "db1", func(tx *AsyncTx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (2)")
		return err
	})
	require.NoError(t, err)

	pending, err := s.Pending("db1")
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "second transaction must wait its turn")

	calls := exec.Calls()
	assert.NotContains(t, calls, "db1: INSERT INTO t VALUES (2)")

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-second)

	busy, err := s.InProgress("db1")
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestScheduler_HandlesIndependent(t *testing.T) {
	s, exec := newTestScheduler(t, "db1", "db2")

	release := exec.gateOn("VALUES (1)")

	blocked, err := s.TransactionAsync(context.Background(), "db1", func(tx *AsyncTx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.NoError(t, err)

	// db2 is not held up by db1's in-flight transaction.
	err = s.Transaction(context.Background(), "db2", func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO u VALUES (9)")
		return err
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-blocked)
}

func TestScheduler_Unregister_Busy(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	release := exec.gateOn("VALUES (1)")

	done, err := s.TransactionAsync(context.Background(), "db1", func(tx *AsyncTx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		busy, err := s.InProgress("db1")
		return err == nil && busy
	}, time.Second, time.Millisecond)

	err = s.Unregister("db1")
	require.Error(t, err)
	assert.True(t, IsHandleBusy(err))

	close(release)
	require.NoError(t, <-done)

	// Settled via the done channel means bookkeeping already ran, so the
	// unregister now succeeds.
	assert.NoError(t, s.Unregister("db1"))
}

func TestScheduler_Unregister_ConcurrentSubmitRejected(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	// A submitter that resolved the handle before unregistration must be
	// rejected at enqueue, never run against the torn-down handle.
	st, err := s.reg.get("db1")
	require.NoError(t, err)

	require.NoError(t, s.Unregister("db1"))

	ok := st.queue.Enqueue(&entry{
		run:  func() error { return errors.New("must not run") },
		done: make(chan error, 1),
	})
	assert.False(t, ok, "closed queue must refuse the entry")

	err = s.Transaction(context.Background(), "db1", func(tx *Tx) error { return nil })
	assert.True(t, IsUnknownHandle(err))
	assert.Empty(t, exec.Calls())
}

func TestScheduler_Unregister_AfterSyncTransaction(t *testing.T) {
	s, _ := newTestScheduler(t, "db1")

	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error { return nil })
	require.NoError(t, err)

	assert.NoError(t, s.Unregister("db1"))
}

func TestScheduler_TxTimeout(t *testing.T) {
	exec := newFakeExec()
	s := New(NewRegistry(), exec,
		WithTokenGenerator(NewFixedGenerator()),
		WithTxTimeout(20*time.Millisecond),
	)
	require.NoError(t, s.Register("db1"))

	// Never released: only the body deadline can unblock the statement.
	exec.gateOn("VALUES (1)")

	err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Finalization ran despite the expired body context.
	calls := exec.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "db1: ROLLBACK", calls[len(calls)-1])

	// The handle keeps working afterwards.
	err = s.Transaction(context.Background(), "db1", func(tx *Tx) error { return nil })
	assert.NoError(t, err)
}

func TestScheduler_InterleavedTrace(t *testing.T) {
	s, exec := newTestScheduler(t, "db1")

	for i := 1; i <= 2; i++ {
		i := i
		err := s.Transaction(context.Background(), "db1", func(tx *Tx) error {
			_, err := tx.Exec(fmt.Sprintf("INSERT INTO t VALUES (%d)", i))
			return err
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (1)",
		"db1: COMMIT",
		"db1: BEGIN TRANSACTION",
		"db1: INSERT INTO t VALUES (2)",
		"db1: COMMIT",
	}, exec.Calls())
}

func TestScheduler_PendingUnknownHandle(t *testing.T) {
	s, _ := newTestScheduler(t)

	_, err := s.Pending("nope")
	assert.True(t, IsUnknownHandle(err))

	_, err = s.InProgress("nope")
	assert.True(t, IsUnknownHandle(err))
}
