package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "committed", StateCommitted.String())
	assert.Equal(t, "rolled_back", StateRolledBack.String())
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StateActive.Terminal())
	assert.True(t, StateCommitted.Terminal())
	assert.True(t, StateRolledBack.Terminal())
}

func newTestTx(exec Executor) *Tx {
	ctx := context.Background()
	return &Tx{
		handle:   "db1",
		token:    "tx-test",
		ctx:      ctx,
		finalCtx: context.WithoutCancel(ctx),
		exec:     exec,
	}
}

func TestTx_ExplicitCommit(t *testing.T) {
	exec := newFakeExec()
	tx := newTestTx(exec)

	_, err := tx.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	_, err = tx.Commit()
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, tx.State())

	assert.Equal(t, []string{
		"db1: INSERT INTO t VALUES (1)",
		"db1: COMMIT",
	}, exec.Calls())
}

func TestTx_ExplicitRollback(t *testing.T) {
	exec := newFakeExec()
	tx := newTestTx(exec)

	require.NoError(t, tx.Rollback())
	assert.Equal(t, StateRolledBack, tx.State())
	assert.Equal(t, []string{"db1: ROLLBACK"}, exec.Calls())
}

func TestTx_ExecAfterFinalize(t *testing.T) {
	exec := newFakeExec()
	tx := newTestTx(exec)

	_, err := tx.Commit()
	require.NoError(t, err)

	_, err = tx.Exec("INSERT INTO t VALUES (1)")
	require.Error(t, err)
	assert.True(t, IsFinalized(err))

	var fe *TransactionFinalizedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "db1", fe.Handle)
	assert.Equal(t, "tx-test", fe.Token)
	assert.Equal(t, StateCommitted, fe.State)

	// The statement never reached the engine.
	assert.Equal(t, []string{"db1: COMMIT"}, exec.Calls())
}

func TestTx_ExecAfterRollback(t *testing.T) {
	exec := newFakeExec()
	tx := newTestTx(exec)

	require.NoError(t, tx.Rollback())

	_, err := tx.Exec("SELECT 1")
	assert.True(t, IsFinalized(err))
}

func TestTx_DoubleCommitForwards(t *testing.T) {
	exec := newFakeExec()
	tx := newTestTx(exec)

	_, err := tx.Commit()
	require.NoError(t, err)

	// The second COMMIT is forwarded, not guarded; the engine decides.
	boom := errors.New("cannot commit - no transaction is active")
	exec.failOn("COMMIT", boom)

	_, err = tx.Commit()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateCommitted, tx.State())

	assert.Equal(t, []string{
		"db1: COMMIT",
		"db1: COMMIT",
	}, exec.Calls())
}

func TestTx_CommitFailureLeavesActive(t *testing.T) {
	exec := newFakeExec()
	tx := newTestTx(exec)

	exec.failOn("COMMIT", errors.New("disk I/O error"))

	_, err := tx.Commit()
	require.Error(t, err)
	assert.Equal(t, StateActive, tx.State(), "failed COMMIT must not mark the context committed")

	// A rollback can still finalize.
	exec.failOn("COMMIT", nil)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, StateRolledBack, tx.State())
}

func TestTx_RollbackFailureLeavesActive(t *testing.T) {
	exec := newFakeExec()
	tx := newTestTx(exec)

	exec.failOn("ROLLBACK", errors.New("disk I/O error"))

	err := tx.Rollback()
	require.Error(t, err)
	assert.Equal(t, StateActive, tx.State())
}

func TestTx_Accessors(t *testing.T) {
	tx := newTestTx(newFakeExec())

	assert.Equal(t, "db1", tx.Handle())
	assert.Equal(t, "tx-test", tx.Token())
	assert.Equal(t, StateActive, tx.State())
}

func TestTx_FinalizeSurvivesCancelledBody(t *testing.T) {
	exec := newFakeExec()

	ctx, cancel := context.WithCancel(context.Background())
	tx := &Tx{
		handle:   "db1",
		token:    "tx-test",
		ctx:      ctx,
		finalCtx: context.WithoutCancel(ctx),
		exec:     exec,
	}

	// A gated statement observes the cancelled body context...
	exec.gateOn("SELECT")
	cancel()
	_, err := tx.Exec("SELECT 1")
	require.ErrorIs(t, err, context.Canceled)

	// ...but finalization always reaches the engine.
	require.NoError(t, tx.Rollback())
	assert.Equal(t, StateRolledBack, tx.State())
}
