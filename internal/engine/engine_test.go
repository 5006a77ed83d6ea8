package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, names ...string) (*Engine, string) {
	t.Helper()
	e := New()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, e.Open(name, dir))
		t.Cleanup(func() {
			// Best effort; the test may have closed it already.
			_ = e.Close(name)
		})
	}
	return e, dir
}

func TestEngine_OpenClose(t *testing.T) {
	e := New()
	dir := t.TempDir()

	require.NoError(t, e.Open("test.db", dir))
	assert.FileExists(t, filepath.Join(dir, "test.db"))

	require.NoError(t, e.Close("test.db"))

	err := e.Close("test.db")
	require.Error(t, err)
	assert.True(t, IsNotOpen(err))
}

func TestEngine_OpenTwice(t *testing.T) {
	e, _ := newTestEngine(t, "test.db")

	err := e.Open("test.db", t.TempDir())
	require.Error(t, err)
	assert.True(t, IsAlreadyOpen(err))
}

func TestEngine_OpenInMemory(t *testing.T) {
	e := New()

	require.NoError(t, e.Open(":memory:", ""))
	defer e.Close(":memory:")

	_, err := e.Exec(context.Background(), ":memory:", "CREATE TABLE t (id INTEGER)")
	assert.NoError(t, err)
}

func TestEngine_Delete(t *testing.T) {
	e := New()
	dir := t.TempDir()

	require.NoError(t, e.Open("test.db", dir))
	path := filepath.Join(dir, "test.db")
	require.FileExists(t, path)

	require.NoError(t, e.Delete("test.db", dir))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "database file should be removed")
	assert.True(t, IsNotOpen(e.Close("test.db")), "handle should be gone")
}

func TestEngine_Delete_NeverOpened(t *testing.T) {
	e := New()

	// Deleting a database that is not open (or does not exist) succeeds.
	assert.NoError(t, e.Delete("ghost.db", t.TempDir()))
}

func TestEngine_Names(t *testing.T) {
	e, _ := newTestEngine(t, "a.db", "b.db")

	assert.ElementsMatch(t, []string{"a.db", "b.db"}, e.Names())
}

func TestEngine_AttachDetach(t *testing.T) {
	e := New()
	dir := t.TempDir()

	require.NoError(t, e.Open("main.db", dir))
	defer e.Close("main.db")
	require.NoError(t, e.Open("other.db", dir))

	ctx := context.Background()
	_, err := e.Exec(ctx, "other.db", "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = e.Exec(ctx, "other.db", "INSERT INTO t VALUES (42)")
	require.NoError(t, err)
	require.NoError(t, e.Close("other.db"))

	require.NoError(t, e.Attach("main.db", "other.db", "aux", dir))

	res, err := e.Exec(ctx, "main.db", "SELECT id FROM aux.t")
	require.NoError(t, err)
	require.Equal(t, 1, res.Rows.Len())
	row, err := res.Rows.Item(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), row["id"])

	require.NoError(t, e.Detach("main.db", "aux"))

	_, err = e.Exec(ctx, "main.db", "SELECT id FROM aux.t")
	assert.Error(t, err, "alias should be gone after detach")
}

func TestEngine_Attach_NotOpen(t *testing.T) {
	e := New()

	err := e.Attach("nope.db", "other.db", "aux", t.TempDir())
	assert.True(t, IsNotOpen(err))
}

func TestDatabasePath(t *testing.T) {
	assert.Equal(t, ":memory:", databasePath(":memory:", "/data"))
	assert.Equal(t, "test.db", databasePath("test.db", ""))
	assert.Equal(t, filepath.Join("/data", "test.db"), databasePath("test.db", "/data"))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"aux"`, quoteIdent("aux"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}
