package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterGet(t *testing.T) {
	r := NewRegistry()

	st, err := r.register("db1")
	require.NoError(t, err)
	require.NotNil(t, st)

	got, err := r.get("db1")
	require.NoError(t, err)
	assert.Same(t, st, got)
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := NewRegistry()

	_, err := r.register("db1")
	require.NoError(t, err)

	_, err = r.register("db1")
	require.Error(t, err)
	assert.True(t, IsAlreadyRegistered(err))
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.get("nope")
	require.Error(t, err)
	assert.True(t, IsUnknownHandle(err))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	_, err := r.register("db1")
	require.NoError(t, err)

	_, err = r.unregister("db1")
	require.NoError(t, err)

	_, err = r.get("db1")
	assert.True(t, IsUnknownHandle(err))

	_, err = r.unregister("db1")
	assert.True(t, IsUnknownHandle(err))
}

func TestRegistry_NormalizesNames(t *testing.T) {
	r := NewRegistry()

	// "café" precomposed vs decomposed: same handle after NFC.
	_, err := r.register("café")
	require.NoError(t, err)

	_, err = r.register("café")
	require.Error(t, err)
	assert.True(t, IsAlreadyRegistered(err))

	_, err = r.get("café")
	assert.NoError(t, err)
}

func TestRegistry_NamesAndLen(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	_, err := r.register("a")
	require.NoError(t, err)
	_, err = r.register("b")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}
