package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDict_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("values", DictOptions{Immutable: true})

	key := Key{"number", "abc", "def", "tail0123456789"}
	require.NoError(t, d.Put(ctx, key, []byte("10")))

	got, err := d.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("10"), got)
}

func TestDict_GetMissing(t *testing.T) {
	s := openTestStore(t)
	d := s.Dict("values", DictOptions{Immutable: true})

	_, err := d.Get(t.Context(), Key1("missing"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDict_ImmutableDuplicateWriteIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("values", DictOptions{Immutable: true, PConsistencyChecks: 1})

	key := Key1("k")
	require.NoError(t, d.Put(ctx, key, []byte("same")))
	// identical content never errors, even with verification always on
	require.NoError(t, d.Put(ctx, key, []byte("same")))
}

func TestDict_ImmutableOverwriteDetected(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("values", DictOptions{Immutable: true, PConsistencyChecks: 1})

	key := Key1("k")
	require.NoError(t, d.Put(ctx, key, []byte("original")))

	err := d.Put(ctx, key, []byte("different"))
	require.Error(t, err)
	assert.True(t, IsImmutableOverwrite(err))

	// first write wins
	got, err := d.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestDict_ImmutableOverwriteUncheckedAtZero(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("values", DictOptions{Immutable: true, PConsistencyChecks: 0})

	key := Key1("k")
	require.NoError(t, d.Put(ctx, key, []byte("original")))
	// at probability 0 the mismatch is not observable
	require.NoError(t, d.Put(ctx, key, []byte("different")))

	got, err := d.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestDict_MutableUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("settings", DictOptions{})

	key := Key1("k")
	require.NoError(t, d.Put(ctx, key, []byte("v1")))
	require.NoError(t, d.Put(ctx, key, []byte("v2")))

	got, err := d.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestDict_DeleteAbsentIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("requests", DictOptions{})

	require.NoError(t, d.Delete(ctx, Key1("never-written")))
}

func TestDict_LenAndKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("requests", DictOptions{})

	n, err := d.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, d.Put(ctx, Key{"a", "1"}, []byte("x")))
	require.NoError(t, d.Put(ctx, Key{"b", "2"}, []byte("y")))

	n, err = d.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := d.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestDict_NamespaceIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d1 := s.Dict("one", DictOptions{})
	d2 := s.Dict("two", DictOptions{})

	require.NoError(t, d1.Put(ctx, Key1("k"), []byte("v")))

	ok, err := d2.Contains(ctx, Key1("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDict_RandomKey(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("requests", DictOptions{})

	_, ok, err := d.RandomKey(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Put(ctx, Key1("only"), []byte("x")))

	k, ok, err := d.RandomKey(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Key1("only"), k)
}

func TestDict_Timestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("attempts", DictOptions{})

	_, err := d.Timestamp(ctx, Key1("missing"))
	assert.True(t, IsNotFound(err))

	require.NoError(t, d.Put(ctx, Key1("k"), []byte("x")))
	ts, err := d.Timestamp(ctx, Key1("k"))
	require.NoError(t, err)
	assert.Greater(t, ts, float64(0))
}

func TestDict_PutAtUsesCallerClock(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	d := s.Dict("attempts", DictOptions{})

	const at = 1_700_000_000.5
	require.NoError(t, d.PutAt(ctx, Key1("k"), []byte("x"), at))

	ts, err := d.Timestamp(ctx, Key1("k"))
	require.NoError(t, err)
	assert.Equal(t, at, ts)

	// Recency queries must read back the same clock.
	n, latest, err := d.CountAndLatest(ctx, "k", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, at, latest)
}
