package tripledb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newTestStore opens a store in a fresh temporary directory and closes
// it when the test finishes.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir, WithNoSync())
	if err != nil {
		t.Fatalf("cannot open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func openTestModel(t *testing.T, store *Store, name string) *Model {
	t.Helper()
	m, err := store.OpenModel(name)
	if err != nil {
		t.Fatalf("cannot open model %q: %v", name, err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestIdentifyNode(t *testing.T) {
	store, _ := newTestStore(t)

	na, err := store.IdentifyNode([]byte("Dit is een test."))
	require.NoError(t, err)
	nb, err := store.IdentifyNode([]byte("Korter."))
	require.NoError(t, err)
	nc, err := store.IdentifyNode(make([]byte, 8)) // 8 zero bytes
	require.NoError(t, err)

	for _, nid := range []NID{na, nb, nc} {
		assert.False(t, nid.IsNull())
		assert.False(t, nid.IsTriple())
	}
	assert.NotEqual(t, na, nb)
	assert.NotEqual(t, na, nc)
	assert.NotEqual(t, nb, nc)

	// Byte-equal data yields the same identifier.
	again, err := store.IdentifyNode([]byte("Dit is een test."))
	require.NoError(t, err)
	assert.Equal(t, na, again)

	data, err := store.ResolveNode(na, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("Dit is een test."), data)

	data, err = store.ResolveNode(nc, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), data)
}

func TestIdentifyNodeEmptyPayload(t *testing.T) {
	store, _ := newTestStore(t)

	nid, err := store.IdentifyNode([]byte{})
	require.NoError(t, err)
	assert.False(t, nid.IsNull())

	again, err := store.IdentifyNode(nil)
	require.NoError(t, err)
	assert.Equal(t, nid, again)

	data, err := store.ResolveNode(nid, nil)
	require.NoError(t, err)
	assert.Len(t, data, 0)
}

func TestResolveNodeBuffer(t *testing.T) {
	store, _ := newTestStore(t)

	nb, err := store.IdentifyNode([]byte("Korter."))
	require.NoError(t, err)

	// A too-small buffer reports the required size.
	_, err = store.ResolveNode(nb, []byte{})
	var short *ShortBufferError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 7, short.Size)

	// A retry with the reported size succeeds in place.
	buf := make([]byte, short.Size)
	data, err := store.ResolveNode(nb, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("Korter."), data)
	assert.Same(t, &buf[0], &data[0])

	// A larger buffer is trimmed to the payload length.
	data, err = store.ResolveNode(nb, make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, []byte("Korter."), data)
}

func TestResolveNodeMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.ResolveNode(NID{Index: 42}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveNodeContract(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Panics(t, func() {
		store.ResolveNode(NID{Index: 1, Flags: FlagTriple}, nil)
	})
	assert.Panics(t, func() {
		store.ResolveNode(NullNID, nil)
	})
}

func TestIdentifyTriple(t *testing.T) {
	store, _ := newTestStore(t)

	na, _ := store.IdentifyNode([]byte("a"))
	nb, _ := store.IdentifyNode([]byte("b"))
	nc, _ := store.IdentifyNode([]byte("c"))

	t1, err := store.IdentifyTriple(Triple{na, nb, nc})
	require.NoError(t, err)
	assert.True(t, t1.IsTriple())
	assert.False(t, t1.IsNull())

	// Stable across calls.
	again, err := store.IdentifyTriple(Triple{na, nb, nc})
	require.NoError(t, err)
	assert.Equal(t, t1, again)

	// Distinct member order, distinct identifier.
	t2, err := store.IdentifyTriple(Triple{nc, nb, na})
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)

	tr, err := store.ResolveTriple(t1)
	require.NoError(t, err)
	assert.Equal(t, Triple{na, nb, nc}, tr)
}

func TestResolveTripleMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.ResolveTriple(NID{Index: 42, Flags: FlagTriple})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveTripleContract(t *testing.T) {
	store, _ := newTestStore(t)

	na, _ := store.IdentifyNode([]byte("a"))
	assert.Panics(t, func() {
		store.ResolveTriple(na)
	})
}

func TestReification(t *testing.T) {
	store, _ := newTestStore(t)

	na, _ := store.IdentifyNode([]byte("a"))
	nb, _ := store.IdentifyNode([]byte("b"))
	nc, _ := store.IdentifyNode([]byte("c"))

	t1, err := store.IdentifyTriple(Triple{na, nb, nc})
	require.NoError(t, err)
	t2, err := store.IdentifyTriple(Triple{t1, na, t1})
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2)
	assert.True(t, t1.IsTriple())
	assert.True(t, t2.IsTriple())

	tr, err := store.ResolveTriple(t2)
	require.NoError(t, err)
	assert.Equal(t, t1, tr[0])
	assert.Equal(t, na, tr[1])
	assert.Equal(t, t1, tr[2])
}

// Concurrent interning of the same payload must serialize on a single
// identifier: one caller creates it, the rest read it.
func TestConcurrentIdentifyNode(t *testing.T) {
	store, _ := newTestStore(t)

	const workers = 16
	payload := []byte("shared payload")

	var g errgroup.Group
	nids := make([]NID, workers)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			nid, err := store.IdentifyNode(payload)
			if err != nil {
				return err
			}
			// Some distinct traffic on the side.
			if _, err := store.IdentifyNode([]byte{byte(i)}); err != nil {
				return err
			}
			nids[i] = nid
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 1; i < workers; i++ {
		assert.Equal(t, nids[0], nids[i])
	}

	data, err := store.ResolveNode(nids[0], nil)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, data))
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, WithNoSync())
	require.NoError(t, err)

	na, err := store.IdentifyNode([]byte("persists"))
	require.NoError(t, err)
	tn, err := store.IdentifyTriple(Triple{na, na, na})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(dir, WithNoSync())
	require.NoError(t, err)
	defer store.Close()

	again, err := store.IdentifyNode([]byte("persists"))
	require.NoError(t, err)
	assert.Equal(t, na, again)

	tr, err := store.ResolveTriple(tn)
	require.NoError(t, err)
	assert.Equal(t, Triple{na, na, na}, tr)
}

func TestStoreClosed(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.IdentifyNode([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.OpenModel("m")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStats(t *testing.T) {
	store, _ := newTestStore(t)

	na, _ := store.IdentifyNode([]byte("a"))
	nb, _ := store.IdentifyNode([]byte("b"))
	_, err := store.IdentifyTriple(Triple{na, nb, na})
	require.NoError(t, err)
	openTestModel(t, store, "stats")

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.NumNodes)
	assert.Equal(t, 1, st.NumTriples)
	assert.Equal(t, 1, st.OpenModels)
	assert.Equal(t, store.Path(), st.File)
	assert.Greater(t, st.SizeInBytes, 0)
}
