package tripledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNID(t *testing.T) {
	assert.True(t, NullNID.IsNull())
	assert.False(t, NullNID.IsTriple())

	n := NID{Index: 7}
	assert.False(t, n.IsNull())
	assert.False(t, n.IsTriple())

	tr := NID{Index: 7, Flags: FlagTriple}
	assert.False(t, tr.IsNull())
	assert.True(t, tr.IsTriple())

	// NIDs are equal iff both fields are equal.
	assert.NotEqual(t, n, tr)
	assert.Equal(t, n, NID{Index: 7})

	// A zero index with a flag set is not the null NID.
	assert.False(t, NID{Flags: FlagTriple}.IsNull())
}

func TestTripleKeyRoundtrip(t *testing.T) {
	tr := Triple{
		{Index: 1},
		{Index: 0xDEADBEEF, Flags: FlagTriple},
		{},
	}
	b := tripleKey(tr)
	assert.Len(t, b, tripleLen)
	assert.Equal(t, tr, getTriple(b))
}

// Permutation keys must order by the masked triple first and the
// triple's own index last, so that all entries of one masked form are
// contiguous and sorted by index.
func TestPermKeyOrder(t *testing.T) {
	tr := Triple{{Index: 3}, {Index: 1}, {Index: 2}}

	k1 := permKey(tr, 10, 0)
	k2 := permKey(tr, 11, 0)
	assert.Equal(t, -1, compareKeys(k1, k2))

	// Any unmasked position dominates the trailing index.
	k3 := permKey(tr, 1, 1)
	assert.Equal(t, -1, compareKeys(k2, k3))
}

func compareKeys(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	}
	return 0
}
