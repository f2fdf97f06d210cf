package tripledb

import "encoding/binary"

// FlagTriple marks node identifiers that refer to an interned triple
// rather than a byte-string node.
const FlagTriple uint32 = 1

// NID identifies a node in the store: either a byte-string node or an
// interned triple. The zero value is the null NID, which identifies no
// node at all; in find patterns it acts as a wildcard. NIDs are cheap
// to copy and compare with ==.
type NID struct {
	Index uint32
	Flags uint32
}

// NullNID is the null node identifier.
var NullNID = NID{}

// IsNull reports whether nid is the null node identifier.
func (nid NID) IsNull() bool { return nid.Index == 0 && nid.Flags == 0 }

// IsTriple reports whether nid identifies an interned triple.
func (nid NID) IsTriple() bool { return nid.Flags&FlagTriple != 0 }

// Triple is an ordered tuple of three node identifiers. An interned
// triple is itself a node and may appear as a member of other triples.
type Triple [3]NID

// Key and record sizes. NIDs are stored as two big-endian uint32s so
// that the lexicographic order of the encoded form follows the index.
const (
	nidLen    = 8
	tripleLen = 3 * nidLen
	entryLen  = tripleLen + 4
)

func putNID(b []byte, nid NID) {
	binary.BigEndian.PutUint32(b, nid.Index)
	binary.BigEndian.PutUint32(b[4:], nid.Flags)
}

func getNID(b []byte) NID {
	return NID{
		Index: binary.BigEndian.Uint32(b),
		Flags: binary.BigEndian.Uint32(b[4:]),
	}
}

// tripleKey packs a triple into its 24-byte storage form.
func tripleKey(t Triple) []byte {
	b := make([]byte, tripleLen)
	for i, n := range t {
		putNID(b[i*nidLen:], n)
	}
	return b
}

func getTriple(b []byte) Triple {
	var t Triple
	for i := range t {
		t[i] = getNID(b[i*nidLen:])
	}
	return t
}

// u32tob converts a uint32 into a 4-byte slice.
func u32tob(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// btou32 converts a 4-byte slice into an uint32.
func btou32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
