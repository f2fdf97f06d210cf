package tripledb

import (
	"fmt"

	"github.com/boltdb/bolt"
)

// ShortBufferError reports that the buffer supplied to ResolveNode was
// too small to hold the node payload. Size is the required buffer size;
// the caller may retry with a buffer of at least that length.
type ShortBufferError struct {
	Size int
}

func (e *ShortBufferError) Error() string {
	return fmt.Sprintf("buffer too small: %d bytes required", e.Size)
}

// reverseKey returns the reverse-map key for a node payload: the
// payload with a single marker byte prepended, so that the empty
// payload still forms a valid bucket key.
func reverseKey(data []byte) []byte {
	k := make([]byte, len(data)+1)
	copy(k[1:], data)
	return k
}

// IdentifyNode interns the given byte string and returns its node
// identifier. Subsequent calls with byte-equal data return the same
// identifier, also across processes.
func (s *Store) IdentifyNode(data []byte) (NID, error) {
	if s.closed.Load() {
		return NullNID, ErrClosed
	}

	rk := reverseKey(data)

	// The reverse-map mutex is held for the whole lookup-or-create, so
	// two concurrent calls with the same payload serialize here: one
	// creates, the other reads the fresh entry. The forward-map mutex
	// is acquired second; ResolveNode takes only the forward-map mutex,
	// so this order cannot deadlock against it.
	s.inodesMu.Lock()
	defer s.inodesMu.Unlock()

	var nid NID
	if err := s.kv.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketINodes).Get(rk); v != nil {
			nid.Index = btou32(v)
		}
		return nil
	}); err != nil {
		return NullNID, err
	}
	if !nid.IsNull() {
		return nid, nil
	}

	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	if err := s.kv.Update(func(tx *bolt.Tx) error {
		fwd := tx.Bucket(bucketNodes)
		n, err := fwd.NextSequence()
		if err != nil {
			return err
		}
		if n > MaxNodes {
			return ErrStoreFull
		}
		id := u32tob(uint32(n))
		if err := fwd.Put(id, data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketINodes).Put(rk, id); err != nil {
			return err
		}
		nid.Index = uint32(n)
		return nil
	}); err != nil {
		return NullNID, err
	}
	return nid, nil
}

// ResolveNode returns the payload of the byte-string node identified by
// nid. If buf is nil a freshly allocated copy is returned. Otherwise
// the payload is copied into buf and buf[:size] returned, provided it
// fits; if it does not, ResolveNode returns a *ShortBufferError
// carrying the required size and the caller may retry with a larger
// buffer.
//
// Calling ResolveNode with a triple NID or the null NID is a
// programming error and panics.
func (s *Store) ResolveNode(nid NID, buf []byte) ([]byte, error) {
	if nid.IsTriple() {
		panic("tripledb: ResolveNode called with a triple NID")
	}
	if nid.IsNull() {
		panic("tripledb: ResolveNode called with the null NID")
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	var out []byte
	err := s.kv.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNodes).Get(u32tob(nid.Index))
		if v == nil {
			return ErrNotFound
		}
		if buf == nil {
			out = make([]byte, len(v))
			copy(out, v)
			return nil
		}
		if len(v) > len(buf) {
			return &ShortBufferError{Size: len(v)}
		}
		copy(buf, v)
		out = buf[:len(v)]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
