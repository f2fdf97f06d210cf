package tripledb

import "github.com/boltdb/bolt"

// IdentifyTriple interns the given triple and returns its node
// identifier, which carries the triple flag. Uniqueness is over the
// three member NIDs bit for bit: a triple containing a triple NID and
// a triple containing a byte-string node are always distinct.
func (s *Store) IdentifyTriple(t Triple) (NID, error) {
	if s.closed.Load() {
		return NullNID, ErrClosed
	}

	key := tripleKey(t)

	// Same discipline as IdentifyNode: reverse-map mutex first, held
	// across the whole lookup-or-create.
	s.itriplesMu.Lock()
	defer s.itriplesMu.Unlock()

	nid := NID{Flags: FlagTriple}
	if err := s.kv.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketITriples).Get(key); v != nil {
			nid.Index = btou32(v)
		}
		return nil
	}); err != nil {
		return NullNID, err
	}
	if nid.Index != 0 {
		return nid, nil
	}

	s.triplesMu.Lock()
	defer s.triplesMu.Unlock()

	if err := s.kv.Update(func(tx *bolt.Tx) error {
		fwd := tx.Bucket(bucketTriples)
		n, err := fwd.NextSequence()
		if err != nil {
			return err
		}
		if n > MaxNodes {
			return ErrStoreFull
		}
		id := u32tob(uint32(n))
		if err := fwd.Put(id, key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketITriples).Put(key, id); err != nil {
			return err
		}
		nid.Index = uint32(n)
		return nil
	}); err != nil {
		return NullNID, err
	}
	return nid, nil
}

// ResolveTriple returns the triple identified by nid. Each member NID
// may itself refer to a triple.
//
// Calling ResolveTriple with a NID that lacks the triple flag is a
// programming error and panics.
func (s *Store) ResolveTriple(nid NID) (Triple, error) {
	if !nid.IsTriple() {
		panic("tripledb: ResolveTriple called with a non-triple NID")
	}
	if s.closed.Load() {
		return Triple{}, ErrClosed
	}

	s.triplesMu.Lock()
	defer s.triplesMu.Unlock()

	var t Triple
	err := s.kv.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTriples).Get(u32tob(nid.Index))
		if v == nil {
			return ErrNotFound
		}
		if len(v) != tripleLen {
			panic("tripledb: corrupt triple record")
		}
		t = getTriple(v)
		return nil
	})
	if err != nil {
		return Triple{}, err
	}
	return t, nil
}
