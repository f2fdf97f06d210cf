package tripledb

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maksverver/tripledb/urlenc"
)

// Model is a named collection of triples, backed by its own on-disk
// ordered index. Models with the same name share a single handle:
// OpenModel on an already-open name bumps a reference count and returns
// the existing Model. A model opened with the empty name is anonymous;
// its index file is temporary and is deleted on final close.
//
// Each present triple is stored under eight permutation keys, one per
// subset of positions replaced by the null NID, followed by the
// triple's index. All keys of one masked form are therefore contiguous
// and ordered by index, so FindTriple is a single cursor seek.
type Model struct {
	store *Store

	name      string
	filename  string
	anonymous bool

	// rank fixes the total order in which Absorb acquires two model
	// mutexes. Assigned once at open, never reused.
	rank uint64

	// refs is guarded by store.modelsMu.
	refs int

	kv *bolt.DB
	mu sync.Mutex

	// present tracks the indices of the triples in the model; it is
	// guarded by mu and rebuilt from the index on open.
	present *roaring.Bitmap

	closed atomic.Bool
}

// nullMask is the masked-triple prefix shared by all permutation-zero
// entries; they sort first and there is exactly one per present triple.
var nullMask [tripleLen]byte

// permKey builds the permutation key for the given subset of unmasked
// positions. Masked positions hold the null NID.
func permKey(t Triple, index uint32, perm int) []byte {
	k := make([]byte, entryLen)
	if perm&1 != 0 {
		putNID(k[0:], t[0])
	}
	if perm&2 != 0 {
		putNID(k[nidLen:], t[1])
	}
	if perm&4 != 0 {
		putNID(k[2*nidLen:], t[2])
	}
	binary.BigEndian.PutUint32(k[tripleLen:], index)
	return k
}

// OpenModel opens the model with the given name, creating it if
// necessary. The empty name opens a new anonymous model on every call.
// The returned Model must be released with Close.
func (s *Store) OpenModel(name string) (*Model, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if name != "" {
		if m, ok := s.models[name]; ok {
			m.refs++
			return m, nil
		}
	}

	m := &Model{
		store:   s,
		name:    name,
		refs:    1,
		rank:    s.modelSeq.Add(1),
		present: roaring.New(),
	}
	if name == "" {
		m.anonymous = true
		m.filename = filepath.Join(s.dir, "model_anon_"+uuid.NewString()+"_triples_index.db")
	} else {
		m.filename = filepath.Join(s.dir, "model_"+urlenc.EncodeToString(name)+"_triples_index.db")
	}

	kv, err := bolt.Open(m.filename, 0600, nil)
	if err != nil {
		return nil, err
	}
	kv.NoSync = s.noSync
	if err := kv.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPerm)
		return err
	}); err != nil {
		kv.Close()
		return nil, err
	}
	m.kv = kv

	// Rebuild the presence bitmap from the permutation-zero block.
	if err := kv.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPerm).Cursor()
		for k, _ := c.First(); k != nil && bytes.Equal(k[:tripleLen], nullMask[:]); k, _ = c.Next() {
			m.present.Add(btou32(k[tripleLen:]))
		}
		return nil
	}); err != nil {
		kv.Close()
		return nil, err
	}

	if name != "" {
		s.models[name] = m
	}
	s.log.Debug("opened model",
		zap.String("name", name),
		zap.String("file", filepath.Base(m.filename)),
		zap.Bool("anonymous", m.anonymous))
	return m, nil
}

// Close releases the model handle. While other handles to the same
// model remain open the index is only flushed; the final Close closes
// the index and deletes the index file if the model is anonymous or
// holds no triples.
func (m *Model) Close() error {
	s := m.store
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if m.refs == 0 {
		return ErrClosed
	}
	m.refs--
	if m.refs > 0 {
		return m.kv.Sync()
	}

	empty := m.present.IsEmpty()
	m.closed.Store(true)
	if err := m.kv.Close(); err != nil {
		return err
	}
	if m.name != "" {
		delete(s.models, m.name)
	}
	if m.anonymous || empty {
		if err := os.Remove(m.filename); err != nil {
			return err
		}
	}
	s.log.Debug("closed model",
		zap.String("name", m.name),
		zap.Bool("deleted", m.anonymous || empty))
	return nil
}

// Name returns the model's name; it is empty for anonymous models.
func (m *Model) Name() string { return m.name }

// Len returns the number of triples present in the model.
func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.present.GetCardinality())
}

// AddTriple adds the triple identified by nid to the model. It reports
// whether the triple was newly added; adding a present triple is a
// no-op. nid must carry the triple flag.
func (m *Model) AddTriple(nid NID) (bool, error) {
	if !nid.IsTriple() {
		panic("tripledb: AddTriple called with a non-triple NID")
	}
	t, err := m.store.ResolveTriple(nid)
	if err != nil {
		return false, err
	}
	if m.closed.Load() {
		return false, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	added := false
	if err := m.kv.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPerm)
		for perm := 0; perm < 8; perm++ {
			k := permKey(t, nid.Index, perm)
			if perm == 0 {
				// The permutation-zero entry exists iff the triple is
				// already present; it decides the return value.
				ck, _ := b.Cursor().Seek(k)
				added = !bytes.Equal(ck, k)
			}
			if err := b.Put(k, nil); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return false, err
	}
	if added {
		m.present.Add(nid.Index)
	}
	return added, nil
}

// RemoveTriple removes the triple identified by nid from the model. It
// reports whether the triple was present; removing an absent triple is
// a no-op. nid must carry the triple flag.
func (m *Model) RemoveTriple(nid NID) (bool, error) {
	if !nid.IsTriple() {
		panic("tripledb: RemoveTriple called with a non-triple NID")
	}
	t, err := m.store.ResolveTriple(nid)
	if err != nil {
		return false, err
	}
	if m.closed.Load() {
		return false, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := false
	if err := m.kv.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPerm)
		for perm := 0; perm < 8; perm++ {
			k := permKey(t, nid.Index, perm)
			if perm == 0 {
				ck, _ := b.Cursor().Seek(k)
				removed = bytes.Equal(ck, k)
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return false, err
	}
	if removed {
		m.present.Remove(nid.Index)
	}
	return removed, nil
}

// FindTriple returns the identifier of the next triple in the model
// matching the pattern. Each pattern position is either a concrete NID
// or the null NID, which matches any node. previous must be the null
// NID to start a sweep, or the NID returned by the preceding call;
// matches are produced in increasing identifier order. The null NID is
// returned when no further triple matches.
//
// No snapshot is taken across calls: a concurrent mutation may add or
// remove matches between two calls of a sweep.
func (m *Model) FindTriple(pattern Triple, previous NID) (NID, error) {
	if !previous.IsNull() && !previous.IsTriple() {
		panic("tripledb: FindTriple: previous is not a triple NID")
	}
	if m.closed.Load() {
		return NullNID, ErrClosed
	}

	seek := make([]byte, entryLen)
	for i, n := range pattern {
		putNID(seek[i*nidLen:], n)
	}
	binary.BigEndian.PutUint32(seek[tripleLen:], previous.Index+1)

	m.mu.Lock()
	defer m.mu.Unlock()

	var nid NID
	err := m.kv.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketPerm).Cursor().Seek(seek)
		if k != nil && bytes.Equal(k[:tripleLen], seek[:tripleLen]) {
			nid = NID{Index: btou32(k[tripleLen:]), Flags: FlagTriple}
		}
		return nil
	})
	return nid, err
}

// ForEach calls fn once for every triple in the model, in increasing
// identifier order. It is a plain FindTriple sweep and offers no
// snapshot isolation against concurrent mutations.
func (m *Model) ForEach(fn func(NID) error) error {
	var nid NID
	for {
		next, err := m.FindTriple(Triple{}, nid)
		if err != nil {
			return err
		}
		if next.IsNull() {
			return nil
		}
		if err := fn(next); err != nil {
			return err
		}
		nid = next
	}
}

// Empty removes all triples from the model and returns the number of
// triples removed.
func (m *Model) Empty() (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	if err := m.kv.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPerm).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.First() {
			if bytes.Equal(k[:tripleLen], nullMask[:]) {
				removed++
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	m.present.Clear()
	return removed, nil
}

// Absorb adds all triples of src to m. src is left unchanged. Absorbing
// a model into itself is a no-op.
func (m *Model) Absorb(src *Model) error {
	if m == src {
		return nil
	}
	if m.closed.Load() || src.closed.Load() {
		return ErrClosed
	}

	// Lock both models in rank order, to avoid deadlocks. This is the
	// only operation holding two model mutexes at once.
	lo, hi := m, src
	if src.rank < m.rank {
		lo, hi = src, m
	}
	lo.mu.Lock()
	defer lo.mu.Unlock()
	hi.mu.Lock()
	defer hi.mu.Unlock()

	// Copy the raw index entries; a key already present in the
	// destination is simply overwritten with the same empty value.
	if err := m.kv.Update(func(dtx *bolt.Tx) error {
		dst := dtx.Bucket(bucketPerm)
		return src.kv.View(func(stx *bolt.Tx) error {
			return stx.Bucket(bucketPerm).ForEach(func(k, v []byte) error {
				kk := make([]byte, len(k))
				copy(kk, k)
				return dst.Put(kk, nil)
			})
		})
	}); err != nil {
		return err
	}
	m.present.Or(src.present)
	return nil
}
