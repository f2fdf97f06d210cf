// Package tripledb implements a persistent triple store backed by a
// key-value store.
//
// Arbitrary byte strings are interned into stable node identifiers
// (NIDs) which are assembled into ordered triples. Triples are interned
// too and promoted to first-class identifiers, so a triple can appear
// as a member of another triple (reification). Triples are grouped into
// named, independently queryable models: a model stores each present
// triple under eight permutation keys, one per subset of masked
// positions, so that a pattern query with wildcards on any subset of
// positions reduces to a single range scan in one ordered index.
//
// Concurrency model:
//   - Any number of goroutines may call any method concurrently.
//   - Each persistent map is guarded by its own mutex. Where two are
//     held together, the reverse map's mutex is acquired before the
//     forward map's.
//   - The registry mutex only guards open/close bookkeeping and is
//     never held together with a model mutex.
//   - Absorb is the only operation holding two model mutexes; it
//     acquires them in ascending rank order.
package tripledb

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

// Exported errors
var (
	// ErrNotFound is returned when a NID does not resolve to a stored
	// node or triple.
	ErrNotFound = errors.New("not found")

	// ErrStoreFull is returned when the identifier space is exhausted,
	// that is when MaxNodes nodes (or MaxNodes triples) have already
	// been interned. Interned identifiers are never removed or reused.
	ErrStoreFull = errors.New("store full: identifier limit reached")

	// ErrClosed is returned when operating on a closed store or model.
	ErrClosed = errors.New("store is closed")
)

const (
	// MaxNodes is the maximum number of unique byte-string nodes that
	// can be interned. The same limit applies to triples.
	MaxNodes = 4294967295

	storeFile = "tripledb.db"
)

// Buckets in the key-value store:
var (
	bucketNodes    = []byte("nodes")    // uint32 -> node payload
	bucketINodes   = []byte("inodes")   // node payload -> uint32
	bucketTriples  = []byte("triples")  // uint32 -> packed triple
	bucketITriples = []byte("itriples") // packed triple -> uint32

	// Per-model index bucket; keys are (masked triple, index) records
	// with empty values.
	bucketPerm = []byte("perm")
)

// Store is a triple store backed by a key-value store. The node and
// triple namespaces are global to the store: byte-equal payloads intern
// to identical NIDs regardless of the caller or model.
type Store struct {
	// kv holds the interning maps (BoltDB); each model has its own
	// key-value database on the side.
	kv  *bolt.DB
	dir string
	log *zap.Logger

	noSync bool

	nodesMu    sync.Mutex
	inodesMu   sync.Mutex
	triplesMu  sync.Mutex
	itriplesMu sync.Mutex

	modelsMu sync.Mutex
	models   map[string]*Model
	modelSeq atomic.Uint64

	closed atomic.Bool
}

// Option configures a Store.
type Option func(*config)

type config struct {
	log    *zap.Logger
	noSync bool
}

// WithLogger sets the logger used by the store. The default is a no-op
// logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithNoSync disables fsync on commit, trading durability for write
// speed. Useful for bulk loads and tests.
func WithNoSync() Option {
	return func(c *config) { c.noSync = true }
}

// Open creates and opens a store in the given directory. The directory
// must exist. Only one process can have access to the store at a time.
func Open(dir string, opts ...Option) (*Store, error) {
	c := config{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}

	kv, err := bolt.Open(filepath.Join(dir, storeFile), 0600, nil)
	if err != nil {
		return nil, err
	}
	kv.NoSync = c.noSync

	s := &Store{
		kv:     kv,
		dir:    dir,
		log:    c.log,
		noSync: c.noSync,
		models: make(map[string]*Model),
	}
	if err := s.setup(); err != nil {
		kv.Close()
		return nil, err
	}
	s.log.Debug("opened store", zap.String("path", kv.Path()))
	return s, nil
}

// setup makes sure the database has all the required buckets.
func (s *Store) setup() error {
	return s.kv.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketINodes, bucketTriples, bucketITriples} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the store, releasing the lock on the database file. All
// models must be closed first.
func (s *Store) Close() error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if n := len(s.models); n > 0 {
		s.log.Warn("closing store with models still open", zap.Int("models", n))
	}
	s.closed.Store(true)
	return s.kv.Close()
}

// Path returns the path of the store's database file.
func (s *Store) Path() string {
	return s.kv.Path()
}

// Stats holds some statistics of the triple store.
type Stats struct {
	NumNodes    int
	NumTriples  int
	OpenModels  int
	File        string
	SizeInBytes int
}

// Stats returns statistics about the triple store.
func (s *Store) Stats() (Stats, error) {
	st := Stats{}
	if s.closed.Load() {
		return st, ErrClosed
	}
	if err := s.kv.View(func(tx *bolt.Tx) error {
		st.NumNodes = tx.Bucket(bucketNodes).Stats().KeyN
		st.NumTriples = tx.Bucket(bucketTriples).Stats().KeyN
		st.File = s.kv.Path()
		fi, err := os.Stat(st.File)
		if err != nil {
			return err
		}
		st.SizeInBytes = int(fi.Size())
		return nil
	}); err != nil {
		return st, err
	}

	s.modelsMu.Lock()
	st.OpenModels = len(s.models)
	s.modelsMu.Unlock()

	return st, nil
}
