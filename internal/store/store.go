// Package store implements the node's transactional key-value store:
// a bbolt-backed durable layer with an in-memory view for the
// in-flight block, split into a hash-chained global layer and a
// hash-excluded local layer for per-peer secrets. See SPEC_FULL.md §4.9.
package store

import (
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.etcd.io/bbolt"
)

var (
	ErrReservedKey        = errors.New("store: key uses the reserved '$' prefix")
	ErrTransactionInUse   = errors.New("store: a transaction is already pending")
	ErrNoPendingTransaction = errors.New("store: no pending transaction to commit")
)

const stateKey = "$state"

var (
	globalBucket = []byte("global")
	localBucket  = []byte("local")
	stateBucket  = []byte("state")
)

// Key-prefix constructors. Always go through these: a bare prefix
// string invites collisions between protocols sharing the key-space.
func SubjectID(sid string) string          { return "sid-" + sid }
func AuthorizationsID(sid string) string   { return "aid-" + sid }
func MasterKeyPairID(kid string) string    { return "pid-" + kid }
func ConsentID(sid, sig string) string     { return "cid-" + sid + "-" + sig }
func VoteID(kid, sig string) string        { return "vid-" + kid + "-" + sig }
func EvidenceID(kid, sig string) string    { return "eid-" + kid + "-" + sig }
func RequestID(sid, sig string) string     { return "mkrid-" + sid + "-" + sig }
func PeerVoteID(kid, sig string) string    { return "mkpid-" + kid + "-" + sig }

// DiscloseRequestID keys a disclose request's local audit copy. Not
// part of §4.9's reserved-prefix list (disclosure leaves no commit for
// consensus to replay), but still "did-"-prefixed to stay clear of
// every reserved prefix there.
func DiscloseRequestID(sid, sig string) string { return "did-" + sid + "-" + sig }

// AppState is the store's replicated checkpoint: the consensus height
// of the last committed block and the chained state hash.
type AppState struct {
	Height int64
	Hash   []byte
}

// Store wraps a durable bbolt database with a cached AppState and a
// single in-flight Tx, mirroring the teacher's mutex-guarded struct
// idiom (`_examples/nehraa-Omnyxnet/go/internal/store/store.go`).
type Store struct {
	db *bbolt.DB

	mu    sync.RWMutex
	state AppState

	txMu sync.Mutex
	tx   *Tx
}

// Open opens (creating if absent) the bbolt database at path and
// initializes the bucket layout and cached state.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(btx *bbolt.Tx) error {
		for _, name := range [][]byte{globalBucket, localBucket, stateBucket} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}

	s := &Store{db: db}

	state, err := s.loadState()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.state = state

	return s, nil
}

func (s *Store) loadState() (AppState, error) {
	var state AppState
	found := false

	err := s.db.View(func(btx *bbolt.Tx) error {
		raw := btx.Bucket(stateBucket).Get([]byte(stateKey))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &state)
	})
	if err != nil {
		return AppState{}, fmt.Errorf("store: load state: %w", err)
	}
	if !found {
		return AppState{Height: 0, Hash: []byte{}}, nil
	}
	return state, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// State returns the cached AppState as of the last commit.
func (s *Store) State() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Get looks up id directly in durable storage, bypassing any
// in-flight transaction view. Used for reads outside a block.
func (s *Store) Get(id string) ([]byte, bool) {
	var out []byte
	_ = s.db.View(func(btx *bbolt.Tx) error {
		if v := btx.Bucket(globalBucket).Get([]byte(id)); v != nil {
			out = append([]byte(nil), v...)
			return nil
		}
		out = nil
		return nil
	})
	return out, out != nil
}

// GetInto looks up id in durable storage and decodes it into out,
// reporting whether the key was present.
func (s *Store) GetInto(id string, out interface{}) (bool, error) {
	raw, ok := s.Get(id)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return true, nil
}

// GetLocal looks up id directly in the durable local bucket.
func (s *Store) GetLocal(id string) ([]byte, bool) {
	var out []byte
	_ = s.db.View(func(btx *bbolt.Tx) error {
		if v := btx.Bucket(localBucket).Get([]byte(id)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil
}

// GetLocalInto looks up id in the durable local bucket and decodes it
// into out, reporting whether the key was present.
func (s *Store) GetLocalInto(id string, out interface{}) (bool, error) {
	raw, ok := s.GetLocal(id)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("store: decode local %s: %w", id, err)
	}
	return true, nil
}

// PutLocal writes a local-only key directly to durable storage,
// outside the block transaction lifecycle: used to persist a peer's
// own request/vote evidence as soon as it is produced, ahead of the
// consensus block that will later deliver the matching commit.
func (s *Store) PutLocal(id string, value interface{}) error {
	if err := checkKey(id); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", id, err)
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(localBucket).Put([]byte(id), data)
	})
}

// ContainsLocal reports whether id exists in the durable local bucket.
func (s *Store) ContainsLocal(id string) bool {
	found := false
	_ = s.db.View(func(btx *bbolt.Tx) error {
		found = btx.Bucket(localBucket).Get([]byte(id)) != nil
		return nil
	})
	return found
}

// Start asserts no pending transaction and returns a fresh Tx bound to
// this store's current durable snapshot, per the "start asserts no
// pending transaction at block boundary" rule (§4.9).
func (s *Store) Start() (*Tx, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.tx != nil {
		return nil, ErrTransactionInUse
	}

	tx := &Tx{
		store: s,
		view:  map[string][]byte{},
		local: map[string][]byte{},
	}
	s.tx = tx
	return tx, nil
}

// Abort discards any buffered writes without committing.
func (s *Store) Abort(tx *Tx) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.tx == tx {
		s.tx = nil
	}
}

// Commit atomically persists tx's buffered global and local writes
// plus the updated AppState, chaining the hash over the global values
// only, in insertion order, then clears the pending transaction.
func (s *Store) Commit(tx *Tx, height int64) (AppState, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.tx != tx {
		return AppState{}, ErrNoPendingTransaction
	}

	prev := s.State()
	h := sha512.New()
	h.Write(prev.Hash)
	for _, id := range tx.order {
		h.Write(tx.view[id])
	}
	newState := AppState{Height: height, Hash: h.Sum(nil)}

	stateData, err := json.Marshal(newState)
	if err != nil {
		return AppState{}, fmt.Errorf("store: encode state: %w", err)
	}

	err = s.db.Update(func(btx *bbolt.Tx) error {
		global := btx.Bucket(globalBucket)
		for _, id := range tx.order {
			if err := global.Put([]byte(id), tx.view[id]); err != nil {
				return err
			}
		}

		local := btx.Bucket(localBucket)
		for id, v := range tx.local {
			if err := local.Put([]byte(id), v); err != nil {
				return err
			}
		}

		return btx.Bucket(stateBucket).Put([]byte(stateKey), stateData)
	})
	if err != nil {
		return AppState{}, fmt.Errorf("store: commit batch: %w", err)
	}

	s.mu.Lock()
	s.state = newState
	s.mu.Unlock()

	s.tx = nil
	return newState, nil
}

// Tx is a single in-flight block's buffered writes over a Store.
type Tx struct {
	store *Store

	view  map[string][]byte
	local map[string][]byte
	order []string // insertion order of global keys, for hash chaining
}

func checkKey(id string) error {
	if strings.HasPrefix(id, "$") {
		return ErrReservedKey
	}
	return nil
}

// Contains reports whether id is buffered in this transaction or
// already durable.
func (tx *Tx) Contains(id string) bool {
	if _, ok := tx.view[id]; ok {
		return true
	}
	_, ok := tx.store.Get(id)
	return ok
}

// Get consults the transaction's buffered view first, then the
// durable store, caching durable hits into the view.
func (tx *Tx) Get(id string, out interface{}) (bool, error) {
	if raw, ok := tx.view[id]; ok {
		return true, json.Unmarshal(raw, out)
	}

	raw, ok := tx.store.Get(id)
	if !ok {
		return false, nil
	}

	tx.view[id] = raw
	return true, json.Unmarshal(raw, out)
}

// Set buffers a global write, included in the block's state hash.
func (tx *Tx) Set(id string, value interface{}) error {
	if err := checkKey(id); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", id, err)
	}

	// tx.view also caches durable reads from Get, so membership in
	// tx.order (not in tx.view) decides whether id is already a write
	inOrder := false
	for _, o := range tx.order {
		if o == id {
			inOrder = true
			break
		}
	}
	if !inOrder {
		tx.order = append(tx.order, id)
	}
	tx.view[id] = data
	return nil
}

// SetLocal buffers a local write, persisted durably but excluded from
// the state hash (per-peer secrets such as a MasterKeyPair share).
func (tx *Tx) SetLocal(id string, value interface{}) error {
	if err := checkKey(id); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", id, err)
	}

	tx.local[id] = data
	return nil
}

// GetLocal reads a local-layer value, consulting this transaction's
// buffer then durable storage directly (local keys never populate the
// global view cache).
func (tx *Tx) GetLocal(id string, out interface{}) (bool, error) {
	if raw, ok := tx.local[id]; ok {
		return true, json.Unmarshal(raw, out)
	}

	var raw []byte
	err := tx.store.db.View(func(btx *bbolt.Tx) error {
		if v := btx.Bucket(localBucket).Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store: read local %s: %w", id, err)
	}
	if raw == nil {
		return false, nil
	}

	return true, json.Unmarshal(raw, out)
}
