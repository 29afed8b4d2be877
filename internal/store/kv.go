// Package store is the node's durable persistence layer: a single
// pebble database holding both account leaves and small metadata,
// separated by key prefix the way the teacher's Postgres schema used
// separate tables, since pebble has no notion of column families of
// its own.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

const (
	prefixMeta   = "m:"
	prefixLeaves = "l:"

	metaKeyRoot     = prefixMeta + "root"
	metaKeyRegistry = prefixMeta + "token_registry"
)

// Store is the pebble-backed account store. It persists every leaf
// under a key derived from its tree position and keeps the last
// committed root under a dedicated metadata key, so a restart can
// verify the loaded leaves still reproduce it before serving traffic.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) the pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, volterr.Wrap(volterr.KindStorage, fmt.Sprintf("open pebble db at %s", dir), err)
	}
	log.Info().Str("dir", dir).Msg("[STORE] pebble database opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return volterr.Wrap(volterr.KindStorage, "close pebble db", err)
	}
	return nil
}

func leafKey(key smt.Hash) []byte {
	b := make([]byte, len(prefixLeaves)+smt.HashSize)
	copy(b, prefixLeaves)
	copy(b[len(prefixLeaves):], key[:])
	return b
}

// PutLeaf writes a single leaf. Used for incremental updates outside
// of a full-state reload.
func (s *Store) PutLeaf(leaf smt.AccountLeaf) error {
	key := smt.LeafKey(leaf.Addr, leaf.TokenID)
	if err := s.db.Set(leafKey(key), leaf.CanonicalBytes(), pebble.Sync); err != nil {
		return volterr.Wrap(volterr.KindStorage, "put leaf", err)
	}
	return nil
}

// LoadAll reads every persisted leaf back out, for startup reload.
func (s *Store) LoadAll() ([]smt.AccountLeaf, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixLeaves),
		UpperBound: prefixUpperBound(prefixLeaves),
	})
	if err != nil {
		return nil, volterr.Wrap(volterr.KindStorage, "iterate leaves", err)
	}
	defer iter.Close()

	var leaves []smt.AccountLeaf
	for iter.First(); iter.Valid(); iter.Next() {
		leaf, err := smt.LeafFromCanonicalBytes(iter.Value())
		if err != nil {
			return nil, volterr.Wrap(volterr.KindStorage, "decode persisted leaf", err)
		}
		leaves = append(leaves, leaf)
	}
	if err := iter.Error(); err != nil {
		return nil, volterr.Wrap(volterr.KindStorage, "iterate leaves", err)
	}
	return leaves, nil
}

// LoadRoot reads the last committed root, if any was ever written.
func (s *Store) LoadRoot() (smt.Hash, bool, error) {
	v, closer, err := s.db.Get([]byte(metaKeyRoot))
	if err == pebble.ErrNotFound {
		return smt.Hash{}, false, nil
	}
	if err != nil {
		return smt.Hash{}, false, volterr.Wrap(volterr.KindStorage, "load root", err)
	}
	defer closer.Close()
	h, ok := smt.HashFromBytes(v)
	if !ok {
		return smt.Hash{}, false, volterr.New(volterr.KindStorage, "persisted root has wrong length")
	}
	return h, true, nil
}

// SetFullState atomically replaces every persisted leaf and writes the
// new root, in a single write batch: delete the old leaf range, write
// every new leaf, and write the root last, so a crash mid-batch never
// leaves a root on disk that the leaves underneath it don't support.
func (s *Store) SetFullState(leaves []smt.AccountLeaf, root smt.Hash) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange([]byte(prefixLeaves), prefixUpperBound(prefixLeaves), nil); err != nil {
		return volterr.Wrap(volterr.KindStorage, "clear leaves range", err)
	}
	for _, leaf := range leaves {
		key := smt.LeafKey(leaf.Addr, leaf.TokenID)
		if err := batch.Set(leafKey(key), leaf.CanonicalBytes(), nil); err != nil {
			return volterr.Wrap(volterr.KindStorage, "stage leaf write", err)
		}
	}
	if err := batch.Set([]byte(metaKeyRoot), root.Bytes(), nil); err != nil {
		return volterr.Wrap(volterr.KindStorage, "stage root write", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return volterr.Wrap(volterr.KindStorage, "commit full-state batch", err)
	}
	return nil
}

// PutRoot persists the current root without touching leaves, used
// after an incremental PutLeaf sequence commits cleanly.
func (s *Store) PutRoot(root smt.Hash) error {
	if err := s.db.Set([]byte(metaKeyRoot), root.Bytes(), pebble.Sync); err != nil {
		return volterr.Wrap(volterr.KindStorage, "put root", err)
	}
	return nil
}

// PutTokenRegistry persists the tree's token registry as JSON under
// its own meta key: registry entries have no leaf of their own, so
// they don't survive SetFullState's leaf-only rebuild without this.
func (s *Store) PutTokenRegistry(tokens []smt.TokenInfo) error {
	b, err := json.Marshal(tokens)
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "encode token registry", err)
	}
	return s.PutMeta(metaKeyRegistry, b)
}

// LoadTokenRegistry reads back the persisted token registry, if any
// was ever written.
func (s *Store) LoadTokenRegistry() ([]smt.TokenInfo, bool, error) {
	b, ok, err := s.GetMeta(metaKeyRegistry)
	if err != nil || !ok {
		return nil, ok, err
	}
	var tokens []smt.TokenInfo
	if err := json.Unmarshal(b, &tokens); err != nil {
		return nil, false, volterr.Wrap(volterr.KindSerialization, "decode token registry", err)
	}
	return tokens, true, nil
}

// PutMeta/GetMeta store small scalar metadata (node id, last sync
// timestamp) under the meta prefix alongside the root.
func (s *Store) PutMeta(key string, value []byte) error {
	if err := s.db.Set([]byte(prefixMeta+key), value, pebble.Sync); err != nil {
		return volterr.Wrap(volterr.KindStorage, fmt.Sprintf("put meta %q", key), err)
	}
	return nil
}

func (s *Store) GetMeta(key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get([]byte(prefixMeta + key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, volterr.Wrap(volterr.KindStorage, fmt.Sprintf("get meta %q", key), err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out[:i+1]
		}
	}
	return nil // prefix was all 0xFF, unbounded
}

// PutUint64Meta stores a u64 value as 8 little-endian bytes under the
// meta prefix; GetUint64Meta reads it back. Neither checks that a new
// value is larger than the stored one.
func PutUint64Meta(s *Store, key string, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return s.PutMeta(key, b[:])
}

func GetUint64Meta(s *Store, key string) (uint64, bool, error) {
	b, ok, err := s.GetMeta(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(b) != 8 {
		return 0, false, volterr.New(volterr.KindStorage, fmt.Sprintf("meta %q has wrong length", key))
	}
	return binary.LittleEndian.Uint64(b), true, nil
}
