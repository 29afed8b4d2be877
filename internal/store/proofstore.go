package store

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

const prefixProofs = "p:"

// ProofStore is an auxiliary durable cache of (address, root) -> Proof,
// kept in its own pebble database so a burst of proof requests against
// a recently-superseded root doesn't compete with leaf writes for the
// same database's write path.
type ProofStore struct {
	db *pebble.DB
}

func OpenProofStore(dir string) (*ProofStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, volterr.Wrap(volterr.KindStorage, fmt.Sprintf("open proof store at %s", dir), err)
	}
	return &ProofStore{db: db}, nil
}

func (ps *ProofStore) Close() error {
	if err := ps.db.Close(); err != nil {
		return volterr.Wrap(volterr.KindStorage, "close proof store", err)
	}
	return nil
}

func proofKey(addr smt.Address, tokenID uint64, root smt.Hash) []byte {
	key := smt.LeafKey(addr, tokenID)
	b := make([]byte, 0, len(prefixProofs)+smt.HashSize+smt.HashSize)
	b = append(b, prefixProofs...)
	b = append(b, key[:]...)
	b = append(b, root[:]...)
	return b
}

// Put caches a proof for (address, tokenID) against the given root.
func (ps *ProofStore) Put(addr smt.Address, tokenID uint64, root smt.Hash, p *smt.Proof) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "marshal proof for cache", err)
	}
	if err := ps.db.Set(proofKey(addr, tokenID, root), data, pebble.NoSync); err != nil {
		return volterr.Wrap(volterr.KindStorage, "put cached proof", err)
	}
	return nil
}

// Get returns a cached proof if present and still fresh for root.
func (ps *ProofStore) Get(addr smt.Address, tokenID uint64, root smt.Hash) (*smt.Proof, bool, error) {
	v, closer, err := ps.db.Get(proofKey(addr, tokenID, root))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, volterr.Wrap(volterr.KindStorage, "get cached proof", err)
	}
	defer closer.Close()
	var p smt.Proof
	if err := p.UnmarshalBinary(v); err != nil {
		return nil, false, volterr.Wrap(volterr.KindSerialization, "unmarshal cached proof", err)
	}
	return &p, true, nil
}

// Has reports whether a proof is cached for (address, tokenID, root)
// without paying the deserialization cost.
func (ps *ProofStore) Has(addr smt.Address, tokenID uint64, root smt.Hash) (bool, error) {
	_, closer, err := ps.db.Get(proofKey(addr, tokenID, root))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, volterr.Wrap(volterr.KindStorage, "check cached proof", err)
	}
	closer.Close()
	return true, nil
}
