package smt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Proof is a compact inclusion (or absence) certificate for one leaf
// relative to one root. Siblings run from the leaf upward and omit
// any trailing run of empty-subtree hashes, recorded in ZerosOmitted
// instead of being carried on the wire.
type Proof struct {
	Siblings     []Hash
	LeafHash     Hash
	Path         [TreeDepth]byte
	ZerosOmitted uint16
	LeafData     []byte // optional: canonical AccountLeaf bytes
}

// Verify runs the proof-verification algorithm: fold LeafHash up
// through each level, using a real sibling where one was carried and
// the precomputed empty-subtree hash for every omitted trailing
// level, and compare the result to root.
func (p *Proof) Verify(root Hash, addr Address, tokenID uint64) bool {
	if len(p.Siblings)+int(p.ZerosOmitted) != TreeDepth {
		return false
	}
	key := LeafKey(addr, tokenID)
	bitsPath := AddressToPath(key)
	if bitsPath != p.Path {
		return false
	}

	h := p.LeafHash
	for i := 0; i < TreeDepth; i++ {
		var sib Hash
		if i < len(p.Siblings) {
			sib = p.Siblings[i]
		} else {
			// The running h entering fold i is the hash of a subtree of
			// height i (i=0 is the raw leaf); an omitted, all-empty
			// sibling at that fold must be the same height to produce a
			// well-formed height-(i+1) parent, i.e. Z[i].
			sib = ZeroHash(i)
		}
		h = sha256Concat(h, sib, bitsPath[i])
	}
	return h == root
}

// IsAbsence reports whether this proof certifies that no leaf exists
// at the key. The tree's sparse representation folds every untouched
// position up through Z[0] rather than an address-specific hash, so
// that's the value an absent leaf's LeafHash must carry for the fold
// in Verify to reach the real root; see DESIGN.md for why this
// implementation departs from a literal reading of the data-model
// prose.
func (p *Proof) IsAbsence() bool {
	return p.LeafHash == ZeroHash(0)
}

// CheckLeafData validates invariant P3: if LeafData is present its
// hash must match LeafHash.
func (p *Proof) CheckLeafData() error {
	if p.LeafData == nil {
		return nil
	}
	leaf, err := LeafFromCanonicalBytes(p.LeafData)
	if err != nil {
		return fmt.Errorf("leaf_data: %w", err)
	}
	if leaf.Hash() != p.LeafHash {
		return fmt.Errorf("leaf_data hash does not match leaf_hash")
	}
	return nil
}

// MarshalBinary implements the canonical bincode-equivalent proof
// encoding from the wire-format spec: len(siblings) u64 LE, siblings,
// leaf_hash, len(path) u64 LE, path (1 byte/bit), zeros_omitted u16
// LE, optional leaf_data prefixed by its own presence flag and length.
func (p *Proof) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(p.Siblings))); err != nil {
		return nil, err
	}
	for _, s := range p.Siblings {
		buf.Write(s[:])
	}
	buf.Write(p.LeafHash[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint64(TreeDepth)); err != nil {
		return nil, err
	}
	buf.Write(p.Path[:])
	if err := binary.Write(&buf, binary.LittleEndian, p.ZerosOmitted); err != nil {
		return nil, err
	}
	if p.LeafData != nil {
		buf.WriteByte(1)
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(p.LeafData))); err != nil {
			return nil, err
		}
		buf.Write(p.LeafData)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

func (p *Proof) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var numSiblings uint64
	if err := binary.Read(r, binary.LittleEndian, &numSiblings); err != nil {
		return fmt.Errorf("read sibling count: %w", err)
	}
	p.Siblings = make([]Hash, numSiblings)
	for i := range p.Siblings {
		if _, err := r.Read(p.Siblings[i][:]); err != nil {
			return fmt.Errorf("read sibling %d: %w", i, err)
		}
	}
	if _, err := r.Read(p.LeafHash[:]); err != nil {
		return fmt.Errorf("read leaf_hash: %w", err)
	}
	var pathLen uint64
	if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
		return fmt.Errorf("read path length: %w", err)
	}
	if pathLen != TreeDepth {
		return fmt.Errorf("unexpected path length %d", pathLen)
	}
	if _, err := r.Read(p.Path[:]); err != nil {
		return fmt.Errorf("read path: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.ZerosOmitted); err != nil {
		return fmt.Errorf("read zeros_omitted: %w", err)
	}
	flag, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read leaf_data flag: %w", err)
	}
	if flag == 1 {
		var dataLen uint64
		if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
			return fmt.Errorf("read leaf_data length: %w", err)
		}
		p.LeafData = make([]byte, dataLen)
		if _, err := r.Read(p.LeafData); err != nil {
			return fmt.Errorf("read leaf_data: %w", err)
		}
	}
	if err := p.CheckLeafData(); err != nil {
		return err
	}
	return nil
}
