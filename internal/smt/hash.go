// Package smt implements the 256-level sparse Merkle tree that backs
// the node's account state: addresses and token ids hash down to leaves,
// every level above an occupied leaf folds in either a real sibling or
// the precomputed hash of an empty subtree.
package smt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// TreeDepth is the number of levels below the root. The root itself
	// sits at level TreeDepth; leaves sit at level 0.
	TreeDepth = 256
	// HashSize is the width of every node and leaf hash in the tree.
	HashSize = 32
)

// Hash is a 32-byte SHA-256 digest used for every node, leaf, and root
// in the tree.
type Hash [HashSize]byte

// IsZero reports whether h is the all-zero hash, the sentinel used for
// "no state yet" on a freshly started node.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

func HashFromBytes(b []byte) (Hash, bool) {
	var h Hash
	if len(b) != HashSize {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// String renders the hash as lowercase hex, the form used throughout
// the RPC and gossip wire formats.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// HashFromHex parses a hex-encoded (optionally "0x"-prefixed) root or
// node hash.
func HashFromHex(s string) (Hash, error) {
	s = trimHexPrefix(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	h, ok := HashFromBytes(b)
	if !ok {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	return h, nil
}

// zeroHashes[L] is the hash of an entirely empty subtree of depth L,
// i.e. Z[0] = SHA-256("") and Z[L+1] = SHA-256(Z[L] || Z[L]).
// Computed once at package init so every node in the network agrees on
// the same table without needing to ship it over the wire.
var zeroHashes [TreeDepth + 1]Hash

func init() {
	zeroHashes[0] = sha256.Sum256(nil)
	for l := 0; l < TreeDepth; l++ {
		zeroHashes[l+1] = hashPair(zeroHashes[l], zeroHashes[l])
	}
}

// ZeroHash returns Z[depth], the canonical hash of an empty subtree of
// the given depth. depth=0 is a single empty leaf; depth=TreeDepth is
// the root of a tree with no leaves at all.
func ZeroHash(depth int) Hash {
	return zeroHashes[depth]
}

func hashPair(a, b Hash) Hash {
	var buf [2 * HashSize]byte
	copy(buf[:HashSize], a[:])
	copy(buf[HashSize:], b[:])
	return sha256.Sum256(buf[:])
}

// sha256Concat positions a on the side indicated by bit and b as its
// sibling: bit=0 means a is the left child (hash a||b); bit=1 means a
// is the right child (hash b||a). This mirrors the proof-verification
// folding rule in both directions, build and verify.
func sha256Concat(a, b Hash, bit byte) Hash {
	if bit == 1 {
		return hashPair(b, a)
	}
	return hashPair(a, b)
}

// AddressToPath returns the 256-bit big-endian path for a 32-byte key
// (normally H(addr||token_id)), most-significant bit first, byte 0
// first. bits[i] selects which child is the leaf side at level i: 0
// for left, 1 for right.
func AddressToPath(key Hash) [TreeDepth]byte {
	var bits [TreeDepth]byte
	for i := 0; i < TreeDepth; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		bits[i] = (key[byteIdx] >> uint(bitIdx)) & 1
	}
	return bits
}

// LeafKey returns H(addr || token_id), the tree key an AccountLeaf is
// stored and looked up under.
func LeafKey(addr Address, tokenID uint64) Hash {
	var buf [AddressSize + 8]byte
	copy(buf[:AddressSize], addr[:])
	putUint64LE(buf[AddressSize:], tokenID)
	return sha256.Sum256(buf[:])
}

func putUint64LE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> uint(8*i))
	}
}

func uint64LE(src []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(src[i]) << uint(8*i)
	}
	return v
}
