package smt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"math/bits"
)

// AddressSize is the width of an address: a raw Ed25519 public key.
const AddressSize = 32

// Address is a 32-byte account identifier, equal to the holder's
// Ed25519 public key. There is no separate key-lookup directory:
// signature verification checks the signature against the address
// itself.
type Address [AddressSize]byte

func (a Address) Bytes() []byte { return a[:] }

func (a Address) String() string { return hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == Address{} }

func AddressFromHex(s string) (Address, error) {
	var a Address
	s = trimHexPrefix(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("decode address hex: %w", err)
	}
	if len(b) != AddressSize {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// NativeTokenID is the reserved id for the protocol's built-in asset.
const NativeTokenID uint64 = 0

// NativeTokenMetadata is the fixed metadata string for token id 0.
const NativeTokenMetadata = "VOLT|Volt Token|18"

// Balance is an unsigned 128-bit integer, stored as two 64-bit limbs so
// that checked arithmetic and fixed 16-byte little-endian encoding
// don't need an allocation on the hot path. Hi holds the upper 64
// bits, Lo the lower 64.
type Balance struct {
	Hi uint64
	Lo uint64
}

// BalanceFromUint64 constructs a Balance from a plain 64-bit amount.
func BalanceFromUint64(v uint64) Balance { return Balance{Lo: v} }

func (b Balance) IsZero() bool { return b.Hi == 0 && b.Lo == 0 }

// Cmp returns -1, 0, or 1 as b is less than, equal to, or greater than other.
func (b Balance) Cmp(other Balance) int {
	if b.Hi != other.Hi {
		if b.Hi < other.Hi {
			return -1
		}
		return 1
	}
	if b.Lo != other.Lo {
		if b.Lo < other.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// Add returns b+other and whether the addition overflowed 128 bits.
func (b Balance) Add(other Balance) (Balance, bool) {
	lo, carry := bits.Add64(b.Lo, other.Lo, 0)
	hi, carryOut := bits.Add64(b.Hi, other.Hi, carry)
	return Balance{Hi: hi, Lo: lo}, carryOut != 0
}

// Sub returns b-other and whether the subtraction underflowed (b < other).
func (b Balance) Sub(other Balance) (Balance, bool) {
	if b.Cmp(other) < 0 {
		return Balance{}, true
	}
	lo, borrow := bits.Sub64(b.Lo, other.Lo, 0)
	hi, _ := bits.Sub64(b.Hi, other.Hi, borrow)
	return Balance{Hi: hi, Lo: lo}, false
}

// Bytes16LE returns the canonical 16-byte little-endian encoding used
// in leaf hashing and persistence.
func (b Balance) Bytes16LE() [16]byte {
	var out [16]byte
	putUint64LE(out[0:8], b.Lo)
	putUint64LE(out[8:16], b.Hi)
	return out
}

func BalanceFromBytes16LE(b []byte) Balance {
	return Balance{
		Lo: uint64LE(b[0:8]),
		Hi: uint64LE(b[8:16]),
	}
}

// String renders the balance in decimal, matching the JSON-RPC
// decimal-string convention for u128 values.
func (b Balance) String() string {
	big := b.big()
	return big.String()
}

func (b Balance) big() *big.Int {
	hi := new(big.Int).Lsh(new(big.Int).SetUint64(b.Hi), 64)
	return hi.Add(hi, new(big.Int).SetUint64(b.Lo))
}

// BalanceFromString parses a decimal string into a Balance, rejecting
// values that don't fit in 128 bits.
func BalanceFromString(s string) (Balance, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Balance{}, fmt.Errorf("invalid decimal balance %q", s)
	}
	if v.Sign() < 0 {
		return Balance{}, fmt.Errorf("balance must be non-negative")
	}
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	if v.Cmp(max) >= 0 {
		return Balance{}, fmt.Errorf("balance exceeds 128 bits")
	}
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(v, mask).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return Balance{Hi: hi, Lo: lo}, nil
}

// AccountLeaf is the tree's value type: one (address, token) balance
// entry. The canonical encoding — addr(32) || bal(16 LE) || nonce(8
// LE) || token_id(8 LE) — is fixed and versionless; changing it
// changes every root in the network.
type AccountLeaf struct {
	Addr    Address
	Bal     Balance
	Nonce   uint64
	TokenID uint64
}

func NewEmptyLeaf(addr Address, tokenID uint64) AccountLeaf {
	return AccountLeaf{Addr: addr, TokenID: tokenID}
}

// CanonicalBytes returns the fixed-width preimage hashed to produce
// the leaf's tree entry and written to the leaves column family.
func (l AccountLeaf) CanonicalBytes() []byte {
	buf := make([]byte, AddressSize+16+8+8)
	copy(buf[0:AddressSize], l.Addr[:])
	bal := l.Bal.Bytes16LE()
	copy(buf[AddressSize:AddressSize+16], bal[:])
	putUint64LE(buf[AddressSize+16:AddressSize+24], l.Nonce)
	putUint64LE(buf[AddressSize+24:AddressSize+32], l.TokenID)
	return buf
}

// Hash returns the leaf's tree-entry hash: SHA-256 of CanonicalBytes.
func (l AccountLeaf) Hash() Hash {
	return hashBytes(l.CanonicalBytes())
}

func LeafFromCanonicalBytes(b []byte) (AccountLeaf, error) {
	if len(b) != AddressSize+16+8+8 {
		return AccountLeaf{}, fmt.Errorf("invalid account leaf encoding length %d", len(b))
	}
	var l AccountLeaf
	copy(l.Addr[:], b[0:AddressSize])
	l.Bal = BalanceFromBytes16LE(b[AddressSize : AddressSize+16])
	l.Nonce = uint64LE(b[AddressSize+16 : AddressSize+24])
	l.TokenID = uint64LE(b[AddressSize+24 : AddressSize+32])
	return l, nil
}

// TokenInfo is a registry entry describing one token id: who may mint
// it, what it's called, and how much of it exists.
type TokenInfo struct {
	TokenID     uint64
	Issuer      Address
	Metadata    string
	TotalSupply Balance
	MaxSupply   *Balance // nil means unbounded
}

func hashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}
