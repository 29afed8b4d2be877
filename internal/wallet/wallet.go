// Package wallet implements the CLI wallet's key material: a BIP39
// mnemonic stored alongside an account index, derived into an Ed25519
// signing key the same way the original client does — BIP32 hardened
// derivation down to m/44'/0'/<index>', then SHA-256 of the resulting
// 32-byte private key seeds the Ed25519 keypair. The derivation
// departs from standard practice (most wallets feed BIP32 output
// straight to ed25519-hd-key) but is preserved exactly for wire
// compatibility with wallets created before this rewrite.
package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"

	"github.com/tyler-smith/go-bip39"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// secp256k1Order is BIP32's curve order, needed for the hardened
// child-key derivation's modular addition step even though the
// derived key is ultimately reseeded into Ed25519, not used on
// secp256k1 itself.
var secp256k1Order, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

const hardenedOffset = uint32(0x80000000)

// Wallet is the JSON file format the CLI persists: a mnemonic and the
// account index currently in use, matching §6.2's {mnemonic,
// account_index} wire shape exactly.
type Wallet struct {
	Mnemonic     string `json:"mnemonic"`
	AccountIndex uint32 `json:"account_index"`
}

// New generates a fresh wallet from 256 bits of entropy (a 24-word
// mnemonic), account index 0.
func New() (*Wallet, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "generate entropy", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "generate mnemonic", err)
	}
	return &Wallet{Mnemonic: mnemonic, AccountIndex: 0}, nil
}

// Load reads a wallet file from disk.
func Load(path string) (*Wallet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindStorage, "read wallet file", err)
	}
	var w Wallet
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "decode wallet file", err)
	}
	return &w, nil
}

// Save writes the wallet to disk as pretty-printed JSON, creating the
// parent directory if needed.
func (w *Wallet) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return volterr.Wrap(volterr.KindStorage, "create wallet directory", err)
		}
	}
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "encode wallet", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return volterr.Wrap(volterr.KindStorage, "write wallet file", err)
	}
	return nil
}

// Keypair derives the Ed25519 signing key for the wallet's current
// account index.
func (w *Wallet) Keypair() (ed25519.PrivateKey, error) {
	if !bip39.IsMnemonicValid(w.Mnemonic) {
		return nil, volterr.New(volterr.KindSerialization, "invalid mnemonic")
	}
	seed := bip39.NewSeed(w.Mnemonic, "")
	rawKey := derivePath(seed, w.AccountIndex)
	ed25519Seed := sha256.Sum256(rawKey[:])
	return ed25519.NewKeyFromSeed(ed25519Seed[:]), nil
}

// Address returns the current account's address: the raw Ed25519
// public key bytes, matching the node's signature-verification
// convention that address IS public key.
func (w *Wallet) Address() (smt.Address, error) {
	priv, err := w.Keypair()
	if err != nil {
		return smt.Address{}, err
	}
	var addr smt.Address
	copy(addr[:], priv.Public().(ed25519.PublicKey))
	return addr, nil
}

// Sign signs a preimage with the current account's private key.
func (w *Wallet) Sign(preimage []byte) ([]byte, error) {
	priv, err := w.Keypair()
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, preimage), nil
}

type extendedKey struct {
	key       [32]byte
	chainCode [32]byte
}

func deriveMaster(seed []byte) extendedKey {
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	var ek extendedKey
	copy(ek.key[:], sum[:32])
	copy(ek.chainCode[:], sum[32:])
	return ek
}

// deriveHardenedChild implements BIP32's hardened private-child
// derivation: I = HMAC-SHA512(chainCode, 0x00 || parentKey ||
// ser32(index | 0x80000000)), child key = (IL + parentKey) mod n.
func deriveHardenedChild(parent extendedKey, index uint32) extendedKey {
	var data [37]byte
	data[0] = 0x00
	copy(data[1:33], parent.key[:])
	binary.BigEndian.PutUint32(data[33:], index|hardenedOffset)

	mac := hmac.New(sha512.New, parent.chainCode[:])
	mac.Write(data[:])
	sum := mac.Sum(nil)

	il := new(big.Int).SetBytes(sum[:32])
	parentInt := new(big.Int).SetBytes(parent.key[:])
	childInt := new(big.Int).Mod(new(big.Int).Add(il, parentInt), secp256k1Order)

	var ek extendedKey
	copy(ek.key[:], childInt.FillBytes(make([]byte, 32)))
	copy(ek.chainCode[:], sum[32:])
	return ek
}

// derivePath walks m/44'/0'/<index>' — the fixed path the original
// client and this one both use; no other path shape is supported.
func derivePath(seed []byte, accountIndex uint32) [32]byte {
	key := deriveMaster(seed)
	key = deriveHardenedChild(key, 44)
	key = deriveHardenedChild(key, 0)
	key = deriveHardenedChild(key, accountIndex)
	return key.key
}
