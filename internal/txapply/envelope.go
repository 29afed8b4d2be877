// Package txapply is the transaction pipeline: it decodes a signed
// client submission or a gossip-sourced UpdateMsg, checks signature,
// authority, proof, nonce and balance/supply invariants, applies the
// message to the tree, persists the result, and hands it back out for
// rebroadcast. Every mutation of node state funnels through Apply.
package txapply

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

// Submission is a client-signed request to mutate state, the decoded
// form of the wire payloads §6.3 describes for send/mint/issueToken/
// mintToken. It carries the message itself plus the signature over its
// canonical preimage.
type Submission struct {
	Msg       smt.Message
	Signature []byte // 64-byte Ed25519 signature
}

// sendPreimage reproduces the ordered-field JSON object the wallet
// signs for a transfer of any token: {"from":hex,"to":hex,"token_id":N,
// "amount":N,"nonce":N}. Field order is fixed because it's hashed as
// raw bytes, not as a parsed-then-re-serialized object.
func sendPreimage(msg smt.Message) []byte {
	return []byte(fmt.Sprintf(
		`{"from":"%s","to":"%s","token_id":%d,"amount":%s,"nonce":%d}`,
		msg.From.String(), msg.To.String(), msg.TokenID, msg.Amount.String(), msg.Nonce,
	))
}

// mintPreimage reproduces the ASCII "mint:<to_hex>:<amount>" preimage
// the treasury signs for a native mint.
func mintPreimage(msg smt.Message) []byte {
	return []byte("mint:" + msg.To.String() + ":" + msg.Amount.String())
}

// systemPreimage reproduces the fixed binary encoding used for
// Burn/IssueToken/token-mint submissions: from, to, token id (u64 LE),
// amount (u128 LE), nonce (u64 LE), metadata bytes, then max supply
// (u128 LE) when set. The message kind and the signature are not part
// of it. Signer and verifier hash exactly the same bytes regardless of
// transport framing.
func systemPreimage(msg smt.Message) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, msg.From.Bytes()...)
	buf = append(buf, msg.To.Bytes()...)
	buf = append(buf, uint64LE(msg.TokenID)...)
	bal := msg.Amount.Bytes16LE()
	buf = append(buf, bal[:]...)
	buf = append(buf, uint64LE(msg.Nonce)...)
	buf = append(buf, []byte(msg.Metadata)...)
	if msg.MaxSupply != nil {
		ms := msg.MaxSupply.Bytes16LE()
		buf = append(buf, ms[:]...)
	}
	return buf
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// Preimage returns the exact byte sequence the submitter's signature
// must cover, chosen by message kind per §6.3's signing-preimage
// table.
func Preimage(msg smt.Message) []byte {
	switch msg.Kind {
	case smt.MessageTransfer:
		return sendPreimage(msg)
	case smt.MessageMint:
		if msg.TokenID == smt.NativeTokenID {
			return mintPreimage(msg)
		}
		return systemPreimage(msg)
	default:
		return systemPreimage(msg)
	}
}

// VerifySignature checks sub.Signature against the preimage for
// sub.Msg, keyed by the message's authorizing address: the sender for
// Transfer/Burn, the issuer for Mint/IssueToken.
func VerifySignature(sub Submission) bool {
	if len(sub.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(sub.Msg.From.Bytes()), Preimage(sub.Msg), sub.Signature)
}

// MessageJSON is the hex/decimal wire form of an smt.Message, matching
// §6.1's convention of hex strings for byte arrays and decimal strings
// for u128 amounts rather than Go's default array/struct encoding.
type MessageJSON struct {
	Kind      smt.MessageKind `json:"kind"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	TokenID   uint64          `json:"token_id"`
	Amount    string          `json:"amount"`
	Nonce     uint64          `json:"nonce"`
	Metadata  string          `json:"metadata,omitempty"`
	MaxSupply string          `json:"max_supply,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

func ToMessageJSON(msg smt.Message, signature []byte) MessageJSON {
	out := MessageJSON{
		Kind:     msg.Kind,
		From:     msg.From.String(),
		To:       msg.To.String(),
		TokenID:  msg.TokenID,
		Amount:   msg.Amount.String(),
		Nonce:    msg.Nonce,
		Metadata: msg.Metadata,
	}
	if msg.MaxSupply != nil {
		out.MaxSupply = msg.MaxSupply.String()
	}
	if signature != nil {
		out.Signature = hexEncode(signature)
	}
	return out
}

func FromMessageJSON(mj MessageJSON) (Submission, error) {
	from, err := smt.AddressFromHex(mj.From)
	if err != nil {
		return Submission{}, volterr.Wrap(volterr.KindSerialization, "decode from address", err)
	}
	to, err := smt.AddressFromHex(mj.To)
	if err != nil && mj.To != "" {
		return Submission{}, volterr.Wrap(volterr.KindSerialization, "decode to address", err)
	}
	amount, err := amountString(mj.Amount)
	if err != nil {
		return Submission{}, err
	}
	msg := smt.Message{
		Kind:     mj.Kind,
		From:     from,
		To:       to,
		TokenID:  mj.TokenID,
		Amount:   amount,
		Nonce:    mj.Nonce,
		Metadata: mj.Metadata,
	}
	if mj.MaxSupply != "" {
		ms, err := amountString(mj.MaxSupply)
		if err != nil {
			return Submission{}, err
		}
		msg.MaxSupply = &ms
	}
	var sig []byte
	if mj.Signature != "" {
		sig, err = hexDecode(mj.Signature)
		if err != nil {
			return Submission{}, volterr.Wrap(volterr.KindSerialization, "decode signature", err)
		}
	}
	return Submission{Msg: msg, Signature: sig}, nil
}

// UpdateMsg is the gossip wire form of an applied message: the message
// itself, the resulting root, and the proofs covering both affected
// addresses so a receiving peer can verify the update without holding
// the full tree.
type UpdateMsg struct {
	Msg       MessageJSON    `json:"msg"`
	Root      string         `json:"root"`
	FromProof *smt.ProofJSON `json:"from_proof,omitempty"`
	ToProof   *smt.ProofJSON `json:"to_proof,omitempty"`
}

func (u UpdateMsg) RootHash() (smt.Hash, error) {
	h, err := smt.HashFromHex(u.Root)
	if err != nil {
		return smt.Hash{}, volterr.Wrap(volterr.KindSerialization, "decode update root", err)
	}
	return h, nil
}

// amountString is a small helper FromMessageJSON uses to parse the
// decimal-string wire amounts of a MessageJSON.
func amountString(s string) (smt.Balance, error) {
	bal, err := smt.BalanceFromString(s)
	if err != nil {
		return smt.Balance{}, volterr.Wrap(volterr.KindSerialization, "parse amount", err)
	}
	return bal, nil
}

// TxHash identifies an applied message for RPC responses that need a
// single reference value (send/mint/broadcast_mint/p3p_mintToken all
// return one). It's the SHA-256 of the message's signing preimage,
// not a consensus object. Transfer and system preimages carry the
// nonce, so two such messages from one sender that differ only in
// nonce hash differently; the native-mint preimage carries none, so
// two native mints of the same amount to the same recipient share a
// hash.
func TxHash(msg smt.Message) smt.Hash {
	return sha256.Sum256(Preimage(msg))
}

func parseUint64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, volterr.Wrap(volterr.KindSerialization, "parse uint64", err)
	}
	return v, nil
}
