// Package bridge is the interface-only Ethereum bridge seam: it lets a
// node publish update_root intents and generate L1-compatible unlock
// proofs, without implementing an actual L1 client. Nothing in the core
// state machine changes as a result of a published intent — the bridge
// only observes tree state and hands back artifacts a contract (and the
// transaction-submission plumbing around one) would consume in a later
// deployment.
package bridge

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/curve25519"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// SignatureScheme selects what a Bridge signs its update_root intents
// with. Ed25519 matches every other signature in the network; Dilithium3
// is typed here as a forward-compatible seam (the contract side of a
// quantum-resistant bridge would need it) but not implemented.
type SignatureScheme int

const (
	SchemeEd25519 SignatureScheme = iota
	SchemeDilithium3
)

func (s SignatureScheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeDilithium3:
		return "dilithium3"
	default:
		return "unknown"
	}
}

// Signer produces a signature over an update_root intent's root bytes.
type Signer func(message []byte) ([]byte, error)

// Ed25519Signer wraps a private key as a Signer.
func Ed25519Signer(priv ed25519.PrivateKey) Signer {
	return func(message []byte) ([]byte, error) {
		return ed25519.Sign(priv, message), nil
	}
}

// Dilithium3PrivateKeySize mirrors circl's mode3 key size, kept here so
// any future key-storage code sizes its buffers correctly ahead of
// Dilithium3 signing actually being wired up.
const Dilithium3PrivateKeySize = mode3.PrivateKeySize

// ErrSchemeNotImplemented is returned by Dilithium3Signer: the scheme
// is typed into UpdateRootIntent so a PQC-signed intent is already a
// distinguishable wire shape, but circl's mode3 signing path itself
// isn't wired in yet.
var ErrSchemeNotImplemented = volterr.New(volterr.KindUnauthorized, "signature scheme not implemented")

// Dilithium3Signer types the seam for a post-quantum bridge signer: the
// contract-facing wire shape (UpdateRootIntent.Scheme) already
// distinguishes Dilithium3 intents from Ed25519 ones, but the signer
// itself always returns ErrSchemeNotImplemented, so a Bridge built
// with it fails every PublishRootUpdate.
func Dilithium3Signer(priv *mode3.PrivateKey) Signer {
	return func(message []byte) ([]byte, error) {
		return nil, ErrSchemeNotImplemented
	}
}

// UpdateRootIntent is the payload a Bridge hands to its Publisher: a
// signed claim that the tree's root is now NewRoot, intended for an L1
// contract's update_root call.
type UpdateRootIntent struct {
	NewRoot   smt.Hash
	Scheme    SignatureScheme
	Signature []byte
}

// IntentPublisher is where a Bridge sends update_root intents. A
// deployment wires in whatever transport it has — the gossip bus today,
// an actual Ethereum JSON-RPC client in a future one — following the
// same injected-function seam txapply.Applier uses for its Rebroadcast
// hook, generalized to an interface since a bridge publisher also needs
// to report failures back to the caller rather than only log them.
type IntentPublisher interface {
	PublishRootUpdate(ctx context.Context, intent UpdateRootIntent) error
}

// Bridge ties a tree to a signer and a publisher. It holds no L1
// connection of its own: lock/unlock/get_balance/is_proof_used, which
// the original implementation drove through an ethers.rs contract
// binding, are out of scope here per the interface-only requirement —
// only intent publishing and proof generation survive into this port.
type Bridge struct {
	Tree      *smt.Tree
	Publisher IntentPublisher
	Scheme    SignatureScheme
	Sign      Signer
}

// New builds a Bridge. publisher may be nil for a node that generates
// unlock proofs on request but never publishes root-update intents.
func New(tree *smt.Tree, publisher IntentPublisher, scheme SignatureScheme, sign Signer) *Bridge {
	return &Bridge{Tree: tree, Publisher: publisher, Scheme: scheme, Sign: sign}
}

// PublishRootUpdate signs the tree's current root and hands the intent
// to the configured Publisher. It is the node's side of §4.7's
// "the node may publish update_root(new_root) intents" — publishing
// never mutates tree state.
func (b *Bridge) PublishRootUpdate(ctx context.Context) error {
	if b.Publisher == nil {
		return volterr.New(volterr.KindNetwork, "bridge has no intent publisher configured")
	}
	root := b.Tree.Root()
	sig, err := b.Sign(root.Bytes())
	if err != nil {
		return volterr.Wrap(volterr.KindInvalidSignature, "sign update_root intent", err)
	}
	intent := UpdateRootIntent{NewRoot: root, Scheme: b.Scheme, Signature: sig}
	if err := b.Publisher.PublishRootUpdate(ctx, intent); err != nil {
		return err
	}
	log.Info().Str("root", root.String()).Str("scheme", b.Scheme.String()).Msg("[BRIDGE] published update_root intent")
	return nil
}

// updateRootIntentJSON is the wire form of UpdateRootIntent, following
// the rest of the codebase's hex-string convention for byte fields.
type updateRootIntentJSON struct {
	RootHex   string `json:"root_hex"`
	Scheme    string `json:"scheme"`
	Signature string `json:"signature_hex"`
}

// RedisPublisher publishes update_root intents onto a Redis pub/sub
// topic, the same transport the gossip bus already uses for state
// updates, kept on a separate topic since bridge intents are not
// UpdateMsgs and nodes that don't run a bridge shouldn't have to
// decode them off state_updates.
type RedisPublisher struct {
	Client *redis.Client
	Topic  string
}

func NewRedisPublisher(client *redis.Client, topic string) *RedisPublisher {
	return &RedisPublisher{Client: client, Topic: topic}
}

func (p *RedisPublisher) PublishRootUpdate(ctx context.Context, intent UpdateRootIntent) error {
	wire := updateRootIntentJSON{
		RootHex:   intent.NewRoot.String(),
		Scheme:    intent.Scheme.String(),
		Signature: hex.EncodeToString(intent.Signature),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "marshal update_root intent", err)
	}
	if err := p.Client.Publish(ctx, p.Topic, data).Err(); err != nil {
		return volterr.Wrap(volterr.KindNetwork, "publish update_root intent", err)
	}
	return nil
}

// RelaySessionKeyAgreement performs an X25519 Diffie-Hellman exchange
// between two bridge relay nodes, the classical half of a hybrid
// key-agreement scheme for a future multi-relay bridge consensus
// (signing quorum over published root-update intents). Only the
// classical leg is implemented today; a PQ-hybrid upgrade would add a
// Kyber encapsulation alongside it the way the teacher's PQXDH prekey
// bundles do.
func RelaySessionKeyAgreement(privateKey, peerPublicKey [32]byte) ([32]byte, error) {
	shared, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		return [32]byte{}, volterr.Wrap(volterr.KindInvalidSignature, "x25519 relay key agreement", err)
	}
	var out [32]byte
	copy(out[:], shared)
	return out, nil
}

// GenerateUnlockProof builds the L1-compatible unlock proof for one
// account: the same siblings/path/leaf_hash shape as §3's Proof,
// verified by the contract using the identical fold algorithm
// internal/smt.Proof.Verify implements. Returns the proof alongside the
// root it was generated against, since an unlock call on L1 needs both.
func (b *Bridge) GenerateUnlockProof(addr smt.Address, tokenID uint64) (smt.ProofJSON, smt.Hash, error) {
	leaf, ok := b.Tree.Get(addr, tokenID)
	if !ok || leaf.Bal.IsZero() {
		return smt.ProofJSON{}, smt.Hash{}, volterr.New(volterr.KindInsufficientBalance, "no balance available to unlock")
	}
	proof := b.Tree.GenProof(addr, tokenID)
	return proof.ToResponse(), b.Tree.Root(), nil
}
