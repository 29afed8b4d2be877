package bridge

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
)

type recordingPublisher struct {
	intents []UpdateRootIntent
	err     error
}

func (p *recordingPublisher) PublishRootUpdate(ctx context.Context, intent UpdateRootIntent) error {
	if p.err != nil {
		return p.err
	}
	p.intents = append(p.intents, intent)
	return nil
}

func newTestBridge(t *testing.T) (*Bridge, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tree := smt.NewTree()
	var addr smt.Address
	copy(addr[:], pub)
	tree.Update(smt.AccountLeaf{Addr: addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})

	pub2 := &recordingPublisher{}
	return New(tree, pub2, SchemeEd25519, Ed25519Signer(priv)), pub
}

func TestPublishRootUpdateSignsCurrentRoot(t *testing.T) {
	b, pub := newTestBridge(t)
	recorder := b.Publisher.(*recordingPublisher)

	require.NoError(t, b.PublishRootUpdate(context.Background()))
	require.Len(t, recorder.intents, 1)

	intent := recorder.intents[0]
	require.Equal(t, b.Tree.Root(), intent.NewRoot)
	require.True(t, ed25519.Verify(pub, intent.NewRoot.Bytes(), intent.Signature))
}

func TestPublishRootUpdateRequiresPublisher(t *testing.T) {
	b := New(smt.NewTree(), nil, SchemeEd25519, Ed25519Signer(nil))
	err := b.PublishRootUpdate(context.Background())
	require.Error(t, err)
}

func TestGenerateUnlockProofVerifiesAgainstRoot(t *testing.T) {
	b, pub := newTestBridge(t)
	var addr smt.Address
	copy(addr[:], pub)

	proofJSON, root, err := b.GenerateUnlockProof(addr, smt.NativeTokenID)
	require.NoError(t, err)
	require.Equal(t, b.Tree.Root(), root)

	proof, err := smt.ProofFromResponse(proofJSON)
	require.NoError(t, err)
	require.True(t, proof.Verify(root, addr, smt.NativeTokenID))
}

func TestGenerateUnlockProofRejectsEmptyBalance(t *testing.T) {
	b, _ := newTestBridge(t)
	var other smt.Address
	other[0] = 0xAB

	_, _, err := b.GenerateUnlockProof(other, smt.NativeTokenID)
	require.Error(t, err)
}

func TestDilithium3SignerReturnsNotImplemented(t *testing.T) {
	signer := Dilithium3Signer(nil)
	_, err := signer([]byte("root"))
	require.ErrorIs(t, err, ErrSchemeNotImplemented)
}

func TestRelaySessionKeyAgreementIsSymmetric(t *testing.T) {
	var aPriv, bPriv [32]byte
	aPriv[0], aPriv[31] = 1, 2
	bPriv[0], bPriv[31] = 3, 4

	aPub, err := curve25519.X25519(aPriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	bPub, err := curve25519.X25519(bPriv[:], curve25519.Basepoint)
	require.NoError(t, err)

	var aPubArr, bPubArr [32]byte
	copy(aPubArr[:], aPub)
	copy(bPubArr[:], bPub)

	secretFromA, err := RelaySessionKeyAgreement(aPriv, bPubArr)
	require.NoError(t, err)
	secretFromB, err := RelaySessionKeyAgreement(bPriv, aPubArr)
	require.NoError(t, err)
	require.Equal(t, secretFromA, secretFromB)
}
