package txapply

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

type keypair struct {
	addr smt.Address
	priv ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var addr smt.Address
	copy(addr[:], pub)
	return keypair{addr: addr, priv: priv}
}

func sign(kp keypair, msg smt.Message) Submission {
	return Submission{Msg: msg, Signature: ed25519.Sign(kp.priv, Preimage(msg))}
}

func TestNativeTransferAppliesAndRebroadcasts(t *testing.T) {
	tree := smt.NewTree()
	from := newKeypair(t)
	to := newKeypair(t)
	tree.Update(smt.AccountLeaf{Addr: from.addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})

	var broadcast *UpdateMsg
	a := &Applier{Tree: tree, Rebroadcast: func(u UpdateMsg) { broadcast = &u }}

	msg := smt.Message{Kind: smt.MessageTransfer, From: from.addr, To: to.addr, TokenID: smt.NativeTokenID, Amount: smt.BalanceFromUint64(30), Nonce: 0}
	res, err := a.Apply(sign(from, msg), OriginLocal, nil)
	require.NoError(t, err)
	require.Equal(t, tree.Root(), res.Root)
	require.NotNil(t, broadcast)

	fromLeaf, _ := tree.Get(from.addr, smt.NativeTokenID)
	toLeaf, _ := tree.Get(to.addr, smt.NativeTokenID)
	require.Equal(t, uint64(70), fromLeaf.Bal.Lo)
	require.Equal(t, uint64(30), toLeaf.Bal.Lo)
}

func TestReplayedNonceRejected(t *testing.T) {
	tree := smt.NewTree()
	from := newKeypair(t)
	to := newKeypair(t)
	tree.Update(smt.AccountLeaf{Addr: from.addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})
	a := &Applier{Tree: tree}

	msg := smt.Message{Kind: smt.MessageTransfer, From: from.addr, To: to.addr, TokenID: smt.NativeTokenID, Amount: smt.BalanceFromUint64(1), Nonce: 0}
	_, err := a.Apply(sign(from, msg), OriginLocal, nil)
	require.NoError(t, err)

	_, err = a.Apply(sign(from, msg), OriginLocal, nil)
	require.Error(t, err)
	require.True(t, volterr.Is(err, volterr.KindInvalidNonce))
}

func TestIssueThenMintWithIssuerAuthority(t *testing.T) {
	tree := smt.NewTree()
	issuer := newKeypair(t)
	holder := newKeypair(t)
	a := &Applier{Tree: tree}

	issueMsg := smt.Message{Kind: smt.MessageIssueToken, From: issuer.addr, Metadata: "WIDGET|Widget|0", Nonce: 0}
	_, err := a.Apply(sign(issuer, issueMsg), OriginLocal, nil)
	require.NoError(t, err)

	info, err := tree.Token(1)
	require.NoError(t, err)
	require.Equal(t, issuer.addr, info.Issuer)

	mintMsg := smt.Message{Kind: smt.MessageMint, From: issuer.addr, To: holder.addr, TokenID: info.TokenID, Amount: smt.BalanceFromUint64(50), Nonce: 0}
	_, err = a.Apply(sign(issuer, mintMsg), OriginLocal, nil)
	require.NoError(t, err)

	holderLeaf, ok := tree.Get(holder.addr, info.TokenID)
	require.True(t, ok)
	require.Equal(t, uint64(50), holderLeaf.Bal.Lo)
}

func TestUnauthorizedMintRejected(t *testing.T) {
	tree := smt.NewTree()
	issuer := newKeypair(t)
	impostor := newKeypair(t)
	holder := newKeypair(t)
	a := &Applier{Tree: tree}

	issueMsg := smt.Message{Kind: smt.MessageIssueToken, From: issuer.addr, Metadata: "WIDGET|Widget|0", Nonce: 0}
	_, err := a.Apply(sign(issuer, issueMsg), OriginLocal, nil)
	require.NoError(t, err)

	mintMsg := smt.Message{Kind: smt.MessageMint, From: impostor.addr, To: holder.addr, TokenID: 1, Amount: smt.BalanceFromUint64(50), Nonce: 0}
	_, err = a.Apply(sign(impostor, mintMsg), OriginLocal, nil)
	require.Error(t, err)
	require.True(t, volterr.Is(err, volterr.KindUnauthorized))
}

func TestTamperedSignatureRejected(t *testing.T) {
	tree := smt.NewTree()
	from := newKeypair(t)
	to := newKeypair(t)
	tree.Update(smt.AccountLeaf{Addr: from.addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})
	a := &Applier{Tree: tree}

	msg := smt.Message{Kind: smt.MessageTransfer, From: from.addr, To: to.addr, TokenID: smt.NativeTokenID, Amount: smt.BalanceFromUint64(99), Nonce: 0}
	sub := sign(from, msg)
	sub.Msg.Amount = smt.BalanceFromUint64(1) // tamper after signing

	_, err := a.Apply(sub, OriginLocal, nil)
	require.Error(t, err)
	require.True(t, volterr.Is(err, volterr.KindInvalidSignature))
}

func TestGossipUpdateRejectedOnRootMismatch(t *testing.T) {
	senderTree := smt.NewTree()
	from := newKeypair(t)
	to := newKeypair(t)
	senderTree.Update(smt.AccountLeaf{Addr: from.addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})
	sender := &Applier{Tree: senderTree}

	msg := smt.Message{Kind: smt.MessageTransfer, From: from.addr, To: to.addr, TokenID: smt.NativeTokenID, Amount: smt.BalanceFromUint64(10), Nonce: 0}
	var update *UpdateMsg
	sender.Rebroadcast = func(u UpdateMsg) { update = &u }
	_, err := sender.Apply(sign(from, msg), OriginLocal, nil)
	require.NoError(t, err)
	require.NotNil(t, update)

	// Claim a root the carried proofs don't actually belong to: the
	// receiver must catch this at the proof-verification step, before
	// ever touching its own tree.
	update.Root = smt.ZeroHash(smt.TreeDepth).String()

	receiverTree := smt.NewTree()
	receiverTree.Update(smt.AccountLeaf{Addr: from.addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})
	receiver := &Applier{Tree: receiverTree}

	sub, err := FromMessageJSON(update.Msg)
	require.NoError(t, err)
	_, err = receiver.Apply(sub, OriginGossip, update)
	require.Error(t, err)
	require.True(t, volterr.Is(err, volterr.KindInvalidProof))
}

func TestGossipUpdateConvergesOnMatchingRoot(t *testing.T) {
	senderTree := smt.NewTree()
	from := newKeypair(t)
	to := newKeypair(t)
	senderTree.Update(smt.AccountLeaf{Addr: from.addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})
	sender := &Applier{Tree: senderTree}

	msg := smt.Message{Kind: smt.MessageTransfer, From: from.addr, To: to.addr, TokenID: smt.NativeTokenID, Amount: smt.BalanceFromUint64(10), Nonce: 0}
	var update *UpdateMsg
	sender.Rebroadcast = func(u UpdateMsg) { update = &u }
	_, err := sender.Apply(sign(from, msg), OriginLocal, nil)
	require.NoError(t, err)
	require.NotNil(t, update)

	receiverTree := smt.NewTree()
	receiverTree.Update(smt.AccountLeaf{Addr: from.addr, Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})
	receiver := &Applier{Tree: receiverTree}

	sub, err := FromMessageJSON(update.Msg)
	require.NoError(t, err)
	_, err = receiver.Apply(sub, OriginGossip, update)
	require.NoError(t, err)
	require.Equal(t, senderTree.Root(), receiverTree.Root())
}
