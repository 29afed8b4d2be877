package smt

import (
	"testing"

	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
	"github.com/stretchr/testify/require"
)

func addrN(n byte) Address {
	var a Address
	a[AddressSize-1] = n
	a[0] = n ^ 0xFF
	return a
}

func TestZeroHashLadder(t *testing.T) {
	require.Equal(t, ZeroHash(0), hashBytes(nil))
	for l := 0; l < 8; l++ {
		require.Equal(t, ZeroHash(l+1), hashPair(ZeroHash(l), ZeroHash(l)))
	}
}

func TestEmptyTreeRootIsZeroHashOfFullDepth(t *testing.T) {
	tree := NewTree()
	require.Equal(t, ZeroHash(TreeDepth), tree.Root())
}

func TestUpdateChangesRoot(t *testing.T) {
	tree := NewTree()
	before := tree.Root()
	tree.Update(AccountLeaf{Addr: addrN(1), Bal: BalanceFromUint64(100), TokenID: NativeTokenID})
	after := tree.Root()
	require.NotEqual(t, before, after)
}

func TestGetRoundTrips(t *testing.T) {
	tree := NewTree()
	leaf := AccountLeaf{Addr: addrN(2), Bal: BalanceFromUint64(42), Nonce: 3, TokenID: NativeTokenID}
	tree.Update(leaf)
	got, ok := tree.Get(leaf.Addr, leaf.TokenID)
	require.True(t, ok)
	require.Equal(t, leaf, got)

	_, ok = tree.Get(addrN(99), NativeTokenID)
	require.False(t, ok)
}

func TestProofVerifiesInclusion(t *testing.T) {
	tree := NewTree()
	leaf := AccountLeaf{Addr: addrN(5), Bal: BalanceFromUint64(7), TokenID: NativeTokenID}
	tree.Update(leaf)
	root := tree.Root()

	p := tree.GenProof(leaf.Addr, leaf.TokenID)
	require.True(t, p.Verify(root, leaf.Addr, leaf.TokenID))
	require.False(t, p.IsAbsence())
	require.NoError(t, p.CheckLeafData())
}

func TestProofVerifiesAbsence(t *testing.T) {
	tree := NewTree()
	tree.Update(AccountLeaf{Addr: addrN(1), Bal: BalanceFromUint64(1), TokenID: NativeTokenID})
	root := tree.Root()

	p := tree.GenProof(addrN(200), NativeTokenID)
	require.True(t, p.Verify(root, addrN(200), NativeTokenID))
	require.True(t, p.IsAbsence())
}

func TestProofWithManyAccountsStillVerifies(t *testing.T) {
	tree := NewTree()
	var addrs []Address
	for i := byte(1); i <= 20; i++ {
		a := addrN(i)
		addrs = append(addrs, a)
		tree.Update(AccountLeaf{Addr: a, Bal: BalanceFromUint64(uint64(i) * 10), TokenID: NativeTokenID})
	}
	root := tree.Root()
	for _, a := range addrs {
		p := tree.GenProof(a, NativeTokenID)
		require.True(t, p.Verify(root, a, NativeTokenID), "proof for %s should verify", a)
	}
}

func TestProofRejectsWrongRoot(t *testing.T) {
	tree := NewTree()
	leaf := AccountLeaf{Addr: addrN(9), Bal: BalanceFromUint64(5), TokenID: NativeTokenID}
	tree.Update(leaf)
	p := tree.GenProof(leaf.Addr, leaf.TokenID)
	require.False(t, p.Verify(ZeroHash(TreeDepth), leaf.Addr, leaf.TokenID))
}

func TestProofMarshalRoundTrip(t *testing.T) {
	tree := NewTree()
	leaf := AccountLeaf{Addr: addrN(11), Bal: BalanceFromUint64(3), TokenID: NativeTokenID}
	tree.Update(leaf)
	p := tree.GenProof(leaf.Addr, leaf.TokenID)

	data, err := p.MarshalBinary()
	require.NoError(t, err)

	var p2 Proof
	require.NoError(t, p2.UnmarshalBinary(data))
	require.Equal(t, p.LeafHash, p2.LeafHash)
	require.Equal(t, p.Path, p2.Path)
	require.Equal(t, p.ZerosOmitted, p2.ZerosOmitted)
	require.Equal(t, p.Siblings, p2.Siblings)
}

func TestProofJSONRoundTrip(t *testing.T) {
	tree := NewTree()
	leaf := AccountLeaf{Addr: addrN(12), Bal: BalanceFromUint64(3), TokenID: NativeTokenID}
	tree.Update(leaf)
	p := tree.GenProof(leaf.Addr, leaf.TokenID)

	resp := p.ToResponse()
	back, err := ProofFromResponse(resp)
	require.NoError(t, err)
	require.Equal(t, p.LeafHash, back.LeafHash)
	require.Equal(t, p.Siblings, back.Siblings)
}

func TestTransferMovesBalanceAndBumpsNonce(t *testing.T) {
	tree := NewTree()
	from := addrN(1)
	to := addrN(2)
	tree.Update(AccountLeaf{Addr: from, Bal: BalanceFromUint64(100), TokenID: NativeTokenID})

	_, err := tree.Transfer(from, to, NativeTokenID, BalanceFromUint64(30), 0)
	require.NoError(t, err)

	fromLeaf, _ := tree.Get(from, NativeTokenID)
	toLeaf, _ := tree.Get(to, NativeTokenID)
	require.Equal(t, uint64(70), fromLeaf.Bal.Lo)
	require.Equal(t, uint64(30), toLeaf.Bal.Lo)
	require.Equal(t, uint64(1), fromLeaf.Nonce)
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	tree := NewTree()
	from := addrN(1)
	to := addrN(2)
	tree.Update(AccountLeaf{Addr: from, Bal: BalanceFromUint64(10), TokenID: NativeTokenID})

	_, err := tree.Transfer(from, to, NativeTokenID, BalanceFromUint64(11), 0)
	require.Error(t, err)
	require.True(t, volterr.Is(err, volterr.KindInsufficientBalance))
}

func TestTransferRejectsStaleNonce(t *testing.T) {
	tree := NewTree()
	from := addrN(1)
	to := addrN(2)
	tree.Update(AccountLeaf{Addr: from, Bal: BalanceFromUint64(100), TokenID: NativeTokenID})

	_, err := tree.Transfer(from, to, NativeTokenID, BalanceFromUint64(1), 0)
	require.NoError(t, err)

	_, err = tree.Transfer(from, to, NativeTokenID, BalanceFromUint64(1), 0)
	require.Error(t, err)
}

func TestTransferAllowsBoundedFutureNonce(t *testing.T) {
	tree := NewTree()
	from := addrN(1)
	to := addrN(2)
	tree.Update(AccountLeaf{Addr: from, Bal: BalanceFromUint64(100), TokenID: NativeTokenID})

	_, err := tree.Transfer(from, to, NativeTokenID, BalanceFromUint64(1), 2)
	require.NoError(t, err)

	_, err = tree.Transfer(from, to, NativeTokenID, BalanceFromUint64(1), 10)
	require.Error(t, err)
}

func TestRegisterTokenAndMintRespectsMaxSupply(t *testing.T) {
	tree := NewTree()
	issuer := addrN(3)
	max := BalanceFromUint64(100)
	info, err := tree.RegisterToken(issuer, "WIDGET|Widget|0", &max)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.TokenID)

	to := addrN(4)
	_, err = tree.MintTokenWithMaxSupply(issuer, to, info.TokenID, BalanceFromUint64(90), 0)
	require.NoError(t, err)

	_, err = tree.MintTokenWithMaxSupply(issuer, to, info.TokenID, BalanceFromUint64(20), 1)
	require.Error(t, err)
	require.True(t, volterr.Is(err, volterr.KindExceedsMaxSupply))
}

func TestBurnTokenReducesSupply(t *testing.T) {
	tree := NewTree()
	from := addrN(1)
	tree.Update(AccountLeaf{Addr: from, Bal: BalanceFromUint64(0), TokenID: NativeTokenID})
	_, err := tree.MintToken(Address{}, from, NativeTokenID, BalanceFromUint64(50), 0)
	require.NoError(t, err)

	_, err = tree.BurnToken(from, NativeTokenID, BalanceFromUint64(20), 0)
	require.NoError(t, err)

	info, err := tree.Token(NativeTokenID)
	require.NoError(t, err)
	require.Equal(t, uint64(30), info.TotalSupply.Lo)
}

func TestSetFullStateVerifiesRoot(t *testing.T) {
	tree := NewTree()
	leaf := AccountLeaf{Addr: addrN(1), Bal: BalanceFromUint64(5), TokenID: NativeTokenID}
	tree.Update(leaf)
	root := tree.Root()

	fresh := NewTree()
	require.NoError(t, fresh.SetFullState(tree.GetAll(), root))
	require.Equal(t, root, fresh.Root())

	require.Error(t, fresh.SetFullState(tree.GetAll(), ZeroHash(0)))
}
