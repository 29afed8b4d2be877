package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
)

func openTestProofStore(t *testing.T) *ProofStore {
	t.Helper()
	ps, err := OpenProofStore(filepath.Join(t.TempDir(), "proofs"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ps.Close()) })
	return ps
}

func sampleProof(t *testing.T) (*smt.Tree, smt.Address, smt.Hash, *smt.Proof) {
	t.Helper()
	tree := smt.NewTree()
	var addr smt.Address
	addr[0] = 7
	tree.Update(smt.AccountLeaf{Addr: addr, Bal: smt.BalanceFromUint64(50), TokenID: smt.NativeTokenID})
	root := tree.Root()
	proof := tree.GenProof(addr, smt.NativeTokenID)
	return tree, addr, root, proof
}

func TestProofStoreMissByDefault(t *testing.T) {
	ps := openTestProofStore(t)
	_, addr, root, _ := sampleProof(t)

	_, ok, err := ps.Get(addr, smt.NativeTokenID, root)
	require.NoError(t, err)
	require.False(t, ok)

	has, err := ps.Has(addr, smt.NativeTokenID, root)
	require.NoError(t, err)
	require.False(t, has)
}

func TestProofStorePutGetRoundTrip(t *testing.T) {
	ps := openTestProofStore(t)
	_, addr, root, proof := sampleProof(t)

	require.NoError(t, ps.Put(addr, smt.NativeTokenID, root, proof))

	has, err := ps.Has(addr, smt.NativeTokenID, root)
	require.NoError(t, err)
	require.True(t, has)

	loaded, ok, err := ps.Get(addr, smt.NativeTokenID, root)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, loaded.Verify(root, addr, smt.NativeTokenID))
}

func TestProofStoreIsScopedToRoot(t *testing.T) {
	ps := openTestProofStore(t)
	_, addr, root, proof := sampleProof(t)
	require.NoError(t, ps.Put(addr, smt.NativeTokenID, root, proof))

	var otherRoot smt.Hash
	otherRoot[0] = 0xFF
	has, err := ps.Has(addr, smt.NativeTokenID, otherRoot)
	require.NoError(t, err)
	require.False(t, has)
}
