package gossip

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/store"
)

func addrN(n byte) smt.Address {
	var a smt.Address
	a[smt.AddressSize-1] = n
	a[0] = n ^ 0xFF
	return a
}

type fakeFetcher struct {
	snapshots map[string]FullStateSnapshot
}

func (f *fakeFetcher) FetchFullState(_ context.Context, peer string) (FullStateSnapshot, error) {
	return f.snapshots[peer], nil
}

func TestConsensusScorePrefersActiveAccountsAndNonce(t *testing.T) {
	rich := FullStateSnapshot{Accounts: []AccountSnapshot{
		{Address: addrN(1).String(), Balance: "1000", Nonce: 5},
		{Address: addrN(2).String(), Balance: "500", Nonce: 1},
	}}
	sparse := FullStateSnapshot{Accounts: []AccountSnapshot{
		{Address: addrN(1).String(), Balance: "1", Nonce: 0},
	}}
	require.Greater(t, ConsensusScore(rich), ConsensusScore(sparse))
}

func TestColdStartSyncAdoptsHigherScoringPeer(t *testing.T) {
	local := smt.NewTree() // empty, score 0

	peerTree := smt.NewTree()
	peerTree.Update(smt.AccountLeaf{Addr: addrN(1), Bal: smt.BalanceFromUint64(500), TokenID: smt.NativeTokenID, Nonce: 3})
	peerSnap := snapshotOf(peerTree)

	syncer := &Syncer{
		Tree:    local,
		Fetcher: &fakeFetcher{snapshots: map[string]FullStateSnapshot{"peer-a": peerSnap}},
		Peers:   []string{"peer-a"},
	}

	require.NoError(t, syncer.ColdStartSync(context.Background()))
	require.Equal(t, peerTree.Root(), local.Root())
}

func TestColdStartSyncKeepsLocalOnTie(t *testing.T) {
	local := smt.NewTree()
	local.Update(smt.AccountLeaf{Addr: addrN(1), Bal: smt.BalanceFromUint64(500), TokenID: smt.NativeTokenID, Nonce: 3})
	localRoot := local.Root()

	peerSnap := snapshotOf(local) // identical state, identical score

	syncer := &Syncer{
		Tree:    local,
		Fetcher: &fakeFetcher{snapshots: map[string]FullStateSnapshot{"peer-a": peerSnap}},
		Peers:   []string{"peer-a"},
	}

	require.NoError(t, syncer.ColdStartSync(context.Background()))
	require.Equal(t, localRoot, local.Root())
}

func TestCrossNodeConvergenceViaFullStateAdoption(t *testing.T) {
	nodeA := smt.NewTree()
	nodeA.Update(smt.AccountLeaf{Addr: addrN(1), Bal: smt.BalanceFromUint64(100), TokenID: smt.NativeTokenID})
	nodeA.Transfer(addrN(1), addrN(2), smt.NativeTokenID, smt.BalanceFromUint64(40), 0)

	nodeB := smt.NewTree()
	require.NoError(t, adoptSnapshot(nodeB, nil, snapshotOf(nodeA)))

	require.Equal(t, nodeA.Root(), nodeB.Root())
	leafB, ok := nodeB.Get(addrN(2), smt.NativeTokenID)
	require.True(t, ok)
	require.Equal(t, uint64(40), leafB.Bal.Lo)
}

func TestColdStartSyncPersistsAdoptedSnapshotAcrossReload(t *testing.T) {
	kv, err := store.Open(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	defer kv.Close()

	local := smt.NewTree() // empty, score 0

	peerTree := smt.NewTree()
	peerTree.Update(smt.AccountLeaf{Addr: addrN(1), Bal: smt.BalanceFromUint64(500), TokenID: smt.NativeTokenID, Nonce: 3})
	peerSnap := snapshotOf(peerTree)

	syncer := &Syncer{
		Tree:    local,
		Store:   kv,
		Fetcher: &fakeFetcher{snapshots: map[string]FullStateSnapshot{"peer-a": peerSnap}},
		Peers:   []string{"peer-a"},
	}
	require.NoError(t, syncer.ColdStartSync(context.Background()))
	require.NoError(t, kv.PutRoot(local.Root()))

	// Simulate a restart: reload the tree purely from what was persisted
	// and confirm it still reproduces the adopted root, the same
	// verification loadTree performs on node startup.
	leaves, err := kv.LoadAll()
	require.NoError(t, err)
	root, ok, err := kv.LoadRoot()
	require.NoError(t, err)
	require.True(t, ok)

	reloaded := smt.NewTree()
	require.NoError(t, reloaded.SetFullState(leaves, root))
	require.Equal(t, local.Root(), reloaded.Root())
}

func TestPeerSetEvictsOldestWhenFull(t *testing.T) {
	ps := NewPeerSet()
	for i := 0; i < maxPeers; i++ {
		ps.Seen(string(rune('a' + i%26)) + string(rune(i)))
	}
	require.Equal(t, maxPeers, ps.Len())
	oldest := string(rune('a')) + string(rune(0))

	ps.Seen("overflow-peer")
	require.Equal(t, maxPeers, ps.Len())
	require.Contains(t, ps.Active(), "overflow-peer")
	require.NotContains(t, ps.Active(), oldest)
}
