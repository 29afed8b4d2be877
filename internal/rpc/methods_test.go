package rpc

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/voltnetwork/internal/gossip"
	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/store"
	"github.com/kindlyrobotics/voltnetwork/internal/txapply"
)

func newTestServer(t *testing.T) (*Server, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var addr smt.Address
	copy(addr[:], pub)

	tree := smt.NewTree()
	tree.Update(smt.AccountLeaf{Addr: addr, Bal: smt.BalanceFromUint64(1000), TokenID: smt.NativeTokenID})

	applier := &txapply.Applier{Tree: tree}
	s := NewServer(tree, applier)
	return s, pub, priv
}

func rpcCall(t *testing.T, handler http.Handler, method string, params []interface{}) response {
	t.Helper()
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func TestGetRootReturnsTreeRoot(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := rpcCall(t, s.Router(), "get_root", nil)
	require.Nil(t, resp.Error)
	require.Equal(t, s.Tree.Root().String(), resp.Result)
}

func TestGetBalanceReturnsSeededAmount(t *testing.T) {
	s, pub, _ := newTestServer(t)
	var addr smt.Address
	copy(addr[:], pub)

	resp := rpcCall(t, s.Router(), "getBalance", []interface{}{addr.String()})
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var bal balanceResult
	require.NoError(t, json.Unmarshal(raw, &bal))
	require.Equal(t, "1000", bal.Balance)
	require.Equal(t, uint64(0), bal.Nonce)
}

func TestSendAppliesTransferAndUpdatesBalance(t *testing.T) {
	s, pub, priv := newTestServer(t)
	var from smt.Address
	copy(from[:], pub)

	toPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var to smt.Address
	copy(to[:], toPub)

	msg := smt.Message{Kind: smt.MessageTransfer, From: from, To: to, TokenID: smt.NativeTokenID, Amount: smt.BalanceFromUint64(30), Nonce: 0}
	sig := ed25519.Sign(priv, txapply.Preimage(msg))

	resp := rpcCall(t, s.Router(), "send", []interface{}{from.String(), to.String(), smt.NativeTokenID, "30", 0, hex.EncodeToString(sig)})
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.Result)

	toLeaf, ok := s.Tree.Get(to, smt.NativeTokenID)
	require.True(t, ok)
	require.Equal(t, uint64(30), toLeaf.Bal.Lo)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := rpcCall(t, s.Router(), "not_a_real_method", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestSetFullStatePersistsToStore(t *testing.T) {
	s, _, _ := newTestServer(t)

	kv, err := store.Open(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	defer kv.Close()
	s.Applier.Store = kv

	peerTree := smt.NewTree()
	var addr smt.Address
	addr[0] = 0x42
	peerTree.Update(smt.AccountLeaf{Addr: addr, Bal: smt.BalanceFromUint64(777), TokenID: smt.NativeTokenID})

	leaves := peerTree.GetAll()
	snap := gossip.FullStateSnapshot{Root: peerTree.Root().String()}
	for _, l := range leaves {
		snap.Accounts = append(snap.Accounts, gossip.AccountSnapshot{
			Address: l.Addr.String(),
			Balance: l.Bal.String(),
			Nonce:   l.Nonce,
			TokenID: l.TokenID,
		})
	}

	resp := rpcCall(t, s.Router(), "set_full_state", []interface{}{snap})
	require.Nil(t, resp.Error)

	persistedLeaves, err := kv.LoadAll()
	require.NoError(t, err)
	require.Len(t, persistedLeaves, len(leaves))

	root, ok, err := kv.LoadRoot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, peerTree.Root(), root)
}

func TestGetPeerIDIsStable(t *testing.T) {
	s, _, _ := newTestServer(t)
	first := rpcCall(t, s.Router(), "get_peer_id", nil)
	second := rpcCall(t, s.Router(), "get_peer_id", nil)
	require.Equal(t, first.Result, second.Result)
	require.Equal(t, s.PeerID, first.Result)
}
