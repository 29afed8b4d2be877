package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/kindlyrobotics/voltnetwork/internal/gossip"
	"github.com/kindlyrobotics/voltnetwork/internal/ratelimit"
	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/txapply"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

func smtHexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "decode hex", err)
	}
	return b, nil
}

// Error codes per §6.3's JSON-RPC 2.0 envelope.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleRPC is the single POST /rpc entry point: decode the envelope,
// dispatch on method, encode whatever the handler returns.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidParams, Message: "invalid request body"}})
		return
	}

	handler, ok := methodTable[req.Method]
	if !ok {
		writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}})
		return
	}

	var params []json.RawMessage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: "params must be a JSON array"}})
			return
		}
	}

	if err := s.checkRateLimit(r, req.Method, params); err != nil {
		writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInternal, Message: err.Error()}})
		return
	}

	result, err := handler(s, params)
	if err != nil {
		logRejected(req.Method, err)
		writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: toRPCError(err)})
		return
	}
	writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toRPCError maps the node's volterr taxonomy onto the JSON-RPC error
// envelope: every rejection the tree or applier can produce surfaces
// as -32603 with the error text as message and the Kind in data, matching §7's
// "RPC clients receive {code, message, data?}" contract.
func toRPCError(err error) *rpcError {
	kind := volterr.KindOf(err)
	if kind == "" {
		return &rpcError{Code: codeInternal, Message: err.Error()}
	}
	return &rpcError{Code: codeInternal, Message: err.Error(), Data: map[string]string{"kind": string(kind)}}
}

func (s *Server) checkRateLimit(r *http.Request, method string, params []json.RawMessage) error {
	if s.RateLimit == nil {
		return nil
	}
	switch method {
	case "send", "broadcastUpdate":
		sender := firstStringParam(params, 0)
		target := firstStringParam(params, 1)
		return s.RateLimit.CheckSubmission(r.Context(), ratelimit.ClassTransfer, sender, target, clientIP(r))
	case "mint":
		// mint's params are [from_hex, sig_hex, to_hex, amount].
		sender := firstStringParam(params, 0)
		target := firstStringParam(params, 2)
		return s.RateLimit.CheckSubmission(r.Context(), ratelimit.ClassSupplyChange, sender, target, clientIP(r))
	case "broadcast_mint", "p3p_issueToken", "p3p_mintToken":
		sender := firstStringParam(params, 0)
		target := firstStringParam(params, 1)
		return s.RateLimit.CheckSubmission(r.Context(), ratelimit.ClassSupplyChange, sender, target, clientIP(r))
	default:
		return nil
	}
}

func firstStringParam(params []json.RawMessage, i int) string {
	if i >= len(params) {
		return ""
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return ""
	}
	return s
}

type methodFunc func(s *Server, params []json.RawMessage) (interface{}, error)

var methodTable = map[string]methodFunc{
	"getRoot":              handleGetRoot,
	"get_root":             handleGetRoot,
	"getProof":             handleGetProof,
	"get_proof_with_token": handleGetProof,
	"getBalance":           handleGetBalance,
	"get_nonce":            handleGetBalance,
	"getBalanceWithToken":  handleGetBalanceWithToken,
	"get_nonce_with_token": handleGetBalanceWithToken,
	"getAllBalances":       handleGetAllBalances,
	"get_tokens":           handleGetTokens,
	"send":                 handleSend,
	"mint":                 handleMint,
	"broadcast_mint":       handleBroadcastMint,
	"broadcastUpdate":      handleBroadcastUpdate,
	"p3p_issueToken":       handleIssueToken,
	"p3p_mintToken":        handleMintToken,
	"get_full_state":       handleGetFullState,
	"set_full_state":       handleSetFullState,
	"get_peer_id":          handleGetPeerID,
}

func param(params []json.RawMessage, i int) (json.RawMessage, bool) {
	if i >= len(params) {
		return nil, false
	}
	return params[i], true
}

func paramString(params []json.RawMessage, i int) (string, error) {
	raw, ok := param(params, i)
	if !ok {
		return "", volterr.Newf(volterr.KindSerialization, "missing param %d", i)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", volterr.Wrap(volterr.KindSerialization, "decode string param", err)
	}
	return s, nil
}

func paramUint64(params []json.RawMessage, i int, def uint64) (uint64, error) {
	raw, ok := param(params, i)
	if !ok {
		return def, nil
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, volterr.Wrap(volterr.KindSerialization, "decode uint64 param", err)
	}
	return v, nil
}

func paramAddress(params []json.RawMessage, i int) (smt.Address, error) {
	s, err := paramString(params, i)
	if err != nil {
		return smt.Address{}, err
	}
	return smt.AddressFromHex(s)
}

func handleGetRoot(s *Server, params []json.RawMessage) (interface{}, error) {
	return s.Tree.Root().String(), nil
}

func handleGetProof(s *Server, params []json.RawMessage) (interface{}, error) {
	addr, err := paramAddress(params, 0)
	if err != nil {
		return nil, err
	}
	tokenID, err := paramUint64(params, 1, smt.NativeTokenID)
	if err != nil {
		return nil, err
	}
	proof := s.Tree.GenProof(addr, tokenID)
	return proof.ToResponse(), nil
}

type balanceResult struct {
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func handleGetBalance(s *Server, params []json.RawMessage) (interface{}, error) {
	addr, err := paramAddress(params, 0)
	if err != nil {
		return nil, err
	}
	leaf, _ := s.Tree.Get(addr, smt.NativeTokenID)
	return balanceResult{Balance: leaf.Bal.String(), Nonce: leaf.Nonce}, nil
}

func handleGetBalanceWithToken(s *Server, params []json.RawMessage) (interface{}, error) {
	addr, err := paramAddress(params, 0)
	if err != nil {
		return nil, err
	}
	tokenID, err := paramUint64(params, 1, smt.NativeTokenID)
	if err != nil {
		return nil, err
	}
	leaf, _ := s.Tree.Get(addr, tokenID)
	return balanceResult{Balance: leaf.Bal.String(), Nonce: leaf.Nonce}, nil
}

type tokenBalance struct {
	TokenID uint64 `json:"token_id"`
	Balance string `json:"balance"`
}

func handleGetAllBalances(s *Server, params []json.RawMessage) (interface{}, error) {
	addr, err := paramAddress(params, 0)
	if err != nil {
		return nil, err
	}
	var out []tokenBalance
	for _, leaf := range s.Tree.GetAll() {
		if leaf.Addr == addr {
			out = append(out, tokenBalance{TokenID: leaf.TokenID, Balance: leaf.Bal.String()})
		}
	}
	if out == nil {
		out = []tokenBalance{}
	}
	return out, nil
}

type tokenInfoJSON struct {
	TokenID     uint64 `json:"token_id"`
	Issuer      string `json:"issuer_hex"`
	Metadata    string `json:"metadata"`
	TotalSupply string `json:"total_supply"`
}

func handleGetTokens(s *Server, params []json.RawMessage) (interface{}, error) {
	tokens := s.Tree.Tokens()
	out := make([]tokenInfoJSON, 0, len(tokens))
	for _, info := range tokens {
		out = append(out, tokenInfoJSON{
			TokenID:     info.TokenID,
			Issuer:      info.Issuer.String(),
			Metadata:    info.Metadata,
			TotalSupply: info.TotalSupply.String(),
		})
	}
	return out, nil
}

// handleSend applies a native or token Transfer: [from_hex, to_hex,
// token_id, amount, nonce, sig_hex].
func handleSend(s *Server, params []json.RawMessage) (interface{}, error) {
	from, err := paramAddress(params, 0)
	if err != nil {
		return nil, err
	}
	to, err := paramAddress(params, 1)
	if err != nil {
		return nil, err
	}
	tokenID, err := paramUint64(params, 2, smt.NativeTokenID)
	if err != nil {
		return nil, err
	}
	amountStr, err := paramString(params, 3)
	if err != nil {
		return nil, err
	}
	amount, err := smt.BalanceFromString(amountStr)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "parse amount", err)
	}
	nonce, err := paramUint64(params, 4, 0)
	if err != nil {
		return nil, err
	}
	sigHex, err := paramString(params, 5)
	if err != nil {
		return nil, err
	}
	sig, err := smtHexDecode(sigHex)
	if err != nil {
		return nil, err
	}

	msg := smt.Message{Kind: smt.MessageTransfer, From: from, To: to, TokenID: tokenID, Amount: amount, Nonce: nonce}
	return s.apply(txapply.Submission{Msg: msg, Signature: sig})
}

// handleMint applies a native-token mint: [from_hex, sig_hex, to_hex,
// amount]. Nonce isn't part of the wire params (the mint preimage
// itself carries none), so the server fills in the issuer's current
// native-token nonce from the tree — the value the signature's
// preimage implicitly assumes will be consumed next.
func handleMint(s *Server, params []json.RawMessage) (interface{}, error) {
	from, err := paramAddress(params, 0)
	if err != nil {
		return nil, err
	}
	sigHex, err := paramString(params, 1)
	if err != nil {
		return nil, err
	}
	sig, err := smtHexDecode(sigHex)
	if err != nil {
		return nil, err
	}
	to, err := paramAddress(params, 2)
	if err != nil {
		return nil, err
	}
	amountStr, err := paramString(params, 3)
	if err != nil {
		return nil, err
	}
	amount, err := smt.BalanceFromString(amountStr)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "parse amount", err)
	}

	issuerLeaf, _ := s.Tree.Get(from, smt.NativeTokenID)
	msg := smt.Message{Kind: smt.MessageMint, From: from, To: to, TokenID: smt.NativeTokenID, Amount: amount, Nonce: issuerLeaf.Nonce}
	return s.apply(txapply.Submission{Msg: msg, Signature: sig})
}

// decodeSysMessageHex decodes the hex-encoded-JSON envelope shared by
// broadcast_mint/p3p_issueToken/p3p_mintToken: a MessageJSON (which
// already carries its own signature field) hex-encoded as one string
// parameter.
func decodeSysMessageHex(s string) (txapply.Submission, error) {
	raw, err := smtHexDecode(s)
	if err != nil {
		return txapply.Submission{}, err
	}
	var mj txapply.MessageJSON
	if err := json.Unmarshal(raw, &mj); err != nil {
		return txapply.Submission{}, volterr.Wrap(volterr.KindSerialization, "decode sys message json", err)
	}
	return txapply.FromMessageJSON(mj)
}

func handleBroadcastMint(s *Server, params []json.RawMessage) (interface{}, error) {
	hexStr, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	sub, err := decodeSysMessageHex(hexStr)
	if err != nil {
		return nil, err
	}
	return s.apply(sub)
}

func handleBroadcastUpdate(s *Server, params []json.RawMessage) (interface{}, error) {
	raw, ok := param(params, 0)
	if !ok {
		return nil, volterr.New(volterr.KindSerialization, "missing update param")
	}
	var update txapply.UpdateMsg
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "decode update message", err)
	}
	sub, err := txapply.FromMessageJSON(update.Msg)
	if err != nil {
		return nil, err
	}
	result, err := s.Applier.Apply(sub, txapply.OriginGossip, &update)
	if err != nil {
		return nil, err
	}
	return txapply.TxHash(result.Msg).String(), nil
}

func handleIssueToken(s *Server, params []json.RawMessage) (interface{}, error) {
	hexStr, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	sub, err := decodeSysMessageHex(hexStr)
	if err != nil {
		return nil, err
	}
	if _, err := s.Applier.Apply(sub, txapply.OriginLocal, nil); err != nil {
		return nil, err
	}
	return s.Tree.NextTokenID() - 1, nil
}

func handleMintToken(s *Server, params []json.RawMessage) (interface{}, error) {
	raw, ok := param(params, 0)
	if !ok {
		return nil, volterr.New(volterr.KindSerialization, "missing param 0")
	}
	var hexStr string
	var sub txapply.Submission
	if err := json.Unmarshal(raw, &hexStr); err == nil {
		sub, err = decodeSysMessageHex(hexStr)
		if err != nil {
			return nil, err
		}
	} else {
		var mj txapply.MessageJSON
		if err := json.Unmarshal(raw, &mj); err != nil {
			return nil, volterr.Wrap(volterr.KindSerialization, "decode mint_token param", err)
		}
		sub, err = txapply.FromMessageJSON(mj)
		if err != nil {
			return nil, err
		}
	}
	return s.apply(sub)
}

type fullStateResult struct {
	Accounts []gossip.AccountSnapshot `json:"accounts"`
	RootHex  string                   `json:"root_hex"`
}

func handleGetFullState(s *Server, params []json.RawMessage) (interface{}, error) {
	leaves := s.Tree.GetAll()
	accounts := make([]gossip.AccountSnapshot, 0, len(leaves))
	for _, l := range leaves {
		accounts = append(accounts, gossip.AccountSnapshot{
			Address: l.Addr.String(),
			Balance: l.Bal.String(),
			Nonce:   l.Nonce,
			TokenID: l.TokenID,
		})
	}
	return fullStateResult{Accounts: accounts, RootHex: s.Tree.Root().String()}, nil
}

func handleSetFullState(s *Server, params []json.RawMessage) (interface{}, error) {
	raw, ok := param(params, 0)
	if !ok {
		return nil, volterr.New(volterr.KindSerialization, "missing full state param")
	}
	var snap gossip.FullStateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "decode full state", err)
	}
	root, err := smt.HashFromHex(snap.Root)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "decode full state root", err)
	}
	leaves := make([]smt.AccountLeaf, 0, len(snap.Accounts))
	for _, acc := range snap.Accounts {
		addr, err := smt.AddressFromHex(acc.Address)
		if err != nil {
			return nil, volterr.Wrap(volterr.KindSerialization, "decode full state address", err)
		}
		bal, err := smt.BalanceFromString(acc.Balance)
		if err != nil {
			return nil, volterr.Wrap(volterr.KindSerialization, "decode full state balance", err)
		}
		leaves = append(leaves, smt.AccountLeaf{Addr: addr, Bal: bal, Nonce: acc.Nonce, TokenID: acc.TokenID})
	}
	if err := s.Tree.SetFullState(leaves, root); err != nil {
		return nil, err
	}
	if s.Applier != nil && s.Applier.Store != nil {
		if err := s.Applier.Store.SetFullState(leaves, root); err != nil {
			return nil, err
		}
	}
	return true, nil
}

func handleGetPeerID(s *Server, params []json.RawMessage) (interface{}, error) {
	return s.PeerID, nil
}

// apply runs a submission through the node's applier and renders the
// usual tx_hash_hex result shape shared by send/mint/broadcast_mint/
// p3p_mintToken.
func (s *Server) apply(sub txapply.Submission) (interface{}, error) {
	result, err := s.Applier.Apply(sub, txapply.OriginLocal, nil)
	if err != nil {
		return nil, err
	}
	if s.Hub != nil {
		s.Hub.BroadcastResult(result)
	}
	return txapply.TxHash(result.Msg).String(), nil
}
