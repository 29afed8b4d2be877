package smt

import (
	"fmt"
	"sync"

	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// entry is one occupied tree position: its 256-bit path and the hash
// that goes into the fold at the leaf.
type entry struct {
	path     [TreeDepth]byte
	leafHash Hash
	leaf     AccountLeaf
}

// Tree is the account-state engine: a 256-level sparse Merkle tree
// keyed by H(addr||token_id), plus the token registry that governs
// mint/burn authority and supply caps. The tree holds its leaves as a
// flat map rather than an explicit node graph; root and proof
// computation recompute the relevant hash path on demand by
// recursively partitioning the occupied key set one bit at a time. See
// DESIGN.md for why this is an acceptable implementation of the same
// tree.
type Tree struct {
	mu     sync.RWMutex
	leaves map[Hash]AccountLeaf // keyed by LeafKey(addr, token_id)
	tokens map[uint64]TokenInfo
	nextID uint64
}

// NewTree returns an empty tree with the native token already
// registered, matching the network's genesis state.
func NewTree() *Tree {
	t := &Tree{
		leaves: make(map[Hash]AccountLeaf),
		tokens: make(map[uint64]TokenInfo),
		nextID: 1,
	}
	t.tokens[NativeTokenID] = TokenInfo{
		TokenID:     NativeTokenID,
		Issuer:      Address{},
		Metadata:    NativeTokenMetadata,
		TotalSupply: Balance{},
		MaxSupply:   nil,
	}
	return t
}

func (t *Tree) entries() []entry {
	out := make([]entry, 0, len(t.leaves))
	for key, leaf := range t.leaves {
		out = append(out, entry{
			path:     AddressToPath(key),
			leafHash: leaf.Hash(),
			leaf:     leaf,
		})
	}
	return out
}

// subtreeBitIndex maps recursion depth d (0 at the root, TreeDepth at
// a resolved leaf) to the address-path bit that the verification loop
// consumes at that boundary. The loop folds from the leaf outward
// using bits[0..255] in order, so the split immediately below the
// root (the last fold, boundary 255->256) is governed by bits[255],
// and the split immediately above a leaf (the first fold, boundary
// 0->1) is governed by bits[0]. Descending from the root therefore
// walks bit indices from 255 down to 0.
func subtreeBitIndex(d int) int {
	return TreeDepth - 1 - d
}

// buildHash returns the hash of the subtree rooted at recursion depth
// d containing exactly the given entries (all of which, by
// construction, already agree on every bit above index subtreeBitIndex(d-1)).
func buildHash(entries []entry, d int) Hash {
	if len(entries) == 0 {
		return ZeroHash(TreeDepth - d)
	}
	if d == TreeDepth {
		return entries[0].leafHash
	}
	bitIdx := subtreeBitIndex(d)
	var zeroSide, oneSide []entry
	for _, e := range entries {
		if e.path[bitIdx] == 0 {
			zeroSide = append(zeroSide, e)
		} else {
			oneSide = append(oneSide, e)
		}
	}
	left := buildHash(zeroSide, d+1)
	right := buildHash(oneSide, d+1)
	return hashPair(left, right)
}

// Root returns the current state root.
func (t *Tree) Root() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return buildHash(t.entries(), 0)
}

// Get returns the leaf at (addr, tokenID) and whether it exists. A
// missing leaf is reported as NewEmptyLeaf, false.
func (t *Tree) Get(addr Address, tokenID uint64) (AccountLeaf, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key := LeafKey(addr, tokenID)
	leaf, ok := t.leaves[key]
	if !ok {
		return NewEmptyLeaf(addr, tokenID), false
	}
	return leaf, true
}

// GetAll returns every occupied leaf, for full-state snapshots and
// cold-start sync.
func (t *Tree) GetAll() []AccountLeaf {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AccountLeaf, 0, len(t.leaves))
	for _, leaf := range t.leaves {
		out = append(out, leaf)
	}
	return out
}

// Update writes a leaf directly, replacing whatever was at its key. A
// zero-balance, zero-nonce leaf is stored like any other; Volt does
// not prune leaves back to absence on zeroing, since a writer that did
// touch the position must still be distinguishable in the leaf's nonce
// history from one that never existed. Callers that need strict
// pruning can delete by omitting the key's entry from a full-state load.
func (t *Tree) Update(leaf AccountLeaf) Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := LeafKey(leaf.Addr, leaf.TokenID)
	t.leaves[key] = leaf
	return buildHash(t.entries(), 0)
}

// GenProof builds an inclusion or absence proof for (addr, tokenID)
// against the current root.
func (t *Tree) GenProof(addr Address, tokenID uint64) *Proof {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key := LeafKey(addr, tokenID)
	path := AddressToPath(key)
	entries := t.entries()

	var siblingByFold [TreeDepth]Hash
	leafHash := proofRecurse(entries, 0, path, &siblingByFold)

	// Trim the trailing run (highest fold index, nearest the root) of
	// siblings that match the expected empty-subtree hash; that run is
	// reconstructed on the wire from ZerosOmitted instead of being sent.
	lastReal := TreeDepth
	for lastReal > 0 && siblingByFold[lastReal-1] == ZeroHash(lastReal-1) {
		lastReal--
	}
	p := &Proof{
		Siblings:     make([]Hash, lastReal),
		LeafHash:     leafHash,
		Path:         path,
		ZerosOmitted: uint16(TreeDepth - lastReal),
	}
	copy(p.Siblings, siblingByFold[:lastReal])
	if leaf, ok := t.leaves[key]; ok {
		p.LeafData = leaf.CanonicalBytes()
	}
	return p
}

// proofRecurse descends the same recursion buildHash uses, additionally
// recording the sibling subtree hash at every split the target path
// crosses, indexed by the verification loop's fold index. It returns
// the hash of the subtree actually containing the target path (which
// is leafHash when it reaches the bottom).
func proofRecurse(entries []entry, d int, target [TreeDepth]byte, out *[TreeDepth]Hash) Hash {
	if d == TreeDepth {
		if len(entries) == 1 {
			return entries[0].leafHash
		}
		return ZeroHash(0)
	}
	bitIdx := subtreeBitIndex(d)
	var zeroSide, oneSide []entry
	for _, e := range entries {
		if e.path[bitIdx] == 0 {
			zeroSide = append(zeroSide, e)
		} else {
			oneSide = append(oneSide, e)
		}
	}
	if target[bitIdx] == 0 {
		out[bitIdx] = buildHash(oneSide, d+1)
		return proofRecurse(zeroSide, d+1, target, out)
	}
	out[bitIdx] = buildHash(zeroSide, d+1)
	return proofRecurse(oneSide, d+1, target, out)
}

// RegisterToken allocates the next token id for issuer and records its
// metadata and optional max supply. Token ids are assigned sequentially
// starting at 1; id 0 is reserved for the native token.
func (t *Tree) RegisterToken(issuer Address, metadata string, maxSupply *Balance) (TokenInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	info := TokenInfo{
		TokenID:     id,
		Issuer:      issuer,
		Metadata:    metadata,
		TotalSupply: Balance{},
		MaxSupply:   maxSupply,
	}
	t.tokens[id] = info
	return info, nil
}

func (t *Tree) tokenLocked(tokenID uint64) (TokenInfo, error) {
	info, ok := t.tokens[tokenID]
	if !ok {
		return TokenInfo{}, volterr.Newf(volterr.KindTokenNotFound, "token %d is not registered", tokenID)
	}
	return info, nil
}

// Token looks up a registered token's metadata.
func (t *Tree) Token(tokenID uint64) (TokenInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tokenLocked(tokenID)
}

// Tokens returns every registered token, native token included, for
// the get_tokens RPC listing.
func (t *Tree) Tokens() []TokenInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TokenInfo, 0, len(t.tokens))
	for _, info := range t.tokens {
		out = append(out, info)
	}
	return out
}

// NextTokenID returns the id that RegisterToken will hand out next.
// RPC handlers use NextTokenID()-1 right after a successful IssueToken
// apply to report the id that was just assigned; it is a convenience
// read for that response field, not a consensus-relevant value.
func (t *Tree) NextTokenID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID
}

// RestoreTokenRegistry replaces the token registry wholesale, for
// startup reload: account leaves come back from SetFullState, but the
// registry that governs mint/burn authority and supply caps has no
// leaf of its own and is restored separately from the store's
// persisted token metadata. nextID is set one past the highest token
// id present so RegisterToken continues the same sequence.
func (t *Tree) RestoreTokenRegistry(tokens []TokenInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = make(map[uint64]TokenInfo, len(tokens))
	var maxID uint64
	for _, info := range tokens {
		t.tokens[info.TokenID] = info
		if info.TokenID >= maxID {
			maxID = info.TokenID
		}
	}
	if _, ok := t.tokens[NativeTokenID]; !ok {
		t.tokens[NativeTokenID] = TokenInfo{TokenID: NativeTokenID, Metadata: NativeTokenMetadata}
	}
	t.nextID = maxID + 1
}

// checkNonce enforces the replay-protection window: a message must
// carry exactly the account's next nonce, or one of up to two nonces
// further ahead to tolerate messages that arrive out of send order.
func checkNonce(current, got uint64) error {
	if got < current {
		return volterr.Newf(volterr.KindInvalidNonce, "nonce %d already used (expected >= %d)", got, current)
	}
	if got > current+2 {
		return volterr.Newf(volterr.KindInvalidNonce, "nonce %d too far ahead (expected %d..%d)", got, current, current+2)
	}
	return nil
}

// Transfer moves amount of tokenID from `from` to `to`, bumping
// from's nonce. Signature and authority checks happen in the caller;
// Transfer enforces only the ledger invariants (sufficient balance,
// nonce window) and mutates both sides atomically.
func (t *Tree) Transfer(from, to Address, tokenID uint64, amount Balance, nonce uint64) (Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.tokenLocked(tokenID); err != nil {
		return Hash{}, err
	}

	fromKey := LeafKey(from, tokenID)
	fromLeaf, ok := t.leaves[fromKey]
	if !ok {
		fromLeaf = NewEmptyLeaf(from, tokenID)
	}
	if err := checkNonce(fromLeaf.Nonce, nonce); err != nil {
		return Hash{}, err
	}
	newFromBal, underflow := fromLeaf.Bal.Sub(amount)
	if underflow {
		return Hash{}, volterr.Newf(volterr.KindInsufficientBalance, "address %s holds %s of token %d, needs %s",
			from, fromLeaf.Bal, tokenID, amount)
	}

	toKey := LeafKey(to, tokenID)
	if toKey == fromKey {
		// a self-transfer touches one leaf: the balance is unchanged
		// and only the nonce advances.
		fromLeaf.Nonce = nonce + 1
		t.leaves[fromKey] = fromLeaf
		return buildHash(t.entries(), 0), nil
	}
	toLeaf, ok := t.leaves[toKey]
	if !ok {
		toLeaf = NewEmptyLeaf(to, tokenID)
	}
	newToBal, overflow := toLeaf.Bal.Add(amount)
	if overflow {
		return Hash{}, volterr.Newf(volterr.KindSupplyOverflow, "transfer to %s overflows 128-bit balance", to)
	}

	fromLeaf.Bal = newFromBal
	fromLeaf.Nonce = nonce + 1
	toLeaf.Bal = newToBal

	t.leaves[fromKey] = fromLeaf
	t.leaves[toKey] = toLeaf
	return buildHash(t.entries(), 0), nil
}

// MintToken credits amount of tokenID to `to`, authenticated as
// issuer: issuer must equal TokenInfo[tokenID].Issuer, issuer's own
// (issuer, tokenID) leaf nonce must match the bounded window (the
// mint consumes the issuer's nonce on this token, not the receiver's),
// and total supply grows by amount. If the token was registered with
// a max supply, it's enforced here exactly as in
// MintTokenWithMaxSupply — the cap lives on the registry entry, not on
// the call, so both entry points behave identically; the two names
// exist so a caller can express "this mint must be cap-checked" in
// its own code even when it doesn't separately track the cap.
func (t *Tree) MintToken(issuer, to Address, tokenID uint64, amount Balance, nonce uint64) (Hash, error) {
	return t.mintTokenLocked(issuer, to, tokenID, amount, nonce)
}

func (t *Tree) MintTokenWithMaxSupply(issuer, to Address, tokenID uint64, amount Balance, nonce uint64) (Hash, error) {
	return t.mintTokenLocked(issuer, to, tokenID, amount, nonce)
}

func (t *Tree) mintTokenLocked(issuer, to Address, tokenID uint64, amount Balance, nonce uint64) (Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := t.tokenLocked(tokenID)
	if err != nil {
		return Hash{}, err
	}
	if info.Issuer != issuer {
		return Hash{}, volterr.Newf(volterr.KindUnauthorized, "address %s is not the issuer of token %d", issuer, tokenID)
	}

	issuerKey := LeafKey(issuer, tokenID)
	issuerLeaf, ok := t.leaves[issuerKey]
	if !ok {
		issuerLeaf = NewEmptyLeaf(issuer, tokenID)
	}
	if err := checkNonce(issuerLeaf.Nonce, nonce); err != nil {
		return Hash{}, err
	}

	newSupply, overflow := info.TotalSupply.Add(amount)
	if overflow {
		return Hash{}, volterr.Newf(volterr.KindSupplyOverflow, "minting %s of token %d overflows 128-bit supply", amount, tokenID)
	}
	if info.MaxSupply != nil && newSupply.Cmp(*info.MaxSupply) > 0 {
		return Hash{}, volterr.Newf(volterr.KindExceedsMaxSupply, "minting %s of token %d would exceed max supply %s", amount, tokenID, *info.MaxSupply)
	}

	toKey := LeafKey(to, tokenID)
	toLeaf, ok := t.leaves[toKey]
	if !ok {
		toLeaf = NewEmptyLeaf(to, tokenID)
	}
	newBal, overflow := toLeaf.Bal.Add(amount)
	if overflow {
		return Hash{}, volterr.Newf(volterr.KindSupplyOverflow, "mint to %s overflows 128-bit balance", to)
	}
	toLeaf.Bal = newBal

	// issuer minting to itself touches one leaf, not two: apply the
	// nonce bump on the same struct that already carries the new
	// balance, or the second map write would clobber the first.
	if issuerKey == toKey {
		toLeaf.Nonce = nonce + 1
		t.leaves[toKey] = toLeaf
	} else {
		t.leaves[toKey] = toLeaf
		issuerLeaf.Nonce = nonce + 1
		t.leaves[issuerKey] = issuerLeaf
	}

	info.TotalSupply = newSupply
	t.tokens[tokenID] = info

	return buildHash(t.entries(), 0), nil
}

// BurnToken debits amount of tokenID from `from`, bumps its nonce, and
// shrinks total supply.
func (t *Tree) BurnToken(from Address, tokenID uint64, amount Balance, nonce uint64) (Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := t.tokenLocked(tokenID)
	if err != nil {
		return Hash{}, err
	}

	key := LeafKey(from, tokenID)
	leaf, ok := t.leaves[key]
	if !ok {
		leaf = NewEmptyLeaf(from, tokenID)
	}
	if err := checkNonce(leaf.Nonce, nonce); err != nil {
		return Hash{}, err
	}
	newBal, underflow := leaf.Bal.Sub(amount)
	if underflow {
		return Hash{}, volterr.Newf(volterr.KindInsufficientBalance, "address %s holds %s of token %d, needs %s",
			from, leaf.Bal, tokenID, amount)
	}
	newSupply, underflow := info.TotalSupply.Sub(amount)
	if underflow {
		return Hash{}, volterr.Newf(volterr.KindInsufficientSupply, "burning %s of token %d exceeds total supply %s", amount, tokenID, info.TotalSupply)
	}

	leaf.Bal = newBal
	leaf.Nonce = nonce + 1
	t.leaves[key] = leaf

	info.TotalSupply = newSupply
	t.tokens[tokenID] = info

	return buildHash(t.entries(), 0), nil
}

// SetFullState replaces the entire tree with accounts and verifies
// that the result reproduces expectedRoot. Used for cold-start
// snapshot bootstrap and persisted-state reload.
func (t *Tree) SetFullState(accounts []AccountLeaf, expectedRoot Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaves := make(map[Hash]AccountLeaf, len(accounts))
	entries := make([]entry, 0, len(accounts))
	for _, leaf := range accounts {
		key := LeafKey(leaf.Addr, leaf.TokenID)
		leaves[key] = leaf
		entries = append(entries, entry{path: AddressToPath(key), leafHash: leaf.Hash(), leaf: leaf})
	}
	got := buildHash(entries, 0)
	if got != expectedRoot {
		return volterr.Newf(volterr.KindStateMismatch, "full state reproduces root %s, expected %s", got, expectedRoot)
	}
	t.leaves = leaves
	return nil
}

// Message is a decoded state-update message, the input to Tree.Apply:
// the single mutation entry point gossip-sourced updates and locally
// submitted transactions both funnel through once they've passed
// signature and authority checks upstream.
type Message struct {
	Kind      MessageKind
	From      Address // issuer, for Mint and IssueToken
	To        Address
	TokenID   uint64
	Amount    Balance
	Nonce     uint64
	Metadata  string
	MaxSupply *Balance
}

type MessageKind int

const (
	MessageTransfer MessageKind = iota
	MessageMint
	MessageBurn
	MessageIssueToken
)

// Apply dispatches a decoded message to the matching mutation. For
// IssueToken, the nonce consumed is the issuer's *native*-token nonce
// (token_id 0), since the newly issued token has no prior leaf for the
// issuer to carry one on; registration itself never takes a nonce.
func (t *Tree) Apply(msg Message) (Hash, error) {
	switch msg.Kind {
	case MessageTransfer:
		return t.Transfer(msg.From, msg.To, msg.TokenID, msg.Amount, msg.Nonce)
	case MessageMint:
		if msg.MaxSupply != nil {
			return t.MintTokenWithMaxSupply(msg.From, msg.To, msg.TokenID, msg.Amount, msg.Nonce)
		}
		return t.MintToken(msg.From, msg.To, msg.TokenID, msg.Amount, msg.Nonce)
	case MessageBurn:
		return t.BurnToken(msg.From, msg.TokenID, msg.Amount, msg.Nonce)
	case MessageIssueToken:
		return t.issueToken(msg.From, msg.Metadata, msg.MaxSupply, msg.Nonce)
	default:
		return Hash{}, fmt.Errorf("unknown message kind %d", msg.Kind)
	}
}

func (t *Tree) issueToken(issuer Address, metadata string, maxSupply *Balance, nonce uint64) (Hash, error) {
	t.mu.Lock()
	nativeKey := LeafKey(issuer, NativeTokenID)
	nativeLeaf, ok := t.leaves[nativeKey]
	if !ok {
		nativeLeaf = NewEmptyLeaf(issuer, NativeTokenID)
	}
	if err := checkNonce(nativeLeaf.Nonce, nonce); err != nil {
		t.mu.Unlock()
		return Hash{}, err
	}
	nativeLeaf.Nonce = nonce + 1
	t.leaves[nativeKey] = nativeLeaf
	t.mu.Unlock()

	if _, err := t.RegisterToken(issuer, metadata, maxSupply); err != nil {
		return Hash{}, err
	}
	return t.Root(), nil
}
