package gossip

import (
	"context"
	"math/bits"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/store"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// ResyncInterval is the periodic full-state reconciliation period.
const ResyncInterval = 60 * time.Second

// SyncFetchTimeout bounds how long a single bootstrap peer gets to
// answer a get_full_state request during cold start.
const SyncFetchTimeout = 30 * time.Second

// PeerFetcher is the minimal interface Syncer needs to pull a
// snapshot from one bootstrap peer; satisfied by the RPC client the
// node process wires in, kept as an interface here so this package
// doesn't import internal/rpc.
type PeerFetcher interface {
	FetchFullState(ctx context.Context, peerAddr string) (FullStateSnapshot, error)
}

// Syncer drives cold-start bootstrap and periodic resync against the
// local tree. Store is optional (nil in tests that only care about
// in-memory convergence) but MUST be set on a real node: it is the
// only path that persists an adopted snapshot, and a node that skips
// it will fail its own root-verification on the next restart once the
// pebble-persisted leaves and the in-memory root diverge.
type Syncer struct {
	Tree    *smt.Tree
	Store   *store.Store
	Fetcher PeerFetcher
	Peers   []string
}

// ConsensusScore implements §4.6's tiebreak formula: a cheap,
// unauthenticated heuristic for how far along a snapshot is, used only
// to pick among competing bootstrap answers, never to resolve a
// verified on-chain dispute. 10*active_accounts + 100*highest_nonce +
// total_balance/1000, saturating against uint64 overflow rather than
// wrapping.
func ConsensusScore(snap FullStateSnapshot) uint64 {
	var activeAccounts, highestNonce uint64
	var totalBalance smt.Balance
	for _, acc := range snap.Accounts {
		bal, err := smt.BalanceFromString(acc.Balance)
		if err != nil {
			continue
		}
		if !bal.IsZero() {
			activeAccounts++
		}
		if acc.Nonce > highestNonce {
			highestNonce = acc.Nonce
		}
		sum, overflow := totalBalance.Add(bal)
		if overflow {
			totalBalance = smt.Balance{Hi: ^uint64(0), Lo: ^uint64(0)}
		} else {
			totalBalance = sum
		}
	}
	// total_balance/1000 over the full 128 bits; a quotient that does
	// not fit in 64 bits saturates.
	balanceTerm, _ := bits.Div64(totalBalance.Hi%1000, totalBalance.Lo, 1000)
	if totalBalance.Hi/1000 != 0 {
		balanceTerm = ^uint64(0)
	}
	nonceHi, nonceTerm := bits.Mul64(highestNonce, 100)
	if nonceHi != 0 {
		nonceTerm = ^uint64(0)
	}
	return saturatingAdd(saturatingAdd(activeAccounts*10, nonceTerm), balanceTerm)
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// ColdStartSync blocks RPC and gossip processing (the caller is
// responsible for that gate) while it fetches get_full_state from
// every configured bootstrap peer and adopts the highest-scoring
// snapshot, provided it scores strictly higher than the node's own
// current (possibly empty) state.
func (s *Syncer) ColdStartSync(ctx context.Context) error {
	if len(s.Peers) == 0 {
		log.Info().Msg("[GOSSIP] no bootstrap peers configured, starting from local state only")
		return nil
	}

	localSnap := snapshotOf(s.Tree)
	bestScore := ConsensusScore(localSnap)
	best := localSnap
	adopted := false

	for _, peer := range s.Peers {
		fetchCtx, cancel := context.WithTimeout(ctx, SyncFetchTimeout)
		snap, err := s.Fetcher.FetchFullState(fetchCtx, peer)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("peer", peer).Msg("[GOSSIP] cold-start fetch failed")
			continue
		}
		score := ConsensusScore(snap)
		// Ties favor local state: adopt a peer's snapshot only on a
		// strictly higher score.
		if score > bestScore {
			bestScore = score
			best = snap
			adopted = true
		}
	}

	if !adopted {
		log.Info().Msg("[GOSSIP] cold-start sync: no peer snapshot beat local state, keeping it")
		return nil
	}

	if err := adoptSnapshot(s.Tree, s.Store, best); err != nil {
		return err
	}
	log.Info().Uint64("score", bestScore).Msg("[GOSSIP] cold-start sync: adopted higher-scoring peer snapshot")
	return nil
}

// RunPeriodicResync runs every ResyncInterval until ctx is cancelled,
// per §4.6's periodic resync: each tick broadcasts the local full-state
// snapshot and then repeats ColdStartSync's fetch-score-adopt pass
// against the bootstrap peers. publish is the bus's PublishFullState, injected rather
// than imported directly so this file doesn't need a *Bus field for
// something it only ever calls once per tick.
func (s *Syncer) RunPeriodicResync(ctx context.Context, publish func(context.Context, FullStateSnapshot) error) {
	ticker := time.NewTicker(ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := snapshotOf(s.Tree)
			if err := publish(ctx, snap); err != nil {
				log.Warn().Err(err).Msg("[GOSSIP] periodic resync publish failed")
			}
			if err := s.ColdStartSync(ctx); err != nil {
				log.Warn().Err(err).Msg("[GOSSIP] periodic resync fetch failed")
			}
		}
	}
}

func snapshotOf(tree *smt.Tree) FullStateSnapshot {
	leaves := tree.GetAll()
	snap := FullStateSnapshot{
		Root:     tree.Root().String(),
		Accounts: make([]AccountSnapshot, 0, len(leaves)),
	}
	for _, l := range leaves {
		snap.Accounts = append(snap.Accounts, AccountSnapshot{
			Address: l.Addr.String(),
			Balance: l.Bal.String(),
			Nonce:   l.Nonce,
			TokenID: l.TokenID,
		})
	}
	return snap
}

// adoptSnapshot replays a fetched snapshot into the tree via
// SetFullState, which re-derives the root from the leaves and rejects
// the snapshot outright if the claimed root doesn't match — a
// malicious or corrupt peer can't silently overwrite local state with
// leaves that don't actually hash to the root it advertised. Once the
// in-memory tree accepts the snapshot, the same leaves and root are
// committed to kv through the identical single-write-batch path a
// local set_full_state RPC uses, so a cold-start-adopted snapshot
// survives a restart instead of being silently dropped at shutdown.
func adoptSnapshot(tree *smt.Tree, kv *store.Store, snap FullStateSnapshot) error {
	root, err := smt.HashFromHex(snap.Root)
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "decode snapshot root", err)
	}
	leaves := make([]smt.AccountLeaf, 0, len(snap.Accounts))
	for _, acc := range snap.Accounts {
		addr, err := smt.AddressFromHex(acc.Address)
		if err != nil {
			return volterr.Wrap(volterr.KindSerialization, "decode snapshot account address", err)
		}
		bal, err := smt.BalanceFromString(acc.Balance)
		if err != nil {
			return volterr.Wrap(volterr.KindSerialization, "decode snapshot account balance", err)
		}
		leaves = append(leaves, smt.AccountLeaf{Addr: addr, Bal: bal, Nonce: acc.Nonce, TokenID: acc.TokenID})
	}
	if err := tree.SetFullState(leaves, root); err != nil {
		return err
	}
	if kv != nil {
		if err := kv.SetFullState(leaves, root); err != nil {
			return err
		}
	}
	return nil
}
