package txapply

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kindlyrobotics/voltnetwork/internal/metrics"
	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/store"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// Origin tells Applier.Apply where a submission came from, since the
// pipeline skips some checks and adds others depending on the answer:
// a locally-submitted transaction has no proof to check and must be
// rebroadcast on success; a gossip-sourced update must be checked
// against its carried proofs and against its claimed post-apply root,
// a mismatch making Apply return a state_mismatch error.
type Origin int

const (
	// OriginLocal is a transaction accepted directly over RPC from a
	// wallet or CLI client.
	OriginLocal Origin = iota
	// OriginGossip is an UpdateMsg received over the gossip bus from
	// another node, already applied there.
	OriginGossip
)

// Applier is the node's single transaction pipeline: every mutation
// that reaches the tree, whether submitted locally or received over
// gossip, passes through Apply. It owns no concurrency control itself
// beyond what Tree and the stores already provide — callers do not
// need an external lock.
type Applier struct {
	Tree       *smt.Tree
	Store      *store.Store
	ProofStore *store.ProofStore

	// Rebroadcast, if set, is called with the UpdateMsg for every
	// locally-originated submission that applies successfully, so the
	// gossip layer can publish it. Left nil in tests that don't care
	// about propagation.
	Rebroadcast func(UpdateMsg)
}

// Result is what a successful Apply call hands back: the message that
// was applied and the resulting root. Proofs are not part of it; Apply
// writes them to the ProofStore when one is configured.
type Result struct {
	Msg  smt.Message
	Root smt.Hash
}

// Apply runs the full decode-to-persist pipeline for one submission.
// origin selects gossip-specific proof and post-root checks; carriedUpdate
// is only read when origin is OriginGossip.
func (a *Applier) Apply(sub Submission, origin Origin, carriedUpdate *UpdateMsg) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.TransactionProcessingTime.Observe(time.Since(start).Seconds())
	}()

	// Step 1: decode. The caller has already turned wire bytes into a
	// Submission (FromMessageJSON rejects undecodable addresses, amounts
	// and signatures); Apply adds no further structural check.

	// Step 2: signature check.
	if !VerifySignature(sub) {
		return Result{}, volterr.New(volterr.KindInvalidSignature, "signature does not verify against message preimage")
	}

	// Step 3: authority check. Mint and IssueToken's authority is
	// enforced inside Tree (issuer-of-token / message's own From acting
	// as issuer); Transfer and Burn authorize by signature alone, which
	// step 2 already covers since the signer IS the From address.
	msg := sub.Msg

	// Step 4: proof checks, gossip path only. A gossip-sourced update
	// carries proofs for both affected addresses against the root it
	// claims to produce; verify them against that root before touching
	// local state, per §4.6's cross-root policy.
	if origin == OriginGossip {
		if carriedUpdate == nil {
			return Result{}, volterr.New(volterr.KindInvalidProof, "gossip update missing carried proof envelope")
		}
		claimedRoot, err := carriedUpdate.RootHash()
		if err != nil {
			return Result{}, err
		}
		if err := verifyCarriedProofs(*carriedUpdate, claimedRoot); err != nil {
			return Result{}, err
		}
	}

	// Step 5: nonce check. Tree's mutation methods already enforce the
	// lenient +2 future-nonce window (see internal/smt's checkNonce);
	// nothing to duplicate here beyond letting the error surface.

	// Step 6: balance/supply checks happen inside Tree's mutation
	// methods alongside the nonce check, atomically with step 7.

	// Step 7: apply.
	root, err := a.Tree.Apply(msg)
	if err != nil {
		return Result{}, err
	}

	// Step 8: post-root check, gossip path only. The applying node's
	// own recomputed root must match what the sender claimed; a
	// mismatch means either corruption or a byzantine peer, and per
	// §4.6 the safe response is to reject the update rather than adopt
	// a root the local tree disagrees with.
	if origin == OriginGossip {
		claimedRoot, _ := carriedUpdate.RootHash()
		if root != claimedRoot {
			return Result{}, volterr.New(volterr.KindStateMismatch, "recomputed root does not match gossip update's claimed root")
		}
	}

	// Step 9: persist and rebroadcast.
	if err := a.persist(msg, root); err != nil {
		return Result{}, err
	}

	metrics.TransactionCounter.Inc()
	log.Info().
		Str("kind", messageKindName(msg.Kind)).
		Str("from", msg.From.String()).
		Str("root", root.String()).
		Msg("[TXAPPLY] message applied")

	result := Result{Msg: msg, Root: root}

	if origin == OriginLocal && a.Rebroadcast != nil {
		a.Rebroadcast(a.buildUpdateMsg(msg, root))
	}

	return result, nil
}

// persist writes the leaves Apply touched and fresh proofs for both
// affected addresses, so a restart can reload exactly this state and a
// later proof request doesn't need to recompute from scratch.
func (a *Applier) persist(msg smt.Message, root smt.Hash) error {
	if a.Store == nil {
		return nil
	}
	if fromLeaf, ok := a.Tree.Get(msg.From, msg.TokenID); ok {
		if err := a.Store.PutLeaf(fromLeaf); err != nil {
			return err
		}
	}
	if !msg.To.IsZero() {
		if toLeaf, ok := a.Tree.Get(msg.To, msg.TokenID); ok {
			if err := a.Store.PutLeaf(toLeaf); err != nil {
				return err
			}
		}
	}
	if err := a.Store.PutRoot(root); err != nil {
		return err
	}
	if msg.Kind == smt.MessageIssueToken {
		if err := a.Store.PutTokenRegistry(a.Tree.Tokens()); err != nil {
			return err
		}
	}

	if a.ProofStore != nil {
		fromProof := a.Tree.GenProof(msg.From, msg.TokenID)
		if err := a.ProofStore.Put(msg.From, msg.TokenID, root, fromProof); err != nil {
			return err
		}
		if !msg.To.IsZero() {
			toProof := a.Tree.GenProof(msg.To, msg.TokenID)
			if err := a.ProofStore.Put(msg.To, msg.TokenID, root, toProof); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildUpdateMsg assembles the gossip envelope for a locally-applied
// message: the message itself plus fresh proofs for both affected
// addresses against the new root, so a receiving peer can verify the
// update without fetching state first.
func (a *Applier) buildUpdateMsg(msg smt.Message, root smt.Hash) UpdateMsg {
	u := UpdateMsg{
		Msg:  ToMessageJSON(msg, nil),
		Root: root.String(),
	}
	fromProof := a.Tree.GenProof(msg.From, msg.TokenID)
	fromResp := fromProof.ToResponse()
	u.FromProof = &fromResp
	if !msg.To.IsZero() {
		toProof := a.Tree.GenProof(msg.To, msg.TokenID)
		toResp := toProof.ToResponse()
		u.ToProof = &toResp
	}
	return u
}

// verifyCarriedProofs checks both proofs an UpdateMsg carries against
// the root it claims, before the node lets the update anywhere near
// its own tree.
func verifyCarriedProofs(u UpdateMsg, claimedRoot smt.Hash) error {
	sub, err := FromMessageJSON(u.Msg)
	if err != nil {
		return err
	}
	msg := sub.Msg

	if u.FromProof != nil {
		p, err := smt.ProofFromResponse(*u.FromProof)
		if err != nil {
			return volterr.Wrap(volterr.KindInvalidProof, "decode from_proof", err)
		}
		if !timedVerify(p, claimedRoot, msg.From, msg.TokenID) {
			return volterr.New(volterr.KindInvalidProof, "from_proof does not verify against claimed root")
		}
	}
	if u.ToProof != nil && !msg.To.IsZero() {
		p, err := smt.ProofFromResponse(*u.ToProof)
		if err != nil {
			return volterr.Wrap(volterr.KindInvalidProof, "decode to_proof", err)
		}
		if !timedVerify(p, claimedRoot, msg.To, msg.TokenID) {
			return volterr.New(volterr.KindInvalidProof, "to_proof does not verify against claimed root")
		}
	}
	return nil
}

// timedVerify wraps smt.Proof.Verify with the proof-verification-time
// histogram, the applier's only proof-verification call site.
func timedVerify(p *smt.Proof, root smt.Hash, addr smt.Address, tokenID uint64) bool {
	start := time.Now()
	defer func() {
		metrics.ProofVerificationTime.Observe(time.Since(start).Seconds())
	}()
	return p.Verify(root, addr, tokenID)
}

func messageKindName(k smt.MessageKind) string {
	switch k {
	case smt.MessageTransfer:
		return "transfer"
	case smt.MessageMint:
		return "mint"
	case smt.MessageBurn:
		return "burn"
	case smt.MessageIssueToken:
		return "issue_token"
	default:
		return "unknown"
	}
}
