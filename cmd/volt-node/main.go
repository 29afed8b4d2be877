// Command volt-node is the network's node binary: it boots the
// account-state tree from persisted storage (verifying the loaded
// leaves still reproduce the last committed root), wires the
// transaction pipeline, the gossip bus and state-sync loop, and the
// JSON-RPC/websocket/metrics surface onto one HTTP server — following
// the teacher's monolith main() startup and signal-driven graceful
// shutdown shape.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kindlyrobotics/voltnetwork/internal/bridge"
	"github.com/kindlyrobotics/voltnetwork/internal/config"
	"github.com/kindlyrobotics/voltnetwork/internal/gossip"
	"github.com/kindlyrobotics/voltnetwork/internal/logging"
	"github.com/kindlyrobotics/voltnetwork/internal/metrics"
	"github.com/kindlyrobotics/voltnetwork/internal/ratelimit"
	"github.com/kindlyrobotics/voltnetwork/internal/rpc"
	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/store"
	"github.com/kindlyrobotics/voltnetwork/internal/txapply"
)

func main() {
	configPath := flag.String("config", "", "path to the node's JSON config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error loading config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg = cfg.ApplyEnv()

	logging.Init(cfg.LogLevel, true)
	log.Info().Str("node_id", cfg.NodeID).Msg("[NODE] starting volt-node")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("[NODE] fatal startup error")
	}
}

func run(cfg config.Config) error {
	kv, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer kv.Close()

	proofStore, err := store.OpenProofStore(cfg.Storage.ProofCacheDir)
	if err != nil {
		return err
	}
	defer proofStore.Close()

	tree, err := loadTree(kv)
	if err != nil {
		return err
	}

	redisClient := gossip.NewClient(cfg.Network.RedisAddr)
	defer redisClient.Close()
	bus := gossip.NewBus(redisClient, cfg.Network.StateTopic)

	rpcClient := rpc.NewClient()
	syncer := &gossip.Syncer{Tree: tree, Store: kv, Fetcher: rpcClient, Peers: cfg.Network.BootstrapPeers}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncer.ColdStartSync(ctx); err != nil {
		log.Warn().Err(err).Msg("[NODE] cold-start sync failed, continuing with local state")
	}

	applier := &txapply.Applier{Tree: tree, Store: kv, ProofStore: proofStore}

	server := rpc.NewServer(tree, applier)
	server.ProofStore = proofStore
	server.Bus = bus
	server.Syncer = syncer
	server.RateLimit = ratelimit.NewLimiter(redisClient)
	if cfg.NodeID != "" {
		server.PeerID = cfg.NodeID
	}

	applier.Rebroadcast = func(update txapply.UpdateMsg) {
		if err := bus.PublishUpdate(ctx, update); err != nil {
			log.Warn().Err(err).Msg("[NODE] failed to publish update to gossip bus")
		}
	}

	if cfg.Bridge.Enabled {
		nodeBridge, err := buildBridge(tree, redisClient, cfg.Bridge)
		if err != nil {
			log.Warn().Err(err).Msg("[NODE] bridge disabled: failed to configure")
		} else {
			go runBridgePublisher(ctx, nodeBridge, time.Duration(cfg.Bridge.PublishInterval))
		}
	}

	go runGossipConsumer(ctx, bus, applier)
	go func() {
		if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("[NODE] gossip bus subscription exited")
		}
	}()
	go syncer.RunPeriodicResync(ctx, bus.PublishFullState)

	httpServer := server.HTTPServer(cfg.RPC.ListenAddr)

	go func() {
		log.Info().Str("addr", cfg.RPC.ListenAddr).Msg("[NODE] RPC server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("[NODE] RPC server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("[NODE] shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("[NODE] forced shutdown")
	}

	if err := kv.PutRoot(tree.Root()); err != nil {
		log.Error().Err(err).Msg("[NODE] failed to persist final root")
	}

	log.Info().Msg("[NODE] exited gracefully")
	return nil
}

// loadTree reconstructs the tree from persisted leaves and verifies
// the result reproduces the last committed root before the node
// serves any traffic — a silently-diverged store is worse than a
// crash-on-boot.
func loadTree(kv *store.Store) (*smt.Tree, error) {
	tree := smt.NewTree()

	leaves, err := kv.LoadAll()
	if err != nil {
		return nil, err
	}
	root, hasRoot, err := kv.LoadRoot()
	if err != nil {
		return nil, err
	}

	if len(leaves) == 0 && !hasRoot {
		log.Info().Msg("[NODE] no persisted state found, starting from genesis")
		return tree, nil
	}

	if err := tree.SetFullState(leaves, root); err != nil {
		return nil, fmt.Errorf("persisted state failed root verification: %w", err)
	}

	tokens, ok, err := kv.LoadTokenRegistry()
	if err != nil {
		return nil, err
	}
	if ok {
		tree.RestoreTokenRegistry(tokens)
	}

	log.Info().Int("leaves", len(leaves)).Str("root", root.String()).Msg("[NODE] reloaded persisted state")
	return tree, nil
}

// buildBridge wires up the optional Ethereum bridge seam: an Ed25519
// signer over the configured hex-encoded key, and a Redis publisher on
// the bridge's own topic so a node that doesn't run a bridge never has
// to decode its messages off state_updates.
func buildBridge(tree *smt.Tree, redisClient *redis.Client, cfg config.BridgeConfig) (*bridge.Bridge, error) {
	keyBytes, err := hex.DecodeString(cfg.SigningKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode bridge signing key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bridge signing key has wrong size: want %d bytes, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}
	priv := ed25519.PrivateKey(keyBytes)
	publisher := bridge.NewRedisPublisher(redisClient, cfg.Topic)
	return bridge.New(tree, publisher, bridge.SchemeEd25519, bridge.Ed25519Signer(priv)), nil
}

// runBridgePublisher signs and publishes an update_root intent on a
// fixed interval until ctx is cancelled.
func runBridgePublisher(ctx context.Context, b *bridge.Bridge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.PublishRootUpdate(ctx); err != nil {
				log.Warn().Err(err).Msg("[NODE] failed to publish update_root intent")
			}
		}
	}
}

// runGossipConsumer drains the bus's inbox, applying inbound updates
// through the same pipeline local submissions use. Inbound full-state
// snapshots are only logged; peer state is adopted through the
// syncer's own fetches, not from gossiped snapshots.
func runGossipConsumer(ctx context.Context, bus *gossip.Bus, applier *txapply.Applier) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-bus.Inbox():
			if !ok {
				return
			}
			switch msg.Kind {
			case gossip.PayloadUpdate:
				metrics.UpdateCounter.Inc()
				sub, err := txapply.FromMessageJSON(msg.Update.Msg)
				if err != nil {
					log.Warn().Err(err).Msg("[NODE] dropping malformed gossip update")
					continue
				}
				if _, err := applier.Apply(sub, txapply.OriginGossip, &msg.Update); err != nil {
					log.Warn().Err(err).Msg("[NODE] rejected gossip update")
				}
			case gossip.PayloadFullState:
				log.Debug().Msg("[NODE] received full-state snapshot over gossip, deferring to periodic resync")
			}
		}
	}
}
