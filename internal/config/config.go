// Package config loads node configuration: a JSON file laid out in
// nested sections the way the original node's config.rs does, with
// environment-variable overrides for the handful of settings that
// change between deployments, matching the teacher's env-var-first
// idiom for the settings that vary per environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// NetworkConfig controls the gossip and peer-discovery layer.
type NetworkConfig struct {
	ListenAddr      string   `json:"listen_addr"`
	BootstrapPeers  []string `json:"bootstrap_peers"`
	ResyncInterval  Duration `json:"resync_interval"`
	MaxPeers        int      `json:"max_peers"`
	RedisAddr       string   `json:"redis_addr"`
	StateTopic      string   `json:"state_topic"`
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ListenAddr:     "0.0.0.0:7000",
		BootstrapPeers: nil,
		ResyncInterval: Duration(60 * time.Second),
		MaxPeers:       64,
		RedisAddr:      "localhost:6379",
		StateTopic:     "state_updates",
	}
}

// RPCConfig controls the JSON-RPC and websocket surface.
type RPCConfig struct {
	ListenAddr      string   `json:"listen_addr"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	IdleTimeout     Duration `json:"idle_timeout"`
}

func defaultRPCConfig() RPCConfig {
	return RPCConfig{
		ListenAddr:   "0.0.0.0:8080",
		ReadTimeout:  Duration(15 * time.Second),
		WriteTimeout: Duration(15 * time.Second),
		IdleTimeout:  Duration(60 * time.Second),
	}
}

// MetricsConfig controls the prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenPath string `json:"listen_path"`
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, ListenPath: "/metrics"}
}

// StorageConfig controls where the node's pebble databases live.
type StorageConfig struct {
	DataDir      string `json:"data_dir"`
	ProofCacheDir string `json:"proof_cache_dir"`
}

func defaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:       "./data/state",
		ProofCacheDir: "./data/proofs",
	}
}

// BridgeConfig controls the node's optional Ethereum bridge seam: when
// enabled, the node periodically signs and publishes an update_root
// intent for whatever downstream consumer (gossip today, an L1 client
// in a future deployment) is listening on Topic.
type BridgeConfig struct {
	Enabled         bool     `json:"enabled"`
	Topic           string   `json:"topic"`
	PublishInterval Duration `json:"publish_interval"`
	SigningKeyHex   string   `json:"signing_key_hex"`
}

func defaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Enabled:         false,
		Topic:           "bridge_root_updates",
		PublishInterval: Duration(60 * time.Second),
	}
}

// Config is the full node configuration tree.
type Config struct {
	NodeID  string        `json:"node_id"`
	Network NetworkConfig `json:"network"`
	RPC     RPCConfig     `json:"rpc"`
	Metrics MetricsConfig `json:"metrics"`
	Storage StorageConfig `json:"storage"`
	Bridge  BridgeConfig  `json:"bridge"`
	LogLevel string       `json:"log_level"`
}

// Default returns the node's built-in configuration, the same one
// a fresh node boots with if no config file or environment override
// is present.
func Default() Config {
	return Config{
		NodeID:   "",
		Network:  defaultNetworkConfig(),
		RPC:      defaultRPCConfig(),
		Metrics:  defaultMetricsConfig(),
		Storage:  defaultStorageConfig(),
		Bridge:   defaultBridgeConfig(),
		LogLevel: "info",
	}
}

// LoadFile reads a JSON config file, applying it on top of Default()
// so an omitted section keeps its default.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, volterr.Wrap(volterr.KindStorage, fmt.Sprintf("read config file %s", path), err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, volterr.Wrap(volterr.KindSerialization, fmt.Sprintf("parse config file %s", path), err)
	}
	return cfg, nil
}

// ApplyEnv overlays the handful of settings operators are expected to
// override per-deployment rather than edit into a checked-in file.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("VOLT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("VOLT_PROOF_CACHE_DIR"); v != "" {
		c.Storage.ProofCacheDir = v
	}
	if v := os.Getenv("VOLT_RPC_ADDR"); v != "" {
		c.RPC.ListenAddr = v
	}
	if v := os.Getenv("VOLT_NETWORK_ADDR"); v != "" {
		c.Network.ListenAddr = v
	}
	if v := os.Getenv("VOLT_BOOTSTRAP_PEERS"); v != "" {
		c.Network.BootstrapPeers = splitNonEmpty(v, ',')
	}
	if v := os.Getenv("VOLT_REDIS_ADDR"); v != "" {
		c.Network.RedisAddr = v
	}
	if v := os.Getenv("VOLT_NODE_ID"); v != "" {
		c.NodeID = v
	}
	if v := os.Getenv("VOLT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VOLT_BRIDGE_SIGNING_KEY"); v != "" {
		c.Bridge.SigningKeyHex = v
		c.Bridge.Enabled = true
	}
	return c
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// Duration wraps time.Duration with JSON marshaling as a Go duration
// string ("60s") rather than a raw integer of nanoseconds, so the
// config file stays human-editable.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
