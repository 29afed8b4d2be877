package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsInternallyConsistent(t *testing.T) {
	cfg := Default()
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.Bridge.Enabled)
	require.Equal(t, "bridge_root_updates", cfg.Bridge.Topic)
	require.NotEmpty(t, cfg.Storage.DataDir)
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node_id":"node-1","rpc":{"listen_addr":"127.0.0.1:9090"}}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "node-1", cfg.NodeID)
	require.Equal(t, "127.0.0.1:9090", cfg.RPC.ListenAddr)
	// Untouched sections keep their defaults.
	require.Equal(t, defaultNetworkConfig(), cfg.Network)
	require.Equal(t, defaultStorageConfig(), cfg.Storage)
}

func TestLoadFileRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestApplyEnvOverridesSelectedFields(t *testing.T) {
	for k, v := range map[string]string{
		"VOLT_DATA_DIR":          "/var/volt/state",
		"VOLT_PROOF_CACHE_DIR":   "/var/volt/proofs",
		"VOLT_RPC_ADDR":          "0.0.0.0:9999",
		"VOLT_NETWORK_ADDR":      "0.0.0.0:7777",
		"VOLT_BOOTSTRAP_PEERS":   "peer-a:7000,peer-b:7000",
		"VOLT_REDIS_ADDR":        "redis.internal:6379",
		"VOLT_NODE_ID":           "node-7",
		"VOLT_LOG_LEVEL":         "debug",
		"VOLT_BRIDGE_SIGNING_KEY": "deadbeef",
	} {
		t.Setenv(k, v)
	}

	cfg := Default().ApplyEnv()
	require.Equal(t, "/var/volt/state", cfg.Storage.DataDir)
	require.Equal(t, "/var/volt/proofs", cfg.Storage.ProofCacheDir)
	require.Equal(t, "0.0.0.0:9999", cfg.RPC.ListenAddr)
	require.Equal(t, "0.0.0.0:7777", cfg.Network.ListenAddr)
	require.Equal(t, []string{"peer-a:7000", "peer-b:7000"}, cfg.Network.BootstrapPeers)
	require.Equal(t, "redis.internal:6379", cfg.Network.RedisAddr)
	require.Equal(t, "node-7", cfg.NodeID)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Bridge.Enabled)
	require.Equal(t, "deadbeef", cfg.Bridge.SigningKeyHex)
}

func TestApplyEnvLeavesDefaultsWhenUnset(t *testing.T) {
	cfg := Default().ApplyEnv()
	require.Equal(t, Default(), cfg)
}

func TestDurationJSONRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(data))

	var out Duration
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, d, out)
	require.Equal(t, 90*time.Second, out.Duration())
}

func TestDurationUnmarshalRejectsInvalidString(t *testing.T) {
	var d Duration
	err := json.Unmarshal([]byte(`"not-a-duration"`), &d)
	require.Error(t, err)
}

func TestSplitNonEmptyIgnoresEmptySegments(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitNonEmpty("a,b,,c,", ','))
	require.Nil(t, splitNonEmpty("", ','))
}
