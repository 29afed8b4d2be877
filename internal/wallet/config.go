package wallet

import (
	"encoding/json"
	"os"

	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// Config is the CLI's JSON configuration file, matching §6.2's
// {node, network, gas_price, gas_limit} shape verbatim. gas_price and
// gas_limit are carried for wire compatibility with the original
// client's config file even though Volt's fee-less pipeline never
// reads them.
type Config struct {
	Node     string `json:"node"`
	Network  string `json:"network"`
	GasPrice uint64 `json:"gas_price"`
	GasLimit uint64 `json:"gas_limit"`
}

func DefaultConfig() Config {
	return Config{
		Node:     "http://localhost:8080",
		Network:  "mainnet",
		GasPrice: 1,
		GasLimit: 21000,
	}
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, volterr.Wrap(volterr.KindStorage, "read wallet config", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, volterr.Wrap(volterr.KindSerialization, "decode wallet config", err)
	}
	return cfg, nil
}

func (c Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "encode wallet config", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return volterr.Wrap(volterr.KindStorage, "write wallet config", err)
	}
	return nil
}
