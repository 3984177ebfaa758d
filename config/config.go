// Package config loads the engine's TOML configuration: the owner
// principal, the ECDSA key id, and the set of configured chains (spec
// §6 "init(env, owner, ecdsa_key_id, networks)").
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chain-fusion/harmonize/internal/chainstate"
	"github.com/chain-fusion/harmonize/internal/ecdsaoracle"
	"github.com/chain-fusion/harmonize/internal/types"
)

// NetworkConfig is one chain's section of the config file.
type NetworkConfig struct {
	ChainID           uint32   `toml:"chain_id"`
	RPCEndpoints      []string `toml:"rpc_endpoints"`
	EndpointAddresses []string `toml:"endpoint_addresses"`
	BlockTag          string   `toml:"block_tag"` // "latest" | "safe" | "finalized"
}

// Config is the root of the engine's TOML configuration file.
type Config struct {
	Owner              string           `toml:"owner"`
	EcdsaKeyID         string           `toml:"ecdsa_key_id"`
	ScrapeIntervalSecs uint64           `toml:"scrape_interval_secs"`
	StorePath          string           `toml:"store_path"`
	Networks           []NetworkConfig  `toml:"networks"`
}

// DefaultScrapeIntervalSecs is used when the config omits the field
// (spec §4.I "Every 30s (configurable)").
const DefaultScrapeIntervalSecs = 30

// Load parses the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.ScrapeIntervalSecs == 0 {
		cfg.ScrapeIntervalSecs = DefaultScrapeIntervalSecs
	}
	if cfg.Owner == "" {
		return nil, fmt.Errorf("config: owner is required")
	}
	if cfg.EcdsaKeyID == "" {
		return nil, fmt.Errorf("config: ecdsa_key_id is required")
	}
	return &cfg, nil
}

// BlockTagValue parses the network's configured finality tag, defaulting
// to Latest.
func (n NetworkConfig) BlockTagValue() chainstate.BlockTag {
	switch n.BlockTag {
	case "safe":
		return chainstate.Safe
	case "finalized":
		return chainstate.Finalized
	default:
		return chainstate.Latest
	}
}

// Addresses converts the network's configured endpoint address strings
// into common.Address values.
func (n NetworkConfig) Addresses() []common.Address {
	out := make([]common.Address, len(n.EndpointAddresses))
	for i, a := range n.EndpointAddresses {
		out[i] = common.HexToAddress(a)
	}
	return out
}

// KeyID returns the network's ECDSA key id as the oracle-facing type.
func (c *Config) KeyID() ecdsaoracle.KeyID { return ecdsaoracle.KeyID(c.EcdsaKeyID) }

// ChainIDs returns every configured chain's identifier, in config order.
func (c *Config) ChainIDs() []types.ChainID {
	out := make([]types.ChainID, len(c.Networks))
	for i, n := range c.Networks {
		out[i] = types.ChainID(n.ChainID)
	}
	return out
}
