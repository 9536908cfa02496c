package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tolelom/bftsim/network"
)

// GenesisConfig describes the chain's identity: its chain ID. The validator
// set lives in Config.Validators.
type GenesisConfig struct {
	ChainID string `json:"chain_id"`
}

// Config holds all configuration needed to run one node's worth of a
// scenario: its identity, the validator set it participates in, and the
// network simulator knobs shared by the whole harness.
type Config struct {
	NodeID       string        `json:"node_id"`
	Seed         int64         `json:"seed"`
	Validators   []string      `json:"validators"` // authorised validator pubkey hexes, harness-wide
	Genesis      GenesisConfig `json:"genesis"`
	Network      network.Config `json:"network"`
	RPCAuthToken string        `json:"rpc_auth_token,omitempty"` // empty → no auth on the inspection API
}

// DefaultConfig returns the defaults Load starts from. It carries no
// validator set, so it does not pass Validate on its own.
func DefaultConfig() *Config {
	return &Config{
		NodeID: "node0",
		Seed:   0,
		Genesis: GenesisConfig{
			ChainID: "bftsim-dev",
		},
		Network: network.DefaultConfig(),
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("validators list must not be empty")
	}
	for i, v := range c.Validators {
		b, err := hex.DecodeString(v)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("validators[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v)
		}
	}
	found := false
	for _, v := range c.Validators {
		if v == c.NodeID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("node_id %q must appear in validators", c.NodeID)
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
