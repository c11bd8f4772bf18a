// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config parses the node's YAML configuration file into the
// struct the Supervisor builds an actor graph from. The CLI surface that
// produces this file is out of scope; this package only loads it.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role selects which actor graph the Supervisor builds.
type Role string

const (
	RoleCiphernode Role = "ciphernode"
	RoleAggregator Role = "aggregator"
)

var (
	ErrMissingAddress = errors.New("config: address is required")
	ErrInvalidRole    = errors.New("config: role must be \"ciphernode\" or \"aggregator\"")
	ErrNoChains       = errors.New("config: at least one chain must be configured")
	ErrMissingWallet  = errors.New("config: aggregator.wallet is required for role=aggregator")
)

// Contracts names the on-chain addresses and starting block a chain
// connection watches.
type Contracts struct {
	Enclave           string `yaml:"enclave"`
	CiphernodeRegistry string `yaml:"ciphernode_registry"`
	FilterRegistry     string `yaml:"filter_registry"`
	DeployBlock        uint64 `yaml:"deploy_block"`
}

// Chain is one EVM connection the indexer watches.
type Chain struct {
	Name       string    `yaml:"name"`
	ChainID    uint64    `yaml:"chain_id"`
	RPCURL     string    `yaml:"rpc_url"`
	ReorgDepth int       `yaml:"reorg_depth"`
	Contracts  Contracts `yaml:"contracts"`
}

// Aggregator holds the settings that only apply when role=aggregator.
type Aggregator struct {
	Wallet string `yaml:"wallet"`
}

// Program names an external FHE program server the ProgramClient may
// dispatch computations to.
type Program struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config is the full recognized YAML surface described for this runtime.
type Config struct {
	Address    string     `yaml:"address"`
	Role       Role       `yaml:"role"`
	ConfigDir  string     `yaml:"config_dir"`
	DataDir    string     `yaml:"data_dir"`
	KeyFile    string     `yaml:"key_file"`
	DBFile     string     `yaml:"db_file"`
	Chains     []Chain    `yaml:"chains"`
	QUICPort   int        `yaml:"quic_port"`
	Peers      []string   `yaml:"peers"`
	EnableMDNS bool       `yaml:"enable_mdns"`
	Aggregator Aggregator `yaml:"aggregator"`
	Programs   []Program  `yaml:"programs"`
}

// defaultReorgDepth matches the indexer's REORG_DEPTH default from §6.
const defaultReorgDepth = 12

// Load reads and validates the YAML configuration at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	for i := range cfg.Chains {
		if cfg.Chains[i].ReorgDepth == 0 {
			cfg.Chains[i].ReorgDepth = defaultReorgDepth
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the recognized-keys invariants described for this
// runtime's configuration surface.
func (c Config) Validate() error {
	if c.Address == "" {
		return ErrMissingAddress
	}
	if c.Role != RoleCiphernode && c.Role != RoleAggregator {
		return ErrInvalidRole
	}
	if len(c.Chains) == 0 {
		return ErrNoChains
	}
	if c.Role == RoleAggregator && c.Aggregator.Wallet == "" {
		return ErrMissingWallet
	}
	return nil
}
