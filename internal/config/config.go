// Package config loads and saves the node's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is the config file location assumed when none is given on
// the command line.
const DefaultPath = "run/config.json"

// Config holds everything needed to start a node: which wallet to run
// as, where its encrypted key and ledger state live, and who to talk to.
type Config struct {
	KeystorePath string   `json:"keystore_path"`
	Validator    string   `json:"validator"`
	Port         int      `json:"port"`
	StoragePath  string   `json:"storage_path"`
	GenesisPath  string   `json:"genesis_path"`
	Nodes        []string `json:"nodes"`

	// StatusAddr, if set, serves the read-only websocket status feed at
	// ws://StatusAddr/status. Empty disables it.
	StatusAddr string `json:"status_addr"`
}

// DefaultConfig returns a Config with the layout a fresh checkout would
// use, rooted under run/.
func DefaultConfig() *Config {
	return &Config{
		KeystorePath: "run/keystore",
		Validator:    "",
		Port:         4001,
		StoragePath:  "run/data",
		GenesisPath:  "run/genesis.json",
		Nodes:        []string{},
		StatusAddr:   "",
	}
}

// Load reads and parses the config file at path. If it does not exist, a
// default config is written there first and returned.
func Load(path string) (*Config, error) {
	expanded := expandPath(path)

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(expanded); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON to path, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	expanded := expandPath(path)
	if err := os.MkdirAll(filepath.Dir(expanded), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(expanded, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
