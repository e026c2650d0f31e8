package config

import (
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4001 {
		t.Errorf("expected default port 4001, got %d", cfg.Port)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.StoragePath != cfg.StoragePath {
		t.Errorf("reload mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := &Config{
		KeystorePath: "/tmp/ks",
		Validator:    "deadbeef",
		Port:         5000,
		StoragePath:  "/tmp/data",
		GenesisPath:  "/tmp/genesis.json",
		Nodes:        []string{"/ip4/1.2.3.4/tcp/4001/p2p/abc"},
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Validator != "deadbeef" || loaded.Port != 5000 || len(loaded.Nodes) != 1 {
		t.Errorf("round-trip mismatch: %+v", loaded)
	}
}

func TestExpandPathExpandsHome(t *testing.T) {
	expanded := expandPath("~/run/config.json")
	if expanded == "~/run/config.json" {
		t.Errorf("expected ~ to be expanded, got %s", expanded)
	}
}
