package node

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supernova.toml")
	contents := `
network = "mainnet"
bind_addr = "0.0.0.0:20000"
log_level = "debug"
max_peers = 32
peers = ["10.0.0.1:19111"]

[mempool]
max_bytes = 1048576
min_relay_fee_rate = 2000

[peer]
pow_difficulty = 12

[checkpoint]
enforcement = "warn"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Network != "mainnet" {
		t.Fatalf("network = %q", cfg.Network)
	}
	if cfg.Mempool.MaxBytes != 1048576 {
		t.Fatalf("mempool.max_bytes = %d", cfg.Mempool.MaxBytes)
	}
	if cfg.Peer.PoWDifficulty != 12 {
		t.Fatalf("peer.pow_difficulty = %d", cfg.Peer.PoWDifficulty)
	}
	if cfg.Checkpoint.Enforcement != "warn" {
		t.Fatalf("checkpoint.enforcement = %q", cfg.Checkpoint.Enforcement)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadConfigAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supernova.toml")
	if err := os.WriteFile(path, []byte(`network = "mainnet"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SUPERNOVA_NETWORK", "testnet")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Fatalf("expected env override, got %q", cfg.Network)
	}
}

func TestValidateConfigRejectsBadCheckpointEnforcement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checkpoint.Enforcement = "bogus"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCheckpointEnforcementMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Checkpoint.Enforcement = "disabled"
	e, err := CheckpointEnforcement(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.String() != "disabled" {
		t.Fatalf("got %v", e)
	}
}
