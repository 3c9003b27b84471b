package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Network  string   `json:"network" toml:"network"`
	DataDir  string   `json:"data_dir" toml:"data_dir"`
	BindAddr string   `json:"bind_addr" toml:"bind_addr"`
	LogLevel string   `json:"log_level" toml:"log_level"`
	Peers    []string `json:"peers" toml:"peers"`
	MaxPeers int      `json:"max_peers" toml:"max_peers"`

	Mempool    MempoolConfig    `json:"mempool" toml:"mempool"`
	Peer       PeerConfig       `json:"peer" toml:"peer"`
	Checkpoint CheckpointConfig `json:"checkpoint" toml:"checkpoint"`
}

// MempoolConfig tunes the admission pipeline in package mempool.
type MempoolConfig struct {
	MaxBytes        int     `json:"max_bytes" toml:"max_bytes"`
	MinRelayFeeRate float64 `json:"min_relay_fee_rate" toml:"min_relay_fee_rate"`
}

// PeerConfig tunes network-diversity and eclipse-defense behavior in
// package peerdiversity.
type PeerConfig struct {
	PoWDifficulty int `json:"pow_difficulty" toml:"pow_difficulty"`
}

// CheckpointConfig selects the reorg-gate enforcement level consumed by
// package checkpoint.
type CheckpointConfig struct {
	Enforcement string `json:"enforcement" toml:"enforcement"` // "strict" | "warn" | "disabled"
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".supernova"
	}
	return filepath.Join(home, ".supernova")
}

func DefaultConfig() Config {
	cfg := Config{
		Network:  "devnet",
		DataDir:  DefaultDataDir(),
		BindAddr: "0.0.0.0:19111",
		Peers:    nil,
		LogLevel: "info",
		MaxPeers: 64,
		Mempool: MempoolConfig{
			MaxBytes:        300 << 20,
			MinRelayFeeRate: 1000,
		},
		Peer: PeerConfig{
			PoWDifficulty: 8,
		},
		Checkpoint: CheckpointConfig{
			Enforcement: "strict",
		},
	}
	applyEnvOverrides(&cfg)
	return cfg
}

// applyEnvOverrides applies the SUPERNOVA_DATA_DIR, SUPERNOVA_NETWORK, and
// SUPERNOVA_LOG environment variables over whatever config was loaded,
// mirroring the precedence order file < env < flags used elsewhere in this
// codebase.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SUPERNOVA_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SUPERNOVA_NETWORK")); v != "" {
		cfg.Network = v
	}
	if v := strings.TrimSpace(os.Getenv("SUPERNOVA_LOG")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}

// LoadConfig reads a TOML config file at path, applies it over
// DefaultConfig, then applies environment overrides on top.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	if cfg.Mempool.MaxBytes <= 0 {
		return errors.New("mempool.max_bytes must be > 0")
	}
	if cfg.Mempool.MinRelayFeeRate < 0 {
		return errors.New("mempool.min_relay_fee_rate must be >= 0")
	}
	if cfg.Peer.PoWDifficulty < 0 || cfg.Peer.PoWDifficulty > 256 {
		return errors.New("peer.pow_difficulty must be in [0, 256]")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Checkpoint.Enforcement)) {
	case "strict", "warn", "disabled":
	default:
		return fmt.Errorf("invalid checkpoint.enforcement %q", cfg.Checkpoint.Enforcement)
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
