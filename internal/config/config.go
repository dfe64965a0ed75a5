// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig is returned when a loaded configuration fails
// validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Paths holds XDG-compliant paths for Triper.
type Paths struct {
	ConfigDir    string // ~/.config/triper
	DataDir      string // ~/.local/share/triper
	KeystorePath string // ~/.local/share/triper/keystore.bin
	AgentSocket  string // ~/.local/share/triper/agent.sock
}

// ExpandPath expands ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
// Panics if home directory cannot be determined when ~ expansion is needed.
func ExpandPath(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultPaths returns the default XDG-compliant paths.
// Panics if the user's home directory cannot be determined.
func DefaultPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
	configDir := filepath.Join(home, ".config", "triper")
	dataDir := filepath.Join(home, ".local", "share", "triper")

	return Paths{
		ConfigDir:    configDir,
		DataDir:      dataDir,
		KeystorePath: filepath.Join(dataDir, "keystore.bin"),
		AgentSocket:  filepath.Join(dataDir, "agent.sock"),
	}
}

// EnsureDirectories creates config and data directories if they don't exist.
func (p Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return err
	}
	return os.MkdirAll(p.DataDir, 0700)
}

// AgentConfig holds configuration for triper-agent.
type AgentConfig struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Compute   ComputeConfig   `toml:"compute"`
	Prefilter PrefilterConfig `toml:"prefilter"`
	Matching  MatchingConfig  `toml:"matching"`
	Storage   StorageConfig   `toml:"storage"`
}

// LedgerConfig selects the account store backend.
type LedgerConfig struct {
	// Mode is "memory" for single-node development.
	Mode   string `toml:"mode"`
	RPCURL string `toml:"rpc_url"`
}

// ComputeConfig selects and configures the compute cluster client.
type ComputeConfig struct {
	// Mode is "mock" (in-process) or "http" (gateway).
	Mode                string `toml:"mode"`
	GatewayURL          string `toml:"gateway_url"`
	AwaitTimeoutSeconds int    `toml:"await_timeout_seconds"`
	// ClusterKey is the cluster's base64 X25519 key; ignored in mock mode.
	ClusterKey string `toml:"cluster_key"`
}

// PrefilterConfig selects the candidate store backend.
type PrefilterConfig struct {
	// Mode is "memory" or "postgres".
	Mode        string `toml:"mode"`
	PostgresURL string `toml:"postgres_url"`
	// NeighborRing widens the destination search by that many cell rings.
	NeighborRing int `toml:"neighbor_ring"`
}

// MatchingConfig holds lifecycle parameters.
type MatchingConfig struct {
	// MinTotalScore drops matches scoring below it before they are
	// recorded.
	MinTotalScore int `toml:"min_total_score"`
	// ExpireSweepSeconds is the interval of the pending-match expiry
	// sweep.
	ExpireSweepSeconds int `toml:"expire_sweep_seconds"`
}

// StorageConfig holds local storage paths.
type StorageConfig struct {
	KeystorePath string `toml:"keystore_path"`
	SocketPath   string `toml:"socket_path"`
}

// DefaultAgentConfig returns an AgentConfig with sensible defaults.
func DefaultAgentConfig() AgentConfig {
	paths := DefaultPaths()
	return AgentConfig{
		Ledger: LedgerConfig{
			Mode: "memory",
		},
		Compute: ComputeConfig{
			Mode:                "mock",
			AwaitTimeoutSeconds: 30,
		},
		Prefilter: PrefilterConfig{
			Mode:         "memory",
			NeighborRing: 0,
		},
		Matching: MatchingConfig{
			MinTotalScore:      0,
			ExpireSweepSeconds: 300,
		},
		Storage: StorageConfig{
			KeystorePath: paths.KeystorePath,
			SocketPath:   paths.AgentSocket,
		},
	}
}

// LoadAgentConfig loads an AgentConfig from a TOML file.
// Paths with ~ are expanded to the user's home directory.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultAgentConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.Storage.KeystorePath = ExpandPath(cfg.Storage.KeystorePath)
	cfg.Storage.SocketPath = ExpandPath(cfg.Storage.SocketPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *AgentConfig) Validate() error {
	switch c.Ledger.Mode {
	case "memory":
	default:
		return fmt.Errorf("%w: unknown ledger mode %q", ErrInvalidConfig, c.Ledger.Mode)
	}

	switch c.Compute.Mode {
	case "mock":
	case "http":
		if c.Compute.GatewayURL == "" {
			return fmt.Errorf("%w: compute mode http requires gateway_url", ErrInvalidConfig)
		}
		if c.Compute.ClusterKey == "" {
			return fmt.Errorf("%w: compute mode http requires cluster_key", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown compute mode %q", ErrInvalidConfig, c.Compute.Mode)
	}
	if c.Compute.AwaitTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: await_timeout_seconds must be positive", ErrInvalidConfig)
	}

	switch c.Prefilter.Mode {
	case "memory":
	case "postgres":
		if c.Prefilter.PostgresURL == "" {
			return fmt.Errorf("%w: prefilter mode postgres requires postgres_url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown prefilter mode %q", ErrInvalidConfig, c.Prefilter.Mode)
	}
	if c.Prefilter.NeighborRing < 0 {
		return fmt.Errorf("%w: neighbor_ring must not be negative", ErrInvalidConfig)
	}

	if c.Matching.MinTotalScore < 0 || c.Matching.MinTotalScore > 100 {
		return fmt.Errorf("%w: min_total_score must be within 0-100", ErrInvalidConfig)
	}
	if c.Matching.ExpireSweepSeconds <= 0 {
		return fmt.Errorf("%w: expire_sweep_seconds must be positive", ErrInvalidConfig)
	}
	return nil
}
