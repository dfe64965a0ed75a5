// internal/config/config_test.go
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandPath_TildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home dir: %v", err)
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Documents", filepath.Join(home, "Documents")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", home},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if result != tt.expected {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths()

	if paths.ConfigDir == "" {
		t.Error("ConfigDir should not be empty")
	}
	if paths.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if paths.KeystorePath == "" {
		t.Error("KeystorePath should not be empty")
	}
	if paths.AgentSocket == "" {
		t.Error("AgentSocket should not be empty")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	paths := Paths{
		ConfigDir: filepath.Join(tmpDir, "config", "triper"),
		DataDir:   filepath.Join(tmpDir, "data", "triper"),
	}

	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{paths.ConfigDir, paths.DataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestDefaultAgentConfigIsValid(t *testing.T) {
	cfg := DefaultAgentConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadAgentConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "agent.toml")

	content := `
[compute]
mode = "http"
gateway_url = "http://localhost:9200"
cluster_key = "c29tZS1rZXk="
await_timeout_seconds = 10

[prefilter]
mode = "postgres"
postgres_url = "postgres://localhost/triper"
neighbor_ring = 1

[matching]
min_total_score = 40

[storage]
keystore_path = "~/keys/triper.bin"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig failed: %v", err)
	}

	if cfg.Compute.Mode != "http" {
		t.Errorf("Compute.Mode = %q, want http", cfg.Compute.Mode)
	}
	if cfg.Compute.AwaitTimeoutSeconds != 10 {
		t.Errorf("AwaitTimeoutSeconds = %d, want 10", cfg.Compute.AwaitTimeoutSeconds)
	}
	if cfg.Prefilter.NeighborRing != 1 {
		t.Errorf("NeighborRing = %d, want 1", cfg.Prefilter.NeighborRing)
	}
	if cfg.Matching.MinTotalScore != 40 {
		t.Errorf("MinTotalScore = %d, want 40", cfg.Matching.MinTotalScore)
	}

	home, _ := os.UserHomeDir()
	if cfg.Storage.KeystorePath != filepath.Join(home, "keys", "triper.bin") {
		t.Errorf("KeystorePath not expanded: %q", cfg.Storage.KeystorePath)
	}

	// Unset sections keep their defaults.
	if cfg.Ledger.Mode != "memory" {
		t.Errorf("Ledger.Mode = %q, want default memory", cfg.Ledger.Mode)
	}
	if cfg.Matching.ExpireSweepSeconds != 300 {
		t.Errorf("ExpireSweepSeconds = %d, want default 300", cfg.Matching.ExpireSweepSeconds)
	}
}

func TestLoadAgentConfigRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "agent.toml")

	tests := []struct {
		name    string
		content string
	}{
		{"unknown compute mode", "[compute]\nmode = \"quantum\"\n"},
		{"http without gateway", "[compute]\nmode = \"http\"\n"},
		{"postgres without url", "[prefilter]\nmode = \"postgres\"\n"},
		{"score out of range", "[matching]\nmin_total_score = 150\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := LoadAgentConfig(path)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "agent.toml")
	if err := os.WriteFile(path, []byte("[matching]\nmin_total_score = 10\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	reloaded := make(chan *AgentConfig, 1)
	w, err := NewWatcher(path, func(cfg *AgentConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	if err := os.WriteFile(path, []byte("[matching]\nmin_total_score = 60\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Matching.MinTotalScore != 60 {
			t.Errorf("MinTotalScore = %d, want 60", cfg.Matching.MinTotalScore)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherKeepsRunningOnBadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "agent.toml")
	if err := os.WriteFile(path, []byte("[matching]\nmin_total_score = 10\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	reloaded := make(chan *AgentConfig, 1)
	failed := make(chan error, 1)
	w, err := NewWatcher(path,
		func(cfg *AgentConfig) {
			select {
			case reloaded <- cfg:
			default:
			}
		},
		func(err error) {
			select {
			case failed <- err:
			default:
			}
		})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	if err := os.WriteFile(path, []byte("not toml at all {{{"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}

	// A subsequent good write still reloads.
	if err := os.WriteFile(path, []byte("[matching]\nmin_total_score = 25\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case cfg := <-reloaded:
		if cfg.Matching.MinTotalScore != 25 {
			t.Errorf("MinTotalScore = %d, want 25", cfg.Matching.MinTotalScore)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
