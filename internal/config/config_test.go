package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MitchTurner/pallas/internal/protocol"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NetworkMagic != protocol.MAINNET_MAGIC {
		t.Errorf("magic: got %d, want mainnet", cfg.NetworkMagic)
	}
	if cfg.SocketPath == "" {
		t.Error("socket path default missing")
	}
}

func TestYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "address: relay.example:3001\nnetwork_magic: 1097911063\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != "relay.example:3001" {
		t.Errorf("address: got %q", cfg.Address)
	}
	if cfg.NetworkMagic != protocol.TESTNET_MAGIC {
		t.Errorf("magic: got %d, want testnet", cfg.NetworkMagic)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("address: from-file:3001\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PALLAS_ADDRESS", "from-env:3001")
	t.Setenv("PALLAS_NETWORK_MAGIC", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != "from-env:3001" {
		t.Errorf("address: got %q", cfg.Address)
	}
	if cfg.NetworkMagic != 42 {
		t.Errorf("magic: got %d", cfg.NetworkMagic)
	}
}

func TestBadMagicRejected(t *testing.T) {
	t.Setenv("PALLAS_NETWORK_MAGIC", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for a non-numeric magic")
	}
}
