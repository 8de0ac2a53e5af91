// Package config loads the CLI harness settings: defaults, then an
// optional YAML file, then environment overrides (a .env file is
// honored when present).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MitchTurner/pallas/internal/protocol"
)

type Config struct {
	// Address is the TCP endpoint of a node-to-node peer.
	Address string `yaml:"address"`
	// SocketPath is the local node-to-client stream socket.
	SocketPath string `yaml:"socket_path"`
	// NetworkMagic selects the network in the handshake version table.
	NetworkMagic uint64 `yaml:"network_magic"`
	LogLevel     string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		SocketPath:   "/tmp/node.socket",
		NetworkMagic: protocol.MAINNET_MAGIC,
		LogLevel:     "info",
	}
}

// Load builds the effective configuration. path may be empty.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("PALLAS_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("PALLAS_SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("PALLAS_NETWORK_MAGIC"); v != "" {
		magic, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("PALLAS_NETWORK_MAGIC: %w", err)
		}
		cfg.NetworkMagic = magic
	}
	if v := os.Getenv("PALLAS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
