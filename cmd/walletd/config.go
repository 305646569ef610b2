package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/walletmesh/bridge/internal/adapter/evm"
	"github.com/walletmesh/bridge/internal/adapter/solana"
	"github.com/walletmesh/bridge/internal/discovery"
	"github.com/walletmesh/bridge/internal/discovery/protocol"
	"github.com/walletmesh/bridge/internal/platform/announce"
	"github.com/walletmesh/bridge/internal/platform/storage"
	"github.com/walletmesh/bridge/internal/platform/stream"
	"github.com/walletmesh/bridge/internal/registry"
	"github.com/walletmesh/bridge/internal/session"
)

// Config is the top-level walletd configuration.
type Config struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	NATSEnabled bool            `yaml:"nats_enabled"`
	NATS        announce.Config `yaml:"nats"`

	Redis session.RedisConfig `yaml:"redis"`

	PostgresEnabled bool           `yaml:"postgres_enabled"`
	Postgres        storage.Config `yaml:"postgres"`

	// Kafka lifecycle publishing is disabled when no addresses are set.
	Kafka stream.Config `yaml:"kafka"`

	// Registry directory falls back to the built-in table when no
	// endpoint is configured.
	Registry registry.Config `yaml:"registry"`

	EVM    evm.Config    `yaml:"evm"`
	Solana solana.Config `yaml:"solana"`

	Discovery discovery.Config `yaml:"discovery"`
	Protocol  protocol.Config  `yaml:"protocol"`
	Session   session.Config   `yaml:"session"`
}

// LoadConfig loads configuration from file, applying defaults first.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		ListenAddr:   ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		NATS:         announce.DefaultConfig(),
		Redis: session.RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: storage.DefaultConfig(),
		Discovery: discovery.Config{
			Enabled:             true,
			PreferAnnouncements: true,
		},
		Session: session.Config{
			AutoRetry: true,
		},
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("WALLETD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	return cfg, nil
}
