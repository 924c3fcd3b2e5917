// Package config loads and validates the overseer configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an overseer instance.
type Config struct {
	Version  int      `yaml:"version" validate:"required,eq=1"`
	Listen   string   `yaml:"listen" validate:"required,hostname_port"`
	DBPath   string   `yaml:"db_path" validate:"required"`
	Gateway  Gateway  `yaml:"gateway"`
	Executor Executor `yaml:"executor"`
	Stream   Stream   `yaml:"stream"`
}

// Gateway describes how to reach the agent gateway.
type Gateway struct {
	Addr             string `yaml:"addr" validate:"required,hostname_port"`
	Token            string `yaml:"token,omitempty"`
	TokenEnv         string `yaml:"token_env,omitempty"`
	DeviceKeyPath    string `yaml:"device_key_path,omitempty"`
	HandshakeTimeout int    `yaml:"handshake_timeout_sec,omitempty" validate:"gte=0"`
}

// EffectiveToken resolves the shared token, preferring the environment
// variable so secrets stay out of the config file.
func (g Gateway) EffectiveToken() string {
	if g.TokenEnv != "" {
		if v := os.Getenv(g.TokenEnv); v != "" {
			return v
		}
	}
	return g.Token
}

// Executor tunes the dispatch loop.
type Executor struct {
	PollIntervalSec int    `yaml:"poll_interval_sec,omitempty" validate:"gte=0"`
	AgentPoolSize   int    `yaml:"agent_pool_size,omitempty" validate:"gte=0,lte=64"`
	EligibleOwner   string `yaml:"eligible_owner,omitempty" validate:"omitempty,oneof=human assistant"`
}

// PollInterval returns the effective poll interval.
func (e Executor) PollInterval() time.Duration {
	if e.PollIntervalSec > 0 {
		return time.Duration(e.PollIntervalSec) * time.Second
	}
	return 2 * time.Second
}

// Stream tunes the HTTP notification stream.
type Stream struct {
	HeartbeatSec int `yaml:"heartbeat_sec,omitempty" validate:"gte=0"`
}

// Heartbeat returns the effective SSE keep-alive interval.
func (s Stream) Heartbeat() time.Duration {
	if s.HeartbeatSec > 0 {
		return time.Duration(s.HeartbeatSec) * time.Second
	}
	return 30 * time.Second
}

// Load reads and validates the config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Listen:  "127.0.0.1:7171",
		DBPath:  ".overseer/overseer.db",
		Gateway: Gateway{
			Addr:          "127.0.0.1:7433",
			TokenEnv:      "OVERSEER_GATEWAY_TOKEN",
			DeviceKeyPath: ".overseer/device.json",
		},
	}
}
