package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables.
// An empty configPath yields the built-in defaults.
func Load(configPath string) (*Config, *Secrets, error) {
	var cfg Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// Default returns a validated configuration with all defaults applied.
// Used by tests and by callers that tune fields programmatically.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}
