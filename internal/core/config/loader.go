package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.ChainID == "" {
			return nil, fmt.Errorf("chain %d: id is required", i)
		}
		if len(c.Providers) == 0 {
			return nil, fmt.Errorf("chain %s: at least one provider is required", c.ChainID)
		}
		if len(c.WatchedAddresses) == 0 {
			return nil, fmt.Errorf("chain %s: watched_addresses is required", c.ChainID)
		}
		if c.PollInterval == 0 {
			c.PollInterval = 10 * time.Second
		}
		if c.ChunkSize == 0 {
			c.ChunkSize = 2000
		}
		// confirmation_depth 0 is legal: instant-finality chains skip
		// the reorg guard entirely.

		for j := range c.Providers {
			p := &c.Providers[j]
			if p.URL == "" {
				return nil, fmt.Errorf("chain %s: provider %d has no url", c.ChainID, j)
			}
			if p.Name == "" {
				p.Name = fmt.Sprintf("%s-provider-%d", c.ChainID, j)
			}
			if p.Timeout == 0 {
				p.Timeout = 10 * time.Second
			}
		}
	}

	return &cfg, nil
}
