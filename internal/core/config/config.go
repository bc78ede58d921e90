package config

import (
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	redisclient "github.com/vietddude/affiliate-indexer/internal/infra/redis"
	"github.com/vietddude/affiliate-indexer/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Chains   []ChainConfig      `yaml:"chains"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds settings for one indexed blockchain.
type ChainConfig struct {
	ChainID           domain.ChainID   `yaml:"id"`
	DisplayName       string           `yaml:"display_name"`
	ConfirmationDepth uint64           `yaml:"confirmation_depth"`
	ChunkSize         uint64           `yaml:"chunk_size"`
	PollInterval      time.Duration    `yaml:"poll_interval"`
	StartBlock        uint64           `yaml:"start_block"`
	WatchedAddresses  []string         `yaml:"watched_addresses"`
	Providers         []ProviderConfig `yaml:"providers"`

	// RetentionPeriod bounds how long dead letters and invalidation
	// markers are kept. Zero disables pruning.
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// ProviderConfig holds settings for one RPC provider. List order is
// priority order.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	URL       string        `yaml:"url"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = default
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Target converts a chain config into its immutable runtime target.
func (c ChainConfig) Target() *domain.ChainTarget {
	return domain.NewChainTarget(
		c.ChainID,
		c.DisplayName,
		c.ConfirmationDepth,
		c.ChunkSize,
		c.PollInterval,
		c.StartBlock,
		c.WatchedAddresses,
	)
}
