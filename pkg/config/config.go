package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Networks   []NetworkConfig  `mapstructure:"networks"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Indexer    IndexerConfig    `mapstructure:"indexer"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Shutdown   ShutdownConfig   `mapstructure:"shutdown"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// NetworkConfig contains the settings for one supported network
type NetworkConfig struct {
	Name               string        `mapstructure:"name"`
	ChainID            uint64        `mapstructure:"chain_id"`
	RPCURL             string        `mapstructure:"rpc_url"`
	SubgraphURL        string        `mapstructure:"subgraph_url"`
	BridgeContracts    []string      `mapstructure:"bridge_contracts"`
	ManagerContracts   []string      `mapstructure:"manager_contracts"`
	FeeContract        string        `mapstructure:"fee_contract"`
	FeeStartBlock      uint64        `mapstructure:"fee_start_block"`
	MaxConcurrentCalls int64         `mapstructure:"max_concurrent_calls"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	NativeSymbol       string        `mapstructure:"native_symbol"`
	NativeDecimals     uint8         `mapstructure:"native_decimals"`
}

// BridgeConfig contains on-demand bridge transaction service settings
type BridgeConfig struct {
	NegativeCacheTTL time.Duration `mapstructure:"negative_cache_ttl"`
}

// IndexerConfig contains background fee indexer settings
type IndexerConfig struct {
	AutoStart         bool          `mapstructure:"auto_start"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BackfillBatchSize uint64        `mapstructure:"backfill_batch_size"`
	PollBatchSize     uint64        `mapstructure:"poll_batch_size"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyNetworkDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "bridge_api")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)

	// Bridge defaults
	viper.SetDefault("bridge.negative_cache_ttl", "5m")

	// Indexer defaults
	viper.SetDefault("indexer.auto_start", true)
	viper.SetDefault("indexer.poll_interval", "15s")
	viper.SetDefault("indexer.backfill_batch_size", 1000)
	viper.SetDefault("indexer.poll_batch_size", 200)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	// Shutdown defaults
	viper.SetDefault("shutdown.timeout", "30s")
}

// applyNetworkDefaults fills per-network settings that viper cannot
// default because networks are a list.
func applyNetworkDefaults(config *Config) {
	for i := range config.Networks {
		n := &config.Networks[i]
		if n.MaxConcurrentCalls == 0 {
			n.MaxConcurrentCalls = 10
		}
		if n.RequestTimeout == 0 {
			n.RequestTimeout = 15 * time.Second
		}
		if n.NativeSymbol == "" {
			n.NativeSymbol = "ETH"
		}
		if n.NativeDecimals == 0 {
			n.NativeDecimals = 18
		}
	}
}

// Validate checks that the configuration is complete enough to start.
// Missing endpoint or contract settings are startup failures, never
// silently degraded.
func Validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if len(config.Networks) != 2 {
		return fmt.Errorf("exactly two networks must be configured, got %d", len(config.Networks))
	}
	seen := make(map[uint64]bool)
	for _, n := range config.Networks {
		if n.ChainID == 0 {
			return fmt.Errorf("network %q: chain_id is required", n.Name)
		}
		if seen[n.ChainID] {
			return fmt.Errorf("duplicate chain_id %d", n.ChainID)
		}
		seen[n.ChainID] = true
		if n.RPCURL == "" {
			return fmt.Errorf("network %q: rpc_url is required", n.Name)
		}
		if n.SubgraphURL == "" {
			return fmt.Errorf("network %q: subgraph_url is required", n.Name)
		}
		if n.FeeContract == "" {
			return fmt.Errorf("network %q: fee_contract is required", n.Name)
		}
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Network returns the configuration for the given chain id
func (c *Config) Network(chainID uint64) (*NetworkConfig, bool) {
	for i := range c.Networks {
		if c.Networks[i].ChainID == chainID {
			return &c.Networks[i], true
		}
	}
	return nil, false
}
