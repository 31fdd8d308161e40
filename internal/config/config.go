package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"nft-market-sync/internal/logging"
)

// Rebuild modes for the listings mirror.
const (
	RebuildAtomic     = "atomic"
	RebuildClearFirst = "clear_first"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Chains   []ChainConfig  `mapstructure:"chains"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Auction  AuctionConfig  `mapstructure:"auction"`
	IPFS     IPFSConfig     `mapstructure:"ipfs"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// IndexerConfig governs listing reconciliation.
type IndexerConfig struct {
	UseMockEvents   bool          `mapstructure:"use_mock_events"`
	BlockLookback   uint64        `mapstructure:"block_lookback"`
	RebuildMode     string        `mapstructure:"rebuild_mode"`
	Interval        time.Duration `mapstructure:"interval"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// ChainConfig describes one EVM chain and its marketplace deployment.
type ChainConfig struct {
	ChainID            int64  `mapstructure:"chain_id"`
	Name               string `mapstructure:"name"`
	RPCURL             string `mapstructure:"rpc_url"`
	MarketplaceAddress string `mapstructure:"marketplace_address"`
}

// MetadataConfig tunes lazy listing enrichment.
type MetadataConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	IPFSGateway  string        `mapstructure:"ipfs_gateway"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Workers      int           `mapstructure:"workers"`
	CacheSizeMB  int           `mapstructure:"cache_size_mb"`
	NegativeTTL  time.Duration `mapstructure:"negative_ttl"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// AuctionConfig tunes the auction engine.
type AuctionConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BidRetryLimit int           `mapstructure:"bid_retry_limit"`
}

// IPFSConfig points at an IPFS node HTTP API for uploads.
type IPFSConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram notification parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketsync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "marketsync")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("indexer.use_mock_events", true)
	v.SetDefault("indexer.block_lookback", 10000)
	v.SetDefault("indexer.rebuild_mode", RebuildAtomic)
	v.SetDefault("indexer.interval", "5m")
	v.SetDefault("indexer.run_on_start", true)
	v.SetDefault("indexer.align_to_interval", false)
	v.SetDefault("indexer.startup_delay", "0s")
	v.SetDefault("indexer.max_parallel", 4)
	v.SetDefault("indexer.advisory_lock_key", int64(0x6e667473))
	v.SetDefault("indexer.request_timeout", "10s")

	v.SetDefault("chains", []map[string]interface{}{
		{
			"chain_id":            11155111,
			"name":                "sepolia",
			"rpc_url":             "https://sepolia.infura.io/v3/YOUR_INFURA_KEY",
			"marketplace_address": "0x0000000000000000000000000000000000dEaD00",
		},
	})

	v.SetDefault("metadata.enabled", true)
	v.SetDefault("metadata.ipfs_gateway", "https://ipfs.io/ipfs/")
	v.SetDefault("metadata.fetch_timeout", "10s")
	v.SetDefault("metadata.workers", 4)
	v.SetDefault("metadata.cache_size_mb", 8)
	v.SetDefault("metadata.negative_ttl", "10m")
	v.SetDefault("metadata.user_agent", "marketsync/1.0")

	v.SetDefault("auction.sweep_interval", "30s")
	v.SetDefault("auction.bid_retry_limit", 5)

	v.SetDefault("ipfs.api_url", "localhost:5001")
	v.SetDefault("ipfs.timeout", "60s")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")
	v.SetDefault("metrics.namespace", "marketsync")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
// Chain entries are validated per chain by the chain registry.
func (c *Config) Validate() error {
	switch c.Indexer.RebuildMode {
	case RebuildAtomic, RebuildClearFirst:
	default:
		return fmt.Errorf("indexer.rebuild_mode must be %q or %q, got %q", RebuildAtomic, RebuildClearFirst, c.Indexer.RebuildMode)
	}
	if c.Indexer.Interval <= 0 {
		return fmt.Errorf("indexer.interval must be greater than zero")
	}
	if c.Indexer.MaxParallel <= 0 {
		return fmt.Errorf("indexer.max_parallel must be greater than zero")
	}
	// each chain cycle pins one connection for its lock and needs a second
	// for the rebuild transaction; one more keeps reads and bids moving
	if c.Database.DSN != "" {
		if need := MinPoolConns(c.Indexer.MaxParallel); c.Database.MaxOpenConns < need {
			return fmt.Errorf("database.max_open_conns must be at least %d for indexer.max_parallel=%d, got %d",
				need, c.Indexer.MaxParallel, c.Database.MaxOpenConns)
		}
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one entry under chains is required")
	}
	seen := make(map[int64]struct{}, len(c.Chains))
	for i, ch := range c.Chains {
		if _, dup := seen[ch.ChainID]; dup {
			return fmt.Errorf("chains[%d]: duplicate chain_id %d", i, ch.ChainID)
		}
		seen[ch.ChainID] = struct{}{}
	}
	if c.Metadata.Workers <= 0 {
		return fmt.Errorf("metadata.workers must be greater than zero")
	}
	if c.Metadata.Enabled && c.Metadata.IPFSGateway == "" {
		return fmt.Errorf("metadata.ipfs_gateway must be configured when metadata is enabled")
	}
	if c.Auction.SweepInterval <= 0 {
		return fmt.Errorf("auction.sweep_interval must be greater than zero")
	}
	if c.Auction.BidRetryLimit <= 0 {
		return fmt.Errorf("auction.bid_retry_limit must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	return nil
}

// MinPoolConns is the smallest pool that cannot starve maxParallel
// concurrent chain cycles.
func MinPoolConns(maxParallel int) int {
	return 2*maxParallel + 1
}

// ChainByID returns the configuration of one chain.
func (c *Config) ChainByID(chainID int64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
