package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: marketsync\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Indexer.UseMockEvents)
	assert.Equal(t, uint64(10000), cfg.Indexer.BlockLookback)
	assert.Equal(t, RebuildAtomic, cfg.Indexer.RebuildMode)
	assert.Equal(t, 5*time.Minute, cfg.Indexer.Interval)
	assert.Equal(t, 10*time.Second, cfg.Indexer.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Auction.SweepInterval)
	assert.False(t, cfg.Indexer.AlignToInterval)
	assert.Zero(t, cfg.Indexer.StartupDelay)
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, int64(11155111), cfg.Chains[0].ChainID)
	assert.Equal(t, "0x0000000000000000000000000000000000dEaD00", cfg.Chains[0].MarketplaceAddress)
}

func TestLoadChainsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
indexer:
  use_mock_events: false
  rebuild_mode: clear_first
  interval: 1m
  align_to_interval: true
  startup_delay: 15s
chains:
  - chain_id: 1
    name: mainnet
    rpc_url: https://rpc.example.org
    marketplace_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  - chain_id: 137
    name: polygon
    rpc_url: https://polygon.example.org
    marketplace_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Indexer.UseMockEvents)
	assert.Equal(t, RebuildClearFirst, cfg.Indexer.RebuildMode)
	assert.Equal(t, time.Minute, cfg.Indexer.Interval)
	assert.True(t, cfg.Indexer.AlignToInterval)
	assert.Equal(t, 15*time.Second, cfg.Indexer.StartupDelay)
	require.Len(t, cfg.Chains, 2)

	polygon, ok := cfg.ChainByID(137)
	require.True(t, ok)
	assert.Equal(t, "polygon", polygon.Name)
	_, ok = cfg.ChainByID(5)
	assert.False(t, ok)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MARKETSYNC_INDEXER_BLOCK_LOOKBACK", "250")
	t.Setenv("MARKETSYNC_DATABASE_DSN", "postgres://user:pw@localhost:5432/market")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  environment: test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), cfg.Indexer.BlockLookback)
	assert.Equal(t, "postgres://user:pw@localhost:5432/market", cfg.Database.DSN)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Indexer:  IndexerConfig{RebuildMode: RebuildAtomic, Interval: time.Minute, MaxParallel: 1},
			Chains:   []ChainConfig{{ChainID: 1}},
			Metadata: MetadataConfig{Enabled: true, IPFSGateway: "https://ipfs.io/ipfs/", Workers: 1},
			Auction:  AuctionConfig{SweepInterval: time.Second, BidRetryLimit: 1},
		}
	}

	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"unknown rebuild mode", func(c *Config) { c.Indexer.RebuildMode = "truncate" }},
		{"zero interval", func(c *Config) { c.Indexer.Interval = 0 }},
		{"no chains", func(c *Config) { c.Chains = nil }},
		{"duplicate chain", func(c *Config) { c.Chains = append(c.Chains, ChainConfig{ChainID: 1}) }},
		{"missing gateway", func(c *Config) { c.Metadata.IPFSGateway = "" }},
		{"zero retry limit", func(c *Config) { c.Auction.BidRetryLimit = 0 }},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }},
		{"pool smaller than parallel cycles", func(c *Config) {
			c.Database = DatabaseConfig{DSN: "postgres://localhost/db", MaxOpenConns: 4}
			c.Indexer.MaxParallel = 4
		}},
		{"pool size left at zero", func(c *Config) {
			c.Database = DatabaseConfig{DSN: "postgres://localhost/db"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mut(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	assert.NoError(t, cfg.Validate())

	cfg.Database = DatabaseConfig{DSN: "postgres://localhost/db", MaxOpenConns: 9}
	cfg.Indexer.MaxParallel = 4
	assert.NoError(t, cfg.Validate(), "2*max_parallel+1 connections are enough")
}
