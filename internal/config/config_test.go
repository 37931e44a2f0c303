package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "solana", cfg.Strategy.ChainID)
	assert.Equal(t, 130_000.0, cfg.Strategy.LiqMinUSD)
	assert.Equal(t, 400_000.0, cfg.Strategy.FDVMaxUSD)
	assert.Equal(t, 20_000.0, cfg.Strategy.Vol5mMinUSD)
	assert.Equal(t, int64(600), cfg.Strategy.MaxPairAgeSec)
	assert.Equal(t, 200, cfg.Strategy.MaxItems)
	assert.Equal(t, 30, cfg.General.ScanIntervalSec)
	assert.Equal(t, 100, cfg.Trading.SlippageBps)
	assert.Equal(t, 20, cfg.Trading.SwapTimeoutSec)
	assert.False(t, cfg.Trading.AutoBuy)

	require.NoError(t, cfg.Validate())
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_SNIPER_SECRET", "s3cret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
general:
  log_level: debug
strategy:
  liq_min_usd: 50000
  queries: ["SOL", "raydium"]
solana:
  wallet_secret: "${TEST_SNIPER_SECRET}"
trading:
  dry_run: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, 50_000.0, cfg.Strategy.LiqMinUSD)
	assert.Equal(t, []string{"SOL", "raydium"}, cfg.Strategy.Queries)
	assert.Equal(t, "s3cret", cfg.Solana.WalletSecret)

	// Untouched fields still get defaults.
	assert.Equal(t, 400_000.0, cfg.Strategy.FDVMaxUSD)
	assert.Equal(t, ":8787", cfg.Control.ListenAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("tp2 must exceed tp1", func(t *testing.T) {
		cfg := Default()
		cfg.Exits.PartialExits = true
		cfg.Exits.TP1Pct = 60
		cfg.Exits.TP2Pct = 40
		assert.Error(t, cfg.Validate())
	})

	t.Run("min buy above max buy", func(t *testing.T) {
		cfg := Default()
		cfg.Sizing.MinBuySOL = 1.0
		cfg.Sizing.MaxBuySOL = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("live auto-buy needs a secret", func(t *testing.T) {
		cfg := Default()
		cfg.Trading.AutoBuy = true
		cfg.Trading.DryRun = false
		cfg.Solana.WalletSecret = ""
		assert.Error(t, cfg.Validate())

		cfg.Solana.WalletSecret = "abc"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("slippage range", func(t *testing.T) {
		cfg := Default()
		cfg.Trading.SlippageBps = 20_000
		assert.Error(t, cfg.Validate())
	})
}

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewStore(Default())

	snap := store.Snapshot()
	snap.Strategy.Queries[0] = "mutated"
	snap.Strategy.LiqMinUSD = 1

	fresh := store.Snapshot()
	assert.Equal(t, "SOL", fresh.Strategy.Queries[0])
	assert.Equal(t, 130_000.0, fresh.Strategy.LiqMinUSD)
}

func TestStoreUpdate(t *testing.T) {
	store := NewStore(Default())

	store.Update(func(c *Config) {
		c.Strategy.LiqMinUSD = 75_000
		c.Trading.AutoBuy = true
	})

	snap := store.Snapshot()
	assert.Equal(t, 75_000.0, snap.Strategy.LiqMinUSD)
	assert.True(t, snap.Trading.AutoBuy)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore(Default())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Update(func(c *Config) { c.Strategy.MaxItems++ })
		}()
		go func() {
			defer wg.Done()
			_ = store.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 210, store.Snapshot().Strategy.MaxItems)
}
