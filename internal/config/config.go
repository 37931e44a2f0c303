package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the sniper daemon.
type Config struct {
	General     GeneralConfig     `yaml:"general"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Trading     TradingConfig     `yaml:"trading"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Exits       ExitsConfig       `yaml:"exits"`
	Dexscreener DexscreenerConfig `yaml:"dexscreener"`
	Jupiter     JupiterConfig     `yaml:"jupiter"`
	Solana      SolanaConfig      `yaml:"solana"`
	Positions   PositionsConfig   `yaml:"positions"`
	Control     ControlConfig     `yaml:"control"`
}

type GeneralConfig struct {
	InstanceID      string `yaml:"instance_id"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"` // json|text
	ScanIntervalSec int    `yaml:"scan_interval_sec"`
	RiskIntervalSec int    `yaml:"risk_interval_sec"`
}

// StrategyConfig holds the scan thresholds.
type StrategyConfig struct {
	ChainID           string   `yaml:"chain_id"`
	RelaxedChainMatch bool     `yaml:"relaxed_chain_match"` // substring match instead of equality
	QuoteSymbol       string   `yaml:"quote_symbol"`
	StrictQuote       bool     `yaml:"strict_quote"`
	LiqMinUSD         float64  `yaml:"liq_min_usd"`
	FDVMaxUSD         float64  `yaml:"fdv_max_usd"`
	Vol5mMinUSD       float64  `yaml:"vol5m_min_usd"`
	VolBestMinUSD     float64  `yaml:"vol_best_min_usd"` // 0 = disabled
	MaxPairAgeSec     int64    `yaml:"max_pair_age_sec"` // 0 = disabled
	Queries           []string `yaml:"queries"`
	MaxItems          int      `yaml:"max_items"`
}

type TradingConfig struct {
	DryRun              bool   `yaml:"dry_run"`
	AutoBuy             bool   `yaml:"auto_buy"`
	SlippageBps         int    `yaml:"slippage_bps"`
	SwapTimeoutSec      int    `yaml:"swap_timeout_sec"`
	PriorityFeeLamports uint64 `yaml:"priority_fee_lamports"`
}

// SizingConfig controls buy sizing: (balance - reserve) * investable_pct/100,
// clamped to [min_buy_sol, max_buy_sol].
type SizingConfig struct {
	InvestablePct float64 `yaml:"investable_pct"`
	ReserveSOL    float64 `yaml:"reserve_sol"`
	MinBuySOL     float64 `yaml:"min_buy_sol"`
	MaxBuySOL     float64 `yaml:"max_buy_sol"`
}

// ExitsConfig controls the position exit tiers.
type ExitsConfig struct {
	PartialExits      bool    `yaml:"partial_exits"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"` // non-partial mode
	TP1Pct            float64 `yaml:"tp1_pct"`
	TP1SellPct        float64 `yaml:"tp1_sell_pct"`
	TP2Pct            float64 `yaml:"tp2_pct"`
	TP2SellPct        float64 `yaml:"tp2_sell_pct"`
	BreakevenAfterTP1 bool    `yaml:"breakeven_after_tp1"`
	TrailingPct       float64 `yaml:"trailing_pct"` // 0 = disabled
	StopLossPct       float64 `yaml:"stop_loss_pct"`
}

type DexscreenerConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type JupiterConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type SolanaConfig struct {
	RPCEndpoint  string  `yaml:"rpc_endpoint"`
	WSEndpoint   string  `yaml:"ws_endpoint"`
	WalletPubkey string  `yaml:"wallet_pubkey"`
	WalletSecret string  `yaml:"wallet_secret"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

type PositionsConfig struct {
	File        string `yaml:"file"`         // JSON file store path
	PostgresDSN string `yaml:"postgres_dsn"` // when set, Postgres replaces the file store
	EventsFile  string `yaml:"events_file"`  // JSONL exit journal, empty disables persistence
}

type ControlConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "sniper-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.ScanIntervalSec == 0 {
		cfg.General.ScanIntervalSec = 30
	}
	if cfg.General.RiskIntervalSec == 0 {
		cfg.General.RiskIntervalSec = 10
	}

	if cfg.Strategy.ChainID == "" {
		cfg.Strategy.ChainID = "solana"
	}
	if cfg.Strategy.QuoteSymbol == "" {
		cfg.Strategy.QuoteSymbol = "SOL"
	}
	if cfg.Strategy.LiqMinUSD == 0 {
		cfg.Strategy.LiqMinUSD = 130_000
	}
	if cfg.Strategy.FDVMaxUSD == 0 {
		cfg.Strategy.FDVMaxUSD = 400_000
	}
	if cfg.Strategy.Vol5mMinUSD == 0 {
		cfg.Strategy.Vol5mMinUSD = 20_000
	}
	if cfg.Strategy.MaxPairAgeSec == 0 {
		cfg.Strategy.MaxPairAgeSec = 600
	}
	if len(cfg.Strategy.Queries) == 0 {
		cfg.Strategy.Queries = []string{"SOL"}
	}
	if cfg.Strategy.MaxItems == 0 {
		cfg.Strategy.MaxItems = 200
	}

	if cfg.Trading.SlippageBps == 0 {
		cfg.Trading.SlippageBps = 100
	}
	if cfg.Trading.SwapTimeoutSec == 0 {
		cfg.Trading.SwapTimeoutSec = 20
	}

	if cfg.Sizing.InvestablePct == 0 {
		cfg.Sizing.InvestablePct = 10
	}
	if cfg.Sizing.ReserveSOL == 0 {
		cfg.Sizing.ReserveSOL = 0.05
	}
	if cfg.Sizing.MinBuySOL == 0 {
		cfg.Sizing.MinBuySOL = 0.01
	}
	if cfg.Sizing.MaxBuySOL == 0 {
		cfg.Sizing.MaxBuySOL = 0.5
	}

	if cfg.Exits.TakeProfitPct == 0 {
		cfg.Exits.TakeProfitPct = 50
	}
	if cfg.Exits.TP1Pct == 0 {
		cfg.Exits.TP1Pct = 20
	}
	if cfg.Exits.TP1SellPct == 0 {
		cfg.Exits.TP1SellPct = 50
	}
	if cfg.Exits.TP2Pct == 0 {
		cfg.Exits.TP2Pct = 60
	}
	if cfg.Exits.TP2SellPct == 0 {
		cfg.Exits.TP2SellPct = 100
	}
	if cfg.Exits.TrailingPct == 0 {
		cfg.Exits.TrailingPct = 8
	}
	if cfg.Exits.StopLossPct == 0 {
		cfg.Exits.StopLossPct = 10
	}

	if cfg.Dexscreener.BaseURL == "" {
		cfg.Dexscreener.BaseURL = "https://api.dexscreener.com"
	}
	if cfg.Dexscreener.TimeoutSec == 0 {
		cfg.Dexscreener.TimeoutSec = 15
	}

	if cfg.Jupiter.BaseURL == "" {
		cfg.Jupiter.BaseURL = "https://quote-api.jup.ag/v6"
	}
	if cfg.Jupiter.TimeoutSec == 0 {
		cfg.Jupiter.TimeoutSec = 20
	}

	if cfg.Solana.RPCEndpoint == "" {
		cfg.Solana.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.WSEndpoint == "" {
		cfg.Solana.WSEndpoint = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.RateLimitRPS == 0 {
		cfg.Solana.RateLimitRPS = 10
	}

	if cfg.Positions.File == "" {
		cfg.Positions.File = "data/positions.json"
	}
	if cfg.Positions.EventsFile == "" {
		cfg.Positions.EventsFile = "data/events.jsonl"
	}

	if cfg.Control.ListenAddr == "" {
		cfg.Control.ListenAddr = ":8787"
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Strategy.LiqMinUSD < 0 || c.Strategy.FDVMaxUSD < 0 || c.Strategy.Vol5mMinUSD < 0 {
		return fmt.Errorf("strategy thresholds must be non-negative")
	}
	if c.Trading.SlippageBps < 0 || c.Trading.SlippageBps > 10_000 {
		return fmt.Errorf("slippage_bps must be in [0, 10000], got %d", c.Trading.SlippageBps)
	}
	if c.Sizing.MinBuySOL > c.Sizing.MaxBuySOL {
		return fmt.Errorf("min_buy_sol %.4f exceeds max_buy_sol %.4f",
			c.Sizing.MinBuySOL, c.Sizing.MaxBuySOL)
	}
	if c.Sizing.InvestablePct < 0 || c.Sizing.InvestablePct > 100 {
		return fmt.Errorf("investable_pct must be in [0, 100], got %.2f", c.Sizing.InvestablePct)
	}
	if c.Exits.PartialExits && c.Exits.TP2Pct <= c.Exits.TP1Pct {
		return fmt.Errorf("tp2_pct %.2f must exceed tp1_pct %.2f", c.Exits.TP2Pct, c.Exits.TP1Pct)
	}
	if c.Trading.AutoBuy && !c.Trading.DryRun && c.Solana.WalletSecret == "" {
		return fmt.Errorf("auto_buy without dry_run requires a wallet_secret")
	}
	return nil
}
