package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/neoauto/sniper/internal/audit"
	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/control"
	"github.com/neoauto/sniper/internal/dexscreener"
	"github.com/neoauto/sniper/internal/jupiter"
	"github.com/neoauto/sniper/internal/position"
	"github.com/neoauto/sniper/internal/risk"
	"github.com/neoauto/sniper/internal/scanner"
	"github.com/neoauto/sniper/internal/solana"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("SNIPERD - DEX pair sniper starting")
	log.Info().Msg("SCAN -> FILTER -> RANK -> BUY -> MANAGE -> EXIT")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", cfg.Trading.DryRun).
		Bool("auto_buy", cfg.Trading.AutoBuy).
		Bool("stub_mode", *stubMode).
		Strs("queries", cfg.Strategy.Queries).
		Float64("liq_min_usd", cfg.Strategy.LiqMinUSD).
		Float64("fdv_max_usd", cfg.Strategy.FDVMaxUSD).
		Float64("stop_loss_pct", cfg.Exits.StopLossPct).
		Msg("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}
	cfgStore := config.NewStore(cfg)

	// 4. Create the Solana RPC client.
	var rpc solana.RPCClient
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		liveRPC := solana.NewLiveRPCClient(solana.RPCConfig{
			Endpoint:     cfg.Solana.RPCEndpoint,
			WSEndpoint:   cfg.Solana.WSEndpoint,
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			RateLimitRPS: cfg.Solana.RateLimitRPS,
		})
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Solana.RPCEndpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Solana.RPCEndpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 5. Create the wallet signer.
	var signer solana.Signer
	if cfg.Solana.WalletSecret != "" {
		localSigner, err := solana.NewLocalSigner(cfg.Solana.WalletSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("Wallet secret rejected")
		}
		signer = localSigner
		log.Info().Str("wallet", string(localSigner.Pubkey())).Msg("Wallet: signing enabled")
	} else {
		pub := cfg.Solana.WalletPubkey
		if pub == "" {
			pub = "DRY-RUN-WALLET"
		}
		signer = solana.NewWatchOnlySigner(solana.Pubkey(pub))
		log.Info().Str("wallet", pub).Msg("Wallet: watch-only (no secret configured)")
	}

	// 6. Open the position store.
	var positions position.Store
	if cfg.Positions.PostgresDSN != "" {
		pgStore, err := position.NewPGStore(context.Background(), cfg.Positions.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Postgres position store unavailable")
		}
		defer pgStore.Close()
		positions = pgStore
		log.Info().Msg("Positions: postgres store")
	} else {
		fileStore, err := position.NewFileStore(cfg.Positions.File)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Positions.File).Msg("Position file unreadable")
		}
		positions = fileStore
		log.Info().Str("path", cfg.Positions.File).Msg("Positions: file store")
	}

	journal, err := audit.NewJournal(cfg.Positions.EventsFile, 256)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Positions.EventsFile).Msg("Exit journal unavailable")
	}
	defer journal.Close()

	// 7. Market data + swap clients.
	market := dexscreener.NewClient(dexscreener.ClientConfig{
		BaseURL: cfg.Dexscreener.BaseURL,
		Timeout: time.Duration(cfg.Dexscreener.TimeoutSec) * time.Second,
	})
	prices := dexscreener.NewPriceFeed(market, cfg.Strategy.ChainID)

	jupClient := jupiter.NewClient(jupiter.ClientConfig{
		BaseURL: cfg.Jupiter.BaseURL,
		Timeout: time.Duration(cfg.Jupiter.TimeoutSec) * time.Second,
	})
	executor := jupiter.NewExecutor(cfgStore, jupClient, rpc, signer)

	// 8. Scan loop and risk engine.
	scan := scanner.NewScanner(cfgStore, market, positions, executor, rpc, signer.Pubkey())

	engine := risk.NewEngine(cfgStore, positions, prices, executor)
	engine.SetOnExit(func(_ context.Context, ev risk.ExitEvent) {
		journal.RecordExit(ev)
		log.Info().
			Str("event_id", ev.ID).
			Str("mint", ev.Mint).
			Str("symbol", ev.Symbol).
			Str("kind", string(ev.Kind)).
			Str("price", ev.Price.String()).
			Float64("change_pct", ev.ChangePct).
			Float64("sell_pct", ev.SellPct).
			Bool("closed", ev.Closed).
			Msg("[EXIT]")
	})

	// 9. Control surface.
	ctrl := control.NewServer(cfgStore, positions, scan, engine, executor, prices, rpc)
	ctrl.SetExecutor(executor)
	ctrl.SetJournal(journal)

	// 10. Run everything until shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scan.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Control server error")
			cancel()
		}
	}()

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scanStats := scan.Stats()
				riskStats := engine.Stats()
				open := 0
				if list, err := positions.List(ctx); err == nil {
					open = len(list)
				}
				log.Info().
					Int64("scans", scanStats.Scans).
					Int64("buys", scanStats.BuysExecuted).
					Int64("buy_failures", scanStats.BuysFailed).
					Int64("risk_ticks", riskStats.Ticks).
					Int64("exits", riskStats.Exits).
					Int64("sell_failures", riskStats.SellFailures).
					Int("open_positions", open).
					Bool("paused", scan.Paused()).
					Msg("[STATS]")
			}
		}
	}()

	journal.RecordNote(cfg.General.InstanceID, "sniperd started")
	log.Info().Msg("SNIPERD - Running")

	<-ctx.Done()
	wg.Wait()

	journal.RecordNote(cfg.General.InstanceID, "sniperd stopped")
	log.Info().Msg("SNIPERD - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "sniperd").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "sniperd").
			Str("instance", general.InstanceID).Logger()
	}
}
