package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/dexscreener"
	"github.com/neoauto/sniper/internal/position"
	"github.com/neoauto/sniper/internal/solana"
)

// ---------------------------------------------------------------------------
// Scan loop — fetch → filter → rank → optional auto-buy
// ---------------------------------------------------------------------------

// Buyer executes buys. Implemented by the swap executor.
type Buyer interface {
	Buy(ctx context.Context, mint string, lamports uint64) error
}

// Scanner drives the periodic market scan and the auto-buy path.
type Scanner struct {
	cfg       *config.Store
	market    PairSearcher
	positions position.Store
	buyer     Buyer
	rpc       solana.RPCClient
	wallet    solana.Pubkey

	// Single-slot rescan signal: latest trigger wins, no queueing.
	rescan chan struct{}

	paused atomic.Bool

	mu         sync.Mutex
	lastRanked []dexscreener.Pair
	lastReport FilterReport
	lastScanAt time.Time

	scans        atomic.Int64
	buysExecuted atomic.Int64
	buysFailed   atomic.Int64
}

// NewScanner creates the scan loop.
func NewScanner(cfg *config.Store, market PairSearcher, positions position.Store, buyer Buyer, rpc solana.RPCClient, wallet solana.Pubkey) *Scanner {
	return &Scanner{
		cfg:       cfg,
		market:    market,
		positions: positions,
		buyer:     buyer,
		rpc:       rpc,
		wallet:    wallet,
		rescan:    make(chan struct{}, 1),
	}
}

// TriggerRescan requests an immediate scan. Non-blocking; while a trigger is
// already pending, further triggers collapse into it.
func (s *Scanner) TriggerRescan() {
	select {
	case s.rescan <- struct{}{}:
	default:
	}
}

// SetPaused pauses or resumes the auto-buy path. Scanning continues either
// way so the candidate view stays fresh.
func (s *Scanner) SetPaused(paused bool) {
	s.paused.Store(paused)
	log.Info().Bool("paused", paused).Msg("scanner: auto-buy pause toggled")
}

// Paused reports whether auto-buy is paused.
func (s *Scanner) Paused() bool { return s.paused.Load() }

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	snap := s.cfg.Snapshot()
	interval := time.Duration(snap.General.ScanIntervalSec) * time.Second

	log.Info().
		Dur("interval", interval).
		Strs("queries", snap.Strategy.Queries).
		Float64("liq_min_usd", snap.Strategy.LiqMinUSD).
		Float64("fdv_max_usd", snap.Strategy.FDVMaxUSD).
		Msg("scanner: loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scanner: loop stopped")
			return
		case <-ticker.C:
			s.safeScan(ctx)
		case <-s.rescan:
			log.Info().Msg("scanner: immediate rescan triggered")
			s.safeScan(ctx)
		}
	}
}

// safeScan runs one scan, containing panics so one bad iteration never
// kills the loop.
func (s *Scanner) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scanner: scan panicked")
		}
	}()
	s.Scan(ctx)
}

// Scan runs one fetch→filter→rank pass and, when enabled, a buy attempt.
func (s *Scanner) Scan(ctx context.Context) {
	s.scans.Add(1)
	snap := s.cfg.Snapshot()

	candidates := FetchCandidates(ctx, s.market, snap.Strategy)
	ranked, report := FilterAndRank(candidates, snap.Strategy, time.Now().UnixMilli())

	s.mu.Lock()
	s.lastRanked = ranked
	s.lastReport = report
	s.lastScanAt = time.Now()
	s.mu.Unlock()

	log.Info().
		Int("raw", report.Input).
		Int("after_chain", report.AfterChain).
		Int("after_quote", report.AfterQuote).
		Int("after_age", report.AfterAge).
		Int("ranked", report.AfterBound).
		Msg("scanner: scan complete")

	if !snap.Trading.AutoBuy || s.paused.Load() || len(ranked) == 0 {
		return
	}

	s.autoBuy(ctx, snap, ranked)
}

// autoBuy opens at most one position per scan: the best-ranked candidate
// that is not already held and carries a usable entry price.
func (s *Scanner) autoBuy(ctx context.Context, snap config.Config, ranked []dexscreener.Pair) {
	for _, pair := range ranked {
		mint := pair.BaseToken.Address
		if mint == "" || pair.PriceNative.Float() <= 0 {
			continue
		}

		held, err := s.positions.Has(ctx, mint)
		if err != nil {
			log.Error().Err(err).Msg("scanner: position lookup failed")
			return
		}
		if held {
			continue
		}

		buySOL, err := s.sizeBuy(ctx, snap.Sizing)
		if err != nil {
			log.Warn().Err(err).Msg("scanner: buy skipped")
			return
		}

		lamports := uint64(buySOL.Mul(decimal.NewFromInt(solana.LamportsPerSOL)).IntPart())

		log.Info().
			Str("mint", mint).
			Str("symbol", pair.BaseToken.Symbol).
			Str("amount_sol", buySOL.String()).
			Str("liquidity_usd", pair.Liquidity.USD.Decimal().String()).
			Bool("dry_run", snap.Trading.DryRun).
			Msg("scanner: opening position")

		if err := s.buyer.Buy(ctx, mint, lamports); err != nil {
			s.buysFailed.Add(1)
			log.Error().Err(err).Str("mint", mint).Msg("scanner: buy failed, no position recorded")
			return
		}
		s.buysExecuted.Add(1)

		entry := pair.PriceNative.Decimal()
		pos := position.New(mint, pair.BaseToken.Symbol, entry, buySOL.Div(entry))
		if err := s.positions.Add(ctx, pos); err != nil {
			log.Error().Err(err).Str("mint", mint).Msg("scanner: record position failed")
		}
		return
	}
}

// sizeBuy computes the buy size: (balance - reserve) * investable%,
// clamped to the configured bounds.
func (s *Scanner) sizeBuy(ctx context.Context, sizing config.SizingConfig) (decimal.Decimal, error) {
	balance, err := s.rpc.GetBalance(ctx, s.wallet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance lookup: %w", err)
	}

	free := balance.Sub(decimal.NewFromFloat(sizing.ReserveSOL))
	if free.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("balance %s SOL below reserve %.4f SOL", balance.String(), sizing.ReserveSOL)
	}

	size := free.Mul(decimal.NewFromFloat(sizing.InvestablePct / 100.0))

	minBuy := decimal.NewFromFloat(sizing.MinBuySOL)
	maxBuy := decimal.NewFromFloat(sizing.MaxBuySOL)
	if size.GreaterThan(maxBuy) {
		size = maxBuy
	}
	if size.LessThan(minBuy) {
		if free.LessThan(minBuy) {
			return decimal.Zero, fmt.Errorf("free balance %s SOL below minimum buy %.4f SOL", free.String(), sizing.MinBuySOL)
		}
		size = minBuy
	}
	return size, nil
}

// Candidates returns the latest ranked list and filter report.
func (s *Scanner) Candidates() ([]dexscreener.Pair, FilterReport, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dexscreener.Pair(nil), s.lastRanked...), s.lastReport, s.lastScanAt
}

// Stats returns scan loop counters.
type ScannerStats struct {
	Scans        int64 `json:"scans"`
	BuysExecuted int64 `json:"buys_executed"`
	BuysFailed   int64 `json:"buys_failed"`
	Paused       bool  `json:"paused"`
}

func (s *Scanner) Stats() ScannerStats {
	return ScannerStats{
		Scans:        s.scans.Load(),
		BuysExecuted: s.buysExecuted.Load(),
		BuysFailed:   s.buysFailed.Load(),
		Paused:       s.paused.Load(),
	}
}
