package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/dexscreener"
	"github.com/neoauto/sniper/internal/position"
	"github.com/neoauto/sniper/internal/solana"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type stubMarket struct {
	mu      sync.Mutex
	results map[string][]dexscreener.Pair
	errs    map[string]error
}

func newStubMarket() *stubMarket {
	return &stubMarket{
		results: make(map[string][]dexscreener.Pair),
		errs:    make(map[string]error),
	}
}

func (s *stubMarket) Search(_ context.Context, query string) ([]dexscreener.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[query]; err != nil {
		return nil, err
	}
	return s.results[query], nil
}

type buyCall struct {
	Mint     string
	Lamports uint64
}

type stubBuyer struct {
	mu    sync.Mutex
	calls []buyCall
	err   error
}

func (s *stubBuyer) Buy(_ context.Context, mint string, lamports uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, buyCall{Mint: mint, Lamports: lamports})
	return nil
}

func (s *stubBuyer) buys() []buyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]buyCall(nil), s.calls...)
}

// ---------------------------------------------------------------------------
// Aggregator
// ---------------------------------------------------------------------------

func TestFetchCandidatesDedup(t *testing.T) {
	market := newStubMarket()

	first := passing("shared")
	first.Volume.M5 = 111 // distinguishes first-seen snapshot
	market.results["q1"] = []dexscreener.Pair{first, passing("only-q1")}

	dup := passing("shared")
	dup.Volume.M5 = 999
	market.results["q2"] = []dexscreener.Pair{dup, passing("only-q2")}

	strat := strategy()
	strat.Queries = []string{"q1", "q2"}

	out := FetchCandidates(context.Background(), market, strat)
	require.Len(t, out, 3)

	// First-seen record wins; the later duplicate is dropped, not merged.
	for _, p := range out {
		if p.PairAddress == "shared" {
			assert.Equal(t, 111.0, p.Volume.M5.Float())
		}
	}
}

func TestFetchCandidatesFailedSourceSkipped(t *testing.T) {
	market := newStubMarket()
	market.errs["q1"] = fmt.Errorf("status 429")
	market.results["q2"] = []dexscreener.Pair{passing("p1")}

	strat := strategy()
	strat.Queries = []string{"q1", "q2"}

	out := FetchCandidates(context.Background(), market, strat)
	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].PairAddress)
}

func TestFetchCandidatesMaxItems(t *testing.T) {
	market := newStubMarket()
	var pairs []dexscreener.Pair
	for i := 0; i < 10; i++ {
		pairs = append(pairs, passing(fmt.Sprintf("p%d", i)))
	}
	market.results["q1"] = pairs

	strat := strategy()
	strat.Queries = []string{"q1"}
	strat.MaxItems = 4

	out := FetchCandidates(context.Background(), market, strat)
	assert.Len(t, out, 4)
}

func TestFetchCandidatesURLFallbackKey(t *testing.T) {
	market := newStubMarket()
	noAddr := passing("")
	noAddr.URL = "https://dexscreener.com/solana/xyz"
	market.results["q1"] = []dexscreener.Pair{noAddr, noAddr}

	strat := strategy()
	strat.Queries = []string{"q1"}

	out := FetchCandidates(context.Background(), market, strat)
	assert.Len(t, out, 1)
}

// ---------------------------------------------------------------------------
// Scan loop & auto-buy
// ---------------------------------------------------------------------------

func newTestScanner(t *testing.T, mutate func(*config.Config)) (*Scanner, *stubMarket, *stubBuyer, *position.MemoryStore, *solana.StubRPCClient) {
	t.Helper()

	cfg := config.Default()
	cfg.Strategy.Queries = []string{"q1"}
	cfg.Trading.AutoBuy = true
	cfg.Trading.DryRun = true
	if mutate != nil {
		mutate(cfg)
	}

	market := newStubMarket()
	buyer := &stubBuyer{}
	store := position.NewMemoryStore()
	rpc := solana.NewStubRPCClient()
	rpc.SetSOLBalance(decimal.NewFromFloat(10.0))

	s := NewScanner(config.NewStore(cfg), market, store, buyer, rpc, "wallet1")
	return s, market, buyer, store, rpc
}

func TestScanAutoBuyRecordsPosition(t *testing.T) {
	s, market, buyer, store, _ := newTestScanner(t, nil)

	best := passing("p1")
	best.PriceNative = 0.002
	market.results["q1"] = []dexscreener.Pair{best}

	s.Scan(context.Background())

	buys := buyer.buys()
	require.Len(t, buys, 1)
	assert.Equal(t, "mint-p1", buys[0].Mint)

	// Default sizing: (10 - 0.05) * 10% = 0.995, clamped to max 0.5 SOL.
	assert.Equal(t, uint64(500_000_000), buys[0].Lamports)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mint-p1", list[0].Mint)
	assert.True(t, list[0].EntryPriceNative.Equal(decimal.NewFromFloat(0.002)))
	// 0.5 SOL / 0.002 SOL per token = 250 tokens.
	assert.True(t, list[0].QuantityEstimate.Equal(decimal.NewFromInt(250)))
}

func TestScanSkipsHeldMint(t *testing.T) {
	s, market, buyer, store, _ := newTestScanner(t, nil)

	held := passing("p1")
	fresh := passing("p2")
	fresh.Liquidity.USD = 140_000 // ranks below p1
	market.results["q1"] = []dexscreener.Pair{held, fresh}

	require.NoError(t, store.Add(context.Background(),
		position.New("mint-p1", "TKN", decimal.NewFromFloat(0.001), decimal.NewFromInt(1))))

	s.Scan(context.Background())

	buys := buyer.buys()
	require.Len(t, buys, 1)
	assert.Equal(t, "mint-p2", buys[0].Mint)
}

func TestScanFailedBuyRecordsNothing(t *testing.T) {
	s, market, buyer, store, _ := newTestScanner(t, nil)
	buyer.err = fmt.Errorf("swap failed")
	market.results["q1"] = []dexscreener.Pair{passing("p1")}

	s.Scan(context.Background())

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, int64(1), s.Stats().BuysFailed)
}

func TestScanNoAutoBuyWhenDisabled(t *testing.T) {
	s, market, buyer, _, _ := newTestScanner(t, func(c *config.Config) {
		c.Trading.AutoBuy = false
	})
	market.results["q1"] = []dexscreener.Pair{passing("p1")}

	s.Scan(context.Background())

	assert.Empty(t, buyer.buys())
}

func TestScanPausedSkipsBuys(t *testing.T) {
	s, market, buyer, _, _ := newTestScanner(t, nil)
	market.results["q1"] = []dexscreener.Pair{passing("p1")}

	s.SetPaused(true)
	s.Scan(context.Background())
	assert.Empty(t, buyer.buys())

	s.SetPaused(false)
	s.Scan(context.Background())
	assert.Len(t, buyer.buys(), 1)
}

func TestScanInsufficientReserve(t *testing.T) {
	s, market, buyer, _, rpc := newTestScanner(t, nil)
	market.results["q1"] = []dexscreener.Pair{passing("p1")}
	rpc.SetSOLBalance(decimal.NewFromFloat(0.04)) // below the 0.05 reserve

	s.Scan(context.Background())

	assert.Empty(t, buyer.buys())
}

func TestScanSkipsZeroPriceCandidate(t *testing.T) {
	s, market, buyer, _, _ := newTestScanner(t, nil)

	noPrice := passing("p1")
	noPrice.PriceNative = 0
	priced := passing("p2")
	priced.Liquidity.USD = 140_000
	market.results["q1"] = []dexscreener.Pair{noPrice, priced}

	s.Scan(context.Background())

	buys := buyer.buys()
	require.Len(t, buys, 1)
	assert.Equal(t, "mint-p2", buys[0].Mint)
}

func TestTriggerRescanCollapses(t *testing.T) {
	s, _, _, _, _ := newTestScanner(t, nil)

	// Many triggers while nothing consumes: only one slot fills, none block.
	for i := 0; i < 5; i++ {
		s.TriggerRescan()
	}
	assert.Len(t, s.rescan, 1)
}

func TestCandidatesSnapshot(t *testing.T) {
	s, market, _, _, _ := newTestScanner(t, func(c *config.Config) {
		c.Trading.AutoBuy = false
	})
	market.results["q1"] = []dexscreener.Pair{passing("p1"), passing("p2")}

	s.Scan(context.Background())

	ranked, report, at := s.Candidates()
	assert.Len(t, ranked, 2)
	assert.Equal(t, 2, report.Input)
	assert.False(t, at.IsZero())
}
