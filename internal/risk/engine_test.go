package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/position"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func newStubPrices() *stubPrices {
	return &stubPrices{prices: make(map[string]decimal.Decimal)}
}

func (s *stubPrices) set(mint string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[mint] = decimal.NewFromFloat(price)
}

func (s *stubPrices) clear(mint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, mint)
}

func (s *stubPrices) NativePrice(_ context.Context, mint string) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[mint]
	return p, ok, nil
}

type sellCall struct {
	Mint string
	Pct  float64
}

type stubTrader struct {
	mu    sync.Mutex
	calls []sellCall
	err   error
}

func (s *stubTrader) Sell(_ context.Context, mint string, pct float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, sellCall{Mint: mint, Pct: pct})
	return nil
}

func (s *stubTrader) sells() []sellCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sellCall(nil), s.calls...)
}

type harness struct {
	engine *Engine
	store  *position.MemoryStore
	prices *stubPrices
	trader *stubTrader
	events []ExitEvent
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Exits.PartialExits = true
	cfg.Exits.TP1Pct = 20
	cfg.Exits.TP1SellPct = 50
	cfg.Exits.TP2Pct = 60
	cfg.Exits.TP2SellPct = 100
	cfg.Exits.TrailingPct = 8
	cfg.Exits.StopLossPct = 10
	cfg.Exits.BreakevenAfterTP1 = false
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		store:  position.NewMemoryStore(),
		prices: newStubPrices(),
		trader: &stubTrader{},
	}
	h.engine = NewEngine(config.NewStore(cfg), h.store, h.prices, h.trader)
	h.engine.SetOnExit(func(_ context.Context, ev ExitEvent) {
		h.events = append(h.events, ev)
	})
	return h
}

func (h *harness) open(t *testing.T, mint string, entry float64) {
	t.Helper()
	pos := position.New(mint, "TEST", decimal.NewFromFloat(entry), decimal.NewFromInt(1000))
	require.NoError(t, h.store.Add(context.Background(), pos))
}

func (h *harness) get(t *testing.T, mint string) position.Position {
	t.Helper()
	list, err := h.store.List(context.Background())
	require.NoError(t, err)
	for _, p := range list {
		if p.Mint == mint {
			return p
		}
	}
	t.Fatalf("position %s not found", mint)
	return position.Position{}
}

func (h *harness) held(t *testing.T, mint string) bool {
	t.Helper()
	ok, err := h.store.Has(context.Background(), mint)
	require.NoError(t, err)
	return ok
}

// ---------------------------------------------------------------------------
// Exit ladder
// ---------------------------------------------------------------------------

func TestTP1PartialSell(t *testing.T) {
	// Entry 1.0, price 1.25, tp1_pct=20: TP1 fires, position stays open.
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 1.25)

	h.engine.Tick(context.Background())

	require.Equal(t, []sellCall{{Mint: "mint1", Pct: 50}}, h.trader.sells())

	pos := h.get(t, "mint1")
	assert.True(t, pos.TP1Hit)
	assert.False(t, pos.TP2Hit)
	assert.True(t, pos.HighWaterMark.Equal(decimal.NewFromFloat(1.25)))

	require.Len(t, h.events, 1)
	assert.Equal(t, ExitTP1, h.events[0].Kind)
	assert.False(t, h.events[0].Closed)
	assert.NotEmpty(t, h.events[0].ID)
}

func TestTrailingStopAfterTP1(t *testing.T) {
	// After TP1 at 1.25: rise to 1.40, then fall to 1.28.
	// (1.28/1.40 - 1)*100 = -8.57% <= -8% -> trailing exit.
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)

	h.prices.set("mint1", 1.25)
	h.engine.Tick(context.Background())
	require.True(t, h.get(t, "mint1").TP1Hit)

	h.prices.set("mint1", 1.40)
	h.engine.Tick(context.Background())
	assert.True(t, h.get(t, "mint1").HighWaterMark.Equal(decimal.NewFromFloat(1.40)))

	h.prices.set("mint1", 1.28)
	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))

	sells := h.trader.sells()
	require.Len(t, sells, 2)
	assert.Equal(t, sellCall{Mint: "mint1", Pct: 100}, sells[1])

	last := h.events[len(h.events)-1]
	assert.Equal(t, ExitTrailingStop, last.Kind)
	assert.True(t, last.Closed)
}

func TestStopLossFullClose(t *testing.T) {
	// Entry 1.0, price 0.89, stop_loss_pct=10: -11% <= -10% -> full close.
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 0.89)

	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))
	require.Equal(t, []sellCall{{Mint: "mint1", Pct: 100}}, h.trader.sells())
	require.Len(t, h.events, 1)
	assert.Equal(t, ExitStopLoss, h.events[0].Kind)
}

func TestStopLossFiresInNonPartialModeToo(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Exits.PartialExits = false
		c.Exits.TakeProfitPct = 50
	})
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 0.85)

	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))
	assert.Equal(t, ExitStopLoss, h.events[0].Kind)
}

func TestNonPartialTakeProfit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Exits.PartialExits = false
		c.Exits.TakeProfitPct = 50
	})
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 1.55)

	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))
	require.Len(t, h.events, 1)
	assert.Equal(t, ExitTakeProfit, h.events[0].Kind)
	assert.Equal(t, 100.0, h.events[0].SellPct)
}

func TestTP2ClosesPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)

	h.prices.set("mint1", 1.25)
	h.engine.Tick(context.Background())

	h.prices.set("mint1", 1.65)
	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))

	sells := h.trader.sells()
	require.Len(t, sells, 2)
	assert.Equal(t, sellCall{Mint: "mint1", Pct: 100}, sells[1])

	last := h.events[len(h.events)-1]
	assert.Equal(t, ExitTP2, last.Kind)
}

func TestTP1AndTP2SameTick(t *testing.T) {
	// A violent pump past both tiers in one tick: TP1 partial sell first,
	// then the TP2 close, in order.
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 2.0)

	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))

	sells := h.trader.sells()
	require.Len(t, sells, 2)
	assert.Equal(t, 50.0, sells[0].Pct)
	assert.Equal(t, 100.0, sells[1].Pct)

	require.Len(t, h.events, 2)
	assert.Equal(t, ExitTP1, h.events[0].Kind)
	assert.Equal(t, ExitTP2, h.events[1].Kind)
}

// ---------------------------------------------------------------------------
// Precedence & invariants
// ---------------------------------------------------------------------------

func TestStopLossWinsOverTakeProfit(t *testing.T) {
	// A configuration where one price satisfies both conditions: the loss
	// path must win and be the only close that tick.
	h := newHarness(t, func(c *config.Config) {
		c.Exits.StopLossPct = 10
		c.Exits.TP1Pct = -20 // any price above -20% would "hit TP1"
	})
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 0.88)

	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))
	require.Len(t, h.events, 1)
	assert.Equal(t, ExitStopLoss, h.events[0].Kind)
	require.Len(t, h.trader.sells(), 1)
}

func TestHighWaterMarkNeverDecreases(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)

	h.prices.set("mint1", 1.30)
	h.engine.Tick(context.Background())
	require.True(t, h.get(t, "mint1").HighWaterMark.Equal(decimal.NewFromFloat(1.30)))

	// Price dips but stays above the trail: mark must hold.
	h.prices.set("mint1", 1.26)
	h.engine.Tick(context.Background())

	pos := h.get(t, "mint1")
	assert.True(t, pos.HighWaterMark.Equal(decimal.NewFromFloat(1.30)))
	assert.True(t, pos.TP1Hit)
}

func TestMissingPriceSkipsPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)
	// No price registered.

	h.engine.Tick(context.Background())

	assert.True(t, h.held(t, "mint1"))
	assert.Empty(t, h.trader.sells())
	assert.Equal(t, int64(1), h.engine.Stats().PriceSkips)

	pos := h.get(t, "mint1")
	assert.False(t, pos.TP1Hit)
}

func TestFailedSellKeepsPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 0.80)
	h.trader.err = fmt.Errorf("rpc unavailable")

	h.engine.Tick(context.Background())

	// Close failed, so the position survives for the next tick.
	assert.True(t, h.held(t, "mint1"))
	assert.Empty(t, h.events)
	assert.Equal(t, int64(1), h.engine.Stats().SellFailures)

	// Recovery: next tick with a working trader closes it.
	h.trader.err = nil
	h.engine.Tick(context.Background())
	assert.False(t, h.held(t, "mint1"))
}

func TestFailedTP1SellLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t, "mint1", 1.0)
	h.prices.set("mint1", 1.25)
	h.trader.err = fmt.Errorf("quote failed")

	h.engine.Tick(context.Background())

	pos := h.get(t, "mint1")
	assert.False(t, pos.TP1Hit)
	assert.False(t, pos.HighWaterMark.IsPositive())
}

// ---------------------------------------------------------------------------
// Breakeven stop
// ---------------------------------------------------------------------------

func TestBreakevenStopAfterTP1(t *testing.T) {
	// With breakeven enabled, TP1 arms a hard price floor at the entry
	// price; falling back to entry closes the rest even though the
	// percentage stop-loss is nowhere near.
	h := newHarness(t, func(c *config.Config) {
		c.Exits.BreakevenAfterTP1 = true
		c.Exits.StopLossPct = 50
		c.Exits.TrailingPct = 0
	})
	h.open(t, "mint1", 1.0)

	h.prices.set("mint1", 1.25)
	h.engine.Tick(context.Background())

	pos := h.get(t, "mint1")
	require.True(t, pos.TP1Hit)
	require.True(t, pos.StopPriceOverride.Equal(decimal.NewFromFloat(1.0)))

	// Drift back to entry: -0% change, percentage stop silent, floor fires.
	h.prices.set("mint1", 0.99)
	h.engine.Tick(context.Background())

	assert.False(t, h.held(t, "mint1"))
	last := h.events[len(h.events)-1]
	assert.Equal(t, ExitBreakevenStop, last.Kind)
	assert.True(t, last.Closed)
}

func TestNoBreakevenFloorWhenDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Exits.BreakevenAfterTP1 = false
		c.Exits.StopLossPct = 50
		c.Exits.TrailingPct = 0
	})
	h.open(t, "mint1", 1.0)

	h.prices.set("mint1", 1.25)
	h.engine.Tick(context.Background())
	require.False(t, h.get(t, "mint1").StopPriceOverride.IsPositive())

	h.prices.set("mint1", 0.99)
	h.engine.Tick(context.Background())

	assert.True(t, h.held(t, "mint1"))
}
