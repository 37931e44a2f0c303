package risk

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/position"
)

// ---------------------------------------------------------------------------
// Risk Engine — per-position exit state machine, polled on a fixed interval
// ---------------------------------------------------------------------------

// ExitKind labels why a sell was issued.
type ExitKind string

const (
	ExitStopLoss      ExitKind = "STOP_LOSS"
	ExitBreakevenStop ExitKind = "BREAKEVEN_STOP"
	ExitTakeProfit    ExitKind = "TAKE_PROFIT" // non-partial mode full close
	ExitTP1           ExitKind = "TP1"
	ExitTP2           ExitKind = "TP2"
	ExitTrailingStop  ExitKind = "TRAILING_STOP"
)

// ExitEvent is emitted after a sell driven by the engine completes.
type ExitEvent struct {
	ID        string          `json:"id"`
	Mint      string          `json:"mint"`
	Symbol    string          `json:"symbol"`
	Kind      ExitKind        `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	ChangePct float64         `json:"change_pct"`
	SellPct   float64         `json:"sell_pct"`
	Closed    bool            `json:"closed"`
	At        time.Time       `json:"at"`
}

// PriceSource resolves a token's live price in the chain's native currency.
// A (zero, false, nil) return means no usable price right now.
type PriceSource interface {
	NativePrice(ctx context.Context, mint string) (decimal.Decimal, bool, error)
}

// Trader executes sells. The engine issues at most one closing sell per
// position per tick and never retries a failed sell within the tick.
type Trader interface {
	Sell(ctx context.Context, mint string, percentOfBalance float64) error
}

// OnExit is the callback type for completed exits.
type OnExit func(ctx context.Context, event ExitEvent)

// Engine polls open positions and walks each through the exit ladder:
// loss stops first, then profit tiers, then the post-TP1 trailing stop.
type Engine struct {
	cfg    *config.Store
	store  position.Store
	prices PriceSource
	trader Trader
	onExit OnExit

	ticks        atomic.Int64
	exits        atomic.Int64
	sellFailures atomic.Int64
	priceSkips   atomic.Int64
}

// NewEngine creates a risk engine.
func NewEngine(cfg *config.Store, store position.Store, prices PriceSource, trader Trader) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		prices: prices,
		trader: trader,
	}
}

// SetOnExit registers a callback invoked after every completed exit.
func (e *Engine) SetOnExit(fn OnExit) { e.onExit = fn }

// Run polls positions until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	snap := e.cfg.Snapshot()
	interval := time.Duration(snap.General.RiskIntervalSec) * time.Second

	log.Info().
		Dur("interval", interval).
		Bool("partial_exits", snap.Exits.PartialExits).
		Float64("stop_loss_pct", snap.Exits.StopLossPct).
		Msg("risk: engine started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("risk: engine stopped")
			return
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

// safeTick runs one tick, containing panics so a bad tick never kills the loop.
func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("risk: tick panicked")
		}
	}()
	e.Tick(ctx)
}

// Tick evaluates every open position once against a single config snapshot.
func (e *Engine) Tick(ctx context.Context) {
	e.ticks.Add(1)
	snap := e.cfg.Snapshot()

	positions, err := e.store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("risk: list positions failed")
		return
	}

	for _, pos := range positions {
		e.tickPosition(ctx, snap, pos)
	}
}

// tickPosition walks one position through the exit ladder. At most one
// closing exit executes per position per tick; a TP1 partial sell may
// precede a TP2 or trailing close in the same tick.
func (e *Engine) tickPosition(ctx context.Context, snap config.Config, pos position.Position) {
	price, ok, err := e.prices.NativePrice(ctx, pos.Mint)
	if err != nil || !ok || price.LessThanOrEqual(decimal.Zero) {
		e.priceSkips.Add(1)
		log.Debug().
			Err(err).
			Str("mint", pos.Mint).
			Msg("risk: no live price, skipping position this tick")
		return
	}

	changePct := pos.PnLPct(price)
	exits := snap.Exits

	// Loss stops come first and win over any profit condition this tick.
	if exits.StopLossPct > 0 && changePct <= -exits.StopLossPct {
		e.closePosition(ctx, pos, ExitStopLoss, price, changePct)
		return
	}
	if pos.StopPriceOverride.IsPositive() && price.LessThanOrEqual(pos.StopPriceOverride) {
		e.closePosition(ctx, pos, ExitBreakevenStop, price, changePct)
		return
	}

	if !exits.PartialExits {
		if changePct >= exits.TakeProfitPct {
			e.closePosition(ctx, pos, ExitTakeProfit, price, changePct)
		}
		return
	}

	// TP1: partial sell, never a close.
	if !pos.TP1Hit && changePct >= exits.TP1Pct {
		if err := e.trader.Sell(ctx, pos.Mint, exits.TP1SellPct); err != nil {
			e.sellFailures.Add(1)
			log.Error().Err(err).Str("mint", pos.Mint).Msg("risk: TP1 sell failed")
			return
		}
		err := e.store.Update(ctx, pos.Mint, func(p *position.Position) {
			p.TP1Hit = true
			p.HighWaterMark = price
			if exits.BreakevenAfterTP1 {
				p.StopPriceOverride = p.EntryPriceNative
			}
		})
		if err != nil {
			log.Error().Err(err).Str("mint", pos.Mint).Msg("risk: persist TP1 failed")
			return
		}
		pos.TP1Hit = true
		pos.HighWaterMark = price
		if exits.BreakevenAfterTP1 {
			pos.StopPriceOverride = pos.EntryPriceNative
		}
		e.emit(ctx, pos, ExitTP1, price, changePct, exits.TP1SellPct, false)

		log.Info().
			Str("mint", pos.Mint).
			Str("symbol", pos.Symbol).
			Float64("change_pct", changePct).
			Float64("sold_pct", exits.TP1SellPct).
			Msg("risk: TP1 hit")
	}

	if !pos.TP1Hit {
		return
	}

	// Trailing stop rides the post-TP1 high-water mark.
	if price.GreaterThan(pos.HighWaterMark) {
		if err := e.store.Update(ctx, pos.Mint, func(p *position.Position) {
			if price.GreaterThan(p.HighWaterMark) {
				p.HighWaterMark = price
			}
		}); err != nil {
			log.Error().Err(err).Str("mint", pos.Mint).Msg("risk: persist high-water mark failed")
			return
		}
		pos.HighWaterMark = price
	}

	if exits.TrailingPct > 0 && pos.HighWaterMark.IsPositive() {
		drawdownPct, _ := price.Sub(pos.HighWaterMark).
			Div(pos.HighWaterMark).
			Mul(decimal.NewFromInt(100)).
			Float64()
		if drawdownPct <= -exits.TrailingPct {
			e.closePosition(ctx, pos, ExitTrailingStop, price, changePct)
			return
		}
	}

	// TP2: final tier, closes out the position.
	if !pos.TP2Hit && changePct >= exits.TP2Pct {
		if err := e.trader.Sell(ctx, pos.Mint, exits.TP2SellPct); err != nil {
			e.sellFailures.Add(1)
			log.Error().Err(err).Str("mint", pos.Mint).Msg("risk: TP2 sell failed")
			return
		}
		if err := e.store.Remove(ctx, pos.Mint); err != nil {
			log.Error().Err(err).Str("mint", pos.Mint).Msg("risk: remove after TP2 failed")
		}
		e.exits.Add(1)
		e.emit(ctx, pos, ExitTP2, price, changePct, exits.TP2SellPct, true)

		log.Info().
			Str("mint", pos.Mint).
			Str("symbol", pos.Symbol).
			Float64("change_pct", changePct).
			Msg("risk: TP2 hit, position closed")
	}
}

// closePosition sells the full balance and removes the position on success.
func (e *Engine) closePosition(ctx context.Context, pos position.Position, kind ExitKind, price decimal.Decimal, changePct float64) {
	if err := e.trader.Sell(ctx, pos.Mint, 100); err != nil {
		e.sellFailures.Add(1)
		log.Error().
			Err(err).
			Str("mint", pos.Mint).
			Str("kind", string(kind)).
			Msg("risk: close sell failed, position kept for next tick")
		return
	}
	if err := e.store.Remove(ctx, pos.Mint); err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Msg("risk: remove position failed")
	}
	e.exits.Add(1)
	e.emit(ctx, pos, kind, price, changePct, 100, true)

	log.Info().
		Str("mint", pos.Mint).
		Str("symbol", pos.Symbol).
		Str("kind", string(kind)).
		Str("price", price.String()).
		Float64("change_pct", changePct).
		Msg("risk: position closed")
}

func (e *Engine) emit(ctx context.Context, pos position.Position, kind ExitKind, price decimal.Decimal, changePct, sellPct float64, closed bool) {
	if e.onExit == nil {
		return
	}
	e.onExit(ctx, ExitEvent{
		ID:        uuid.NewString(),
		Mint:      pos.Mint,
		Symbol:    pos.Symbol,
		Kind:      kind,
		Price:     price,
		ChangePct: changePct,
		SellPct:   sellPct,
		Closed:    closed,
		At:        time.Now(),
	})
}

// Stats returns engine counters.
type EngineStats struct {
	Ticks        int64 `json:"ticks"`
	Exits        int64 `json:"exits"`
	SellFailures int64 `json:"sell_failures"`
	PriceSkips   int64 `json:"price_skips"`
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Ticks:        e.ticks.Load(),
		Exits:        e.exits.Load(),
		SellFailures: e.sellFailures.Load(),
		PriceSkips:   e.priceSkips.Load(),
	}
}
