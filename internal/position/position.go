package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position — one held token with its exit state
// ---------------------------------------------------------------------------

// Position is one open token holding. The mint is the identity: at most one
// position per mint exists at a time.
type Position struct {
	Mint   string `json:"mint"`
	Symbol string `json:"symbol"`

	// EntryPriceNative is the entry price in SOL per token.
	EntryPriceNative decimal.Decimal `json:"entry_price_native"`

	// QuantityEstimate is the expected token quantity at entry. Sells always
	// resolve the live on-chain balance instead of trusting this.
	QuantityEstimate decimal.Decimal `json:"quantity_estimate"`

	// Exit-tier progress.
	TP1Hit bool `json:"tp1_hit"`
	TP2Hit bool `json:"tp2_hit"`

	// HighWaterMark is the highest price observed since TP1 fired. Zero
	// until TP1; never decreases once set.
	HighWaterMark decimal.Decimal `json:"high_water_mark"`

	// StopPriceOverride, when positive, replaces the percentage stop-loss
	// with a hard price floor (set at entry price after TP1 in breakeven
	// mode).
	StopPriceOverride decimal.Decimal `json:"stop_price_override"`

	// OpenedAt is the entry time, epoch seconds.
	OpenedAt int64 `json:"opened_at"`
}

// New creates a position opened now.
func New(mint, symbol string, entryPrice, quantity decimal.Decimal) Position {
	return Position{
		Mint:             mint,
		Symbol:           symbol,
		EntryPriceNative: entryPrice,
		QuantityEstimate: quantity,
		OpenedAt:         time.Now().Unix(),
	}
}

// PnLPct returns the unrealized profit in percent relative to entry.
// Returns zero when the entry price is unusable.
func (p Position) PnLPct(price decimal.Decimal) float64 {
	if p.EntryPriceNative.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	pct, _ := price.Sub(p.EntryPriceNative).
		Div(p.EntryPriceNative).
		Mul(decimal.NewFromInt(100)).
		Float64()
	return pct
}

// Age returns how long the position has been open.
func (p Position) Age() time.Duration {
	return time.Since(time.Unix(p.OpenedAt, 0))
}
