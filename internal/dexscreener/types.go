package dexscreener

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Wire types — pair-search API payloads
// ---------------------------------------------------------------------------

// FlexNumber decodes a JSON field that may arrive as a number, a numeric
// string, or null. The upstream API mixes all three across fields and
// releases, so every numeric field goes through this type.
type FlexNumber float64

func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Tolerate garbage rather than failing the whole response.
			*f = 0
			return nil
		}
		*f = FlexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*f = 0
		return nil
	}
	*f = FlexNumber(v)
	return nil
}

// Float returns the value as float64.
func (f FlexNumber) Float() float64 { return float64(f) }

// Decimal returns the value as a decimal.
func (f FlexNumber) Decimal() decimal.Decimal { return decimal.NewFromFloat(float64(f)) }

// Token identifies one side of a trading pair.
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Liquidity is the pooled liquidity of a pair.
type Liquidity struct {
	USD   FlexNumber `json:"usd"`
	Base  FlexNumber `json:"base"`
	Quote FlexNumber `json:"quote"`
}

// Volume holds traded volume by window.
type Volume struct {
	M5  FlexNumber `json:"m5"`
	M15 FlexNumber `json:"m15"`
	H1  FlexNumber `json:"h1"`
	H6  FlexNumber `json:"h6"`
	H24 FlexNumber `json:"h24"`
}

// Best returns the largest volume across all windows.
func (v Volume) Best() float64 {
	best := v.M5.Float()
	for _, w := range []float64{v.M15.Float(), v.H1.Float(), v.H6.Float(), v.H24.Float()} {
		if w > best {
			best = w
		}
	}
	return best
}

// Pair is one trading pair as returned by the search and token-pairs
// endpoints. Unknown fields are ignored.
type Pair struct {
	ChainID       string     `json:"chainId"`
	DexID         string     `json:"dexId"`
	URL           string     `json:"url"`
	PairAddress   string     `json:"pairAddress"`
	BaseToken     Token      `json:"baseToken"`
	QuoteToken    Token      `json:"quoteToken"`
	PriceNative   FlexNumber `json:"priceNative"`
	PriceUSD      FlexNumber `json:"priceUsd"`
	Liquidity     Liquidity  `json:"liquidity"`
	FDV           FlexNumber `json:"fdv"`
	MarketCap     FlexNumber `json:"marketCap"`
	Volume        Volume     `json:"volume"`
	PairCreatedAt int64      `json:"pairCreatedAt"` // epoch milliseconds
}

// Key returns the identity used for dedup across search queries: the pair
// address when present, otherwise the pair URL.
func (p Pair) Key() string {
	if p.PairAddress != "" {
		return p.PairAddress
	}
	return p.URL
}

// AgeSeconds returns the pair age relative to nowMs, or -1 when the
// creation timestamp is absent.
func (p Pair) AgeSeconds(nowMs int64) int64 {
	if p.PairCreatedAt <= 0 {
		return -1
	}
	return (nowMs - p.PairCreatedAt) / 1000
}

type searchResponse struct {
	Pairs []Pair `json:"pairs"`
}
