package scanner

import (
	"sort"
	"strings"

	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/dexscreener"
)

// ---------------------------------------------------------------------------
// Filter & Ranker — pure function of candidates + thresholds
// ---------------------------------------------------------------------------

// FilterReport carries per-stage survivor counts for diagnostics.
type FilterReport struct {
	Input      int `json:"input"`
	AfterChain int `json:"after_chain"`
	AfterQuote int `json:"after_quote"`
	AfterAge   int `json:"after_age"`
	AfterBound int `json:"after_bounds"`
}

// FilterAndRank applies the threshold predicates in fixed stage order and
// sorts the survivors: most liquid first, then lowest FDV, then highest
// best-window volume. The sort is stable, so equal keys keep input order.
// Pure function: same inputs, same output.
func FilterAndRank(pairs []dexscreener.Pair, strategy config.StrategyConfig, nowMs int64) ([]dexscreener.Pair, FilterReport) {
	report := FilterReport{Input: len(pairs)}

	// Stage 1: chain match.
	out := pairs[:0:0]
	wantChain := strings.ToLower(strategy.ChainID)
	for _, p := range pairs {
		chain := strings.ToLower(p.ChainID)
		if strategy.RelaxedChainMatch {
			if !strings.Contains(chain, wantChain) {
				continue
			}
		} else if chain != wantChain {
			continue
		}
		out = append(out, p)
	}
	report.AfterChain = len(out)

	// Stage 2: quote symbol, only in strict mode.
	if strategy.StrictQuote {
		filtered := out[:0]
		for _, p := range out {
			if strings.EqualFold(p.QuoteToken.Symbol, strategy.QuoteSymbol) {
				filtered = append(filtered, p)
			}
		}
		out = filtered
	}
	report.AfterQuote = len(out)

	// Stage 3: age bound. Unknown creation time passes by policy.
	if strategy.MaxPairAgeSec > 0 {
		filtered := out[:0]
		for _, p := range out {
			age := p.AgeSeconds(nowMs)
			if age >= 0 && age > strategy.MaxPairAgeSec {
				continue
			}
			filtered = append(filtered, p)
		}
		out = filtered
	}
	report.AfterAge = len(out)

	// Stage 4: metric bounds. FDV of exactly 0 means valuation unknown and
	// fails the bound.
	filtered := out[:0]
	for _, p := range out {
		if p.Liquidity.USD.Float() < strategy.LiqMinUSD {
			continue
		}
		fdv := p.FDV.Float()
		if fdv <= 0 || fdv > strategy.FDVMaxUSD {
			continue
		}
		if p.Volume.M5.Float() < strategy.Vol5mMinUSD {
			continue
		}
		if strategy.VolBestMinUSD > 0 && p.Volume.Best() < strategy.VolBestMinUSD {
			continue
		}
		filtered = append(filtered, p)
	}
	out = filtered
	report.AfterBound = len(out)

	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].Liquidity.USD.Float(), out[j].Liquidity.USD.Float()
		if li != lj {
			return li > lj
		}
		fi, fj := out[i].FDV.Float(), out[j].FDV.Float()
		if fi != fj {
			return fi < fj
		}
		return out[i].Volume.Best() > out[j].Volume.Best()
	})

	return out, report
}
