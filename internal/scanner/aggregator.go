package scanner

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/dexscreener"
)

// ---------------------------------------------------------------------------
// Market Aggregator — multi-query fetch with first-seen dedup
// ---------------------------------------------------------------------------

// PairSearcher is the slice of the market-data client the aggregator needs.
type PairSearcher interface {
	Search(ctx context.Context, query string) ([]dexscreener.Pair, error)
}

// FetchCandidates runs every configured query against the pair-search
// endpoint and merges the results. Duplicates (same pair address, or same
// URL when the address is missing) keep the first-seen record, preserving
// its volume snapshot. A failed query is logged and skipped; the remaining
// queries still run. The merged list is capped at MaxItems.
func FetchCandidates(ctx context.Context, client PairSearcher, strategy config.StrategyConfig) []dexscreener.Pair {
	seen := make(map[string]struct{}, strategy.MaxItems)
	merged := make([]dexscreener.Pair, 0, strategy.MaxItems)

	for _, query := range strategy.Queries {
		pairs, err := client.Search(ctx, query)
		if err != nil {
			log.Warn().
				Err(err).
				Str("query", query).
				Msg("scanner: query failed, skipping source")
			continue
		}

		added := 0
		for _, p := range pairs {
			if len(merged) >= strategy.MaxItems {
				break
			}
			key := p.Key()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, p)
			added++
		}

		log.Debug().
			Str("query", query).
			Int("raw", len(pairs)).
			Int("added", added).
			Int("total", len(merged)).
			Msg("scanner: source merged")

		if len(merged) >= strategy.MaxItems {
			break
		}
	}

	return merged
}
