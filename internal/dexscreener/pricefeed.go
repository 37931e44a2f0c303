package dexscreener

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFeed binds the client to one chain and answers per-mint native
// price lookups for the risk engine.
type PriceFeed struct {
	client  *Client
	chainID string
}

// NewPriceFeed creates a price feed for one chain.
func NewPriceFeed(client *Client, chainID string) *PriceFeed {
	return &PriceFeed{client: client, chainID: chainID}
}

// NativePrice returns the mint's price from its most liquid pair.
func (f *PriceFeed) NativePrice(ctx context.Context, mint string) (decimal.Decimal, bool, error) {
	return f.client.NativePrice(ctx, f.chainID, mint)
}
