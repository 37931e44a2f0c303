package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Pair-search API client
// ---------------------------------------------------------------------------

// ClientConfig configures the pair-search API client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "https://api.dexscreener.com",
		Timeout: 15 * time.Second,
	}
}

// Client talks to the dexscreener-style pair-search API.
type Client struct {
	config ClientConfig
	http   *http.Client

	requests atomic.Int64
	failures atomic.Int64
}

// NewClient creates a pair-search API client.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultClientConfig().BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Search runs a free-text pair search and returns the raw pair list.
func (c *Client) Search(ctx context.Context, query string) ([]Pair, error) {
	u := fmt.Sprintf("%s/latest/dex/search?q=%s", c.config.BaseURL, url.QueryEscape(query))

	var resp searchResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return resp.Pairs, nil
}

// TokenPairs returns every pair trading a token mint on a chain.
func (c *Client) TokenPairs(ctx context.Context, chainID, mint string) ([]Pair, error) {
	u := fmt.Sprintf("%s/token-pairs/v1/%s/%s",
		c.config.BaseURL, url.PathEscape(chainID), url.PathEscape(mint))

	// This endpoint returns a bare array rather than the search envelope.
	var pairs []Pair
	if err := c.get(ctx, u, &pairs); err != nil {
		return nil, fmt.Errorf("token pairs %s: %w", mint, err)
	}
	return pairs, nil
}

// NativePrice returns the token's price in the chain's native currency,
// taken from the most liquid pair. Returns false when no pair carries a
// usable price.
func (c *Client) NativePrice(ctx context.Context, chainID, mint string) (decimal.Decimal, bool, error) {
	pairs, err := c.TokenPairs(ctx, chainID, mint)
	if err != nil {
		return decimal.Zero, false, err
	}

	var best Pair
	found := false
	for _, p := range pairs {
		if p.PriceNative.Float() <= 0 {
			continue
		}
		if !found || p.Liquidity.USD.Float() > best.Liquidity.USD.Float() {
			best = p
			found = true
		}
	}
	if !found {
		return decimal.Zero, false, nil
	}
	return best.PriceNative.Decimal(), true, nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	c.requests.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.failures.Add(1)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		c.failures.Add(1)
		return err
	}

	if resp.StatusCode != http.StatusOK {
		c.failures.Add(1)
		log.Warn().
			Int("status", resp.StatusCode).
			Str("url", u).
			Msg("dexscreener: request failed")
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Stats returns request counters.
type ClientStats struct {
	Requests int64 `json:"requests"`
	Failures int64 `json:"failures"`
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		Requests: c.requests.Load(),
		Failures: c.failures.Load(),
	}
}
