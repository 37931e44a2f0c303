package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neoauto/sniper/internal/solana"
)

// ---------------------------------------------------------------------------
// Jupiter V6 API Client — quote + swap endpoints
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

// ClientConfig configures the Jupiter API client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultClientConfig returns Jupiter V6 defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "https://quote-api.jup.ag/v6",
		Timeout: 20 * time.Second,
	}
}

// Client is the Jupiter V6 API client.
type Client struct {
	config ClientConfig
	http   *http.Client

	quotes atomic.Int64
	swaps  atomic.Int64
	errors atomic.Int64
}

// NewClient creates a Jupiter API client.
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

// Quote is a swap quote. Raw is the untouched response body, passed through
// to the swap endpoint unmodified; only the fields the executor needs are
// decoded alongside it.
type Quote struct {
	Raw            json.RawMessage
	InAmount       string
	OutAmount      string
	PriceImpactPct string
}

// GetQuote fetches the best route for amount (smallest units) of inputMint
// into outputMint.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint solana.Pubkey, amount uint64, slippageBps int) (*Quote, error) {
	u, err := url.Parse(c.config.BaseURL + "/quote")
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := u.Query()
	q.Set("inputMint", string(inputMint))
	q.Set("outputMint", string(outputMint))
	q.Set("amount", fmt.Sprintf("%d", amount))
	q.Set("slippageBps", fmt.Sprintf("%d", slippageBps))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create quote request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("jupiter: quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("jupiter: read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.errors.Add(1)
		return nil, fmt.Errorf("jupiter: quote HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed struct {
		InAmount       string `json:"inAmount"`
		OutAmount      string `json:"outAmount"`
		PriceImpactPct string `json:"priceImpactPct"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}
	if parsed.OutAmount == "" {
		return nil, fmt.Errorf("jupiter: quote has no outAmount")
	}

	c.quotes.Add(1)
	log.Debug().
		Str("in_mint", shortMint(inputMint)).
		Str("out_mint", shortMint(outputMint)).
		Str("out_amount", parsed.OutAmount).
		Str("price_impact", parsed.PriceImpactPct).
		Msg("jupiter: quote received")

	return &Quote{
		Raw:            json.RawMessage(body),
		InAmount:       parsed.InAmount,
		OutAmount:      parsed.OutAmount,
		PriceImpactPct: parsed.PriceImpactPct,
	}, nil
}

// swapRequest is the /swap request body.
type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	DestinationTokenAccount       string          `json:"destinationTokenAccount,omitempty"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

// BuildSwapTx asks Jupiter to build the swap transaction for a quote.
// Returns the base64-encoded unsigned transaction. destination, when set,
// directs the output to a specific token account.
func (c *Client) BuildSwapTx(ctx context.Context, quote *Quote, user solana.Pubkey, destination solana.Pubkey, priorityFee uint64) (string, error) {
	reqBody := swapRequest{
		QuoteResponse:                 quote.Raw,
		UserPublicKey:                 string(user),
		WrapAndUnwrapSOL:              true,
		DestinationTokenAccount:       string(destination),
		ComputeUnitPriceMicroLamports: priorityFee,
		DynamicComputeUnitLimit:       true,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("jupiter: swap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.errors.Add(1)
		return "", fmt.Errorf("jupiter: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.errors.Add(1)
		return "", fmt.Errorf("jupiter: swap HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("jupiter: parse swap response: %w", err)
	}
	if parsed.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: swap response has no transaction")
	}

	c.swaps.Add(1)
	return parsed.SwapTransaction, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func shortMint(m solana.Pubkey) string {
	if len(m) > 8 {
		return string(m[:8])
	}
	return string(m)
}

// Stats returns API call counters.
type ClientStats struct {
	Quotes int64 `json:"quotes"`
	Swaps  int64 `json:"swaps"`
	Errors int64 `json:"errors"`
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		Quotes: c.quotes.Load(),
		Swaps:  c.swaps.Load(),
		Errors: c.errors.Load(),
	}
}
