package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client — real Solana JSON-RPC with rate limiting & retry
// ---------------------------------------------------------------------------

// LiveRPCClient connects to a real Solana RPC endpoint.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Rate limiter (token bucket).
	limiter       chan struct{}
	limiterCancel context.CancelFunc

	// Unique request ID generator.
	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second
)

// NewLiveRPCClient creates a live Solana RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}

	// Token bucket rate limiter.
	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	limiterCtx, limiterCancel := context.WithCancel(context.Background())

	client := &LiveRPCClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:       limiter,
		limiterCancel: limiterCancel,
	}

	// Refill tokens at configured RPS.
	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case client.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return client
}

// Close shuts down the RPC client.
func (c *LiveRPCClient) Close() {
	c.limiterCancel()
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	// Circuit breaker check.
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s (too many consecutive errors)", method)
	}

	// Acquire rate limit token.
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("rpc: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s http error: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s read response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		c.requestCount.Add(1)

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rpc: %s rate limited (429)", method)
			c.errorCount.Add(1)
			// Longer backoff on 429 - don't count as circuit-breaker error.
			select {
			case <-time.After(time.Duration(2<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if rpcResp.Error != nil {
			c.resetErrors()
			return nil, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
		}

		c.resetErrors()
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

// recordError increments consecutive errors and opens circuit breaker if needed.
func (c *LiveRPCClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("rpc: CIRCUIT BREAKER OPEN - too many consecutive errors")
			go func() {
				time.Sleep(circuitBreakerCooldown)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("rpc: circuit breaker reset")
			}()
		}
	}
}

func (c *LiveRPCClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ---------------------------------------------------------------------------
// RPCClient interface implementation
// ---------------------------------------------------------------------------

// GetBalance returns the wallet SOL balance, in SOL.
func (c *LiveRPCClient) GetBalance(ctx context.Context, wallet Pubkey) (decimal.Decimal, error) {
	result, err := c.call(ctx, "getBalance", []any{string(wallet)})
	if err != nil {
		return decimal.Zero, err
	}

	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("rpc: parse balance: %w", err)
	}

	return decimal.NewFromUint64(resp.Value).Div(decimal.NewFromInt(LamportsPerSOL)), nil
}

// tokenAccountsResult is the parsed shape of getTokenAccountsByOwner.
type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string `json:"mint"`
						TokenAmount struct {
							Amount         string `json:"amount"`
							Decimals       uint8  `json:"decimals"`
							UIAmountString string `json:"uiAmountString"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

func (c *LiveRPCClient) tokenAccounts(ctx context.Context, owner, mint Pubkey) (*tokenAccountsResult, error) {
	result, err := c.call(ctx, "getTokenAccountsByOwner", []any{
		string(owner),
		map[string]any{"mint": string(mint)},
		map[string]any{"encoding": "jsonParsed"},
	})
	if err != nil {
		return nil, err
	}

	var resp tokenAccountsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse token accounts: %w", err)
	}
	return &resp, nil
}

// GetTokenBalance sums the mint balance across all of the owner's token accounts.
func (c *LiveRPCClient) GetTokenBalance(ctx context.Context, owner, mint Pubkey) (TokenBalance, error) {
	resp, err := c.tokenAccounts(ctx, owner, mint)
	if err != nil {
		return TokenBalance{}, err
	}

	bal := TokenBalance{Mint: mint, UI: decimal.Zero}
	for _, ta := range resp.Value {
		amt := ta.Account.Data.Parsed.Info.TokenAmount
		var raw uint64
		fmt.Sscanf(amt.Amount, "%d", &raw)
		bal.Raw += raw
		bal.Decimals = amt.Decimals
		if ui, err := decimal.NewFromString(amt.UIAmountString); err == nil {
			bal.UI = bal.UI.Add(ui)
		}
	}
	return bal, nil
}

// FindTokenAccount returns the owner's token account for a mint, "" when absent.
func (c *LiveRPCClient) FindTokenAccount(ctx context.Context, owner, mint Pubkey) (Pubkey, error) {
	resp, err := c.tokenAccounts(ctx, owner, mint)
	if err != nil {
		return "", err
	}
	if len(resp.Value) == 0 {
		return "", nil
	}
	return Pubkey(resp.Value[0].Pubkey), nil
}

// LatestBlockhash returns a recent blockhash.
func (c *LiveRPCClient) LatestBlockhash(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getLatestBlockhash", []any{
		map[string]any{"commitment": "confirmed"},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("rpc: parse blockhash: %w", err)
	}
	return resp.Value.Blockhash, nil
}

// SendTransaction submits a signed, base64-encoded transaction.
func (c *LiveRPCClient) SendTransaction(ctx context.Context, txBase64 string) (Signature, error) {
	result, err := c.call(ctx, "sendTransaction", []any{
		txBase64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": "confirmed",
		},
	})
	if err != nil {
		return "", err
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("rpc: parse signature: %w", err)
	}
	return Signature(sig), nil
}

// ConfirmTransaction waits for confirmed commitment on a signature. It tries a
// signatureSubscribe websocket first and falls back to polling
// getSignatureStatuses when the websocket is unavailable.
func (c *LiveRPCClient) ConfirmTransaction(ctx context.Context, sig Signature, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.config.WSEndpoint != "" {
		err := c.confirmViaWebsocket(ctx, sig)
		if err == nil || ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Str("sig", string(sig)).
			Msg("rpc: websocket confirmation unavailable, falling back to polling")
	}

	return c.confirmViaPolling(ctx, sig)
}

// wsNotification is the envelope of a signatureSubscribe push message.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Err any `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
	Result json.RawMessage `json:"result,omitempty"` // subscription ack
	Error  *rpcError       `json:"error,omitempty"`
}

func (c *LiveRPCClient) confirmViaWebsocket(ctx context.Context, sig Signature) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.config.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("rpc: ws dial: %w", err)
	}
	defer conn.Close()

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "signatureSubscribe",
		Params:  []any{string(sig), map[string]any{"commitment": "confirmed"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("rpc: ws subscribe: %w", err)
	}

	// Unblock ReadMessage when the context expires.
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("rpc: confirmation timed out for %s", sig)
			}
			return fmt.Errorf("rpc: ws read: %w", err)
		}

		var note wsNotification
		if err := json.Unmarshal(msg, &note); err != nil {
			continue
		}
		if note.Error != nil {
			return fmt.Errorf("rpc: ws error %d: %s", note.Error.Code, note.Error.Message)
		}
		if note.Method != "signatureNotification" {
			continue // subscription ack
		}
		if note.Params.Result.Value.Err != nil {
			return fmt.Errorf("rpc: transaction %s failed on chain", sig)
		}
		return nil
	}
}

func (c *LiveRPCClient) confirmViaPolling(ctx context.Context, sig Signature) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("rpc: confirmation timed out for %s", sig)
		case <-ticker.C:
			result, err := c.call(ctx, "getSignatureStatuses", []any{[]string{string(sig)}})
			if err != nil {
				log.Debug().Err(err).Str("sig", string(sig)).Msg("rpc: status poll failed")
				continue
			}

			var resp struct {
				Value []struct {
					ConfirmationStatus string `json:"confirmationStatus"`
					Err                any    `json:"err"`
				} `json:"value"`
			}
			if err := json.Unmarshal(result, &resp); err != nil {
				continue
			}
			if len(resp.Value) == 0 {
				continue // not seen yet
			}
			st := resp.Value[0]
			if st.Err != nil {
				return fmt.Errorf("rpc: transaction %s failed on chain", sig)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}
	}
}

// Health checks the RPC endpoint.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	result, err := c.call(ctx, "getHealth", nil)
	if err != nil {
		return err
	}
	var status string
	if err := json.Unmarshal(result, &status); err == nil && status != "ok" {
		return fmt.Errorf("rpc: unhealthy endpoint: %s", status)
	}
	return nil
}

// RPCStats are cumulative request statistics.
type RPCStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

// Stats returns request statistics.
func (c *LiveRPCClient) Stats() RPCStats {
	return RPCStats{
		Requests: c.requestCount.Load(),
		Errors:   c.errorCount.Load(),
	}
}
