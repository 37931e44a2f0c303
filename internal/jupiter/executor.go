package jupiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/solana"
)

// ---------------------------------------------------------------------------
// Swap Executor — quote → build → sign → submit → confirm
// ---------------------------------------------------------------------------

// TradeResult records one buy or sell attempt.
type TradeResult struct {
	ID        string           `json:"id"`
	Side      string           `json:"side"` // buy|sell
	Mint      string           `json:"mint"`
	AmountRaw uint64           `json:"amount_raw"` // lamports in, or token raw out
	Signature solana.Signature `json:"signature,omitempty"`
	DryRun    bool             `json:"dry_run"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

const resultHistory = 64

// Executor performs single-shot swaps through Jupiter. No automatic
// retries: a failed quote, build, submit or confirmation surfaces as an
// error and the caller decides what happens next tick.
type Executor struct {
	cfg    *config.Store
	client *Client
	rpc    solana.RPCClient
	signer solana.Signer

	mu      sync.Mutex
	results []TradeResult
}

// NewExecutor creates a swap executor.
func NewExecutor(cfg *config.Store, client *Client, rpc solana.RPCClient, signer solana.Signer) *Executor {
	return &Executor{
		cfg:    cfg,
		client: client,
		rpc:    rpc,
		signer: signer,
	}
}

// Buy swaps lamports of SOL into mint. In dry-run mode it short-circuits
// before any network mutation and records a simulated success.
func (e *Executor) Buy(ctx context.Context, mint string, lamports uint64) error {
	snap := e.cfg.Snapshot()

	if snap.Trading.DryRun {
		log.Info().
			Str("mint", mint).
			Uint64("lamports", lamports).
			Msg("executor: dry-run buy, no transaction sent")
		e.record(TradeResult{
			ID: uuid.NewString(), Side: "buy", Mint: mint,
			AmountRaw: lamports, DryRun: true, Success: true, At: time.Now(),
		})
		return nil
	}

	err := e.executeBuy(ctx, snap, mint, lamports)
	result := TradeResult{
		ID: uuid.NewString(), Side: "buy", Mint: mint,
		AmountRaw: lamports, Success: err == nil, At: time.Now(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	e.record(result)
	return err
}

func (e *Executor) executeBuy(ctx context.Context, snap config.Config, mint string, lamports uint64) error {
	owner := e.signer.Pubkey()
	outputMint := solana.Pubkey(mint)

	destination, err := e.ensureTokenAccount(ctx, snap, owner, outputMint)
	if err != nil {
		return fmt.Errorf("ensure token account: %w", err)
	}

	quote, err := e.client.GetQuote(ctx, solana.SOLMint, outputMint, lamports, snap.Trading.SlippageBps)
	if err != nil {
		return err
	}

	txBase64, err := e.client.BuildSwapTx(ctx, quote, owner, destination, snap.Trading.PriorityFeeLamports)
	if err != nil {
		return err
	}

	sig, err := e.submit(ctx, snap, txBase64)
	if err != nil {
		return err
	}

	log.Info().
		Str("mint", mint).
		Uint64("lamports", lamports).
		Str("out_amount", quote.OutAmount).
		Str("signature", string(sig)).
		Msg("executor: buy confirmed")
	return nil
}

// Sell swaps percentOfBalance of the wallet's live token balance back into
// SOL. The fraction always applies to the on-chain balance at execution
// time, never to a stored estimate. A zero balance is a failure, not a
// no-op.
func (e *Executor) Sell(ctx context.Context, mint string, percentOfBalance float64) error {
	snap := e.cfg.Snapshot()
	owner := e.signer.Pubkey()
	inputMint := solana.Pubkey(mint)

	balance, err := e.rpc.GetTokenBalance(ctx, owner, inputMint)
	if err != nil {
		return fmt.Errorf("resolve token balance: %w", err)
	}
	if balance.IsZero() {
		return fmt.Errorf("no balance for %s", mint)
	}

	amount := balance.RawForPercent(percentOfBalance)
	if amount == 0 {
		return fmt.Errorf("sell amount rounds to zero for %s (%.2f%% of %d)", mint, percentOfBalance, balance.Raw)
	}

	if snap.Trading.DryRun {
		log.Info().
			Str("mint", mint).
			Float64("percent", percentOfBalance).
			Uint64("amount_raw", amount).
			Msg("executor: dry-run sell, no transaction sent")
		e.record(TradeResult{
			ID: uuid.NewString(), Side: "sell", Mint: mint,
			AmountRaw: amount, DryRun: true, Success: true, At: time.Now(),
		})
		return nil
	}

	err = e.executeSell(ctx, snap, owner, inputMint, amount)
	result := TradeResult{
		ID: uuid.NewString(), Side: "sell", Mint: mint,
		AmountRaw: amount, Success: err == nil, At: time.Now(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	e.record(result)
	return err
}

func (e *Executor) executeSell(ctx context.Context, snap config.Config, owner, inputMint solana.Pubkey, amount uint64) error {
	quote, err := e.client.GetQuote(ctx, inputMint, solana.SOLMint, amount, snap.Trading.SlippageBps)
	if err != nil {
		return err
	}

	txBase64, err := e.client.BuildSwapTx(ctx, quote, owner, "", snap.Trading.PriorityFeeLamports)
	if err != nil {
		return err
	}

	sig, err := e.submit(ctx, snap, txBase64)
	if err != nil {
		return err
	}

	log.Info().
		Str("mint", string(inputMint)).
		Uint64("amount_raw", amount).
		Str("out_amount", quote.OutAmount).
		Str("signature", string(sig)).
		Msg("executor: sell confirmed")
	return nil
}

// ensureTokenAccount returns the wallet's token account for mint, creating
// the associated account first when none exists.
func (e *Executor) ensureTokenAccount(ctx context.Context, snap config.Config, owner, mint solana.Pubkey) (solana.Pubkey, error) {
	existing, err := e.rpc.FindTokenAccount(ctx, owner, mint)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	ata, err := solana.DeriveTokenAccount(owner, mint)
	if err != nil {
		return "", err
	}

	blockhash, err := e.rpc.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	txBase64, err := solana.BuildCreateTokenAccountTx(owner, owner, mint, blockhash)
	if err != nil {
		return "", err
	}

	sig, err := e.submit(ctx, snap, txBase64)
	if err != nil {
		return "", fmt.Errorf("create token account: %w", err)
	}

	log.Info().
		Str("mint", string(mint)).
		Str("ata", string(ata)).
		Str("signature", string(sig)).
		Msg("executor: token account created")
	return ata, nil
}

// submit signs, sends and awaits confirmation of one transaction.
func (e *Executor) submit(ctx context.Context, snap config.Config, txBase64 string) (solana.Signature, error) {
	signed, err := e.signer.SignTransaction(txBase64)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	sig, err := e.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	timeout := time.Duration(snap.Trading.SwapTimeoutSec) * time.Second
	if err := e.rpc.ConfirmTransaction(ctx, sig, timeout); err != nil {
		return "", fmt.Errorf("confirm %s: %w", sig, err)
	}
	return sig, nil
}

func (e *Executor) record(result TradeResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, result)
	if len(e.results) > resultHistory {
		e.results = e.results[len(e.results)-resultHistory:]
	}
}

// RecentTrades returns the most recent trade results, newest last.
func (e *Executor) RecentTrades() []TradeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]TradeResult(nil), e.results...)
}
