package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/neoauto/sniper/internal/audit"
	"github.com/neoauto/sniper/internal/config"
	"github.com/neoauto/sniper/internal/jupiter"
	"github.com/neoauto/sniper/internal/position"
	"github.com/neoauto/sniper/internal/risk"
	"github.com/neoauto/sniper/internal/scanner"
	"github.com/neoauto/sniper/internal/solana"
)

// ---------------------------------------------------------------------------
// Control surface — HTTP endpoints for status, config and manual trading
// ---------------------------------------------------------------------------

// Trader is the manual-trading slice of the swap executor.
type Trader interface {
	Buy(ctx context.Context, mint string, lamports uint64) error
	Sell(ctx context.Context, mint string, percentOfBalance float64) error
}

// Server exposes the runtime over HTTP.
type Server struct {
	cfg       *config.Store
	positions position.Store
	scan      *scanner.Scanner
	engine    *risk.Engine
	trader    Trader
	prices    risk.PriceSource
	rpc       solana.RPCClient
	executor  *jupiter.Executor // optional, for /trades
	journal   *audit.Journal    // optional, for /events

	metrics metricsRegistry
	started time.Time
}

// NewServer creates the control server.
func NewServer(cfg *config.Store, positions position.Store, scan *scanner.Scanner, engine *risk.Engine, trader Trader, prices risk.PriceSource, rpc solana.RPCClient) *Server {
	s := &Server{
		cfg:       cfg,
		positions: positions,
		scan:      scan,
		engine:    engine,
		trader:    trader,
		prices:    prices,
		rpc:       rpc,
		started:   time.Now(),
	}
	s.metrics.register(s.loopMetrics)
	return s
}

// SetExecutor wires the executor for trade-history reporting.
func (s *Server) SetExecutor(exec *jupiter.Executor) { s.executor = exec }

// SetJournal wires the exit journal for event-history reporting.
func (s *Server) SetJournal(journal *audit.Journal) { s.journal = journal }

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /candidates", s.handleCandidates)
	mux.HandleFunc("GET /trades", s.handleTrades)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config", s.handlePatchConfig)
	mux.HandleFunc("POST /control/scan", s.handleScan)
	mux.HandleFunc("POST /control/pause", s.handlePause)
	mux.HandleFunc("POST /control/resume", s.handleResume)
	mux.HandleFunc("POST /positions/buy", s.handleBuy)
	mux.HandleFunc("POST /positions/sell", s.handleSell)
	mux.HandleFunc("GET /metrics", s.metrics.handler())
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	snap := s.cfg.Snapshot()
	srv := &http.Server{
		Addr:              snap.Control.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", snap.Control.ListenAddr).Msg("control: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		log.Info().Msg("control: stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rpcErr := s.rpc.Health(r.Context())
	status := "ok"
	code := http.StatusOK
	if rpcErr != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"uptime_sec": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Snapshot()
	list, err := s.positions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_, report, lastScan := s.scan.Candidates()

	writeJSON(w, http.StatusOK, map[string]any{
		"instance":     snap.General.InstanceID,
		"uptime_sec":   int64(time.Since(s.started).Seconds()),
		"dry_run":      snap.Trading.DryRun,
		"auto_buy":     snap.Trading.AutoBuy,
		"open":         len(list),
		"scanner":      s.scan.Stats(),
		"risk":         s.engine.Stats(),
		"last_scan_at": lastScan,
		"last_filter":  report,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	list, err := s.positions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []position.Position{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCandidates(w http.ResponseWriter, _ *http.Request) {
	ranked, report, at := s.scan.Candidates()
	writeJSON(w, http.StatusOK, map[string]any{
		"scanned_at": at,
		"report":     report,
		"candidates": ranked,
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	if s.executor == nil {
		writeJSON(w, http.StatusOK, []jupiter.TradeResult{})
		return
	}
	writeJSON(w, http.StatusOK, s.executor.RecentTrades())
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []audit.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, s.journal.Recent())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Snapshot()
	snap.Solana.WalletSecret = "" // never leak the key material
	writeJSON(w, http.StatusOK, snap)
}

// configPatch carries the runtime-mutable knobs. Pointer fields distinguish
// "not sent" from zero values.
type configPatch struct {
	LiqMinUSD     *float64 `json:"liq_min_usd"`
	FDVMaxUSD     *float64 `json:"fdv_max_usd"`
	Vol5mMinUSD   *float64 `json:"vol5m_min_usd"`
	VolBestMinUSD *float64 `json:"vol_best_min_usd"`
	MaxPairAgeSec *int64   `json:"max_pair_age_sec"`
	StrictQuote   *bool    `json:"strict_quote"`

	DryRun      *bool `json:"dry_run"`
	AutoBuy     *bool `json:"auto_buy"`
	SlippageBps *int  `json:"slippage_bps"`

	TP1Pct            *float64 `json:"tp1_pct"`
	TP1SellPct        *float64 `json:"tp1_sell_pct"`
	TP2Pct            *float64 `json:"tp2_pct"`
	TP2SellPct        *float64 `json:"tp2_sell_pct"`
	BreakevenAfterTP1 *bool    `json:"breakeven_after_tp1"`
	TrailingPct       *float64 `json:"trailing_pct"`
	StopLossPct       *float64 `json:"stop_loss_pct"`
	PartialExits      *bool    `json:"partial_exits"`
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	s.cfg.Update(func(c *config.Config) {
		setIf(&c.Strategy.LiqMinUSD, patch.LiqMinUSD)
		setIf(&c.Strategy.FDVMaxUSD, patch.FDVMaxUSD)
		setIf(&c.Strategy.Vol5mMinUSD, patch.Vol5mMinUSD)
		setIf(&c.Strategy.VolBestMinUSD, patch.VolBestMinUSD)
		setIf(&c.Strategy.MaxPairAgeSec, patch.MaxPairAgeSec)
		setIf(&c.Strategy.StrictQuote, patch.StrictQuote)
		setIf(&c.Trading.DryRun, patch.DryRun)
		setIf(&c.Trading.AutoBuy, patch.AutoBuy)
		setIf(&c.Trading.SlippageBps, patch.SlippageBps)
		setIf(&c.Exits.TP1Pct, patch.TP1Pct)
		setIf(&c.Exits.TP1SellPct, patch.TP1SellPct)
		setIf(&c.Exits.TP2Pct, patch.TP2Pct)
		setIf(&c.Exits.TP2SellPct, patch.TP2SellPct)
		setIf(&c.Exits.BreakevenAfterTP1, patch.BreakevenAfterTP1)
		setIf(&c.Exits.TrailingPct, patch.TrailingPct)
		setIf(&c.Exits.StopLossPct, patch.StopLossPct)
		setIf(&c.Exits.PartialExits, patch.PartialExits)
	})

	log.Info().Msg("control: config updated")
	snap := s.cfg.Snapshot()
	snap.Solana.WalletSecret = ""
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	s.scan.TriggerRescan()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rescan triggered"})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.scan.SetPaused(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.scan.SetPaused(false)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type buyRequest struct {
	Mint      string  `json:"mint"`
	AmountSOL float64 `json:"amount_sol"`
}

// handleBuy opens a position manually. The entry price comes from the live
// price feed; without a usable price no position can be recorded, so the
// buy is refused outright.
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Mint == "" || req.AmountSOL <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("mint and positive amount_sol required"))
		return
	}

	if held, err := s.positions.Has(r.Context(), req.Mint); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	} else if held {
		writeError(w, http.StatusConflict, fmt.Errorf("position for %s already open", req.Mint))
		return
	}

	price, ok, err := s.prices.NativePrice(r.Context(), req.Mint)
	if err != nil || !ok || price.LessThanOrEqual(decimal.Zero) {
		writeError(w, http.StatusBadGateway, fmt.Errorf("no live price for %s", req.Mint))
		return
	}

	amount := decimal.NewFromFloat(req.AmountSOL)
	lamports := uint64(amount.Mul(decimal.NewFromInt(solana.LamportsPerSOL)).IntPart())

	if err := s.trader.Buy(r.Context(), req.Mint, lamports); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("buy failed: %w", err))
		return
	}

	pos := position.New(req.Mint, "", price, amount.Div(price))
	if err := s.positions.Add(r.Context(), pos); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("record position: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type sellRequest struct {
	Mint    string  `json:"mint"`
	Percent float64 `json:"percent"`
}

// handleSell sells part or all of a held position. A full-percentage sell
// removes the position from the book.
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Mint == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("mint required"))
		return
	}
	if req.Percent <= 0 || req.Percent > 100 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("percent must be in (0, 100], got %.2f", req.Percent))
		return
	}

	if err := s.trader.Sell(r.Context(), req.Mint, req.Percent); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("sell failed: %w", err))
		return
	}

	if req.Percent >= 100 {
		if err := s.positions.Remove(r.Context(), req.Mint); err != nil && !errors.Is(err, position.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mint":    req.Mint,
		"percent": req.Percent,
		"closed":  req.Percent >= 100,
	})
}

// loopMetrics snapshots the loops' counters for /metrics.
func (s *Server) loopMetrics() []metricPoint {
	scanStats := s.scan.Stats()
	riskStats := s.engine.Stats()

	open := 0.0
	if list, err := s.positions.List(context.Background()); err == nil {
		open = float64(len(list))
	}

	return []metricPoint{
		{"sniper_scans_total", "Completed scan iterations", "counter", float64(scanStats.Scans)},
		{"sniper_buys_executed_total", "Auto-buys executed", "counter", float64(scanStats.BuysExecuted)},
		{"sniper_buys_failed_total", "Auto-buys failed", "counter", float64(scanStats.BuysFailed)},
		{"sniper_risk_ticks_total", "Risk engine ticks", "counter", float64(riskStats.Ticks)},
		{"sniper_exits_total", "Positions exited", "counter", float64(riskStats.Exits)},
		{"sniper_sell_failures_total", "Exit sells that failed", "counter", float64(riskStats.SellFailures)},
		{"sniper_price_skips_total", "Position ticks skipped for missing price", "counter", float64(riskStats.PriceSkips)},
		{"sniper_open_positions", "Currently open positions", "gauge", open},
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
